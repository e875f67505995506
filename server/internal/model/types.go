package model

import (
	"slices"
	"strings"
	"time"
)

// Stage 表示练习流程所处的阶段。
type Stage string

const (
	StageRoleSelection     Stage = "ROLE_SELECTION"
	StageScenarioSelection Stage = "SCENARIO_SELECTION"
	StageInteraction       Stage = "INTERACTION"
	StageFeedback          Stage = "FEEDBACK"
)

// Sender 消息发送方，只能是 user 或 ai。
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// MessageMode 消息的呈现方式。
type MessageMode string

const (
	ModeText      MessageMode = "text"
	ModeSelection MessageMode = "selection"
)

// SeedMessageID 是场景开场消息的保留 ID。
// 约定：只有 transcript[0] 可能使用这个 ID。
const SeedMessageID = "init-1"

// Role 练习对象（幼儿/家长/同事）。启动时加载，之后只读。
type Role struct {
	ID          string        `json:"id" yaml:"id"`
	Title       LocalizedText `json:"title" yaml:"title"`
	Description LocalizedText `json:"description" yaml:"description"`
	IconName    string        `json:"icon_name" yaml:"icon_name"`
}

// Scenario 一个练习场景。
type Scenario struct {
	ID          string        `json:"id" yaml:"id"`
	RoleID      string        `json:"role_id" yaml:"role_id"`
	Title       LocalizedText `json:"title" yaml:"title"`
	Description LocalizedText `json:"description" yaml:"description"`
	// Context 展示给学员的情境说明。
	Context    LocalizedText `json:"context" yaml:"context"`
	Difficulty Difficulty    `json:"difficulty" yaml:"difficulty"`
	Tags       []string      `json:"tags" yaml:"tags"`
	Mode       MessageMode   `json:"mode" yaml:"mode"`
	// AIContext 只给模拟器使用的隐藏规则，API 不对外输出。
	AIContext      string        `json:"-" yaml:"ai_context"`
	InitialMessage LocalizedText `json:"initial_message,omitempty" yaml:"initial_message"`
	InitialOptions LocalizedList `json:"initial_options,omitempty" yaml:"initial_options"`
}

// HasSeed 场景是否定义了开场消息或开场选项。
func (s Scenario) HasSeed() bool {
	return !s.InitialMessage.IsEmpty() || !s.InitialOptions.IsEmpty()
}

// SeedText 按语言挑选开场文本。
// 中文：initial_message.zh → initial_message.en → context.zh；英文：initial_message.en → context.en。
func (s Scenario) SeedText(lang Language) string {
	if lang == LanguageZH {
		if v := s.InitialMessage[LanguageZH]; v != "" {
			return v
		}
		if v := s.InitialMessage[LanguageEN]; v != "" {
			return v
		}
		return s.Context[LanguageZH]
	}
	if v := s.InitialMessage[LanguageEN]; v != "" {
		return v
	}
	return s.Context[LanguageEN]
}

// SeedOptions 按语言挑选开场选项；没有定义时返回 nil。
func (s Scenario) SeedOptions(lang Language) []string {
	if s.InitialOptions.IsEmpty() {
		return nil
	}
	return slices.Clone(s.InitialOptions.Get(lang))
}

// Message 对话中的一条消息。创建后不再修改（开场消息换语言除外）。
type Message struct {
	ID        string      `json:"id"`
	Sender    Sender      `json:"sender"`
	Text      string      `json:"text"`
	Mode      MessageMode `json:"mode"`
	Options   []string    `json:"options,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// IsSeed 是否为开场消息。
func (m Message) IsSeed() bool {
	return m.ID == SeedMessageID
}

// ScoredComment 带分数的评语。
type ScoredComment struct {
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

// FeedbackData 会话结束后的评估结果。
type FeedbackData struct {
	// LanguageProficiency 分数范围 0-100。
	LanguageProficiency ScoredComment `json:"language_proficiency"`
	// NELAlignment 分数范围 1-5。
	NELAlignment ScoredComment `json:"nel_alignment"`
	Strengths    []string      `json:"strengths"`
	Suggestions  []string      `json:"suggestions"`
	// Placeholder 标记兜底结果（没有可评估的学员发言），与真实低分区分开。
	Placeholder bool `json:"placeholder,omitempty"`
}

// Reply 模拟器对一次输入的回复。
type Reply struct {
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

// SessionState 一次练习会话的快照。
// 约定：快照只通过 orchestrator.Reduce 产生新值，调用方不要原地修改。
type SessionState struct {
	SessionID string    `json:"session_id"`
	Stage     Stage     `json:"stage"`
	Role      *Role     `json:"role,omitempty"`
	Scenario  *Scenario `json:"scenario,omitempty"`
	Messages  []Message `json:"messages"`
	// Feedback 只在 FEEDBACK 阶段且评分完成后才有值。
	Feedback *FeedbackData `json:"feedback,omitempty"`
	// FeedbackFailed 评分失败，前端应展示“不可用”而不是加载中。
	FeedbackFailed bool     `json:"feedback_failed,omitempty"`
	Language       Language `json:"language"`
	Busy           bool     `json:"busy"`
	// Epoch 在选场景/重开时递增，用来丢弃过期的模拟器结果。
	Epoch     int64     `json:"epoch"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone 深拷贝快照，保证 reducer 输出与输入互不影响。
func (s SessionState) Clone() SessionState {
	out := s
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		for i, m := range s.Messages {
			m.Options = slices.Clone(m.Options)
			out.Messages[i] = m
		}
	}
	if s.Feedback != nil {
		fb := *s.Feedback
		fb.Strengths = slices.Clone(fb.Strengths)
		fb.Suggestions = slices.Clone(fb.Suggestions)
		out.Feedback = &fb
	}
	return out
}

// UserTurns 统计 transcript 中的学员发言数量。
func UserTurns(history []Message) int {
	n := 0
	for _, m := range history {
		if m.Sender == SenderUser {
			n++
		}
	}
	return n
}

// Step 进度条中的一步。
type Step struct {
	Number    int    `json:"number"`
	Label     string `json:"label"`
	Active    bool   `json:"active"`
	Completed bool   `json:"completed"`
}

// Steps 根据阶段计算四步进度条的状态。
func Steps(stage Stage) []Step {
	order := []Stage{StageRoleSelection, StageScenarioSelection, StageInteraction, StageFeedback}
	labels := []string{"Role", "Scenario", "Interaction", "Feedback"}
	current := slices.Index(order, stage)
	steps := make([]Step, len(order))
	for i := range order {
		steps[i] = Step{
			Number:    i + 1,
			Label:     labels[i],
			Active:    i == current,
			Completed: current > i,
		}
	}
	return steps
}

// SenderLabel 返回消息发送方在界面上的称呼。
func SenderLabel(sender Sender, roleID string, lang Language) string {
	zh := lang == LanguageZH
	if sender == SenderUser {
		return pick(zh, "你", "YOU")
	}
	switch roleID {
	case "children":
		return pick(zh, "孩子", "CHILD")
	case "parents":
		return pick(zh, "家长", "PARENT")
	default:
		return pick(zh, "老师", "TEACHER")
	}
}

// FocusHint 交互界面底部的提示语。
func FocusHint(roleID string) string {
	if roleID == "children" {
		return "NEL Framework Active · Focus on Positive Guidance"
	}
	return "NEL Framework Active · Focus on Professional Communication"
}

// EmptyTranscriptPrompt 对话为空时的引导语。
func EmptyTranscriptPrompt(lang Language) (title, hint string) {
	if lang == LanguageZH {
		return "开始对话", "输入你的中文回应"
	}
	return "Start Chatting", "Type your response in English"
}

func pick(zh bool, zhText, enText string) string {
	if zh {
		return zhText
	}
	return enText
}

// NormalizeText 去掉首尾空白，用于判断空输入。
func NormalizeText(s string) string {
	return strings.TrimSpace(s)
}
