package simulator

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"presip-lab/server/internal/model"
)

// Cue 评分关注的 NEL 实践线索。
type Cue string

const (
	CuePositiveGuidance Cue = "positive_guidance"
	CueEmotion          Cue = "emotion"
	CueScaffolding      Cue = "scaffolding"
	CueObservation      Cue = "observation"
	CuePartnership      Cue = "partnership"
)

// cueOrder 固定顺序，保证评语输出稳定。
var cueOrder = []Cue{CuePositiveGuidance, CueEmotion, CueScaffolding, CueObservation, CuePartnership}

var cueConditions = map[Cue]Condition{
	CuePositiveGuidance: {
		Contains:    []string{"let's", "let us", "walking feet", "gentle", "can you", "how about", "use our"},
		ContainsCJK: []string{"我们一起", "轻轻", "慢慢", "我们来", "可以吗"},
	},
	CueEmotion: {
		Contains:    []string{"feel", "frustrat", "understand", "worried", "sad", "upset", "concern"},
		ContainsCJK: []string{"感受", "理解", "难过", "沮丧", "担心", "心情"},
	},
	CueScaffolding: {
		Contains:    []string{"why", "what can", "how might", "wonder", "what if", "try again", "what do you think"},
		ContainsCJK: []string{"为什么", "怎么", "试试", "想一想", "你觉得"},
	},
	CueObservation: {
		Contains:    []string{"notice", "observe", "i saw", "i see", "today he", "today she"},
		ContainsCJK: []string{"观察", "注意到", "看到", "发现"},
	},
	CuePartnership: {
		Contains:    []string{"together", "at home", "partner", "share with you", "support"},
		ContainsCJK: []string{"一起", "在家", "家里", "合作", "支持"},
	},
}

// diagnosticLanguage 教师不应给出诊断性措辞。
var diagnosticLanguage = Condition{
	Contains:    []string{"autism", "autistic", "adhd", "diagnos", "disorder"},
	ContainsCJK: []string{"自闭症", "多动症", "诊断"},
}

// Digest 学员发言的统计摘要。
type Digest struct {
	UserTurns  int
	Chars      int
	CJKChars   int
	Cues       map[Cue]bool
	Diagnostic bool
}

// CJKShare 中文字符占比。
func (d Digest) CJKShare() float64 {
	if d.Chars == 0 {
		return 0
	}
	return float64(d.CJKChars) / float64(d.Chars)
}

// AvgChars 每轮平均字符数。
func (d Digest) AvgChars() int {
	if d.UserTurns == 0 {
		return 0
	}
	return d.Chars / d.UserTurns
}

// CueCount 命中的线索种类数。
func (d Digest) CueCount() int {
	n := 0
	for _, hit := range d.Cues {
		if hit {
			n++
		}
	}
	return n
}

// Summarize 只统计学员消息，开场消息与模拟器回复不计入。
func Summarize(history []model.Message) Digest {
	d := Digest{Cues: make(map[Cue]bool, len(cueOrder))}
	for _, m := range history {
		if m.Sender != model.SenderUser {
			continue
		}
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		d.UserTurns++
		d.Chars += utf8.RuneCountInString(text)
		for _, r := range text {
			if unicode.Is(unicode.Han, r) {
				d.CJKChars++
			}
		}
		for _, cue := range cueOrder {
			if cueConditions[cue].Match(text, nil) {
				d.Cues[cue] = true
			}
		}
		if diagnosticLanguage.Match(text, nil) {
			d.Diagnostic = true
		}
	}
	return d
}

// ScoreTranscript 根据摘要确定性打分。没有学员发言时返回占位结果。
func ScoreTranscript(history []model.Message, scenario model.Scenario, lang model.Language) model.FeedbackData {
	d := Summarize(history)
	if d.UserTurns == 0 {
		return PlaceholderFeedback(lang)
	}
	zh := lang == model.LanguageZH

	lp := 50 + 5*min(d.UserTurns, 5)
	switch avg := d.AvgChars(); {
	case avg >= 40:
		lp += 15
	case avg >= 20:
		lp += 10
	case avg >= 8:
		lp += 5
	}
	share := d.CJKShare()
	if (zh && share >= 0.5) || (!zh && share < 0.5) {
		lp += 10
	}
	lp = clamp(lp, 0, 100)

	nel := 1 + d.CueCount()
	if d.Diagnostic {
		nel -= 2
	}
	nel = clamp(nel, 1, 5)

	return model.FeedbackData{
		LanguageProficiency: model.ScoredComment{Score: lp, Comment: proficiencyComment(lp, zh)},
		NELAlignment:        model.ScoredComment{Score: nel, Comment: alignmentComment(d, zh)},
		Strengths:           strengths(d, zh),
		Suggestions:         suggestions(d, scenario, zh),
	}
}

// PlaceholderFeedback 没有可评估内容时的兜底结果，Placeholder 为 true。
func PlaceholderFeedback(lang model.Language) model.FeedbackData {
	zh := lang == model.LanguageZH
	return model.FeedbackData{
		LanguageProficiency: model.ScoredComment{
			Score:   0,
			Comment: pick(zh, "本次没有记录到你的回应，无法评估语言表现。", "No responses were recorded, so language use could not be assessed."),
		},
		NELAlignment: model.ScoredComment{
			Score:   1,
			Comment: pick(zh, "至少回应一次，才能评估与 NEL 框架的契合度。", "Respond at least once so alignment with the NEL framework can be assessed."),
		},
		Strengths: []string{},
		Suggestions: []string{
			pick(zh, "结束前先尝试回应场景中的对象。", "Try responding to the scenario before ending the session."),
		},
		Placeholder: true,
	}
}

func proficiencyComment(score int, zh bool) string {
	switch {
	case score >= 85:
		return pick(zh, "表达清晰完整，能用本次会话语言讲清楚自己的做法。", "Clear, well-developed responses in the session language.")
	case score >= 70:
		return pick(zh, "表达可以理解；可以再多一些细节和专业术语。", "Your responses were understandable; add more detail and professional terms.")
	default:
		return pick(zh, "回应偏短。试着用完整的句子说明你的理由。", "Responses were brief. Try fuller sentences that explain your reasoning.")
	}
}

var cueTitles = map[Cue][2]string{
	CuePositiveGuidance: {"positive guidance", "正向引导"},
	CueEmotion:          {"acknowledging feelings", "回应情绪"},
	CueScaffolding:      {"scaffolding questions", "支架式提问"},
	CueObservation:      {"objective observation", "客观观察"},
	CuePartnership:      {"home-school partnership", "家校合作"},
}

func cueTitle(c Cue, zh bool) string {
	t := cueTitles[c]
	if zh {
		return t[1]
	}
	return t[0]
}

func alignmentComment(d Digest, zh bool) string {
	if d.Diagnostic {
		return pick(zh,
			"避免给孩子贴标签或下诊断；分享客观观察，并建议专业评估。",
			"Avoid labelling or diagnosing a child; share objective observations and suggest a professional assessment instead.")
	}
	var hits []string
	for _, c := range cueOrder {
		if d.Cues[c] {
			hits = append(hits, cueTitle(c, zh))
		}
	}
	sep := pick(zh, "、", ", ")
	switch {
	case len(hits) >= 3:
		return fmt.Sprintf(pick(zh, "你结合了多项 NEL 实践：%s。", "You connected several NEL practices: %s."), strings.Join(hits, sep))
	case len(hits) > 0:
		return fmt.Sprintf(pick(zh, "你体现了%s，可以在此基础上运用更多 NEL 策略。", "You showed %s. Build on it with more NEL-aligned strategies."), strings.Join(hits, sep))
	default:
		return pick(zh, "试着把回应与正向引导、支架式提问等 NEL 实践联系起来。", "Try linking your responses to NEL practices such as positive guidance or scaffolding.")
	}
}

var cueStrengths = map[Cue][2]string{
	CuePositiveGuidance: {"Used positive, action-focused guidance.", "使用了正向、聚焦行动的引导语。"},
	CueEmotion:          {"Acknowledged feelings before moving on.", "先回应了对方的情绪。"},
	CueScaffolding:      {"Asked open questions that scaffold thinking.", "提出了帮助思考的开放式问题。"},
	CueObservation:      {"Grounded your points in specific observations.", "用具体观察支撑了你的观点。"},
	CuePartnership:      {"Framed the situation as a partnership.", "把问题放在合作的框架中讨论。"},
}

func strengths(d Digest, zh bool) []string {
	out := []string{}
	for _, c := range cueOrder {
		if d.Cues[c] {
			out = append(out, localized(cueStrengths[c], zh))
		}
	}
	if len(out) == 0 {
		out = append(out, pick(zh, "你坚持参与了整个场景。", "You stayed engaged with the scenario until the end."))
	}
	return out
}

var cueSuggestions = map[Cue][2]string{
	CuePositiveGuidance: {"Say what to do instead of what not to do (e.g. \"Let's use our walking feet\").", "说出要做什么而不是不要做什么（例如“我们用走路的小脚”）。"},
	CueEmotion:          {"Name the other person's feelings before offering solutions.", "在给出办法前，先说出对方的感受。"},
	CueScaffolding:      {"Ask an open question that lets the child reflect on the process.", "提出开放式问题，让孩子反思过程。"},
	CueObservation:      {"Share one objective observation instead of a judgement.", "分享一个客观观察，而不是评价。"},
	CuePartnership:      {"Suggest one concrete strategy the family can try at home.", "建议一个家庭可以在家尝试的具体策略。"},
}

// focusCues 每类角色最看重的线索。
var focusCues = map[string][]Cue{
	"children":   {CuePositiveGuidance, CueScaffolding},
	"parents":    {CueEmotion, CueObservation, CuePartnership},
	"colleagues": {CueScaffolding, CueObservation},
}

func suggestions(d Digest, scenario model.Scenario, zh bool) []string {
	var out []string
	if d.Diagnostic {
		out = append(out, pick(zh,
			"不要做诊断；描述观察到的行为，并介绍专业评估的途径。",
			"Do not diagnose; describe the behaviour you observed and explain the professional assessment pathway."))
	}
	for _, c := range focusCues[scenario.RoleID] {
		if !d.Cues[c] {
			out = append(out, localized(cueSuggestions[c], zh))
		}
	}
	if scenario.ID == "c1" {
		out = append(out, pick(zh,
			"在吵闹的场景中，说话前先用一个特定的声音信号（比如拍手）。",
			"In the rowdy scenario, try using a specific auditory signal (like a clap) before speaking."))
	}
	if scenario.RoleID == "parents" {
		out = append(out, pick(zh,
			"给家长反馈时，先说积极的观察，再谈需要关注的地方（三明治法）。",
			"For the parent feedback, try to start with a positive observation before the area of concern (Sandwich method)."))
	}
	if d.AvgChars() < 20 {
		out = append(out, pick(zh, "回应可以更完整一些，说明你这样做的原因。", "Give fuller responses that explain why you chose that approach."))
	}
	if len(out) == 0 {
		out = append(out, pick(zh, "继续挑战难度更高的场景。", "Keep practising with a more challenging scenario."))
	}
	return out
}

func localized(pair [2]string, zh bool) string {
	if zh {
		return pair[1]
	}
	return pair[0]
}

func pick(zh bool, zhText, enText string) string {
	if zh {
		return zhText
	}
	return enText
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
