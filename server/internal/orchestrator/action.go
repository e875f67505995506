package orchestrator

import (
	"errors"

	"presip-lab/server/internal/model"
)

// ActionType 归约动作类型，同时也是 timeline 事件的 type。
type ActionType string

const (
	ActionSelectRole      ActionType = "select_role"
	ActionSelectScenario  ActionType = "select_scenario"
	ActionChangeLanguage  ActionType = "change_language"
	ActionSendMessage     ActionType = "send_message"
	ActionAssistantReply  ActionType = "assistant_reply"
	ActionAssistantFailed ActionType = "assistant_failed"
	ActionEndSession      ActionType = "end_session"
	ActionFeedbackReady   ActionType = "feedback_ready"
	ActionFeedbackFailed  ActionType = "feedback_failed"
	ActionBack            ActionType = "back"
	ActionRestart         ActionType = "restart"
)

// Action 一次状态迁移的输入。只填与 Type 相关的字段。
type Action struct {
	Type     ActionType
	Role     *model.Role
	Scenario *model.Scenario
	Language model.Language
	// Message 用户消息的全部字段；对助手消息只使用 ID 与 Timestamp。
	Message  model.Message
	Reply    model.Reply
	Feedback *model.FeedbackData
	// Epoch 模拟器结果所属的会话代数，与当前不一致时结果被丢弃。
	Epoch int64
}

var (
	ErrInvalidTransition = errors.New("invalid stage transition")
	ErrRoleMismatch      = errors.New("scenario does not belong to selected role")
	ErrNoScenario        = errors.New("no scenario selected")
	ErrEmptyMessage      = errors.New("message text is empty")
	ErrBusy              = errors.New("session is busy")
	ErrInvalidLanguage   = errors.New("unsupported language")
	ErrInvalidMode       = errors.New("unsupported message mode")
	ErrStaleCompletion   = errors.New("completion belongs to an earlier epoch")
	ErrUnknownAction     = errors.New("unknown action")
)
