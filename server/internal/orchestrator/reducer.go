package orchestrator

import (
	"fmt"
	"slices"
	"time"

	"presip-lab/server/internal/model"
)

// Reduce 只做“事实归约”，不触发外部调用。
// 约定：输入快照不会被修改；出错时原样返回输入，调用方不需要回滚。
func Reduce(state model.SessionState, act Action, now time.Time) (model.SessionState, error) {
	next := state.Clone()
	var err error

	switch act.Type {
	case ActionSelectRole:
		err = reduceSelectRole(&next, act)
	case ActionSelectScenario:
		err = reduceSelectScenario(&next, act, now)
	case ActionChangeLanguage:
		err = reduceChangeLanguage(&next, act)
	case ActionSendMessage:
		err = reduceSendMessage(&next, act)
	case ActionAssistantReply, ActionAssistantFailed:
		err = reduceAssistant(&next, act)
	case ActionEndSession:
		err = reduceEndSession(&next)
	case ActionFeedbackReady, ActionFeedbackFailed:
		err = reduceFeedback(&next, act)
	case ActionBack:
		err = reduceBack(&next)
	case ActionRestart:
		reduceRestart(&next)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownAction, act.Type)
	}
	if err != nil {
		return state, err
	}

	next.UpdatedAt = now
	return next, nil
}

func reduceSelectRole(s *model.SessionState, act Action) error {
	if act.Role == nil || act.Role.ID == "" {
		return fmt.Errorf("%w: role is required", ErrInvalidTransition)
	}
	if s.Stage != model.StageRoleSelection && s.Stage != model.StageScenarioSelection {
		return fmt.Errorf("%w: select role in %s", ErrInvalidTransition, s.Stage)
	}
	if s.Role == nil || s.Role.ID != act.Role.ID {
		s.Scenario = nil
	}
	role := *act.Role
	s.Role = &role
	s.Stage = model.StageScenarioSelection
	return nil
}

func reduceSelectScenario(s *model.SessionState, act Action, now time.Time) error {
	if act.Scenario == nil || act.Scenario.ID == "" {
		return fmt.Errorf("%w: scenario is required", ErrInvalidTransition)
	}
	if s.Stage != model.StageScenarioSelection || s.Role == nil {
		return fmt.Errorf("%w: select scenario in %s", ErrInvalidTransition, s.Stage)
	}
	if act.Scenario.RoleID != s.Role.ID {
		return fmt.Errorf("%w: %s is not a %s scenario", ErrRoleMismatch, act.Scenario.ID, s.Role.ID)
	}

	scenario := *act.Scenario
	s.Scenario = &scenario
	s.Messages = []model.Message{}
	s.Feedback = nil
	s.FeedbackFailed = false
	// 新的一轮对话：旧的模拟器结果全部作废。
	s.Epoch++
	s.Busy = false

	if scenario.HasSeed() {
		s.Messages = append(s.Messages, model.Message{
			ID:        model.SeedMessageID,
			Sender:    model.SenderAI,
			Text:      scenario.SeedText(s.Language),
			Mode:      model.ModeText,
			Options:   scenario.SeedOptions(s.Language),
			Timestamp: now,
		})
	}
	s.Stage = model.StageInteraction
	return nil
}

func reduceChangeLanguage(s *model.SessionState, act Action) error {
	if !act.Language.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidLanguage, act.Language)
	}
	s.Language = act.Language

	// 只替换开场消息的文本与选项，id 和时间戳保持不变。
	if s.Stage == model.StageInteraction && s.Scenario != nil &&
		len(s.Messages) > 0 && s.Messages[0].IsSeed() {
		s.Messages[0].Text = s.Scenario.SeedText(act.Language)
		s.Messages[0].Options = s.Scenario.SeedOptions(act.Language)
	}
	return nil
}

func reduceSendMessage(s *model.SessionState, act Action) error {
	if s.Stage != model.StageInteraction {
		return fmt.Errorf("%w: send message in %s", ErrInvalidTransition, s.Stage)
	}
	if s.Scenario == nil {
		return ErrNoScenario
	}
	if s.Busy {
		return ErrBusy
	}
	text := model.NormalizeText(act.Message.Text)
	if text == "" {
		return ErrEmptyMessage
	}
	mode := act.Message.Mode
	if mode == "" {
		mode = model.ModeText
	}
	if mode != model.ModeText && mode != model.ModeSelection {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if act.Message.ID == "" || act.Message.ID == model.SeedMessageID {
		return fmt.Errorf("%w: message id %q", ErrInvalidTransition, act.Message.ID)
	}

	s.Messages = append(s.Messages, model.Message{
		ID:        act.Message.ID,
		Sender:    model.SenderUser,
		Text:      text,
		Mode:      mode,
		Timestamp: act.Message.Timestamp,
	})
	s.Busy = true
	return nil
}

func reduceAssistant(s *model.SessionState, act Action) error {
	if act.Epoch != s.Epoch {
		return ErrStaleCompletion
	}
	msg := model.Message{
		ID:        act.Message.ID,
		Sender:    model.SenderAI,
		Mode:      model.ModeText,
		Timestamp: act.Message.Timestamp,
	}
	if act.Type == ActionAssistantReply {
		msg.Text = act.Reply.Text
		msg.Options = slices.Clone(act.Reply.Options)
	} else {
		msg.Text = FallbackMessage(s.Language)
	}
	s.Messages = append(s.Messages, msg)
	s.Busy = false
	return nil
}

func reduceEndSession(s *model.SessionState) error {
	if s.Stage != model.StageInteraction {
		return fmt.Errorf("%w: end session in %s", ErrInvalidTransition, s.Stage)
	}
	if s.Scenario == nil {
		return ErrNoScenario
	}
	if s.Busy {
		return ErrBusy
	}
	s.Stage = model.StageFeedback
	s.Feedback = nil
	s.FeedbackFailed = false
	s.Busy = true
	return nil
}

func reduceFeedback(s *model.SessionState, act Action) error {
	if act.Epoch != s.Epoch {
		return ErrStaleCompletion
	}
	s.Busy = false
	// 已经离开反馈页：只释放 busy，结果丢弃。
	if s.Stage != model.StageFeedback {
		return nil
	}
	if act.Type == ActionFeedbackReady && act.Feedback != nil {
		fb := *act.Feedback
		fb.Strengths = slices.Clone(fb.Strengths)
		fb.Suggestions = slices.Clone(fb.Suggestions)
		s.Feedback = &fb
		s.FeedbackFailed = false
		return nil
	}
	s.FeedbackFailed = true
	return nil
}

func reduceBack(s *model.SessionState) error {
	switch s.Stage {
	case model.StageScenarioSelection:
		s.Stage = model.StageRoleSelection
		s.Role = nil
		s.Scenario = nil
	case model.StageInteraction:
		s.Stage = model.StageScenarioSelection
	case model.StageFeedback:
		s.Stage = model.StageScenarioSelection
		s.Feedback = nil
		s.FeedbackFailed = false
	default:
		return fmt.Errorf("%w: back from %s", ErrInvalidTransition, s.Stage)
	}
	return nil
}

func reduceRestart(s *model.SessionState) {
	s.Stage = model.StageRoleSelection
	s.Role = nil
	s.Scenario = nil
	s.Messages = []model.Message{}
	s.Feedback = nil
	s.FeedbackFailed = false
	s.Epoch++
	s.Busy = false
}
