package orchestrator

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"presip-lab/server/internal/model"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var t0 = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func childrenRole() *model.Role {
	return &model.Role{ID: "children", Title: model.LocalizedText{model.LanguageEN: "Children"}}
}

func c1Scenario() *model.Scenario {
	return &model.Scenario{
		ID:     "c1",
		RoleID: "children",
		Mode:   model.ModeText,
		InitialMessage: model.LocalizedText{
			model.LanguageEN: "Catch me if you can!!",
			model.LanguageZH: "来抓我呀！！",
		},
	}
}

func t1Scenario() *model.Scenario {
	return &model.Scenario{
		ID:             "t1",
		RoleID:         "colleagues",
		Mode:           model.ModeText,
		InitialMessage: model.LocalizedText{model.LanguageEN: "I noticed Ali just walked away."},
		InitialOptions: model.LocalizedList{
			model.LanguageEN: {"A: stop crying", "B: acknowledge"},
			model.LanguageZH: {"A: 别哭", "B: 认可"},
		},
	}
}

func mustReduce(t *testing.T, state model.SessionState, act Action, now time.Time) model.SessionState {
	t.Helper()
	next, err := Reduce(state, act, now)
	if err != nil {
		t.Fatalf("reduce %s: %v", act.Type, err)
	}
	return next
}

func interactionState(t *testing.T, lang model.Language) model.SessionState {
	t.Helper()
	state := model.SessionState{SessionID: "s1", Stage: model.StageRoleSelection, Language: lang, Messages: []model.Message{}}
	state = mustReduce(t, state, Action{Type: ActionSelectRole, Role: childrenRole()}, t0)
	return mustReduce(t, state, Action{Type: ActionSelectScenario, Scenario: c1Scenario()}, t0)
}

func userSend(id, text string, mode model.MessageMode) Action {
	return Action{Type: ActionSendMessage, Message: model.Message{ID: id, Text: text, Mode: mode, Timestamp: t0}}
}

// TestReduceSelectScenarioInsertsSeed 验证选场景后 transcript 只有一条开场消息。
// 场景：children/c1/en，开场消息等于英文 initial message，没有选项。
func TestReduceSelectScenarioInsertsSeed(t *testing.T) {
	state := interactionState(t, model.LanguageEN)

	if state.Stage != model.StageInteraction {
		t.Fatalf("expected INTERACTION, got %s", state.Stage)
	}
	if len(state.Messages) != 1 {
		t.Fatalf("expected exactly one seed message, got %d", len(state.Messages))
	}
	seed := state.Messages[0]
	if seed.ID != model.SeedMessageID || seed.Sender != model.SenderAI {
		t.Fatalf("unexpected seed message %+v", seed)
	}
	if seed.Text != "Catch me if you can!!" || len(seed.Options) != 0 {
		t.Fatalf("unexpected seed content %q %v", seed.Text, seed.Options)
	}
	if !seed.Timestamp.Equal(t0) || state.Epoch != 1 {
		t.Fatalf("expected seed timestamp and epoch bump")
	}
}

// TestReduceSelectScenarioClearsTranscript 验证重新选场景会清空旧对话。
// 场景：c1 中已经聊了一轮，返回场景列表后改选无开场消息的场景。
func TestReduceSelectScenarioClearsTranscript(t *testing.T) {
	state := interactionState(t, model.LanguageEN)
	state = mustReduce(t, state, userSend("u1", "hi", model.ModeText), t0)
	state = mustReduce(t, state, Action{Type: ActionAssistantReply, Epoch: state.Epoch, Message: model.Message{ID: "a1"}, Reply: model.Reply{Text: "no"}}, t0)
	state = mustReduce(t, state, Action{Type: ActionBack}, t0)

	plain := &model.Scenario{ID: "c2", RoleID: "children", Mode: model.ModeText}
	state = mustReduce(t, state, Action{Type: ActionSelectScenario, Scenario: plain}, t0)
	if len(state.Messages) != 0 {
		t.Fatalf("expected empty transcript, got %d messages", len(state.Messages))
	}
	if state.Messages == nil {
		t.Fatalf("transcript should be an empty slice, not nil")
	}
}

// TestReduceSelectScenarioRoleMismatch 验证场景必须属于已选角色，失败时状态不变。
func TestReduceSelectScenarioRoleMismatch(t *testing.T) {
	state := model.SessionState{SessionID: "s1", Stage: model.StageRoleSelection, Language: model.LanguageEN}
	state = mustReduce(t, state, Action{Type: ActionSelectRole, Role: childrenRole()}, t0)

	next, err := Reduce(state, Action{Type: ActionSelectScenario, Scenario: t1Scenario()}, t0.Add(time.Minute))
	if !errors.Is(err, ErrRoleMismatch) {
		t.Fatalf("expected ErrRoleMismatch, got %v", err)
	}
	if !reflect.DeepEqual(next, state) {
		t.Fatalf("state should be unchanged on error")
	}
}

// TestReduceChangeLanguageSwapsSeedOnly 验证切换语言只替换开场消息。
// 场景：t1 开场带选项；切到中文后 id/时间戳不变，文本回落到英文，选项换成中文；学员消息不变。
func TestReduceChangeLanguageSwapsSeedOnly(t *testing.T) {
	state := model.SessionState{SessionID: "s1", Stage: model.StageRoleSelection, Language: model.LanguageEN}
	state = mustReduce(t, state, Action{Type: ActionSelectRole, Role: &model.Role{ID: "colleagues"}}, t0)
	state = mustReduce(t, state, Action{Type: ActionSelectScenario, Scenario: t1Scenario()}, t0)
	state = mustReduce(t, state, userSend("u1", "B: acknowledge", model.ModeSelection), t0)

	next := mustReduce(t, state, Action{Type: ActionChangeLanguage, Language: model.LanguageZH}, t0.Add(time.Hour))
	seed := next.Messages[0]
	if seed.ID != model.SeedMessageID || !seed.Timestamp.Equal(t0) {
		t.Fatalf("seed id/timestamp must be preserved")
	}
	if seed.Text != "I noticed Ali just walked away." {
		t.Fatalf("zh seed should fall back to en text, got %q", seed.Text)
	}
	if !reflect.DeepEqual(seed.Options, []string{"A: 别哭", "B: 认可"}) {
		t.Fatalf("unexpected zh options %v", seed.Options)
	}
	if !reflect.DeepEqual(next.Messages[1], state.Messages[1]) {
		t.Fatalf("user message must not change")
	}
	if state.Messages[0].Options[0] != "A: stop crying" {
		t.Fatalf("input state must not be mutated")
	}
	if _, err := Reduce(next, Action{Type: ActionChangeLanguage, Language: "fr"}, t0); !errors.Is(err, ErrInvalidLanguage) {
		t.Fatalf("expected ErrInvalidLanguage, got %v", err)
	}
}

// TestReduceSendMessageRejections 验证空消息与 busy 状态下的发送被拒绝。
func TestReduceSendMessageRejections(t *testing.T) {
	state := interactionState(t, model.LanguageEN)

	if _, err := Reduce(state, userSend("u1", "  \n\t ", model.ModeText), t0); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	busy := mustReduce(t, state, userSend("u1", "hi", model.ModeText), t0)
	if !busy.Busy {
		t.Fatalf("expected busy after send")
	}
	if _, err := Reduce(busy, userSend("u2", "again", model.ModeText), t0); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if _, err := Reduce(state, userSend("u3", "hi", "voice"), t0); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
	if _, err := Reduce(state, userSend(model.SeedMessageID, "hi", model.ModeText), t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected seed id to be rejected, got %v", err)
	}
	roleStage := model.SessionState{Stage: model.StageRoleSelection}
	if _, err := Reduce(roleStage, userSend("u4", "hi", model.ModeText), t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

// TestReduceAssistantFailureAppendsFallback 验证模拟器失败时写入固定系统消息并清除 busy。
func TestReduceAssistantFailureAppendsFallback(t *testing.T) {
	for lang, want := range map[model.Language]string{
		model.LanguageEN: "System: Connection interruption. Please try again.",
		model.LanguageZH: "系统：连接中断，请重试。",
	} {
		state := interactionState(t, lang)
		state = mustReduce(t, state, userSend("u1", "hi", model.ModeSelection), t0)
		state = mustReduce(t, state, Action{Type: ActionAssistantFailed, Epoch: state.Epoch, Message: model.Message{ID: "a1"}}, t0)

		last := state.Messages[len(state.Messages)-1]
		if last.Text != want || last.Sender != model.SenderAI || last.Mode != model.ModeText {
			t.Fatalf("unexpected fallback message %+v", last)
		}
		if state.Busy {
			t.Fatalf("busy must be cleared after failure")
		}
		if state.Messages[1].Mode != model.ModeSelection {
			t.Fatalf("user message should keep selection mode")
		}
	}
}

// TestReduceStaleCompletionDiscarded 验证重开之后旧的模拟器结果被丢弃。
func TestReduceStaleCompletionDiscarded(t *testing.T) {
	state := interactionState(t, model.LanguageEN)
	state = mustReduce(t, state, userSend("u1", "hi", model.ModeText), t0)
	staleEpoch := state.Epoch
	state = mustReduce(t, state, Action{Type: ActionRestart}, t0)

	next, err := Reduce(state, Action{Type: ActionAssistantReply, Epoch: staleEpoch, Reply: model.Reply{Text: "late"}}, t0)
	if !errors.Is(err, ErrStaleCompletion) {
		t.Fatalf("expected ErrStaleCompletion, got %v", err)
	}
	if len(next.Messages) != 0 || next.Busy {
		t.Fatalf("restart should leave an idle empty session, got %+v", next)
	}
	if next.Language != model.LanguageEN || next.Stage != model.StageRoleSelection || next.Role != nil {
		t.Fatalf("restart should keep language and clear role")
	}
}

// TestReduceEndSessionAndFeedback 验证结束会话进入 FEEDBACK 并等待评分。
// 场景：评分成功写入 Feedback；另一条路径评分失败，Feedback 为空且标记失败。
func TestReduceEndSessionAndFeedback(t *testing.T) {
	state := interactionState(t, model.LanguageEN)
	ended := mustReduce(t, state, Action{Type: ActionEndSession}, t0)
	if ended.Stage != model.StageFeedback || !ended.Busy || ended.Feedback != nil {
		t.Fatalf("expected FEEDBACK with busy and no feedback, got %+v", ended)
	}

	fb := &model.FeedbackData{LanguageProficiency: model.ScoredComment{Score: 80}, Strengths: []string{"calm"}}
	ready := mustReduce(t, ended, Action{Type: ActionFeedbackReady, Epoch: ended.Epoch, Feedback: fb}, t0)
	if ready.Busy || ready.Feedback == nil || ready.Feedback.LanguageProficiency.Score != 80 {
		t.Fatalf("expected stored feedback, got %+v", ready)
	}
	fb.Strengths[0] = "mutated"
	if ready.Feedback.Strengths[0] != "calm" {
		t.Fatalf("feedback must be copied")
	}

	failed := mustReduce(t, ended, Action{Type: ActionFeedbackFailed, Epoch: ended.Epoch}, t0)
	if failed.Busy || failed.Feedback != nil || !failed.FeedbackFailed {
		t.Fatalf("expected failed feedback flag, got %+v", failed)
	}

	back := mustReduce(t, failed, Action{Type: ActionBack}, t0)
	if back.Stage != model.StageScenarioSelection || back.FeedbackFailed {
		t.Fatalf("back from feedback should clear the failure flag")
	}
}

// TestReduceBackNavigation 验证各阶段的返回规则。
func TestReduceBackNavigation(t *testing.T) {
	state := interactionState(t, model.LanguageEN)
	state = mustReduce(t, state, userSend("u1", "hi", model.ModeText), t0)

	// busy 不阻止返回
	state = mustReduce(t, state, Action{Type: ActionBack}, t0)
	if state.Stage != model.StageScenarioSelection || state.Role == nil {
		t.Fatalf("expected SCENARIO_SELECTION with role kept")
	}
	state = mustReduce(t, state, Action{Type: ActionBack}, t0)
	if state.Stage != model.StageRoleSelection || state.Role != nil || state.Scenario != nil {
		t.Fatalf("expected ROLE_SELECTION with role cleared")
	}
	if _, err := Reduce(state, Action{Type: ActionBack}, t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition at the first stage, got %v", err)
	}
	if _, err := Reduce(state, Action{Type: ActionEndSession}, t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("no stage skipping: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := Reduce(state, Action{Type: "jump"}, t0); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

// TestReduceSendReplyPairs 属性测试：每次非空发送恰好产生一条学员消息和一条 AI 消息。
// 场景：随机文本、随机模式、随机成功/失败，开场消息始终保留在第一位。
func TestReduceSendReplyPairs(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("send + settle appends exactly two messages", prop.ForAll(
		func(texts []string, selection bool, failures []bool) bool {
			state := interactionState(t, model.LanguageEN)
			mode := model.ModeText
			if selection {
				mode = model.ModeSelection
			}
			for i, text := range texts {
				before := len(state.Messages)
				next, err := Reduce(state, userSend("u", text, mode), t0)
				if err != nil {
					if !errors.Is(err, ErrEmptyMessage) || model.NormalizeText(text) != "" {
						return false
					}
					continue
				}
				settle := Action{Type: ActionAssistantReply, Epoch: next.Epoch, Reply: model.Reply{Text: "ok"}}
				if i < len(failures) && failures[i] {
					settle.Type = ActionAssistantFailed
				}
				next, err = Reduce(next, settle, t0)
				if err != nil || next.Busy || len(next.Messages) != before+2 {
					return false
				}
				user, ai := next.Messages[before], next.Messages[before+1]
				if user.Sender != model.SenderUser || ai.Sender != model.SenderAI || ai.Mode != model.ModeText || ai.Text == "" {
					return false
				}
				state = next
			}
			return state.Messages[0].IsSeed()
		},
		gen.SliceOfN(6, gen.OneGenOf(gen.AlphaString(), gen.Const("   "), gen.Const("let's walk slowly"))),
		gen.Bool(),
		gen.SliceOfN(6, gen.Bool()),
	))

	properties.TestingRun(t)
}
