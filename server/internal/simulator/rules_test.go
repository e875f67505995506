package simulator

import (
	"context"
	"testing"
	"time"

	"presip-lab/server/internal/logger"
	"presip-lab/server/internal/model"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenario(id, roleID string) model.Scenario {
	return model.Scenario{ID: id, RoleID: roleID, Mode: model.ModeText}
}

func userMsg(text string) model.Message {
	return model.Message{ID: "u-" + text, Sender: model.SenderUser, Text: text, Mode: model.ModeText}
}

func seed(text string) model.Message {
	return model.Message{ID: model.SeedMessageID, Sender: model.SenderAI, Text: text, Mode: model.ModeText}
}

func newScripted(t *testing.T) *Scripted {
	t.Helper()
	script, err := DefaultScript()
	require.NoError(t, err)
	return NewScripted(script, NoDelay{}, logger.Nop())
}

// TestCompleteC1Branches 验证 c1 决策表三个分支及中英文关键词。
// 场景："let's walk slowly" 命中安抚分支；命令式语言被无视；其余继续奔跑。
func TestCompleteC1Branches(t *testing.T) {
	sim := newScripted(t)
	ctx := context.Background()
	c1 := scenario("c1", "children")

	cases := []struct {
		input string
		lang  model.Language
		want  string
	}{
		{"let's walk slowly", model.LanguageEN, "(Children slow down panting) Okay teacher... we are walking. Can I sit next to Sarah?"},
		{"WALK please", model.LanguageEN, "(Children slow down panting) Okay teacher... we are walking. Can I sit next to Sarah?"},
		{"我们慢慢走", model.LanguageZH, "(孩子们气喘吁吁地慢下来) 好的老师……我们在走了。我可以坐在 Sarah 旁边吗？"},
		{"Stop running!", model.LanguageEN, "(Children ignore and keep giggling) You can't catch me!!"},
		{"请安静", model.LanguageZH, "(孩子们不理会，继续咯咯笑) 你抓不到我！！"},
		{"Who wants a story?", model.LanguageEN, "(Loud giggling) We are not tired! We want to run!"},
	}
	for _, tc := range cases {
		history := []model.Message{seed("Catch me!"), userMsg(tc.input)}
		reply, err := sim.Complete(ctx, Request{Input: tc.input, History: history, Scenario: c1, Language: tc.lang})
		require.NoError(t, err)
		assert.Equal(t, tc.want, reply.Text, tc.input)
		assert.Empty(t, reply.Options)
	}
}

// TestCompleteT1Flow 验证 t1 选择题流程。
// 场景：第一次回答得到新选项；第二轮选 B 得到肯定；选 A/C 被引导回 B；其它输入落到默认回复。
func TestCompleteT1Flow(t *testing.T) {
	sim := newScripted(t)
	ctx := context.Background()
	t1 := scenario("t1", "colleagues")

	first := "B: Acknowledge his frustration"
	history := []model.Message{seed("I noticed Ali..."), userMsg(first)}
	reply, err := sim.Complete(ctx, Request{Input: first, History: history, Scenario: t1, Language: model.LanguageEN})
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "That's a valid perspective.")
	require.Len(t, reply.Options, 3)
	assert.Equal(t, "B: 'I saw it wobble before it fell. What can we change at the base?'", reply.Options[1])

	reply, err = sim.Complete(ctx, Request{Input: first, History: history, Scenario: t1, Language: model.LanguageZH})
	require.NoError(t, err)
	assert.Equal(t, "B: '我看到它在倒塌前摇晃了一下。我们可以怎么调整底座呢？'", reply.Options[1])

	history = append(history, model.Message{ID: "a1", Sender: model.SenderAI, Text: reply.Text})
	for input, want := range map[string]string{
		"B: 'I saw it wobble'": "Excellent choice!",
		"fix the base first":  "Excellent choice!",
		"A: 'Don't be sad'":    "That approach is encouraging",
		"C: 'Good boys'":       "That approach is encouraging",
		"I am not sure":        "That aligns well with our school's values.",
	} {
		h := append(append([]model.Message{}, history...), userMsg(input))
		reply, err := sim.Complete(ctx, Request{Input: input, History: h, Scenario: t1, Language: model.LanguageEN})
		require.NoError(t, err)
		assert.Contains(t, reply.Text, want, input)
		assert.Empty(t, reply.Options, input)
	}
}

// TestCompleteParentScenarios 验证 p2/p4 分支以及角色兜底。
func TestCompleteParentScenarios(t *testing.T) {
	sim := newScripted(t)
	ctx := context.Background()

	cases := []struct {
		scenario model.Scenario
		input    string
		lang     model.Language
		want     string
	}{
		{scenario("p2", "parents"), "I understand your worry", model.LanguageEN, "I'm just worried he will fall behind in Primary 1."},
		{scenario("p2", "parents"), "我理解你的感受", model.LanguageZH, "我只是担心他上小学后会跟不上。"},
		{scenario("p2", "parents"), "Drill him daily", model.LanguageEN, "But he refuses to speak it."},
		{scenario("p4", "parents"), "He may have a speech delay", model.LanguageEN, "(Defensive) Are you saying something is wrong with my son?"},
		{scenario("p4", "parents"), "We can support him together", model.LanguageEN, "(Sighs) I have noticed he points instead of talking."},
		{scenario("p4", "parents"), "Hello", model.LanguageEN, "(Parent nods) Understood. Thank you for the advice, Teacher."},
		{scenario("p1", "parents"), "Today we explored leaves", model.LanguageZH, "(家长点头) 明白了。谢谢老师的建议。"},
		{scenario("c2", "children"), "Let's take turns", model.LanguageEN, "(Child looks curious) Teacher, why?"},
	}
	for _, tc := range cases {
		history := []model.Message{userMsg(tc.input)}
		reply, err := sim.Complete(ctx, Request{Input: tc.input, History: history, Scenario: tc.scenario, Language: tc.lang})
		require.NoError(t, err)
		assert.Contains(t, reply.Text, tc.want, tc.input)
	}
}

// TestDecideReportsRuleName 验证 Decide 返回命中的规则名，便于日志排查。
func TestDecideReportsRuleName(t *testing.T) {
	script, err := DefaultScript()
	require.NoError(t, err)

	_, rule := script.Decide("let's walk slowly", []model.Message{userMsg("let's walk slowly")}, scenario("c1", "children"))
	assert.Equal(t, "c1/calming", rule)
	_, rule = script.Decide("hi", nil, scenario("zz", "unknown"))
	assert.Equal(t, "default", rule)
	_, rule = script.Decide("hi", nil, scenario("c2", "children"))
	assert.Equal(t, "role/children", rule)
}

// TestConditionFirstUserTurnAndKeywords 验证 first_user_turn 与关键词是“与”关系。
func TestConditionFirstUserTurnAndKeywords(t *testing.T) {
	cond := Condition{FirstUserTurn: true, Contains: []string{"walk"}}
	one := []model.Message{seed("x"), userMsg("walk")}
	two := []model.Message{userMsg("run"), userMsg("walk")}

	assert.True(t, cond.Match("walk", one))
	assert.False(t, cond.Match("run", one))
	assert.False(t, cond.Match("walk", two))
	assert.True(t, Condition{}.Match("anything", nil))
	assert.True(t, Condition{Prefix: []string{"B"}}.Match("  B: yes", nil))
	assert.False(t, Condition{Prefix: []string{"B"}}.Match("b: yes", nil))
}

// TestParseScriptValidation 验证脚本校验。
func TestParseScriptValidation(t *testing.T) {
	_, err := ParseScript([]byte(`version: "1"`))
	assert.Error(t, err, "default reply is required")

	_, err = ParseScript([]byte(`
default: {text: {en: ok}}
scenarios:
  c1:
    - {name: a, reply: {text: {en: x}}}
    - {name: a, reply: {text: {en: y}}}
`))
	assert.Error(t, err, "duplicate rule names")

	_, err = ParseScript([]byte(`
default: {text: {en: ok}}
scenarios:
  c1:
    - {name: a}
`))
	assert.Error(t, err, "empty reply")
}

// TestCompleteIsDeterministic 属性测试：同样的输入总是得到同样的回复，且回复非空。
func TestCompleteIsDeterministic(t *testing.T) {
	sim := newScripted(t)
	ctx := context.Background()
	scenarios := []model.Scenario{
		scenario("c1", "children"), scenario("c2", "children"),
		scenario("p1", "parents"), scenario("p2", "parents"), scenario("p3", "parents"), scenario("p4", "parents"),
		scenario("t1", "colleagues"),
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("same input gives same non-empty reply", prop.ForAll(
		func(input string, idx int, zh bool, turns int) bool {
			lang := model.LanguageEN
			if zh {
				lang = model.LanguageZH
			}
			history := []model.Message{seed("s")}
			for i := 0; i < turns; i++ {
				history = append(history, userMsg(input))
			}
			req := Request{Input: input, History: history, Scenario: scenarios[idx], Language: lang}
			a, errA := sim.Complete(ctx, req)
			b, errB := sim.Complete(ctx, req)
			if errA != nil || errB != nil {
				return false
			}
			return a.Text != "" && a.Text == b.Text && len(a.Options) == len(b.Options)
		},
		gen.AnyString(),
		gen.IntRange(0, len(scenarios)-1),
		gen.Bool(),
		gen.IntRange(0, 4),
	))

	properties.TestingRun(t)
}

// TestFixedDelayHonoursContext 验证延迟可以被 ctx 取消。
func TestFixedDelayHonoursContext(t *testing.T) {
	d := FixedDelay{Complete: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Wait(ctx, OpComplete), context.Canceled)

	start := time.Now()
	require.NoError(t, FixedDelay{Tip: 5 * time.Millisecond}.Wait(context.Background(), OpTip))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	require.NoError(t, FixedDelay{}.Wait(context.Background(), OpScore))

	def := DefaultDelay()
	assert.Equal(t, 1500*time.Millisecond, def.Complete)
	assert.Equal(t, 2000*time.Millisecond, def.Tip)
	assert.Equal(t, 2500*time.Millisecond, def.Score)
}

// TestVoiceReply 验证语音占位回复。
func TestVoiceReply(t *testing.T) {
	sim := newScripted(t)
	assert.Equal(t, "(Chaos and laughter) catch me!! No water!!", sim.VoiceReply(scenario("c1", "children"), model.LanguageEN))
	assert.Equal(t, "(担忧的语气) 老师，我真的不知道该怎么办。我说华语时他就捂住耳朵。", sim.VoiceReply(scenario("p2", "parents"), model.LanguageZH))
	assert.Equal(t, "(Audio Response Placeholder based on context...)", sim.VoiceReply(scenario("t1", "colleagues"), model.LanguageEN))
}
