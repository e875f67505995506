package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"presip-lab/server/internal/actor"
	"presip-lab/server/internal/llm"
	"presip-lab/server/internal/logger"
	"presip-lab/server/internal/model"

	"go.uber.org/zap"
)

var replySchema = &llm.JSONSchema{
	Name:   "roleplay_reply",
	Strict: true,
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text":    map[string]any{"type": "string"},
			"options": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required":             []string{"text", "options"},
		"additionalProperties": false,
	},
}

var tipSchema = &llm.JSONSchema{
	Name:   "coaching_tip",
	Strict: true,
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"emotional_state": map[string]any{"type": "string"},
			"nel_link":        map[string]any{"type": "string"},
			"try_this":        map[string]any{"type": "string"},
		},
		"required":             []string{"emotional_state", "nel_link", "try_this"},
		"additionalProperties": false,
	},
}

var scoredComment = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"score":   map[string]any{"type": "integer"},
		"comment": map[string]any{"type": "string"},
	},
	"required":             []string{"score", "comment"},
	"additionalProperties": false,
}

var feedbackSchema = &llm.JSONSchema{
	Name:   "session_feedback",
	Strict: true,
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"language_proficiency": scoredComment,
			"nel_alignment":        scoredComment,
			"strengths":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"suggestions":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required":             []string{"language_proficiency", "nel_alignment", "strengths", "suggestions"},
		"additionalProperties": false,
	},
}

// Generative 通过大模型生成回复、提示与评分。
type Generative struct {
	client llm.Client
	engine *actor.ActorEngine
	delay  Delay
	logger *logger.LogMiddleware
}

// NewGenerative 创建生成式模拟器。delay 为 nil 时不额外等待。
func NewGenerative(client llm.Client, engine *actor.ActorEngine, delay Delay, log *logger.LogMiddleware) *Generative {
	if delay == nil {
		delay = NoDelay{}
	}
	return &Generative{client: client, engine: engine, delay: delay, logger: log}
}

func (g *Generative) Complete(ctx context.Context, req Request) (model.Reply, error) {
	if err := g.delay.Wait(ctx, OpComplete); err != nil {
		return model.Reply{}, err
	}
	raw, err := g.call(ctx, actor.TaskReply, req, replySchema)
	if err != nil {
		return model.Reply{}, err
	}

	var out struct {
		Text    string   `json:"text"`
		Options []string `json:"options"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		// 有的模型忽略 JSON 要求直接回纯文本，照样可用。
		if strings.HasPrefix(raw, "{") {
			return model.Reply{}, fmt.Errorf("decode reply: %w", err)
		}
		out.Text = raw
	}
	reply := model.Reply{Text: strings.TrimSpace(out.Text)}
	for _, opt := range out.Options {
		if opt = strings.TrimSpace(opt); opt != "" {
			reply.Options = append(reply.Options, opt)
		}
	}
	if reply.Text == "" {
		return model.Reply{}, ErrEmptyReply
	}
	return reply, nil
}

func (g *Generative) CoachingTip(ctx context.Context, req Request) (string, error) {
	if err := g.delay.Wait(ctx, OpTip); err != nil {
		return "", err
	}
	raw, err := g.call(ctx, actor.TaskTip, req, tipSchema)
	if err != nil {
		return "", err
	}

	var out struct {
		EmotionalState string `json:"emotional_state"`
		NELLink        string `json:"nel_link"`
		TryThis        string `json:"try_this"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", fmt.Errorf("decode tip: %w", err)
	}
	if out.EmotionalState == "" && out.NELLink == "" && out.TryThis == "" {
		return "", ErrEmptyReply
	}
	return FormatTip(req.Language, out.EmotionalState, out.NELLink, out.TryThis), nil
}

func (g *Generative) Score(ctx context.Context, req Request) (model.FeedbackData, error) {
	if err := g.delay.Wait(ctx, OpScore); err != nil {
		return model.FeedbackData{}, err
	}
	// 没有学员发言就没有可评估的内容，不必请求模型。
	if model.UserTurns(req.History) == 0 {
		return PlaceholderFeedback(req.Language), nil
	}

	raw, err := g.call(ctx, actor.TaskScore, req, feedbackSchema)
	if err != nil {
		return model.FeedbackData{}, err
	}
	var fb model.FeedbackData
	if err := json.Unmarshal([]byte(raw), &fb); err != nil {
		return model.FeedbackData{}, fmt.Errorf("decode feedback: %w", err)
	}
	fb.LanguageProficiency.Score = clamp(fb.LanguageProficiency.Score, 0, 100)
	fb.NELAlignment.Score = clamp(fb.NELAlignment.Score, 1, 5)
	if fb.Strengths == nil {
		fb.Strengths = []string{}
	}
	if fb.Suggestions == nil {
		fb.Suggestions = []string{}
	}
	fb.Placeholder = false
	return fb, nil
}

func (g *Generative) call(ctx context.Context, task actor.Task, req Request, schema *llm.JSONSchema) (string, error) {
	areq := actor.ActorRequest{
		Task:     task,
		Scenario: req.Scenario,
		Language: req.Language,
		History:  req.History,
		Input:    req.Input,
	}
	prompt, err := g.engine.BuildPrompt(areq)
	if err != nil {
		g.logger.Logger(ctx).Warn("[Simulator] build prompt failed, using fallback", zap.Error(err))
		prompt = g.engine.BuildFallbackPrompt(areq)
	}
	if err := g.engine.Validate(prompt); err != nil {
		return "", fmt.Errorf("invalid prompt: %w", err)
	}

	raw, err := g.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: prompt.Instructions},
		{Role: "user", Content: prompt.UserTurn},
	}, schema)
	if err != nil {
		g.logger.Logger(ctx).Error("[Simulator] llm call failed",
			zap.String("task", string(task)),
			zap.String("scenario_id", req.Scenario.ID),
			zap.Error(err))
		return "", fmt.Errorf("%s: %w", task, err)
	}
	return llm.StripCodeFence(raw), nil
}
