package simulator

import (
	"context"

	"presip-lab/server/internal/logger"
	"presip-lab/server/internal/model"

	"go.uber.org/zap"
)

// Scripted 基于决策表的确定性模拟器。相同输入总是得到相同输出。
type Scripted struct {
	script *Script
	delay  Delay
	logger *logger.LogMiddleware
}

// NewScripted 创建脚本模拟器。delay 为 nil 时不等待。
func NewScripted(script *Script, delay Delay, log *logger.LogMiddleware) *Scripted {
	if delay == nil {
		delay = NoDelay{}
	}
	return &Scripted{script: script, delay: delay, logger: log}
}

func (s *Scripted) Complete(ctx context.Context, req Request) (model.Reply, error) {
	if err := s.delay.Wait(ctx, OpComplete); err != nil {
		return model.Reply{}, err
	}

	tmpl, rule := s.script.Decide(req.Input, req.History, req.Scenario)
	reply := tmpl.Render(req.Language)
	if reply.Text == "" {
		// 模板缺当前语言时 Render 已回落，这里只剩全局兜底。
		reply = s.script.Default.Render(req.Language)
		rule = "default"
	}
	s.logger.Logger(ctx).Debug("[Simulator] scripted reply",
		zap.String("scenario_id", req.Scenario.ID),
		zap.String("rule", rule),
		zap.Int("options", len(reply.Options)))
	return reply, nil
}

func (s *Scripted) CoachingTip(ctx context.Context, req Request) (string, error) {
	if err := s.delay.Wait(ctx, OpTip); err != nil {
		return "", err
	}
	tip, ok := s.script.Tip(req.Scenario.RoleID)
	if !ok {
		return "", ErrEmptyReply
	}
	return FormatTip(req.Language,
		tip.EmotionalState.Get(req.Language),
		tip.NELLink.Get(req.Language),
		tip.TryThis.Get(req.Language)), nil
}

func (s *Scripted) Score(ctx context.Context, req Request) (model.FeedbackData, error) {
	if err := s.delay.Wait(ctx, OpScore); err != nil {
		return model.FeedbackData{}, err
	}
	fb := ScoreTranscript(req.History, req.Scenario, req.Language)
	s.logger.Logger(ctx).Debug("[Simulator] scripted score",
		zap.String("scenario_id", req.Scenario.ID),
		zap.Int("language_proficiency", fb.LanguageProficiency.Score),
		zap.Int("nel_alignment", fb.NELAlignment.Score),
		zap.Bool("placeholder", fb.Placeholder))
	return fb, nil
}

// VoiceReply 语音客户端使用的占位回复。
func (s *Scripted) VoiceReply(scenario model.Scenario, lang model.Language) string {
	return s.script.VoiceText(scenario.ID, lang)
}
