// Package simulator 生成练习对象的回复、教练提示与会话评分。
//
// 两种实现：
//   - Scripted：按场景决策表匹配关键词，结果确定、可离线运行。
//   - Generative：把场景隐藏规则与完整对话交给大模型。
//
// 两者都只读 History，不修改调用方的 transcript。
package simulator

import (
	"context"
	"errors"

	"presip-lab/server/internal/model"
)

// Request 一次模拟器调用的输入。
type Request struct {
	// Input 本轮学员输入，只有文本补全使用。
	Input    string
	History  []model.Message
	Scenario model.Scenario
	Language model.Language
}

// Simulator 编排层依赖的三种操作。
type Simulator interface {
	Complete(ctx context.Context, req Request) (model.Reply, error)
	CoachingTip(ctx context.Context, req Request) (string, error)
	Score(ctx context.Context, req Request) (model.FeedbackData, error)
}

// Mode 模拟器实现类型，配置与 capabilities 接口使用。
type Mode string

const (
	ModeScripted   Mode = "scripted"
	ModeGenerative Mode = "generative"
)

var ErrEmptyReply = errors.New("simulator returned empty reply")
