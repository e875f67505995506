package simulator

import (
	"context"
	"time"
)

// Operation 标识一次模拟器调用的类型，用于选择延迟。
type Operation string

const (
	OpComplete Operation = "complete"
	OpTip      Operation = "tip"
	OpScore    Operation = "score"
)

// Delay 模拟网络延迟的策略。实现必须响应 ctx 取消。
type Delay interface {
	Wait(ctx context.Context, op Operation) error
}

// FixedDelay 每种操作固定等待一段时间。
type FixedDelay struct {
	Complete time.Duration
	Tip      time.Duration
	Score    time.Duration
}

// DefaultDelay 文本 1.5s、提示 2s、评分 2.5s。
func DefaultDelay() FixedDelay {
	return FixedDelay{
		Complete: 1500 * time.Millisecond,
		Tip:      2000 * time.Millisecond,
		Score:    2500 * time.Millisecond,
	}
}

func (d FixedDelay) Wait(ctx context.Context, op Operation) error {
	var wait time.Duration
	switch op {
	case OpComplete:
		wait = d.Complete
	case OpTip:
		wait = d.Tip
	case OpScore:
		wait = d.Score
	}
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoDelay 立即返回，测试使用。
type NoDelay struct{}

func (NoDelay) Wait(ctx context.Context, _ Operation) error {
	return ctx.Err()
}
