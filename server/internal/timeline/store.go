package timeline

import (
	"context"

	"presip-lab/server/internal/model"
)

type Store interface {
	// Append 以 append-first 的契约写入 timeline，返回本次写入的 seq。
	// 约定：同一 session 的 seq 单调递增；相同 EventID 的请求应幂等返回同一 seq。
	Append(ctx context.Context, sessionID string, evt *model.Event) (int64, error)
	// List 返回该 session 的全量事件，用于回放与复盘。
	List(ctx context.Context, sessionID string) ([]model.Event, error)
	// ListSince 返回 seq 大于 afterSeq 的事件，用于增量拉取。
	ListSince(ctx context.Context, sessionID string, afterSeq int64) ([]model.Event, error)
	// Delete 删除该 session 的全部事件，会话被清理时调用；不存在时不报错。
	Delete(ctx context.Context, sessionID string) error
}
