package session

import (
	"context"

	"presip-lab/server/internal/model"
)

// Store 保存会话快照。Get 返回副本，调用方修改不会影响已保存的数据。
type Store interface {
	Get(ctx context.Context, id string) (model.SessionState, error)
	Save(ctx context.Context, s model.SessionState) error
	Delete(ctx context.Context, id string) error
}
