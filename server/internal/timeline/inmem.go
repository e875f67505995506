package timeline

import (
	"context"
	"slices"
	"sync"

	"presip-lab/server/internal/model"
)

// sessionLog 单个会话的事件。seq 等于下标加一。
type sessionLog struct {
	events    []model.Event
	byEventID map[string]int64
}

// InMemoryStore 内存版 timeline，进程退出即丢失。
type InMemoryStore struct {
	mu   sync.RWMutex
	logs map[string]*sessionLog
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{logs: make(map[string]*sessionLog)}
}

// Append 追加事件并分配 seq。带 EventID 的重复事件直接返回第一次的 seq。
func (s *InMemoryStore) Append(_ context.Context, sessionID string, evt *model.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.logs[sessionID]
	if !ok {
		log = &sessionLog{byEventID: make(map[string]int64)}
		s.logs[sessionID] = log
	}
	if evt.EventID != "" {
		if seq, dup := log.byEventID[evt.EventID]; dup {
			return seq, nil
		}
	}

	stored := *evt
	stored.Seq = int64(len(log.events)) + 1
	stored.SessionID = sessionID
	stored.Options = slices.Clone(evt.Options)
	log.events = append(log.events, stored)
	if evt.EventID != "" {
		log.byEventID[evt.EventID] = stored.Seq
	}
	return stored.Seq, nil
}

// List 返回会话的全部事件副本。
func (s *InMemoryStore) List(ctx context.Context, sessionID string) ([]model.Event, error) {
	return s.ListSince(ctx, sessionID, 0)
}

// ListSince 返回 seq > afterSeq 的事件副本，按 seq 升序。
func (s *InMemoryStore) ListSince(_ context.Context, sessionID string, afterSeq int64) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.logs[sessionID]
	afterSeq = max(afterSeq, 0)
	if !ok || afterSeq >= int64(len(log.events)) {
		return []model.Event{}, nil
	}
	out := slices.Clone(log.events[afterSeq:])
	for i := range out {
		out[i].Options = slices.Clone(out[i].Options)
	}
	return out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, sessionID)
	return nil
}
