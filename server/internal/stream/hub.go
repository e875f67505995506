// Package stream 把会话快照推送给订阅者（websocket 客户端、终端客户端）。
package stream

import (
	"context"
	"sync"

	"presip-lab/server/internal/logger"
	"presip-lab/server/internal/model"

	"go.uber.org/zap"
)

const defaultQueueCapacity = 16

// Hub 按会话维护订阅者，Publish 永不阻塞编排器。
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]map[*Subscription]struct{}
	queueSize int
	logger    *logger.LogMiddleware
}

// Subscription 一个订阅者的快照队列。
type Subscription struct {
	sessionID string
	ch        chan model.SessionState
	closeOnce sync.Once

	// 统计信息
	mu        sync.Mutex
	delivered int64
	dropped   int64
}

// NewHub 创建推送中心。queueSize<=0 时使用默认容量。
func NewHub(queueSize int, log *logger.LogMiddleware) *Hub {
	if queueSize <= 0 {
		queueSize = defaultQueueCapacity
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		subs:      make(map[string]map[*Subscription]struct{}),
		queueSize: queueSize,
		logger:    log,
	}
}

// Subscribe 订阅某个会话的快照。调用方负责 Unsubscribe。
func (h *Hub) Subscribe(ctx context.Context, sessionID string) *Subscription {
	sub := &Subscription{
		sessionID: sessionID,
		ch:        make(chan model.SessionState, h.queueSize),
	}
	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*Subscription]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	count := len(h.subs[sessionID])
	h.mu.Unlock()

	h.logger.Logger(ctx).Debug("[Stream] subscribed",
		zap.String("session_id", sessionID),
		zap.Int("subscribers", count))
	return sub
}

// Unsubscribe 取消订阅并关闭队列，可重复调用。
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if set, ok := h.subs[sub.sessionID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.sessionID)
		}
	}
	h.mu.Unlock()

	// 先从表中移除再关闭，Publish 不会写已关闭的 channel。
	sub.closeOnce.Do(func() { close(sub.ch) })

	delivered, dropped := sub.Stats()
	h.logger.Logger(context.Background()).Debug("[Stream] unsubscribed",
		zap.String("session_id", sub.sessionID),
		zap.Int64("delivered", delivered),
		zap.Int64("dropped", dropped))
}

// Publish 把快照放进每个订阅者的队列。
// 队列满时丢弃最旧的一条：快照是全量状态，只有最新的有意义。
func (h *Hub) Publish(state model.SessionState) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[state.SessionID] {
		sub.offer(state.Clone())
	}
}

// Subscribers 当前会话的订阅者数量。
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

func (s *Subscription) offer(state model.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		select {
		case s.ch <- state:
			s.delivered++
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
	}
}

// C 返回快照通道，Unsubscribe 后关闭。
func (s *Subscription) C() <-chan model.SessionState {
	return s.ch
}

// SessionID 订阅的会话。
func (s *Subscription) SessionID() string {
	return s.sessionID
}

// Stats 返回已投递与被丢弃的快照数。
func (s *Subscription) Stats() (delivered, dropped int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered, s.dropped
}
