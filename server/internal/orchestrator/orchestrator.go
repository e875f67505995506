package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"presip-lab/server/internal/domain"
	"presip-lab/server/internal/logger"
	"presip-lab/server/internal/model"
	"presip-lab/server/internal/session"
	"presip-lab/server/internal/simulator"
	"presip-lab/server/internal/timeline"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher 接收每一次生效后的快照，用于推送给订阅方。
type Publisher interface {
	Publish(state model.SessionState)
}

// Orchestrator 负责会话动作的编排逻辑。
//
// 职责与契约：
// - 归约集中：所有状态变化都走 Reduce，编排层只负责加锁、落盘和调用模拟器。
// - 动作可审计：每个生效的动作都写入 Timeline，便于回放与复盘。
// - busy 闭环：模拟器调用前置 busy，调用结束（成功或失败）一定清除。
// - 模拟器调用不持锁：同一会话的其它动作（返回、切换语言）不会被卡住。
// - 推送有序：快照在会话锁内推送，订阅方最后看到的一定是最新落盘的快照。
type Orchestrator struct {
	store     session.Store
	timeline  timeline.Store
	catalog   *domain.Catalog
	sim       simulator.Simulator
	now       func() time.Time
	newID     func() string
	publisher Publisher
	logger    *logger.LogMiddleware

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option 配置 Orchestrator。
type Option func(*Orchestrator)

func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator 替换会话与消息 id 的生成方式，默认 UUIDv7。
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

func WithLogger(l *logger.LogMiddleware) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func New(store session.Store, tl timeline.Store, catalog *domain.Catalog, sim simulator.Simulator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		timeline: tl,
		catalog:  catalog,
		sim:      sim,
		now:      time.Now,
		newID:    newUUID,
		logger:   logger.Nop(),
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func newUUID() string {
	// v7 按时间有序，transcript 里的 id 天然递增。
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// Catalog 返回编排器使用的场景目录。
func (o *Orchestrator) Catalog() *domain.Catalog {
	return o.catalog
}

// CreateSession 新建一个处于 ROLE_SELECTION 的会话。
func (o *Orchestrator) CreateSession(ctx context.Context, lang model.Language) (model.SessionState, error) {
	if !lang.Valid() {
		lang = model.LanguageEN
	}
	now := o.now()
	state := model.SessionState{
		SessionID: o.newID(),
		Stage:     model.StageRoleSelection,
		Messages:  []model.Message{},
		Language:  lang,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.Save(ctx, state); err != nil {
		return model.SessionState{}, err
	}
	evt := model.Event{Type: "session_created", Language: lang, Stage: state.Stage, ServerTS: now}
	if _, err := o.timeline.Append(ctx, state.SessionID, &evt); err != nil {
		return model.SessionState{}, err
	}
	// 登记会话锁，没有后续动作的会话也能被空闲清理找到。
	o.sessionLock(state.SessionID)
	o.logger.Logger(ctx).Info("[Orchestrator] session created",
		zap.String("session_id", state.SessionID),
		zap.String("language", string(lang)))
	o.publish(state)
	return state, nil
}

// Snapshot 返回会话当前快照。
func (o *Orchestrator) Snapshot(ctx context.Context, sessionID string) (model.SessionState, error) {
	return o.store.Get(ctx, sessionID)
}

// Timeline 返回 seq 大于 afterSeq 的事件。
func (o *Orchestrator) Timeline(ctx context.Context, sessionID string, afterSeq int64) ([]model.Event, error) {
	if _, err := o.store.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return o.timeline.ListSince(ctx, sessionID, afterSeq)
}

func (o *Orchestrator) SelectRole(ctx context.Context, sessionID, roleID string) (model.SessionState, error) {
	role, err := o.catalog.FindRole(roleID)
	if err != nil {
		return model.SessionState{}, err
	}
	return o.apply(ctx, sessionID, Action{Type: ActionSelectRole, Role: &role})
}

// SelectScenario 选择场景并进入对话，transcript 被清空后按需插入开场消息。
func (o *Orchestrator) SelectScenario(ctx context.Context, sessionID, scenarioID string) (model.SessionState, error) {
	scenario, err := o.catalog.FindScenario(scenarioID)
	if err != nil {
		return model.SessionState{}, err
	}
	return o.apply(ctx, sessionID, Action{Type: ActionSelectScenario, Scenario: &scenario})
}

// ChangeLanguage 任何阶段都可以切换语言。
func (o *Orchestrator) ChangeLanguage(ctx context.Context, sessionID string, lang model.Language) (model.SessionState, error) {
	return o.apply(ctx, sessionID, Action{Type: ActionChangeLanguage, Language: lang})
}

func (o *Orchestrator) Back(ctx context.Context, sessionID string) (model.SessionState, error) {
	return o.apply(ctx, sessionID, Action{Type: ActionBack})
}

func (o *Orchestrator) Restart(ctx context.Context, sessionID string) (model.SessionState, error) {
	return o.apply(ctx, sessionID, Action{Type: ActionRestart})
}

// SendMessage 追加学员消息并等待模拟器回复。
//
// 流程：
// 1. 加锁归约 send_message：校验非空、非 busy，写入学员消息并置 busy。
// 2. 释放锁后调用模拟器，transcript 已包含刚写入的学员消息。
// 3. 回复或失败都归约为一条 AI 消息并清除 busy；期间若已换场景/重开，结果被丢弃。
func (o *Orchestrator) SendMessage(ctx context.Context, sessionID, text string, mode model.MessageMode) (model.SessionState, error) {
	msg := model.Message{
		ID:        o.newID(),
		Sender:    model.SenderUser,
		Text:      text,
		Mode:      mode,
		Timestamp: o.now(),
	}
	state, err := o.apply(ctx, sessionID, Action{Type: ActionSendMessage, Message: msg})
	if err != nil {
		return state, err
	}

	req := simulator.Request{
		Input:    model.NormalizeText(text),
		History:  state.Clone().Messages,
		Scenario: *state.Scenario,
		Language: state.Language,
	}
	reply, simErr := o.sim.Complete(ctx, req)

	act := Action{
		Type:    ActionAssistantReply,
		Message: model.Message{ID: o.newID(), Timestamp: o.now()},
		Reply:   reply,
		Epoch:   state.Epoch,
	}
	if simErr != nil {
		o.logger.Logger(ctx).Warn("[Orchestrator] completion failed, using fallback message",
			zap.String("session_id", sessionID),
			zap.String("scenario_id", req.Scenario.ID),
			zap.Error(simErr))
		act.Type = ActionAssistantFailed
	}
	// 请求可能已经被取消，结果仍要落盘以清除 busy。
	return o.settle(context.WithoutCancel(ctx), sessionID, act)
}

// EndSession 立即进入 FEEDBACK（busy），再用完整 transcript 评分。
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) (model.SessionState, error) {
	state, err := o.apply(ctx, sessionID, Action{Type: ActionEndSession})
	if err != nil {
		return state, err
	}

	fb, simErr := o.sim.Score(ctx, simulator.Request{
		History:  state.Clone().Messages,
		Scenario: *state.Scenario,
		Language: state.Language,
	})
	act := Action{Type: ActionFeedbackReady, Feedback: &fb, Epoch: state.Epoch}
	if simErr != nil {
		o.logger.Logger(ctx).Warn("[Orchestrator] scoring failed, feedback unavailable",
			zap.String("session_id", sessionID),
			zap.Error(simErr))
		act = Action{Type: ActionFeedbackFailed, Epoch: state.Epoch}
	}
	return o.settle(context.WithoutCancel(ctx), sessionID, act)
}

// RequestCoachingTip 生成教练提示，不修改 transcript；失败时返回通用提示。
func (o *Orchestrator) RequestCoachingTip(ctx context.Context, sessionID string) (string, error) {
	state, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if state.Stage != model.StageInteraction {
		return "", fmt.Errorf("%w: coaching tip in %s", ErrInvalidTransition, state.Stage)
	}
	if state.Scenario == nil {
		return "", ErrNoScenario
	}

	tip, simErr := o.sim.CoachingTip(ctx, simulator.Request{
		History:  state.Messages,
		Scenario: *state.Scenario,
		Language: state.Language,
	})
	if simErr != nil || tip == "" {
		o.logger.Logger(ctx).Warn("[Orchestrator] coaching tip failed, using generic tip",
			zap.String("session_id", sessionID),
			zap.Error(simErr))
		tip = GenericTip(state.Language)
	}

	evt := model.Event{
		Type:       "coaching_tip",
		ScenarioID: state.Scenario.ID,
		Language:   state.Language,
		Text:       tip,
		Epoch:      state.Epoch,
		Stage:      state.Stage,
		ServerTS:   o.now(),
	}
	if _, err := o.timeline.Append(context.WithoutCancel(ctx), sessionID, &evt); err != nil {
		o.logger.Logger(ctx).Warn("[Orchestrator] append tip event failed", zap.Error(err))
	}
	return tip, nil
}

// settle 落盘模拟器结果。过期结果只记日志，返回当前快照。
func (o *Orchestrator) settle(ctx context.Context, sessionID string, act Action) (model.SessionState, error) {
	state, err := o.apply(ctx, sessionID, act)
	if errors.Is(err, ErrStaleCompletion) {
		o.logger.Logger(ctx).Info("[Orchestrator] discarded stale result",
			zap.String("session_id", sessionID),
			zap.String("action", string(act.Type)),
			zap.Int64("epoch", act.Epoch))
		return state, nil
	}
	return state, err
}

// apply 在会话锁内完成 读取 → 归约 → 写 timeline → 保存 → 推送快照。
// 推送也在锁内，订阅方收到的快照顺序与落盘顺序一致；Publisher 不能阻塞。
// 归约失败时不写任何数据，返回未修改的快照与错误。
func (o *Orchestrator) apply(ctx context.Context, sessionID string, act Action) (model.SessionState, error) {
	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	state, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return model.SessionState{}, err
	}

	now := o.now()
	next, err := Reduce(state, act, now)
	if err != nil {
		return state, err
	}

	evt := eventFor(act, next, now)
	if _, err := o.timeline.Append(ctx, sessionID, &evt); err != nil {
		return state, err
	}
	if err := o.store.Save(ctx, next); err != nil {
		return state, err
	}
	o.publish(next)

	o.logger.Logger(ctx).Debug("[Orchestrator] action applied",
		zap.String("session_id", sessionID),
		zap.String("action", string(act.Type)),
		zap.String("stage", string(next.Stage)),
		zap.Bool("busy", next.Busy))
	return next, nil
}

func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[sessionID] = lock
	}
	return lock
}

// EvictIdle 删除超过 maxIdle 没有任何动作的会话，连同 timeline 与会话锁。
// 正在等待模拟器（busy）或正被其它动作持锁的会话本轮跳过。返回被删除的会话 id。
func (o *Orchestrator) EvictIdle(ctx context.Context, maxIdle time.Duration) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	var evicted []string
	for id, lock := range o.locks {
		if !lock.TryLock() {
			continue
		}
		state, err := o.store.Get(ctx, id)
		switch {
		case errors.Is(err, session.ErrNotFound):
			// 未知 id 也会留下一把锁，一并回收。
		case err != nil, state.Busy, now.Sub(state.UpdatedAt) <= maxIdle:
			lock.Unlock()
			continue
		}

		if err := o.store.Delete(ctx, id); err != nil && !errors.Is(err, session.ErrNotFound) {
			o.logger.Logger(ctx).Warn("[Orchestrator] evict session failed",
				zap.String("session_id", id), zap.Error(err))
			lock.Unlock()
			continue
		}
		if err := o.timeline.Delete(ctx, id); err != nil {
			o.logger.Logger(ctx).Warn("[Orchestrator] evict timeline failed",
				zap.String("session_id", id), zap.Error(err))
		}
		delete(o.locks, id)
		lock.Unlock()
		evicted = append(evicted, id)
	}
	return evicted
}

// RunJanitor 每隔 interval 清理一次空闲会话，直到 ctx 取消。
func (o *Orchestrator) RunJanitor(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := o.EvictIdle(ctx, maxIdle); len(evicted) > 0 {
				o.logger.Logger(ctx).Info("[Orchestrator] evicted idle sessions",
					zap.Int("count", len(evicted)),
					zap.Duration("max_idle", maxIdle))
			}
		}
	}
}

func (o *Orchestrator) publish(state model.SessionState) {
	if o.publisher != nil {
		o.publisher.Publish(state.Clone())
	}
}

// eventFor 把生效的动作记成 timeline 事实。
func eventFor(act Action, next model.SessionState, now time.Time) model.Event {
	evt := model.Event{
		Type:     string(act.Type),
		Language: next.Language,
		Epoch:    next.Epoch,
		Stage:    next.Stage,
		ServerTS: now,
	}
	if next.Role != nil {
		evt.RoleID = next.Role.ID
	}
	if next.Scenario != nil {
		evt.ScenarioID = next.Scenario.ID
	}

	switch act.Type {
	case ActionSendMessage, ActionAssistantReply, ActionAssistantFailed:
		last := next.Messages[len(next.Messages)-1]
		evt.EventID = last.ID
		evt.MessageID = last.ID
		evt.Text = last.Text
		evt.Mode = last.Mode
		evt.Options = last.Options
	case ActionFeedbackReady:
		if next.Feedback != nil {
			evt.Text = fmt.Sprintf("language_proficiency=%d nel_alignment=%d",
				next.Feedback.LanguageProficiency.Score, next.Feedback.NELAlignment.Score)
		}
	}
	return evt
}
