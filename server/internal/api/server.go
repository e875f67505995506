package api

import (
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"

	"presip-lab/server/internal/config"
	"presip-lab/server/internal/domain"
	"presip-lab/server/internal/logger"
	"presip-lab/server/internal/model"
	"presip-lab/server/internal/orchestrator"
	"presip-lab/server/internal/session"
	"presip-lab/server/internal/simulator"
	"presip-lab/server/internal/speech"
	"presip-lab/server/internal/stream"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// VoiceReplier 能给语音客户端提供占位回复的模拟器。
type VoiceReplier interface {
	VoiceReply(scenario model.Scenario, lang model.Language) string
}

// Deps Server 依赖的组件。Transcriber 与 Voice 可以为空。
type Deps struct {
	Config       *config.Config
	Orchestrator *orchestrator.Orchestrator
	Hub          *stream.Hub
	Transcriber  speech.Transcriber
	Voice        VoiceReplier
	Logger       *logger.LogMiddleware
}

type Server struct {
	config       *config.Config
	orchestrator *orchestrator.Orchestrator
	hub          *stream.Hub
	transcriber  speech.Transcriber
	voice        VoiceReplier
	logger       *logger.LogMiddleware
	limiter      *ipRateLimiter

	upgrader websocket.Upgrader
}

func NewServer(d Deps) *Server {
	if d.Transcriber == nil {
		d.Transcriber = speech.Unavailable{}
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.Config == nil {
		d.Config = config.Default()
	}
	s := &Server{
		config:       d.Config,
		orchestrator: d.Orchestrator,
		hub:          d.Hub,
		transcriber:  d.Transcriber,
		voice:        d.Voice,
		logger:       d.Logger,
	}
	if d.Config.RateLimit.Enabled {
		s.limiter = newIPRateLimiter(d.Config.RateLimit.RequestsPerSecond, d.Config.RateLimit.Burst)
	}
	allowed := d.Config.Server.AllowedOrigins
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(allowed) == 0 || origin == "" || slices.Contains(allowed, origin)
		},
	}
	return s
}

func (s *Server) Routes() http.Handler {
	// Gin 统一承载中间件与路由，便于扩展日志/鉴权/限流等能力。
	engine := gin.New()
	engine.Use(gin.Recovery(), accessLog(s.logger), cors(s.config.Server.AllowedOrigins))
	engine.GET("/healthz", s.handleHealthz)

	api := engine.Group("/api")
	api.GET("/capabilities", s.handleCapabilities)
	api.GET("/roles", s.handleRoles)
	api.GET("/roles/:id/scenarios", s.handleRoleScenarios)

	sessions := api.Group("/sessions")
	sessions.GET("/:id", s.handleGetSession)
	sessions.GET("/:id/timeline", s.handleTimeline)
	sessions.GET("/:id/stream", s.handleSessionStream)

	mutating := sessions.Group("")
	if s.limiter != nil {
		mutating.Use(s.limiter.middleware())
	}
	mutating.POST("", s.handleCreateSession)
	mutating.POST("/:id/role", s.handleSelectRole)
	mutating.POST("/:id/scenario", s.handleSelectScenario)
	mutating.POST("/:id/language", s.handleChangeLanguage)
	mutating.POST("/:id/messages", s.handleSendMessage)
	mutating.POST("/:id/speech", s.handleSpeech)
	mutating.POST("/:id/tip", s.handleTip)
	mutating.POST("/:id/end", s.handleEndSession)
	mutating.POST("/:id/back", s.handleBack)
	mutating.POST("/:id/restart", s.handleRestart)
	return engine
}

// handleHealthz 返回服务健康状态。
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCapabilities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"speech":    s.transcriber.Available(),
		"simulator": s.config.Simulator.Mode,
		"languages": model.SupportedLanguages,
	})
}

type roleView struct {
	model.Role
	FocusHint string `json:"focus_hint"`
}

func (s *Server) handleRoles(c *gin.Context) {
	roles := s.orchestrator.Catalog().Roles()
	out := make([]roleView, 0, len(roles))
	for _, r := range roles {
		out = append(out, roleView{Role: r, FocusHint: model.FocusHint(r.ID)})
	}
	c.JSON(http.StatusOK, out)
}

// handleRoleScenarios 返回该角色下的场景；隐藏规则不会被序列化。
func (s *Server) handleRoleScenarios(c *gin.Context) {
	catalog := s.orchestrator.Catalog()
	roleID := c.Param("id")
	if _, err := catalog.FindRole(roleID); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, catalog.ScenariosForRole(roleID))
}

// sessionView 快照加上由阶段推导出的进度条。
type sessionView struct {
	model.SessionState
	Steps []model.Step `json:"steps"`
}

func newSessionView(state model.SessionState) sessionView {
	return sessionView{SessionState: state, Steps: model.Steps(state.Stage)}
}

type createSessionRequest struct {
	Language string `json:"language"`
}

// handleCreateSession 新建会话。没有指定语言时按 Accept-Language 协商。
func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	lang := model.NegotiateLanguage(c.GetHeader("Accept-Language"))
	if req.Language != "" {
		parsed, err := model.ParseLanguage(req.Language)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		lang = parsed
	}

	state, err := s.orchestrator.CreateSession(c.Request.Context(), lang)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newSessionView(state))
}

func (s *Server) handleGetSession(c *gin.Context) {
	state, err := s.orchestrator.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionView(state))
}

type selectRoleRequest struct {
	RoleID string `json:"role_id" binding:"required"`
}

func (s *Server) handleSelectRole(c *gin.Context) {
	var req selectRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role_id required"})
		return
	}
	s.respond(c)(s.orchestrator.SelectRole(c.Request.Context(), c.Param("id"), req.RoleID))
}

type selectScenarioRequest struct {
	ScenarioID string `json:"scenario_id" binding:"required"`
}

func (s *Server) handleSelectScenario(c *gin.Context) {
	var req selectScenarioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scenario_id required"})
		return
	}
	s.respond(c)(s.orchestrator.SelectScenario(c.Request.Context(), c.Param("id"), req.ScenarioID))
}

type changeLanguageRequest struct {
	Language string `json:"language" binding:"required"`
}

func (s *Server) handleChangeLanguage(c *gin.Context) {
	var req changeLanguageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "language required"})
		return
	}
	lang, err := model.ParseLanguage(req.Language)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.respond(c)(s.orchestrator.ChangeLanguage(c.Request.Context(), c.Param("id"), lang))
}

type sendMessageRequest struct {
	Text string            `json:"text"`
	Mode model.MessageMode `json:"mode"`
}

// handleSendMessage 同步等待模拟器回复后返回最新快照。
func (s *Server) handleSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	s.respond(c)(s.orchestrator.SendMessage(c.Request.Context(), c.Param("id"), req.Text, req.Mode))
}

type speechResponse struct {
	Transcript string      `json:"transcript"`
	VoiceReply string      `json:"voice_reply,omitempty"`
	State      sessionView `json:"state"`
}

// handleSpeech 接收原始音频，转写后走普通的发送流程。
func (s *Server) handleSpeech(c *gin.Context) {
	if !s.transcriber.Available() {
		s.writeError(c, speech.ErrUnavailable)
		return
	}
	ctx := c.Request.Context()
	sessionID := c.Param("id")
	state, err := s.orchestrator.Snapshot(ctx, sessionID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	limit := s.config.Speech.MaxAudioBytes
	body := c.Request.Body
	if limit > 0 {
		body = http.MaxBytesReader(c.Writer, body, limit+1)
	}
	audio, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(c, speech.ErrAudioTooLarge)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "read audio failed"})
		return
	}

	transcript, err := s.transcriber.Transcribe(ctx, audio, state.Language)
	if err != nil {
		s.writeError(c, err)
		return
	}
	next, err := s.orchestrator.SendMessage(ctx, sessionID, transcript, model.ModeText)
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := speechResponse{Transcript: transcript, State: newSessionView(next)}
	if s.voice != nil && next.Scenario != nil {
		resp.VoiceReply = s.voice.VoiceReply(*next.Scenario, next.Language)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTip(c *gin.Context) {
	tip, err := s.orchestrator.RequestCoachingTip(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tip": tip, "segments": simulator.ParseTip(tip)})
}

func (s *Server) handleEndSession(c *gin.Context) {
	s.respond(c)(s.orchestrator.EndSession(c.Request.Context(), c.Param("id")))
}

func (s *Server) handleBack(c *gin.Context) {
	s.respond(c)(s.orchestrator.Back(c.Request.Context(), c.Param("id")))
}

func (s *Server) handleRestart(c *gin.Context) {
	s.respond(c)(s.orchestrator.Restart(c.Request.Context(), c.Param("id")))
}

// handleTimeline 返回会话的动作记录，after 用于增量拉取。
func (s *Server) handleTimeline(c *gin.Context) {
	var after int64
	if raw := c.Query("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "after must be a non-negative integer"})
			return
		}
		after = v
	}
	events, err := s.orchestrator.Timeline(c.Request.Context(), c.Param("id"), after)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// handleSessionStream 升级为 websocket，推送该会话的每一个快照。
func (s *Server) handleSessionStream(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	// 先订阅再取快照，避免错过两者之间的变化。
	sub := s.hub.Subscribe(ctx, sessionID)
	defer s.hub.Unsubscribe(sub)

	state, err := s.orchestrator.Snapshot(ctx, sessionID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Logger(ctx).Warn("[API] websocket upgrade failed", zap.Error(err))
		return
	}
	s.logger.Logger(ctx).Info("[API] stream connected", zap.String("session_id", sessionID))

	conn := stream.NewConn(ws, sub, s.config.Stream.PingInterval, s.logger)
	if err := conn.Serve(ctx, state); err != nil {
		s.logger.Logger(ctx).Debug("[API] stream closed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// respond 把编排器的 (state, err) 统一写成响应。
func (s *Server) respond(c *gin.Context) func(model.SessionState, error) {
	return func(state model.SessionState, err error) {
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, newSessionView(state))
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Logger(c.Request.Context()).Error("[API] request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		// 详细错误只进日志，返回给前端的保持简洁。
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrBusy),
		errors.Is(err, orchestrator.ErrInvalidTransition),
		errors.Is(err, orchestrator.ErrNoScenario):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrEmptyMessage),
		errors.Is(err, orchestrator.ErrRoleMismatch),
		errors.Is(err, orchestrator.ErrInvalidLanguage),
		errors.Is(err, orchestrator.ErrInvalidMode),
		errors.Is(err, speech.ErrEmptyAudio):
		return http.StatusBadRequest
	case errors.Is(err, speech.ErrAudioTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, speech.ErrNoTranscript):
		return http.StatusUnprocessableEntity
	case errors.Is(err, speech.ErrUnavailable):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
