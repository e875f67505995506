// Package app 按配置组装各个组件，serve 与 chat 命令共用。
package app

import (
	"context"
	"fmt"

	"presip-lab/server/internal/actor"
	"presip-lab/server/internal/api"
	"presip-lab/server/internal/config"
	"presip-lab/server/internal/domain"
	"presip-lab/server/internal/llm"
	"presip-lab/server/internal/logger"
	"presip-lab/server/internal/orchestrator"
	"presip-lab/server/internal/session"
	"presip-lab/server/internal/simulator"
	"presip-lab/server/internal/speech"
	"presip-lab/server/internal/stream"
	"presip-lab/server/internal/timeline"

	"go.uber.org/zap"
)

type App struct {
	Config       *config.Config
	Logger       *logger.LogMiddleware
	Catalog      *domain.Catalog
	Simulator    simulator.Simulator
	Orchestrator *orchestrator.Orchestrator
	Hub          *stream.Hub
	Transcriber  speech.Transcriber
}

func New(ctx context.Context, cfg *config.Config, log *logger.LogMiddleware) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}

	catalog, err := loadCatalog(cfg.Paths.Catalog)
	if err != nil {
		return nil, err
	}
	sim, err := buildSimulator(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	transcriber, err := speech.New(cfg.Speech, log)
	if err != nil {
		return nil, fmt.Errorf("init speech: %w", err)
	}

	hub := stream.NewHub(cfg.Stream.QueueSize, log)
	orch := orchestrator.New(
		session.NewInMemoryStore(),
		timeline.NewInMemoryStore(),
		catalog,
		sim,
		orchestrator.WithPublisher(hub),
		orchestrator.WithLogger(log),
	)

	log.Logger(ctx).Info("[App] components ready",
		zap.String("simulator", cfg.Simulator.Mode),
		zap.Int("roles", len(catalog.Roles())),
		zap.Bool("speech", transcriber.Available()))

	return &App{
		Config:       cfg,
		Logger:       log,
		Catalog:      catalog,
		Simulator:    sim,
		Orchestrator: orch,
		Hub:          hub,
		Transcriber:  transcriber,
	}, nil
}

// StartJanitor 在后台定期清理空闲会话，ctx 取消时退出。idle_ttl 为 0 时什么都不做。
func (a *App) StartJanitor(ctx context.Context) {
	ttl := a.Config.Session.IdleTTL
	if ttl <= 0 {
		return
	}
	go a.Orchestrator.RunJanitor(ctx, a.Config.Session.SweepInterval, ttl)
	a.Logger.Logger(ctx).Info("[App] session janitor started",
		zap.Duration("idle_ttl", ttl),
		zap.Duration("sweep_interval", a.Config.Session.SweepInterval))
}

// Server 构造 HTTP 层。只有 scripted 模拟器提供语音占位回复。
func (a *App) Server() *api.Server {
	voice, _ := a.Simulator.(api.VoiceReplier)
	return api.NewServer(api.Deps{
		Config:       a.Config,
		Orchestrator: a.Orchestrator,
		Hub:          a.Hub,
		Transcriber:  a.Transcriber,
		Voice:        voice,
		Logger:       a.Logger,
	})
}

func loadCatalog(path string) (*domain.Catalog, error) {
	if path == "" {
		return domain.DefaultCatalog()
	}
	catalog, err := domain.LoadCatalog(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return catalog, nil
}

func buildSimulator(ctx context.Context, cfg *config.Config, log *logger.LogMiddleware) (simulator.Simulator, error) {
	var delay simulator.Delay = simulator.NoDelay{}
	if d := cfg.Simulator.Delays; d.Enabled {
		delay = simulator.FixedDelay{Complete: d.Complete, Tip: d.Tip, Score: d.Score}
	}

	switch simulator.Mode(cfg.Simulator.Mode) {
	case simulator.ModeScripted, "":
		script, err := loadScript(cfg.Paths.Scripts)
		if err != nil {
			return nil, err
		}
		return simulator.NewScripted(script, delay, log), nil
	case simulator.ModeGenerative:
		client, err := llm.NewClient(ctx, cfg.LLM, log)
		if err != nil {
			return nil, fmt.Errorf("init llm client: %w", err)
		}
		engine, err := actor.NewActorEngine(cfg.Simulator.PromptsDir)
		if err != nil {
			return nil, fmt.Errorf("init actor engine: %w", err)
		}
		// 真实模型本身就有延迟，不再额外等待。
		return simulator.NewGenerative(client, engine, nil, log), nil
	default:
		return nil, fmt.Errorf("unsupported simulator mode: %s", cfg.Simulator.Mode)
	}
}

func loadScript(path string) (*simulator.Script, error) {
	if path == "" {
		return simulator.DefaultScript()
	}
	script, err := simulator.LoadScript(path)
	if err != nil {
		return nil, fmt.Errorf("load scripts %s: %w", path, err)
	}
	return script, nil
}
