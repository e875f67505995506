package logger

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerConnectProps struct {
	Production bool
	// Level debug|info|warn|error，空值为 info。
	Level string
}

// LogMiddleware 包一层 zap.Logger，按 context 附带 trace_id/span_id。
type LogMiddleware struct {
	logger *zap.Logger
}

func Connect(args LoggerConnectProps) (*LogMiddleware, error) {
	level := zapcore.InfoLevel
	if args.Level != "" {
		if err := level.UnmarshalText([]byte(args.Level)); err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", args.Level, err)
		}
	}

	var cfg zap.Config
	if args.Production {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	if args.Production {
		zap.ReplaceGlobals(logger)
		logger.Info("[Logger] Starting Logger with Prod Config")
	}

	return &LogMiddleware{logger: logger}, nil
}

// New 用现成的 zap.Logger 构造，测试里常配合 zaptest/observer 使用。
func New(logger *zap.Logger) *LogMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMiddleware{logger: logger}
}

// Nop 丢弃所有日志。
func Nop() *LogMiddleware {
	return New(zap.NewNop())
}

func (l *LogMiddleware) Logger(ctx context.Context) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	spanContext := trace.SpanContextFromContext(ctx)
	if !spanContext.IsValid() {
		return l.logger
	}

	return l.logger.With(
		zap.String("trace_id", spanContext.TraceID().String()),
		zap.String("span_id", spanContext.SpanID().String()),
	)
}

// Sync 刷新缓冲，进程退出前调用。
func (l *LogMiddleware) Sync() error {
	if l == nil {
		return nil
	}
	return l.logger.Sync()
}
