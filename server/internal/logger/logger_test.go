package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// TestLoggerAttachesTraceIDs 验证 context 中带 span 时日志附带 trace_id/span_id。
func TestLoggerAttachesTraceIDs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	lm := New(zap.New(core))

	traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("0102030405060708")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	lm.Logger(ctx).Info("[Test] with span")
	lm.Logger(context.Background()).Info("[Test] without span")

	entries := logs.All()
	require.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	assert.Equal(t, traceID.String(), fields["trace_id"])
	assert.Equal(t, spanID.String(), fields["span_id"])
	assert.NotContains(t, entries[1].ContextMap(), "trace_id")
}

// TestConnectRejectsUnknownLevel 验证非法日志级别报错。
func TestConnectRejectsUnknownLevel(t *testing.T) {
	_, err := Connect(LoggerConnectProps{Level: "loud"})
	assert.Error(t, err)

	lm, err := Connect(LoggerConnectProps{Level: "debug"})
	require.NoError(t, err)
	assert.NotNil(t, lm.Logger(context.Background()))
}

// TestNilMiddlewareIsSafe 验证零值调用不会 panic。
func TestNilMiddlewareIsSafe(t *testing.T) {
	var lm *LogMiddleware
	assert.NotPanics(t, func() {
		lm.Logger(context.Background()).Info("dropped")
		_ = lm.Sync()
	})
}
