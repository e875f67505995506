// Package speech 把学员的语音转成文本，再交给普通的发送流程。
package speech

import (
	"context"
	"errors"
	"fmt"

	"presip-lab/server/internal/config"
	"presip-lab/server/internal/logger"
	"presip-lab/server/internal/model"
)

var (
	// ErrUnavailable 没有配置语音服务，调用方应降级为文本输入。
	ErrUnavailable   = errors.New("speech to text is not configured")
	ErrEmptyAudio    = errors.New("audio is empty")
	ErrAudioTooLarge = errors.New("audio exceeds size limit")
	ErrNoTranscript  = errors.New("no transcript in response")
)

// Transcriber 语音转文本。
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, lang model.Language) (string, error)
	// Available 为 false 时 Transcribe 总是返回 ErrUnavailable。
	Available() bool
}

// Unavailable 未配置语音服务时使用。
type Unavailable struct{}

func (Unavailable) Transcribe(context.Context, []byte, model.Language) (string, error) {
	return "", ErrUnavailable
}

func (Unavailable) Available() bool { return false }

// New 按配置创建 Transcriber。
func New(cfg config.SpeechConfig, log *logger.LogMiddleware) (Transcriber, error) {
	switch cfg.Provider {
	case "", "none":
		return Unavailable{}, nil
	case "deepgram":
		return NewDeepgram(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported speech provider: %s", cfg.Provider)
	}
}

func checkAudio(audio []byte, limit int64) error {
	if len(audio) == 0 {
		return ErrEmptyAudio
	}
	if limit > 0 && int64(len(audio)) > limit {
		return fmt.Errorf("%w: %d > %d bytes", ErrAudioTooLarge, len(audio), limit)
	}
	return nil
}
