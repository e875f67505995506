package speech

import (
	"bytes"
	"context"
	"fmt"

	"presip-lab/server/internal/config"
	"presip-lab/server/internal/logger"
	"presip-lab/server/internal/model"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/pkg/client/listen"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const defaultDeepgramModel = "nova-3"

// Deepgram 通过 Deepgram 预录音接口转写。
type Deepgram struct {
	dg       *api.Client
	model    string
	maxBytes int64
	logger   *logger.LogMiddleware
}

func NewDeepgram(cfg config.SpeechConfig, log *logger.LogMiddleware) (*Deepgram, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("deepgram: api key is required")
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultDeepgramModel
	}
	c := client.NewREST(cfg.APIKey, &interfaces.ClientOptions{})
	return &Deepgram{
		dg:       api.New(c),
		model:    modelName,
		maxBytes: cfg.MaxAudioBytes,
		logger:   log,
	}, nil
}

func (d *Deepgram) Available() bool { return true }

func (d *Deepgram) Transcribe(ctx context.Context, audio []byte, lang model.Language) (string, error) {
	if err := checkAudio(audio, d.maxBytes); err != nil {
		return "", err
	}

	tracer := otel.Tracer("speech")
	ctx, span := tracer.Start(ctx, "Deepgram.Transcribe")
	defer span.End()
	span.SetAttributes(
		attribute.Int("audio.data.size", len(audio)),
		attribute.String("speech.language", string(lang)),
	)

	log := d.logger.Logger(ctx)
	options := &interfaces.PreRecordedTranscriptionOptions{
		Punctuate:   true,
		SmartFormat: true,
		Language:    deepgramLanguage(lang),
		Model:       d.model,
	}

	res, err := d.dg.FromStream(ctx, bytes.NewReader(audio), options)
	if err != nil {
		log.Error("[Speech] deepgram transcription failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "deepgram request failed")
		return "", fmt.Errorf("deepgram transcription failed: %w", err)
	}

	if res != nil && res.Results != nil && len(res.Results.Channels) > 0 {
		channel := res.Results.Channels[0]
		if len(channel.Alternatives) > 0 && channel.Alternatives[0].Transcript != "" {
			transcript := channel.Alternatives[0].Transcript
			log.Info("[Speech] transcribed audio", zap.Int("transcript_len", len(transcript)))
			span.SetAttributes(attribute.Int("transcript.length", len(transcript)))
			return transcript, nil
		}
	}

	log.Warn("[Speech] no transcription found in response")
	span.SetStatus(codes.Error, "empty transcript")
	return "", ErrNoTranscript
}

// deepgramLanguage 中文走多语种识别。
func deepgramLanguage(lang model.Language) string {
	if lang == model.LanguageZH {
		return "multi"
	}
	return "en"
}
