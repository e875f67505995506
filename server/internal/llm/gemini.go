package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"presip-lab/server/internal/config"
	"presip-lab/server/internal/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultGeminiModel = "gemini-2.5-flash"
	maxRetries         = 3
	baseDelay          = 1 * time.Second
)

// GeminiClient 通过 google.golang.org/genai 调用 Gemini。
type GeminiClient struct {
	config    config.LLMProviderConfig
	client    *genai.Client
	logger    *logger.LogMiddleware
	baseDelay time.Duration
}

// NewGeminiClient 创建 Gemini 客户端。APIURL 非空时覆盖默认地址。
func NewGeminiClient(ctx context.Context, cfg config.LLMProviderConfig, log *logger.LogMiddleware) (*GeminiClient, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.APIURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.APIURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	return &GeminiClient{config: cfg, client: client, logger: log, baseDelay: baseDelay}, nil
}

func (g *GeminiClient) backoff(attempt int) time.Duration {
	return g.baseDelay * time.Duration(1<<uint(attempt))
}

// Complete 完成文本生成（Gemini GenerateContent），失败或空响应时指数退避重试。
func (g *GeminiClient) Complete(ctx context.Context, messages []Message, schema *JSONSchema) (string, error) {
	tracer := otel.Tracer("llm/gemini")
	ctx, span := tracer.Start(ctx, "Complete")
	defer span.End()

	system, contents := toGeminiContents(messages)
	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(g.config.Temperature)),
	}
	if g.config.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(g.config.MaxTokens)
	}
	if schema != nil {
		raw, err := json.Marshal(schema.Schema)
		if err != nil {
			return "", fmt.Errorf("marshal schema: %w", err)
		}
		genCfg.ResponseMIMEType = "application/json"
		system = append(system, "Reply with a single JSON object matching this JSON Schema:\n"+string(raw))
	}
	if len(system) > 0 {
		genCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}}}
	}
	span.SetAttributes(attribute.String("model", g.config.Model), attribute.Int("contents", len(contents)))

	log := g.logger.Logger(ctx)
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		span.AddEvent("Attempt", trace.WithAttributes(attribute.Int("attemptNumber", attempt+1)))

		resp, err := g.client.Models.GenerateContent(ctx, g.config.Model, contents, genCfg)
		if err == nil {
			if text := candidateText(resp); text != "" {
				return text, nil
			}
			err = ErrEmptyResponse
		}
		lastErr = err
		span.RecordError(err)
		log.Warn("[GeminiAPI] generation failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("maxRetries", maxRetries))

		if attempt < maxRetries-1 {
			delay := g.backoff(attempt)
			span.AddEvent("Backoff", trace.WithAttributes(attribute.Int64("delayMs", delay.Milliseconds())))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	log.Error("[GeminiAPI] generation failed after retries", zap.Error(lastErr))
	return "", fmt.Errorf("gemini generate content: %w", lastErr)
}

func toGeminiContents(messages []Message) ([]string, []*genai.Content) {
	var system []string
	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return system, contents
}

func candidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}
