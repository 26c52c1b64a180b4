package reply

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultGeminiModel        = "gemini-2.0-flash"
	defaultGeminiSystemPrompt = "あなたは電話応対のAIアシスタントです。音声で読み上げられることを前提に、丁寧かつ簡潔に2〜3文で答えてください。記号や箇条書きは使わないでください。"
	defaultGeminiMaxTokens    = 256
)

type GeminiConfig struct {
	APIKey          string
	Model           string
	SystemPrompt    string
	Temperature     float32
	MaxOutputTokens int32
}

type generateContentFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// GeminiGenerator is the shared reply generator for tenants without their own
// Dify app. Each turn is a single-shot request with no history.
type GeminiGenerator struct {
	cfg      GeminiConfig
	generate generateContentFunc
	logger   *zap.Logger
}

var _ Generator = (*GeminiGenerator)(nil)

func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini reply provider")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return newGeminiGenerator(cfg, client.Models.GenerateContent, logger), nil
}

func newGeminiGenerator(cfg GeminiConfig, fn generateContentFunc, logger *zap.Logger) *GeminiGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("gemini")
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
		logger.Info("using default model", zap.String("model", cfg.Model))
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultGeminiSystemPrompt
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.4
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = defaultGeminiMaxTokens
	}
	return &GeminiGenerator{cfg: cfg, generate: fn, logger: logger}
}

func (g *GeminiGenerator) Name() string { return "gemini" }

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(req.Transcript, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(g.cfg.SystemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(g.cfg.Temperature),
		MaxOutputTokens:   g.cfg.MaxOutputTokens,
	}

	resp, err := g.generate(ctx, g.cfg.Model, contents, config)
	if err != nil {
		return "", fmt.Errorf("%w: gemini: %w", ErrProviderUnavailable, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: gemini returned no candidates", ErrProviderUnavailable)
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" && !part.Thought {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: gemini returned empty text", ErrProviderUnavailable)
	}
	g.logger.Debug("generated reply", zap.String("call_id", req.CallID), zap.Int("text_len", len(text)))
	return text, nil
}
