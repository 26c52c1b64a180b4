package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/antoniostano/callvoice/internal/tenant"
)

var (
	// ErrProviderUnavailable covers every failure to obtain a reply: transport
	// errors, non-success statuses, and provider error events.
	ErrProviderUnavailable = errors.New("reply provider unavailable")
	// ErrIncompleteStream reports a streamed reply that ended without its terminal event.
	ErrIncompleteStream = errors.New("reply stream ended without terminal event")
)

// DefaultFallbackText is spoken when no reply could be generated.
const DefaultFallbackText = "申し訳ありません。応答の生成中にエラーが発生しました。"

// Request is one independent reply request. No conversation state is carried
// between turns.
type Request struct {
	CallID      string
	TurnID      string
	Transcript  string
	Credentials tenant.Credentials
}

// Generator produces the full reply text for a transcript.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Config controls generator construction.
type Config struct {
	Mode string

	DifyStrict bool

	GeminiAPIKey       string
	GeminiModel        string
	GeminiSystemPrompt string
}

// NewGenerator builds the generator selected by cfg.Mode.
func NewGenerator(ctx context.Context, cfg Config, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "dify":
		return NewDifyClient(DifyConfig{Strict: cfg.DifyStrict}, logger), nil
	case "gemini":
		return NewGeminiGenerator(ctx, GeminiConfig{
			APIKey:       cfg.GeminiAPIKey,
			Model:        cfg.GeminiModel,
			SystemPrompt: cfg.GeminiSystemPrompt,
		}, logger)
	case "mock":
		return NewMockGenerator(), nil
	case "auto":
		var secondary Generator = NewMockGenerator()
		if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
			g, err := NewGeminiGenerator(ctx, GeminiConfig{
				APIKey:       cfg.GeminiAPIKey,
				Model:        cfg.GeminiModel,
				SystemPrompt: cfg.GeminiSystemPrompt,
			}, logger)
			if err != nil {
				return nil, err
			}
			secondary = g
		}
		return NewTenantRouter(NewDifyClient(DifyConfig{Strict: cfg.DifyStrict}, logger), secondary), nil
	default:
		return nil, fmt.Errorf("unsupported reply provider %q", cfg.Mode)
	}
}

// TenantRouter sends a request to the tenant's own Dify app when the tenant has
// one configured, and to the shared generator otherwise.
type TenantRouter struct {
	tenantBound Generator
	shared      Generator
}

func NewTenantRouter(tenantBound, shared Generator) *TenantRouter {
	return &TenantRouter{tenantBound: tenantBound, shared: shared}
}

func (r *TenantRouter) Generate(ctx context.Context, req Request) (string, error) {
	c := req.Credentials
	if strings.TrimSpace(c.ReplyEndpoint) != "" && strings.TrimSpace(c.ReplyAPIKey) != "" {
		return r.tenantBound.Generate(ctx, req)
	}
	return r.shared.Generate(ctx, req)
}
