package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/callvoice/internal/audio"
	"github.com/antoniostano/callvoice/internal/reliability"
	"github.com/antoniostano/callvoice/internal/tenant"
)

const (
	defaultElevenLabsBaseURL = "https://api.elevenlabs.io"
	defaultElevenLabsVoiceID = "21m00Tcm4TlvDq8ikWAM"
	defaultElevenLabsModelID = "eleven_multilingual_v2"
	defaultStability         = 0.5
	defaultSimilarityBoost   = 0.75
)

type ElevenLabsConfig struct {
	APIKey          string
	BaseURL         string
	VoiceID         string
	ModelID         string
	SampleRate      int
	Stability       float64
	SimilarityBoost float64
	Timeout         time.Duration
}

func ValidateElevenLabsConfig(cfg ElevenLabsConfig) error {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return fmt.Errorf("elevenlabs API key is required")
	}
	if cfg.Stability != 0 && (cfg.Stability < 0 || cfg.Stability > 1) {
		return fmt.Errorf("stability must be between 0 and 1, got %f", cfg.Stability)
	}
	if cfg.SimilarityBoost != 0 && (cfg.SimilarityBoost < 0 || cfg.SimilarityBoost > 1) {
		return fmt.Errorf("similarity boost must be between 0 and 1, got %f", cfg.SimilarityBoost)
	}
	switch cfg.SampleRate {
	case 0, 8000, 16000, 22050, 24000, 44100:
	default:
		return fmt.Errorf("unsupported elevenlabs pcm sample rate %d", cfg.SampleRate)
	}
	return nil
}

// ElevenLabsSynthesizer renders replies with the ElevenLabs HTTP text-to-speech API
// in raw PCM output.
type ElevenLabsSynthesizer struct {
	cfg    ElevenLabsConfig
	client *http.Client
	logger *zap.Logger
}

var _ Synthesizer = (*ElevenLabsSynthesizer)(nil)

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	LanguageCode  string                  `json:"language_code,omitempty"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

func NewElevenLabsSynthesizer(cfg ElevenLabsConfig, logger *zap.Logger) (*ElevenLabsSynthesizer, error) {
	if err := ValidateElevenLabsConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("elevenlabs")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultElevenLabsBaseURL
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = defaultElevenLabsVoiceID
		logger.Info("using default voice ID", zap.String("voice_id", cfg.VoiceID))
	}
	if cfg.ModelID == "" {
		cfg.ModelID = defaultElevenLabsModelID
		logger.Info("using default model ID", zap.String("model_id", cfg.ModelID))
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.Stability == 0 {
		cfg.Stability = defaultStability
	}
	if cfg.SimilarityBoost == 0 {
		cfg.SimilarityBoost = defaultSimilarityBoost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ElevenLabsSynthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

func (e *ElevenLabsSynthesizer) Name() string { return "elevenlabs" }

func (e *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string, v tenant.VoiceConfig) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrSynthesisFailed)
	}

	payload, err := json.Marshal(elevenLabsRequest{
		Text:         text,
		ModelID:      e.cfg.ModelID,
		LanguageCode: languageBase(v.Language),
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       e.cfg.Stability,
			SimilarityBoost: e.cfg.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	q := url.Values{}
	q.Set("output_format", fmt.Sprintf("pcm_%d", e.cfg.SampleRate))
	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?%s", e.cfg.BaseURL, url.PathEscape(e.cfg.VoiceID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/pcm")
	req.Header.Set("xi-api-key", e.cfg.APIKey)

	res, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSynthesisFailed, reliability.TransportError("elevenlabs", err))
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("%w: %w", ErrSynthesisFailed, reliability.ClassifyHTTPStatus("elevenlabs", res.StatusCode, body))
	}

	pcm, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read audio: %v", ErrSynthesisFailed, err)
	}
	e.logger.Debug("synthesized reply",
		zap.String("tenant_id", v.TenantID),
		zap.Int("text_len", len(text)),
		zap.Int("audio_bytes", len(pcm)))
	return pcm[:len(pcm)-len(pcm)%audio.BytesPerSample], nil
}

// languageBase turns "ja-JP" into "ja".
func languageBase(lang string) string {
	lang = strings.TrimSpace(lang)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		return strings.ToLower(lang[:i])
	}
	return strings.ToLower(lang)
}
