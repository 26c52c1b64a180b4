package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/antoniostano/callvoice/internal/audio"
	"github.com/antoniostano/callvoice/internal/tenant"
)

// Config contains all runtime settings for the call voice service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	LogLevel                 string
	LogFormat                string
	AuthSecret               string
	AllowAnyOrigin           bool

	MaxActiveCalls int
	InboundQueue   int
	OverflowPolicy string

	SampleRate   int
	MaxFrameMS   int
	VADThreshold float64
	VADModelPath string

	RecognizeTimeout  time.Duration
	GenerateTimeout   time.Duration
	SynthesizeTimeout time.Duration
	DeliverTimeout    time.Duration
	TurnLogTimeout    time.Duration
	DeliverChunkBytes int
	FallbackReplyText string

	RecognizerProvider  string
	ReplyProvider       string
	SynthesizerProvider string

	DefaultTenantID   string
	DefaultLanguage   string
	DefaultVoiceName  string
	AzureSpeechKey    string
	AzureSpeechRegion string
	DifyAPIKey        string
	DifyEndpoint      string
	DifyStrict        bool

	GeminiAPIKey string
	GeminiModel  string

	GoogleSpeechModel string

	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	ElevenLabsVoiceID string
	ElevenLabsModelID string

	DatabaseURL      string
	TurnLogRedactPII bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "callvoice"),
		LogLevel:                 envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:                envOrDefault("APP_LOG_FORMAT", "json"),
		AuthSecret:               stringsTrimSpace("APP_AUTH_SECRET"),

		MaxActiveCalls: 512,
		InboundQueue:   256,
		OverflowPolicy: envOrDefault("SESSION_OVERFLOW_POLICY", "drop_oldest"),

		SampleRate:   audio.DefaultSampleRate,
		MaxFrameMS:   200,
		VADThreshold: 0.5,
		VADModelPath: stringsTrimSpace("VAD_MODEL_PATH"),

		RecognizeTimeout:  10 * time.Second,
		GenerateTimeout:   20 * time.Second,
		SynthesizeTimeout: 10 * time.Second,
		DeliverTimeout:    5 * time.Second,
		TurnLogTimeout:    5 * time.Second,
		DeliverChunkBytes: 640,
		FallbackReplyText: stringsTrimSpace("FALLBACK_REPLY_TEXT"),

		RecognizerProvider:  strings.ToLower(envOrDefault("RECOGNIZER_PROVIDER", "auto")),
		ReplyProvider:       strings.ToLower(envOrDefault("REPLY_PROVIDER", "auto")),
		SynthesizerProvider: strings.ToLower(envOrDefault("SYNTHESIZER_PROVIDER", "auto")),

		DefaultTenantID:   envOrDefault("DEFAULT_TENANT_ID", "default"),
		DefaultLanguage:   envOrDefault("DEFAULT_LANGUAGE", "ja-JP"),
		DefaultVoiceName:  envOrDefault("DEFAULT_VOICE_NAME", "ja-JP-NanamiNeural"),
		AzureSpeechKey:    stringsTrimSpace("AZURE_SPEECH_KEY"),
		AzureSpeechRegion: stringsTrimSpace("AZURE_SPEECH_REGION"),
		DifyAPIKey:        stringsTrimSpace("DIFY_API_KEY"),
		DifyEndpoint:      strings.TrimRight(stringsTrimSpace("DIFY_ENDPOINT"), "/"),

		GeminiAPIKey: stringsTrimSpace("GEMINI_API_KEY"),
		GeminiModel:  envOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),

		GoogleSpeechModel: stringsTrimSpace("GOOGLE_SPEECH_MODEL"),

		ElevenLabsAPIKey:  stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL: envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsVoiceID: stringsTrimSpace("ELEVENLABS_VOICE_ID"),
		ElevenLabsModelID: envOrDefault("ELEVENLABS_MODEL_ID", "eleven_multilingual_v2"),

		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		TurnLogRedactPII: true,
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_SESSION_INACTIVITY_TIMEOUT", &cfg.SessionInactivityTimeout},
		{"RECOGNIZE_TIMEOUT", &cfg.RecognizeTimeout},
		{"GENERATE_TIMEOUT", &cfg.GenerateTimeout},
		{"SYNTHESIZE_TIMEOUT", &cfg.SynthesizeTimeout},
		{"DELIVER_TIMEOUT", &cfg.DeliverTimeout},
		{"TURNLOG_TIMEOUT", &cfg.TurnLogTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"MAX_ACTIVE_CALLS", &cfg.MaxActiveCalls},
		{"SESSION_INBOUND_QUEUE", &cfg.InboundQueue},
		{"AUDIO_SAMPLE_RATE", &cfg.SampleRate},
		{"AUDIO_MAX_FRAME_MS", &cfg.MaxFrameMS},
		{"DELIVER_CHUNK_BYTES", &cfg.DeliverChunkBytes},
	}
	for _, n := range ints {
		if *n.dst, err = intFromEnv(n.key, *n.dst); err != nil {
			return Config{}, err
		}
	}

	if cfg.VADThreshold, err = floatFromEnv("VAD_THRESHOLD", cfg.VADThreshold); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.TurnLogRedactPII, err = boolFromEnv("TURNLOG_REDACT_PII", cfg.TurnLogRedactPII); err != nil {
		return Config{}, err
	}
	if cfg.DifyStrict, err = boolFromEnv("REPLY_DIFY_STRICT", cfg.DifyStrict); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.MaxActiveCalls <= 0 {
		return fmt.Errorf("MAX_ACTIVE_CALLS must be positive")
	}
	if c.InboundQueue <= 0 {
		return fmt.Errorf("SESSION_INBOUND_QUEUE must be positive")
	}
	switch c.OverflowPolicy {
	case "drop_oldest", "disconnect":
	default:
		return fmt.Errorf("SESSION_OVERFLOW_POLICY must be drop_oldest or disconnect")
	}
	if c.SampleRate < 8000 || c.SampleRate > 48000 {
		return fmt.Errorf("AUDIO_SAMPLE_RATE must be between 8000 and 48000")
	}
	if c.MaxFrameMS <= 0 {
		return fmt.Errorf("AUDIO_MAX_FRAME_MS must be positive")
	}
	if c.VADThreshold <= 0 || c.VADThreshold >= 1 {
		return fmt.Errorf("VAD_THRESHOLD must be in (0,1)")
	}
	if c.DeliverChunkBytes < audio.BytesPerSample || c.DeliverChunkBytes%audio.BytesPerSample != 0 {
		return fmt.Errorf("DELIVER_CHUNK_BYTES must be a positive multiple of %d", audio.BytesPerSample)
	}
	for key, v := range map[string]time.Duration{
		"RECOGNIZE_TIMEOUT":  c.RecognizeTimeout,
		"GENERATE_TIMEOUT":   c.GenerateTimeout,
		"SYNTHESIZE_TIMEOUT": c.SynthesizeTimeout,
		"DELIVER_TIMEOUT":    c.DeliverTimeout,
		"TURNLOG_TIMEOUT":    c.TurnLogTimeout,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	if err := oneOf("RECOGNIZER_PROVIDER", c.RecognizerProvider, "azure", "google", "mock", "auto"); err != nil {
		return err
	}
	if err := oneOf("REPLY_PROVIDER", c.ReplyProvider, "dify", "gemini", "mock", "auto"); err != nil {
		return err
	}
	return oneOf("SYNTHESIZER_PROVIDER", c.SynthesizerProvider, "azure", "elevenlabs", "mock", "auto")
}

// AudioFormat is the inbound frame format every session expects.
func (c Config) AudioFormat() audio.Format {
	return audio.Format{
		SampleRate: c.SampleRate,
		MaxFrame:   time.Duration(c.MaxFrameMS) * time.Millisecond,
	}
}

// DefaultCredentials are used for tenants without their own provider bindings.
func (c Config) DefaultCredentials() tenant.Credentials {
	return tenant.Credentials{
		TenantID:      c.DefaultTenantID,
		SpeechKey:     c.AzureSpeechKey,
		SpeechRegion:  c.AzureSpeechRegion,
		Language:      c.DefaultLanguage,
		VoiceName:     c.DefaultVoiceName,
		ReplyAPIKey:   c.DifyAPIKey,
		ReplyEndpoint: c.DifyEndpoint,
	}
}

func oneOf(key, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s", key, strings.Join(allowed, ", "))
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
