package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.InboundQueue != 256 || cfg.OverflowPolicy != "drop_oldest" {
		t.Fatalf("queue = %d/%q, want 256/drop_oldest", cfg.InboundQueue, cfg.OverflowPolicy)
	}
	if cfg.VADThreshold != 0.5 {
		t.Fatalf("VADThreshold = %v, want 0.5", cfg.VADThreshold)
	}
	if cfg.GenerateTimeout != 20*time.Second || cfg.RecognizeTimeout != 10*time.Second {
		t.Fatalf("timeouts = %v/%v", cfg.RecognizeTimeout, cfg.GenerateTimeout)
	}
	if cfg.DeliverChunkBytes != 640 {
		t.Fatalf("DeliverChunkBytes = %d, want 640", cfg.DeliverChunkBytes)
	}
	if !cfg.TurnLogRedactPII {
		t.Fatalf("TurnLogRedactPII = false, want true")
	}
	if f := cfg.AudioFormat(); f.SampleRate != 16000 || f.MaxFrame != 200*time.Millisecond {
		t.Fatalf("AudioFormat() = %+v", f)
	}
	creds := cfg.DefaultCredentials()
	if creds.TenantID != "default" || creds.Language != "ja-JP" || creds.VoiceName != "ja-JP-NanamiNeural" {
		t.Fatalf("DefaultCredentials() = %+v", creds)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("SESSION_OVERFLOW_POLICY", "disconnect")
	t.Setenv("VAD_THRESHOLD", "0.65")
	t.Setenv("GENERATE_TIMEOUT", "3s")
	t.Setenv("DIFY_ENDPOINT", "https://dify.example/v1/")
	t.Setenv("TURNLOG_REDACT_PII", "off")
	t.Setenv("REPLY_PROVIDER", "Gemini")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" || cfg.OverflowPolicy != "disconnect" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.VADThreshold != 0.65 || cfg.GenerateTimeout != 3*time.Second {
		t.Fatalf("VADThreshold/GenerateTimeout = %v/%v", cfg.VADThreshold, cfg.GenerateTimeout)
	}
	if cfg.DifyEndpoint != "https://dify.example/v1" {
		t.Fatalf("DifyEndpoint = %q, want trailing slash trimmed", cfg.DifyEndpoint)
	}
	if cfg.TurnLogRedactPII {
		t.Fatalf("TurnLogRedactPII = true, want false")
	}
	if cfg.ReplyProvider != "gemini" {
		t.Fatalf("ReplyProvider = %q, want gemini", cfg.ReplyProvider)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"APP_SESSION_INACTIVITY_TIMEOUT": "1s",
		"SESSION_OVERFLOW_POLICY":        "block",
		"VAD_THRESHOLD":                  "1.5",
		"DELIVER_CHUNK_BYTES":            "641",
		"MAX_ACTIVE_CALLS":               "0",
		"RECOGNIZER_PROVIDER":            "whisper",
		"GENERATE_TIMEOUT":               "soon",
		"APP_ALLOW_ANY_ORIGIN":           "maybe",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			_, err := Load()
			if err == nil {
				t.Fatalf("Load() error = nil for %s=%s", key, value)
			}
			if !strings.Contains(err.Error(), key) {
				t.Fatalf("error %q does not name %s", err, key)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_LOG_LEVEL",
		"APP_LOG_FORMAT",
		"APP_AUTH_SECRET",
		"APP_ALLOW_ANY_ORIGIN",
		"MAX_ACTIVE_CALLS",
		"SESSION_INBOUND_QUEUE",
		"SESSION_OVERFLOW_POLICY",
		"AUDIO_SAMPLE_RATE",
		"AUDIO_MAX_FRAME_MS",
		"VAD_THRESHOLD",
		"VAD_MODEL_PATH",
		"RECOGNIZE_TIMEOUT",
		"GENERATE_TIMEOUT",
		"SYNTHESIZE_TIMEOUT",
		"DELIVER_TIMEOUT",
		"TURNLOG_TIMEOUT",
		"DELIVER_CHUNK_BYTES",
		"FALLBACK_REPLY_TEXT",
		"RECOGNIZER_PROVIDER",
		"REPLY_PROVIDER",
		"SYNTHESIZER_PROVIDER",
		"DEFAULT_TENANT_ID",
		"DEFAULT_LANGUAGE",
		"DEFAULT_VOICE_NAME",
		"AZURE_SPEECH_KEY",
		"AZURE_SPEECH_REGION",
		"DIFY_API_KEY",
		"DIFY_ENDPOINT",
		"REPLY_DIFY_STRICT",
		"GEMINI_API_KEY",
		"GEMINI_MODEL",
		"GOOGLE_SPEECH_MODEL",
		"ELEVENLABS_API_KEY",
		"ELEVENLABS_BASE_URL",
		"ELEVENLABS_VOICE_ID",
		"ELEVENLABS_MODEL_ID",
		"DATABASE_URL",
		"TURNLOG_REDACT_PII",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
