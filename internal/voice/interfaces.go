package voice

import (
	"context"
	"errors"

	"github.com/antoniostano/callvoice/internal/reliability"
	"github.com/antoniostano/callvoice/internal/tenant"
)

var (
	ErrNoSpeechDetected = errors.New("no speech detected")
	ErrSynthesisFailed  = errors.New("speech synthesis failed")

	ErrServiceUnavailable = reliability.ErrServiceUnavailable
	ErrInvalidCredentials = reliability.ErrInvalidCredentials
)

// Recognizer transcribes one utterance of PCM16LE mono audio.
type Recognizer interface {
	Recognize(ctx context.Context, pcm []byte, creds tenant.Credentials) (string, error)
}

// Synthesizer renders text as PCM16LE mono audio at the call sample rate.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice tenant.VoiceConfig) ([]byte, error)
}

// Named is implemented by providers that report a label for logs and metrics.
type Named interface {
	Name() string
}

func ProviderName(v any) string {
	if n, ok := v.(Named); ok {
		return n.Name()
	}
	return "unknown"
}
