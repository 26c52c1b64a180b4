package voice

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/antoniostano/callvoice/internal/audio"
	"github.com/antoniostano/callvoice/internal/reliability"
	"github.com/antoniostano/callvoice/internal/tenant"
)

type GoogleConfig struct {
	SampleRate      int
	DefaultLanguage string
	Model           string
}

type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// GoogleRecognizer transcribes utterances with Cloud Speech-to-Text using
// application default credentials. Tenant credentials only select the language.
type GoogleRecognizer struct {
	cfg       GoogleConfig
	recognize recognizeFunc
	closeFn   func() error
	logger    *zap.Logger
}

var _ Recognizer = (*GoogleRecognizer)(nil)

func NewGoogleRecognizer(ctx context.Context, cfg GoogleConfig, logger *zap.Logger) (*GoogleRecognizer, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	g := newGoogleRecognizer(cfg, func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return client.Recognize(ctx, req)
	}, logger)
	g.closeFn = client.Close
	return g, nil
}

func newGoogleRecognizer(cfg GoogleConfig, fn recognizeFunc, logger *zap.Logger) *GoogleRecognizer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if strings.TrimSpace(cfg.DefaultLanguage) == "" {
		cfg.DefaultLanguage = defaultAzureLanguage
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoogleRecognizer{cfg: cfg, recognize: fn, logger: logger.Named("google_speech")}
}

func (g *GoogleRecognizer) Name() string { return "google" }

func (g *GoogleRecognizer) Recognize(ctx context.Context, pcm []byte, creds tenant.Credentials) (string, error) {
	if len(pcm) == 0 {
		return "", ErrNoSpeechDetected
	}
	req := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: int32(g.cfg.SampleRate),
			LanguageCode:    firstNonEmpty(creds.Language, g.cfg.DefaultLanguage),
			Model:           g.cfg.Model,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: pcm},
		},
	}

	resp, err := g.recognize(ctx, req)
	if err != nil {
		return "", classifyGRPC(err)
	}

	var parts []string
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return "", ErrNoSpeechDetected
	}
	return strings.Join(parts, " "), nil
}

func (g *GoogleRecognizer) Close() error {
	if g.closeFn == nil {
		return nil
	}
	return g.closeFn()
}

func classifyGRPC(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return reliability.TransportError("google stt", err)
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("google stt: %w: %s", ErrInvalidCredentials, st.Message())
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.Aborted:
		return fmt.Errorf("google stt: %w: %s", ErrServiceUnavailable, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("google stt: %w", context.DeadlineExceeded)
	case codes.Canceled:
		return fmt.Errorf("google stt: %w", context.Canceled)
	default:
		return fmt.Errorf("google stt %s: %w: %s", st.Code(), reliability.ErrBadResponse, st.Message())
	}
}
