package voice

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/antoniostano/callvoice/internal/tenant"
)

func TestGoogleRecognizerJoinsResults(t *testing.T) {
	var got *speechpb.RecognizeRequest
	g := newGoogleRecognizer(GoogleConfig{}, func(_ context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		got = req
		return &speechpb.RecognizeResponse{Results: []*speechpb.SpeechRecognitionResult{
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "予約を"}}},
			{Alternatives: nil},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "変更したい"}}},
		}}, nil
	}, nil)

	text, err := g.Recognize(context.Background(), make([]byte, 320), tenant.Credentials{Language: "ja-JP"})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if text != "予約を 変更したい" {
		t.Fatalf("Recognize() = %q", text)
	}
	if got.GetConfig().GetSampleRateHertz() != 16000 || got.GetConfig().GetLanguageCode() != "ja-JP" {
		t.Fatalf("config = %+v", got.GetConfig())
	}
	if got.GetConfig().GetEncoding() != speechpb.RecognitionConfig_LINEAR16 {
		t.Fatalf("encoding = %v, want LINEAR16", got.GetConfig().GetEncoding())
	}
}

func TestGoogleRecognizerEmptyResult(t *testing.T) {
	g := newGoogleRecognizer(GoogleConfig{}, func(context.Context, *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return &speechpb.RecognizeResponse{}, nil
	}, nil)
	if _, err := g.Recognize(context.Background(), make([]byte, 320), tenant.Credentials{}); !errors.Is(err, ErrNoSpeechDetected) {
		t.Fatalf("Recognize() error = %v, want ErrNoSpeechDetected", err)
	}
}

func TestGoogleRecognizerClassifiesStatus(t *testing.T) {
	cases := []struct {
		code codes.Code
		want error
	}{
		{codes.Unauthenticated, ErrInvalidCredentials},
		{codes.PermissionDenied, ErrInvalidCredentials},
		{codes.Unavailable, ErrServiceUnavailable},
		{codes.DeadlineExceeded, context.DeadlineExceeded},
	}
	for _, tc := range cases {
		g := newGoogleRecognizer(GoogleConfig{}, func(context.Context, *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
			return nil, status.Error(tc.code, "nope")
		}, nil)
		_, err := g.Recognize(context.Background(), make([]byte, 320), tenant.Credentials{})
		if !errors.Is(err, tc.want) {
			t.Fatalf("code %v: error = %v, want %v", tc.code, err, tc.want)
		}
	}
}
