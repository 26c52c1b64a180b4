package voice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestElevenLabsSynthesize(t *testing.T) {
	var gotPath, gotFormat, gotKey string
	var gotReq elevenLabsRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFormat = r.URL.Query().Get("output_format")
		gotKey = r.Header.Get("xi-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = w.Write(make([]byte, 960))
	}))
	defer ts.Close()

	e, err := NewElevenLabsSynthesizer(ElevenLabsConfig{APIKey: "xi", BaseURL: ts.URL, VoiceID: "voice-1"}, nil)
	if err != nil {
		t.Fatalf("NewElevenLabsSynthesizer() error = %v", err)
	}
	pcm, err := e.Synthesize(context.Background(), "hello", testCreds().Voice())
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(pcm) != 960 {
		t.Fatalf("len(pcm) = %d, want 960", len(pcm))
	}
	if gotPath != "/v1/text-to-speech/voice-1" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotFormat != "pcm_16000" {
		t.Fatalf("output_format = %q, want pcm_16000", gotFormat)
	}
	if gotKey != "xi" {
		t.Fatalf("api key = %q", gotKey)
	}
	if gotReq.Text != "hello" || gotReq.ModelID != defaultElevenLabsModelID || gotReq.LanguageCode != "ja" {
		t.Fatalf("request = %+v", gotReq)
	}
}

func TestElevenLabsSynthesizeUnauthorized(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	e, err := NewElevenLabsSynthesizer(ElevenLabsConfig{APIKey: "bad", BaseURL: ts.URL}, nil)
	if err != nil {
		t.Fatalf("NewElevenLabsSynthesizer() error = %v", err)
	}
	_, err = e.Synthesize(context.Background(), "hello", testCreds().Voice())
	if !errors.Is(err, ErrSynthesisFailed) || !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Synthesize() error = %v, want ErrSynthesisFailed+ErrInvalidCredentials", err)
	}
}

func TestValidateElevenLabsConfig(t *testing.T) {
	if err := ValidateElevenLabsConfig(ElevenLabsConfig{}); err == nil {
		t.Fatalf("expected missing key error")
	}
	if err := ValidateElevenLabsConfig(ElevenLabsConfig{APIKey: "k", Stability: 2}); err == nil {
		t.Fatalf("expected stability range error")
	}
	if err := ValidateElevenLabsConfig(ElevenLabsConfig{APIKey: "k", SampleRate: 12345}); err == nil {
		t.Fatalf("expected sample rate error")
	}
}
