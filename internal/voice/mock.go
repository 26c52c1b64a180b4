package voice

import (
	"context"
	"encoding/binary"
	"math"
	"sync"

	"github.com/antoniostano/callvoice/internal/tenant"
)

// MockRecognizer is a local provider used when no speech service is configured.
// It returns Transcript for every non-empty utterance, or Err when set.
type MockRecognizer struct {
	Transcript string
	Err        error

	mu    sync.Mutex
	calls [][]byte
}

func NewMockRecognizer() *MockRecognizer {
	return &MockRecognizer{Transcript: "simulated caller input"}
}

func (m *MockRecognizer) Name() string { return "mock" }

func (m *MockRecognizer) Recognize(ctx context.Context, pcm []byte, _ tenant.Credentials) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]byte(nil), pcm...))
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Err != nil {
		return "", m.Err
	}
	if len(pcm) == 0 {
		return "", ErrNoSpeechDetected
	}
	return m.Transcript, nil
}

// Calls returns the audio passed to each Recognize call.
func (m *MockRecognizer) Calls() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockSynthesizer renders a short tone whose length follows the text length.
type MockSynthesizer struct {
	SampleRate int
	Err        error

	mu    sync.Mutex
	texts []string
}

func NewMockSynthesizer(sampleRate int) *MockSynthesizer {
	return &MockSynthesizer{SampleRate: sampleRate}
}

func (m *MockSynthesizer) Name() string { return "mock" }

func (m *MockSynthesizer) Synthesize(ctx context.Context, text string, _ tenant.VoiceConfig) ([]byte, error) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return MockTone(text, m.SampleRate), nil
}

func (m *MockSynthesizer) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

// MockTone returns 20ms of 440Hz tone per rune of text.
func MockTone(text string, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	runes := len([]rune(text))
	if runes == 0 {
		return nil
	}
	samples := runes * sampleRate / 50
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := 0.2 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*32767)))
	}
	return pcm
}
