package vad

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/antoniostano/callvoice/internal/audio"
)

// Classifier scores one frame with a speech probability in [0,1].
// Implementations must be safe for concurrent use by many sessions.
type Classifier interface {
	Classify(frame audio.Frame) (float64, error)
}

const pcmMaxAmplitude = 32768.0

// Model holds the immutable calibration shared by every session.
type Model struct {
	// NoiseFloorRMS and below scores 0.
	NoiseFloorRMS float64 `json:"noise_floor_rms" yaml:"noise_floor_rms"`
	// SpeechCeilingRMS and above scores 1.
	SpeechCeilingRMS float64 `json:"speech_ceiling_rms" yaml:"speech_ceiling_rms"`
	// ZeroCrossingWeight blends a zero-crossing penalty into the score so that
	// broadband hiss scores lower than voiced speech of equal energy.
	ZeroCrossingWeight float64 `json:"zero_crossing_weight" yaml:"zero_crossing_weight"`
}

func DefaultModel() Model {
	return Model{
		NoiseFloorRMS:      0.01,
		SpeechCeilingRMS:   0.2,
		ZeroCrossingWeight: 0.25,
	}
}

func (m Model) Validate() error {
	if m.NoiseFloorRMS < 0 || m.NoiseFloorRMS >= 1 {
		return fmt.Errorf("noise_floor_rms must be in [0,1), got %v", m.NoiseFloorRMS)
	}
	if m.SpeechCeilingRMS <= m.NoiseFloorRMS || m.SpeechCeilingRMS > 1 {
		return fmt.Errorf("speech_ceiling_rms must be in (noise_floor_rms,1], got %v", m.SpeechCeilingRMS)
	}
	if m.ZeroCrossingWeight < 0 || m.ZeroCrossingWeight > 1 {
		return fmt.Errorf("zero_crossing_weight must be in [0,1], got %v", m.ZeroCrossingWeight)
	}
	return nil
}

// LoadModel reads a YAML or JSON calibration file. An empty path yields
// DefaultModel; omitted keys keep their defaults.
func LoadModel(path string) (Model, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultModel(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Model{}, fmt.Errorf("read vad model: %w", err)
	}
	m := DefaultModel()
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Model{}, fmt.Errorf("decode vad model: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Model{}, fmt.Errorf("vad model %s: %w", path, err)
	}
	return m, nil
}

// EnergyClassifier scores frames by RMS energy and zero-crossing rate.
// It keeps no per-call state.
type EnergyClassifier struct {
	model  Model
	format audio.Format
}

func NewEnergyClassifier(model Model, format audio.Format) (*EnergyClassifier, error) {
	if err := model.Validate(); err != nil {
		return nil, err
	}
	if format.SampleRate <= 0 {
		format.SampleRate = audio.DefaultSampleRate
	}
	return &EnergyClassifier{model: model, format: format}, nil
}

func (c *EnergyClassifier) Classify(frame audio.Frame) (float64, error) {
	if err := c.format.Validate(frame); err != nil {
		return 0, err
	}
	rms, zcr := frameStats(frame.PCM)
	return c.score(rms, zcr), nil
}

func (c *EnergyClassifier) score(rms, zcr float64) float64 {
	m := c.model
	if rms <= m.NoiseFloorRMS {
		return 0
	}
	p := (rms - m.NoiseFloorRMS) / (m.SpeechCeilingRMS - m.NoiseFloorRMS)
	// Voiced speech sits well under 0.3 crossings per sample; white noise near 0.5.
	if zcr > 0.3 {
		p *= 1 - m.ZeroCrossingWeight*math.Min(1, (zcr-0.3)/0.2)
	}
	return clamp01(p)
}

func frameStats(pcm []byte) (rms, zcr float64) {
	n := len(pcm) / audio.BytesPerSample
	if n == 0 {
		return 0, 0
	}
	var sum float64
	var crossings int
	var prev int16
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		v := float64(s) / pcmMaxAmplitude
		sum += v * v
		if i > 0 && (s >= 0) != (prev >= 0) {
			crossings++
		}
		prev = s
	}
	rms = math.Sqrt(sum / float64(n))
	if n > 1 {
		zcr = float64(crossings) / float64(n-1)
	}
	return rms, zcr
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
