package vad

import (
	"time"

	"github.com/antoniostano/callvoice/internal/audio"
)

const DefaultThreshold = 0.5

type State string

const (
	StateIdle     State = "idle"
	StateSpeaking State = "speaking"
)

// Utterance is the contiguous run of speech frames between a start and an end boundary.
type Utterance struct {
	Frames    []audio.Frame
	StartedAt time.Time
	EndedAt   time.Time
}

func (u Utterance) PCM() []byte {
	return audio.Concat(u.Frames)
}

func (u Utterance) Len() int {
	return len(u.Frames)
}

// Segmenter turns classified frames into utterances. Every frame re-evaluates
// the transition against the threshold; there is no hysteresis.
//
// A Segmenter is owned by exactly one session goroutine and is not safe for
// concurrent use.
type Segmenter struct {
	threshold float64
	state     State
	buf       []audio.Frame
	startedAt time.Time
	now       func() time.Time
}

func NewSegmenter(threshold float64) *Segmenter {
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultThreshold
	}
	return &Segmenter{
		threshold: threshold,
		state:     StateIdle,
		now:       time.Now,
	}
}

// Push feeds one classified frame. It returns the completed utterance when the
// frame closes a speech run.
func (s *Segmenter) Push(frame audio.Frame, prob float64) (Utterance, bool) {
	speech := prob > s.threshold
	switch {
	case speech && s.state == StateIdle:
		s.state = StateSpeaking
		s.startedAt = s.now().UTC()
		s.buf = append(s.buf, frame)
	case speech:
		s.buf = append(s.buf, frame)
	case s.state == StateSpeaking:
		u := Utterance{
			Frames:    s.buf,
			StartedAt: s.startedAt,
			EndedAt:   s.now().UTC(),
		}
		s.buf = nil
		s.state = StateIdle
		return u, true
	}
	return Utterance{}, false
}

func (s *Segmenter) State() State {
	return s.state
}

func (s *Segmenter) Speaking() bool {
	return s.state == StateSpeaking
}

// Buffered returns the number of frames held for the current run.
func (s *Segmenter) Buffered() int {
	return len(s.buf)
}

func (s *Segmenter) Threshold() float64 {
	return s.threshold
}

// Reset drops any partial utterance.
func (s *Segmenter) Reset() {
	s.buf = nil
	s.state = StateIdle
}
