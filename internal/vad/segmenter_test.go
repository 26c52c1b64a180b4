package vad

import (
	"math/rand"
	"testing"

	"github.com/antoniostano/callvoice/internal/audio"
)

func frame(seq uint64) audio.Frame {
	return audio.Frame{Seq: seq, PCM: []byte{byte(seq), byte(seq >> 8)}}
}

func TestSegmenterSilenceThenSpeech(t *testing.T) {
	s := NewSegmenter(0)
	var seq uint64

	for i := 0; i < 5; i++ {
		seq++
		if _, ok := s.Push(frame(seq), 0.1); ok {
			t.Fatalf("silent frame %d emitted an utterance", i)
		}
	}
	if s.Buffered() != 0 {
		t.Fatalf("Buffered() = %d after silence, want 0", s.Buffered())
	}
	if s.State() != StateIdle {
		t.Fatalf("State() = %q, want %q", s.State(), StateIdle)
	}

	for i := 0; i < 3; i++ {
		seq++
		if _, ok := s.Push(frame(seq), 0.8); ok {
			t.Fatalf("speech frame %d emitted an utterance", i)
		}
	}
	if !s.Speaking() {
		t.Fatalf("Speaking() = false after speech frames")
	}

	seq++
	u, ok := s.Push(frame(seq), 0.2)
	if !ok {
		t.Fatalf("closing silent frame did not emit an utterance")
	}
	if u.Len() != 3 {
		t.Fatalf("utterance frames = %d, want 3", u.Len())
	}
	for i, f := range u.Frames {
		if f.Seq != uint64(6+i) {
			t.Fatalf("utterance frame %d seq = %d, want %d", i, f.Seq, 6+i)
		}
	}
	if s.Buffered() != 0 || s.State() != StateIdle {
		t.Fatalf("segmenter not reset after emit: buffered=%d state=%q", s.Buffered(), s.State())
	}
}

func TestSegmenterThresholdIsExclusive(t *testing.T) {
	s := NewSegmenter(0.5)
	s.Push(frame(1), 0.5)
	if s.Speaking() {
		t.Fatalf("prob equal to threshold must not start speech")
	}
	s.Push(frame(2), 0.51)
	if !s.Speaking() {
		t.Fatalf("prob above threshold must start speech")
	}
	if _, ok := s.Push(frame(3), 0.5); !ok {
		t.Fatalf("prob equal to threshold must end speech")
	}
}

func TestSegmenterReset(t *testing.T) {
	s := NewSegmenter(0.5)
	s.Push(frame(1), 0.9)
	s.Push(frame(2), 0.9)
	s.Reset()
	if s.Speaking() || s.Buffered() != 0 {
		t.Fatalf("Reset() left state=%q buffered=%d", s.State(), s.Buffered())
	}
	if _, ok := s.Push(frame(3), 0.1); ok {
		t.Fatalf("silence after Reset() must not emit")
	}
}

// For random probability sequences, the segmenter state always tracks the last
// frame, and utterances are exactly the maximal above-threshold runs.
func TestSegmenterMatchesMaximalRuns(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		s := NewSegmenter(0.5)
		n := rng.Intn(60)
		probs := make([]float64, n)
		for i := range probs {
			probs[i] = rng.Float64()
		}

		var want [][]uint64
		var run []uint64
		for i, p := range probs {
			if p > 0.5 {
				run = append(run, uint64(i))
				continue
			}
			if len(run) > 0 {
				want = append(want, run)
				run = nil
			}
		}

		var got [][]uint64
		for i, p := range probs {
			u, ok := s.Push(frame(uint64(i)), p)
			if s.Speaking() != (p > 0.5) {
				t.Fatalf("trial %d frame %d: Speaking() = %v with prob %.3f", trial, i, s.Speaking(), p)
			}
			if !ok {
				continue
			}
			seqs := make([]uint64, 0, u.Len())
			for _, f := range u.Frames {
				seqs = append(seqs, f.Seq)
			}
			got = append(got, seqs)
		}

		if len(got) != len(want) {
			t.Fatalf("trial %d: utterances = %d, want %d", trial, len(got), len(want))
		}
		for i := range want {
			if len(got[i]) != len(want[i]) {
				t.Fatalf("trial %d utterance %d: frames = %v, want %v", trial, i, got[i], want[i])
			}
			for j := range want[i] {
				if got[i][j] != want[i][j] {
					t.Fatalf("trial %d utterance %d: frames = %v, want %v", trial, i, got[i], want[i])
				}
			}
		}
	}
}

func TestUtterancePCMConcatenatesInOrder(t *testing.T) {
	u := Utterance{Frames: []audio.Frame{
		{Seq: 1, PCM: []byte{1, 0}},
		{Seq: 2, PCM: []byte{2, 0}},
	}}
	pcm := u.PCM()
	if len(pcm) != 4 || pcm[0] != 1 || pcm[2] != 2 {
		t.Fatalf("PCM() = %v", pcm)
	}
}
