package audio

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidAudioFormat marks a frame that cannot be interpreted as PCM16LE mono
// at the configured format. Callers drop the frame and keep the session alive.
var ErrInvalidAudioFormat = errors.New("invalid audio format")

const (
	DefaultSampleRate = 16000
	BytesPerSample    = 2
)

// Format describes the fixed wire format of inbound and outbound call audio.
type Format struct {
	SampleRate int
	MaxFrame   time.Duration
}

func DefaultFormat() Format {
	return Format{SampleRate: DefaultSampleRate, MaxFrame: 200 * time.Millisecond}
}

// MaxFrameBytes is the largest accepted frame size. Zero means unbounded.
func (f Format) MaxFrameBytes() int {
	if f.MaxFrame <= 0 || f.SampleRate <= 0 {
		return 0
	}
	return int(f.MaxFrame.Milliseconds()) * f.SampleRate / 1000 * BytesPerSample
}

// Duration returns the playback length of n PCM bytes.
func (f Format) Duration(n int) time.Duration {
	rate := f.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	samples := n / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(rate)
}

// Frame is one chunk of linear PCM16LE mono audio in arrival order.
type Frame struct {
	Seq uint64
	PCM []byte
}

// Validate checks the frame against the format.
func (f Format) Validate(frame Frame) error {
	n := len(frame.PCM)
	if n == 0 {
		return fmt.Errorf("%w: empty frame", ErrInvalidAudioFormat)
	}
	if n%BytesPerSample != 0 {
		return fmt.Errorf("%w: %d bytes is not a whole number of 16-bit samples", ErrInvalidAudioFormat, n)
	}
	if max := f.MaxFrameBytes(); max > 0 && n > max {
		return fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrInvalidAudioFormat, n, max)
	}
	return nil
}

// Concat joins frame payloads in order.
func Concat(frames []Frame) []byte {
	total := 0
	for _, fr := range frames {
		total += len(fr.PCM)
	}
	out := make([]byte, 0, total)
	for _, fr := range frames {
		out = append(out, fr.PCM...)
	}
	return out
}

// Chunk splits pcm into sample-aligned slices of at most size bytes.
func Chunk(pcm []byte, size int) [][]byte {
	if len(pcm) == 0 {
		return nil
	}
	if size <= 0 || size >= len(pcm) {
		return [][]byte{pcm}
	}
	if size%BytesPerSample != 0 {
		size -= size % BytesPerSample
		if size == 0 {
			size = BytesPerSample
		}
	}
	out := make([][]byte, 0, (len(pcm)+size-1)/size)
	for start := 0; start < len(pcm); start += size {
		end := start + size
		if end > len(pcm) {
			end = len(pcm)
		}
		out = append(out, pcm[start:end])
	}
	return out
}
