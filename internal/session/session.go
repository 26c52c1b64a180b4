package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antoniostano/callvoice/internal/audio"
	"github.com/antoniostano/callvoice/internal/tenant"
	"github.com/antoniostano/callvoice/internal/vad"
)

var (
	ErrDuplicateSession      = errors.New("duplicate session")
	ErrSessionNotFound       = errors.New("session not found")
	ErrTransportDisconnected = errors.New("transport disconnected")
	ErrQueueOverflow         = errors.New("inbound frame queue overflow")
	ErrCapacity              = errors.New("session capacity reached")
	ErrCallEnded             = errors.New("call ended")
	ErrSessionIdle           = errors.New("session idle timeout")
)

// Transport is the outbound half of a call's audio stream. The session owns it
// exclusively and closes it on teardown.
type Transport interface {
	SendAudio(ctx context.Context, pcm []byte) error
	Close() error
}

type OverflowPolicy string

const (
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	OverflowDisconnect OverflowPolicy = "disconnect"
)

func ParseOverflowPolicy(raw string) (OverflowPolicy, error) {
	switch OverflowPolicy(raw) {
	case "", OverflowDropOldest:
		return OverflowDropOldest, nil
	case OverflowDisconnect:
		return OverflowDisconnect, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", raw)
	}
}

const DefaultQueueSize = 256

// CallSession is the live state of one call. Frames enter through Enqueue from
// the transport reader and leave through Frames to the session's single
// processing goroutine, which alone drives the segmenter.
type CallSession struct {
	id        string
	creds     tenant.Credentials
	transport Transport
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc

	inbound chan audio.Frame
	policy  OverflowPolicy
	enqMu   sync.Mutex

	segmenter *vad.Segmenter

	seq          atomic.Uint64
	dropped      atomic.Uint64
	lastActivity atomic.Int64
	turns        atomic.Uint64
	degraded     atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

func newCallSession(parent context.Context, id string, transport Transport, creds tenant.Credentials, opts Options) *CallSession {
	ctx, cancel := context.WithCancelCause(parent)
	now := time.Now().UTC()
	s := &CallSession{
		id:        id,
		creds:     creds,
		transport: transport,
		startedAt: now,
		ctx:       ctx,
		cancel:    cancel,
		inbound:   make(chan audio.Frame, opts.QueueSize),
		policy:    opts.Overflow,
		segmenter: vad.NewSegmenter(opts.Threshold),
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

func (s *CallSession) ID() string                      { return s.id }
func (s *CallSession) Credentials() tenant.Credentials { return s.creds }
func (s *CallSession) Transport() Transport            { return s.transport }
func (s *CallSession) StartedAt() time.Time            { return s.startedAt }

// Context is cancelled when the session is torn down.
func (s *CallSession) Context() context.Context { return s.ctx }

func (s *CallSession) Done() <-chan struct{} { return s.ctx.Done() }

// Cause reports why the session ended, or nil while it is live.
func (s *CallSession) Cause() error { return context.Cause(s.ctx) }

// Segmenter must only be used by the goroutine reading Frames.
func (s *CallSession) Segmenter() *vad.Segmenter { return s.segmenter }

func (s *CallSession) Frames() <-chan audio.Frame { return s.inbound }

func (s *CallSession) Dropped() uint64 { return s.dropped.Load() }

func (s *CallSession) Queued() int { return len(s.inbound) }

func (s *CallSession) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load()).UTC()
}

// RecordTurn counts a finished turn against the session.
func (s *CallSession) RecordTurn(degraded bool) {
	s.turns.Add(1)
	if degraded {
		s.degraded.Add(1)
	}
}

// Turns returns how many turns finished and how many of those degraded.
func (s *CallSession) Turns() (total, degraded uint64) {
	return s.turns.Load(), s.degraded.Load()
}

// Enqueue hands one inbound PCM frame to the session. The queue is bounded:
// under drop_oldest the oldest waiting frame is evicted, under disconnect the
// caller gets ErrQueueOverflow and is expected to tear the session down.
func (s *CallSession) Enqueue(pcm []byte) (dropped bool, err error) {
	if s.ctx.Err() != nil {
		return false, ErrTransportDisconnected
	}
	s.lastActivity.Store(time.Now().UnixNano())

	s.enqMu.Lock()
	defer s.enqMu.Unlock()

	frame := audio.Frame{Seq: s.seq.Add(1), PCM: pcm}
	for {
		select {
		case s.inbound <- frame:
			return dropped, nil
		default:
		}
		if s.policy == OverflowDisconnect {
			return dropped, ErrQueueOverflow
		}
		select {
		case <-s.inbound:
			s.dropped.Add(1)
			dropped = true
		default:
		}
	}
}

func (s *CallSession) close(cause error) error {
	s.closeOnce.Do(func() {
		if cause == nil {
			cause = ErrTransportDisconnected
		}
		s.cancel(cause)
		if s.transport != nil {
			s.closeErr = s.transport.Close()
		}
	})
	return s.closeErr
}
