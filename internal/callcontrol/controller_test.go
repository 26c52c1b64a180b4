package callcontrol

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/antoniostano/callvoice/internal/audio"
	"github.com/antoniostano/callvoice/internal/directory"
	"github.com/antoniostano/callvoice/internal/observability"
	"github.com/antoniostano/callvoice/internal/pipeline"
	"github.com/antoniostano/callvoice/internal/protocol"
	"github.com/antoniostano/callvoice/internal/reply"
	"github.com/antoniostano/callvoice/internal/session"
	"github.com/antoniostano/callvoice/internal/tenant"
	"github.com/antoniostano/callvoice/internal/turnlog"
	"github.com/antoniostano/callvoice/internal/vad"
	"github.com/antoniostano/callvoice/internal/voice"
)

type chanTransport struct {
	audio  chan []byte
	mu     sync.Mutex
	closed bool
}

func newChanTransport() *chanTransport {
	return &chanTransport{audio: make(chan []byte, 8)}
}

func (t *chanTransport) SendAudio(_ context.Context, pcm []byte) error {
	t.audio <- pcm
	return nil
}

func (t *chanTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func tone(ms int) []byte {
	n := 16000 * ms / 1000
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := 0.5 * math.Sin(2*math.Pi*440*float64(i)/16000)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*32767)))
	}
	return pcm
}

func newTestController(t *testing.T) (*Controller, *directory.InMemoryDirectory, *turnlog.InMemoryStore) {
	t.Helper()
	cls, err := vad.NewEnergyClassifier(vad.DefaultModel(), audio.DefaultFormat())
	if err != nil {
		t.Fatalf("NewEnergyClassifier() error = %v", err)
	}
	store := turnlog.NewInMemoryStore()
	metrics := observability.NewMetrics("test", nil)
	p := pipeline.New(pipeline.Config{}, pipeline.Deps{
		Recognizer:  voice.NewMockRecognizer(),
		Generator:   reply.NewMockGenerator(),
		Synthesizer: voice.NewMockSynthesizer(16000),
		TurnLog:     store,
		Metrics:     metrics,
	})
	dir := directory.NewInMemoryDirectory(tenant.Credentials{TenantID: "default", Language: "ja-JP"})
	reg := session.NewRegistry(context.Background(), session.Options{})
	return New(dir, reg, pipeline.NewRunner(cls, p, metrics, nil), metrics, nil), dir, store
}

func TestControllerCallLifecycle(t *testing.T) {
	ctx := context.Background()
	c, dir, store := newTestController(t)

	if _, err := c.OnCallRinging(ctx, protocol.CallRingingRequest{CallID: "call-1", TenantID: "acme"}); err != nil {
		t.Fatalf("OnCallRinging() error = %v", err)
	}
	call, creds, err := c.Prepare(ctx, "call-1")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if creds.TenantID != "acme" {
		t.Fatalf("creds.TenantID = %q, want acme", creds.TenantID)
	}

	tr := newChanTransport()
	sess, err := c.Open(ctx, call, creds, tr)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got, _ := dir.LookupCall(ctx, "call-1"); got.Status != directory.StatusInProgress {
		t.Fatalf("status after open = %q, want in_progress", got.Status)
	}

	served := make(chan error, 1)
	go func() { served <- c.Serve(sess) }()

	for i := 0; i < 3; i++ {
		sess.Enqueue(tone(20))
	}
	sess.Enqueue(make([]byte, 640))

	select {
	case pcm := <-tr.audio:
		if len(pcm) == 0 {
			t.Fatalf("delivered empty audio")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no reply audio delivered")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := c.Registry().Snapshot()
		if len(snap) == 1 && snap[0].Turns == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Snapshot() = %+v, want one recorded turn", snap)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := c.OnDtmfReceived(ctx, "call-1", "1"); err != nil {
		t.Fatalf("OnDtmfReceived() error = %v", err)
	}
	if dir.Digits("call-1") != "1" {
		t.Fatalf("Digits() = %q, want 1", dir.Digits("call-1"))
	}

	if err := c.OnCallEnded(ctx, "call-1", directory.StatusCompleted); err != nil {
		t.Fatalf("OnCallEnded() error = %v", err)
	}
	select {
	case err := <-served:
		if !errors.Is(err, session.ErrCallEnded) {
			t.Fatalf("Serve() = %v, want ErrCallEnded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after end")
	}
	if c.Registry().ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", c.Registry().ActiveCount())
	}
	if _, _, err := c.Prepare(ctx, "call-1"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("Prepare(ended) error = %v, want ErrSessionNotFound", err)
	}

	msgs, _ := store.Messages(ctx, "call-1", 0)
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(msgs))
	}

	// Ending again is harmless.
	if err := c.OnCallEnded(ctx, "call-1", directory.StatusCompleted); err != nil {
		t.Fatalf("second OnCallEnded() error = %v", err)
	}
}

func TestControllerPrepareRejects(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestController(t)

	if _, _, err := c.Prepare(ctx, "unknown"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("Prepare(unknown) error = %v, want ErrSessionNotFound", err)
	}

	c.OnCallRinging(ctx, protocol.CallRingingRequest{CallID: "call-2"})
	call, creds, err := c.Prepare(ctx, "call-2")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if _, err := c.Open(ctx, call, creds, newChanTransport()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, _, err := c.Prepare(ctx, "call-2"); !errors.Is(err, session.ErrDuplicateSession) {
		t.Fatalf("Prepare(live) error = %v, want ErrDuplicateSession", err)
	}
	if _, err := c.Open(ctx, call, creds, newChanTransport()); !errors.Is(err, session.ErrDuplicateSession) {
		t.Fatalf("Open(live) error = %v, want ErrDuplicateSession", err)
	}
}

func TestControllerDTMFUnknownCall(t *testing.T) {
	c, _, _ := newTestController(t)
	if err := c.OnDtmfReceived(context.Background(), "nope", "1"); !errors.Is(err, directory.ErrCallNotFound) {
		t.Fatalf("OnDtmfReceived() error = %v, want ErrCallNotFound", err)
	}
}
