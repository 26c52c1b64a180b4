package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antoniostano/callvoice/internal/tenant"
)

type fakeTransport struct {
	closed atomic.Int32
}

func (f *fakeTransport) SendAudio(context.Context, []byte) error { return nil }

func (f *fakeTransport) Close() error {
	f.closed.Add(1)
	return nil
}

func testCreds() tenant.Credentials {
	return tenant.Credentials{TenantID: "acme", Language: "ja-JP"}
}

func TestRegistryCreateLookupRemove(t *testing.T) {
	r := NewRegistry(context.Background(), Options{})
	tr := &fakeTransport{}
	s, err := r.Create("call-1", tr, testCreds())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	got, ok := r.Lookup("call-1")
	if !ok || got != s {
		t.Fatalf("Lookup() = (%p, %v), want (%p, true)", got, ok, s)
	}
	if got.Credentials().TenantID != "acme" {
		t.Fatalf("TenantID = %q, want acme", got.Credentials().TenantID)
	}

	if !r.Remove("call-1", ErrCallEnded) {
		t.Fatalf("first Remove() = false, want true")
	}
	if r.Remove("call-1", ErrCallEnded) {
		t.Fatalf("second Remove() = true, want false")
	}
	if n := tr.closed.Load(); n != 1 {
		t.Fatalf("transport closed %d times, want 1", n)
	}
	if !errors.Is(s.Cause(), ErrCallEnded) {
		t.Fatalf("Cause() = %v, want ErrCallEnded", s.Cause())
	}
	if _, ok := r.Lookup("call-1"); ok {
		t.Fatalf("Lookup() after Remove found session")
	}
}

func TestRegistryDuplicateLeavesExistingUntouched(t *testing.T) {
	r := NewRegistry(context.Background(), Options{})
	first := &fakeTransport{}
	s, err := r.Create("call-1", first, testCreds())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := s.Enqueue([]byte{1, 0}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	second := &fakeTransport{}
	_, err = r.Create("call-1", second, tenant.Credentials{TenantID: "other"})
	if !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("duplicate Create() error = %v, want ErrDuplicateSession", err)
	}

	got, _ := r.Lookup("call-1")
	if got != s {
		t.Fatalf("Lookup() returned a different session after duplicate create")
	}
	if s.Context().Err() != nil {
		t.Fatalf("existing session cancelled by duplicate create")
	}
	if first.closed.Load() != 0 {
		t.Fatalf("existing transport closed by duplicate create")
	}
	if got.Credentials().TenantID != "acme" || got.Queued() != 1 {
		t.Fatalf("existing session state changed: tenant=%q queued=%d", got.Credentials().TenantID, got.Queued())
	}
}

func TestRegistryCapacity(t *testing.T) {
	r := NewRegistry(context.Background(), Options{MaxSessions: 1})
	if _, err := r.Create("a", &fakeTransport{}, testCreds()); err != nil {
		t.Fatalf("Create(a) error = %v", err)
	}
	if _, err := r.Create("b", &fakeTransport{}, testCreds()); !errors.Is(err, ErrCapacity) {
		t.Fatalf("Create(b) error = %v, want ErrCapacity", err)
	}
	// A rejected duplicate must not consume the slot either.
	if _, err := r.Create("a", &fakeTransport{}, testCreds()); !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("Create(a) again error = %v, want ErrDuplicateSession", err)
	}
	r.Remove("a", nil)
	if _, err := r.Create("b", &fakeTransport{}, testCreds()); err != nil {
		t.Fatalf("Create(b) after remove error = %v", err)
	}
}

func TestRegistryConcurrentCreateRemove(t *testing.T) {
	r := NewRegistry(context.Background(), Options{MaxSessions: 64})
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("call-%d", i)
			for j := 0; j < 50; j++ {
				if _, err := r.Create(id, &fakeTransport{}, testCreds()); err != nil {
					t.Errorf("Create(%s) error = %v", id, err)
					return
				}
				if s, ok := r.Lookup(id); !ok || s.ID() != id {
					t.Errorf("Lookup(%s) = (%v, %v)", id, s, ok)
					return
				}
				r.Remove(id, nil)
				r.Remove(id, nil)
			}
		}(i)
	}
	wg.Wait()
	if n := r.ActiveCount(); n != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", n)
	}
}

func TestRegistryDetachIgnoresReplacedSession(t *testing.T) {
	r := NewRegistry(context.Background(), Options{})
	old, _ := r.Create("call-1", &fakeTransport{}, testCreds())
	r.Remove("call-1", nil)
	fresh, err := r.Create("call-1", &fakeTransport{}, testCreds())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if r.Detach(old, nil) {
		t.Fatalf("Detach(old) = true, want false")
	}
	if got, ok := r.Lookup("call-1"); !ok || got != fresh {
		t.Fatalf("fresh session evicted by stale detach")
	}
	if !r.Detach(fresh, nil) {
		t.Fatalf("Detach(fresh) = false, want true")
	}
}

func TestRegistryRemoveHook(t *testing.T) {
	r := NewRegistry(context.Background(), Options{})
	var causes []error
	r.SetRemoveHook(func(_ *CallSession, cause error) { causes = append(causes, cause) })

	r.Create("call-1", &fakeTransport{}, testCreds())
	r.Remove("call-1", ErrTransportDisconnected)
	r.Remove("call-1", ErrTransportDisconnected)
	if len(causes) != 1 || !errors.Is(causes[0], ErrTransportDisconnected) {
		t.Fatalf("hook causes = %v", causes)
	}
}

func TestRegistryJanitorExpiresIdleSessions(t *testing.T) {
	r := NewRegistry(context.Background(), Options{InactivityTimeout: 30 * time.Millisecond})
	s, _ := r.Create("call-1", &fakeTransport{}, testCreds())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("session not expired")
	}
	if !errors.Is(s.Cause(), ErrSessionIdle) {
		t.Fatalf("Cause() = %v, want ErrSessionIdle", s.Cause())
	}
	if r.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", r.ActiveCount())
	}
}

func TestRegistryParentCancelStopsSessions(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	r := NewRegistry(parent, Options{})
	s, _ := r.Create("call-1", &fakeTransport{}, testCreds())
	cancel()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("session context not cancelled with parent")
	}
	r.CloseAll(nil)
	if r.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", r.ActiveCount())
	}
}

func TestRegistrySnapshotReportsTurns(t *testing.T) {
	r := NewRegistry(context.Background(), Options{})
	s, err := r.Create("call-1", &fakeTransport{}, testCreds())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	s.RecordTurn(false)
	s.RecordTurn(true)
	s.RecordTurn(false)

	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].Turns != 3 || snap[0].Degraded != 1 {
		t.Fatalf("Snapshot() = %+v, want 3 turns with 1 degraded", snap)
	}
}
