package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/callvoice/internal/tenant"
)

type dtmfEvent struct {
	Digit      string
	ReceivedAt time.Time
}

// InMemoryDirectory serves local development and tests. Tenants that were
// never added resolve to the default credentials.
type InMemoryDirectory struct {
	mu       sync.RWMutex
	defaults tenant.Credentials
	tenants  map[string]Tenant
	calls    map[string]Call
	dtmf     map[string][]dtmfEvent
}

func NewInMemoryDirectory(defaults tenant.Credentials) *InMemoryDirectory {
	return &InMemoryDirectory{
		defaults: defaults,
		tenants:  make(map[string]Tenant),
		calls:    make(map[string]Call),
		dtmf:     make(map[string][]dtmfEvent),
	}
}

func (d *InMemoryDirectory) PutTenant(t Tenant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tenants[t.ID] = t
}

func (d *InMemoryDirectory) RegisterCall(_ context.Context, call Call) (Call, error) {
	call.ID = strings.TrimSpace(call.ID)
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if strings.TrimSpace(call.TenantID) == "" {
		call.TenantID = d.defaults.TenantID
	}
	call.Status = StatusRinging
	call.StartedAt = time.Now().UTC()
	call.ConnectedAt = nil
	call.EndedAt = nil

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.calls[call.ID]; exists {
		return Call{}, fmt.Errorf("%w: %s", ErrCallExists, call.ID)
	}
	d.calls[call.ID] = call
	return call, nil
}

func (d *InMemoryDirectory) LookupCall(_ context.Context, callID string) (Call, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	call, ok := d.calls[callID]
	if !ok {
		return Call{}, fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}
	return call, nil
}

func (d *InMemoryDirectory) ListCalls(_ context.Context, q ListQuery) ([]Call, int, error) {
	q = q.normalized()
	d.mu.RLock()
	matched := make([]Call, 0, len(d.calls))
	for _, call := range d.calls {
		if q.TenantID != "" && call.TenantID != q.TenantID {
			continue
		}
		if q.Active && call.Status.Terminal() {
			continue
		}
		matched = append(matched, call)
	}
	d.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].StartedAt.After(matched[j].StartedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	total := len(matched)
	if q.Offset >= total {
		return []Call{}, total, nil
	}
	matched = matched[q.Offset:]
	if len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, total, nil
}

func (d *InMemoryDirectory) MarkConnected(_ context.Context, callID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	call, ok := d.calls[callID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}
	if call.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrCallEnded, callID)
	}
	if call.Status == StatusRinging {
		now := time.Now().UTC()
		call.Status = StatusInProgress
		call.ConnectedAt = &now
		d.calls[callID] = call
	}
	return nil
}

// EndCall is idempotent for calls that have already ended.
func (d *InMemoryDirectory) EndCall(_ context.Context, callID string, status Status) error {
	if !status.Terminal() {
		status = StatusCompleted
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	call, ok := d.calls[callID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}
	if call.Status.Terminal() {
		return nil
	}
	now := time.Now().UTC()
	call.Status = status
	call.EndedAt = &now
	d.calls[callID] = call
	return nil
}

func (d *InMemoryDirectory) RecordDTMF(_ context.Context, callID, digit string) error {
	if !ValidDigit(digit) {
		return fmt.Errorf("%w: %q", ErrInvalidDigit, digit)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.calls[callID]; !ok {
		return fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}
	d.dtmf[callID] = append(d.dtmf[callID], dtmfEvent{Digit: digit, ReceivedAt: time.Now().UTC()})
	return nil
}

// Digits returns the DTMF keys received for a call in arrival order.
func (d *InMemoryDirectory) Digits(callID string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var b strings.Builder
	for _, ev := range d.dtmf[callID] {
		b.WriteString(ev.Digit)
	}
	return b.String()
}

func (d *InMemoryDirectory) TenantCredentials(_ context.Context, tenantID string) (tenant.Credentials, error) {
	d.mu.RLock()
	t, ok := d.tenants[tenantID]
	d.mu.RUnlock()
	if !ok {
		creds := d.defaults
		if tenantID != "" {
			creds.TenantID = tenantID
		}
		return creds, nil
	}
	creds := t.Credentials
	creds.TenantID = t.ID
	return creds.WithDefaults(d.defaults), nil
}

func (d *InMemoryDirectory) TenantGreeting(_ context.Context, tenantID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if t, ok := d.tenants[tenantID]; ok && strings.TrimSpace(t.Greeting) != "" {
		return t.Greeting, nil
	}
	return DefaultGreeting, nil
}

func (d *InMemoryDirectory) Close() error { return nil }
