package directory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/antoniostano/callvoice/internal/tenant"
)

// DefaultGreeting is played when a tenant has not configured its own.
const DefaultGreeting = "お電話ありがとうございます。AIアシスタントが対応いたします。"

var (
	ErrCallNotFound = errors.New("call not found")
	ErrCallExists   = errors.New("call already registered")
	ErrCallEnded    = errors.New("call already ended")
	ErrInvalidDigit = errors.New("invalid dtmf digit")
)

type Status string

const (
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no_answer"
)

// Terminal reports whether a call in this status can no longer take audio.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNoAnswer:
		return true
	default:
		return false
	}
}

// ParseEndStatus maps a telephony end status onto a terminal Status. Empty
// input means a normal hangup.
func ParseEndStatus(raw string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case "", StatusCompleted:
		return StatusCompleted, true
	case StatusFailed:
		return StatusFailed, true
	case StatusNoAnswer:
		return StatusNoAnswer, true
	default:
		return "", false
	}
}

type Call struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	From        string     `json:"from"`
	To          string     `json:"to"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// Call history page sizes.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// ListQuery selects a page of call history, newest first. An empty TenantID
// spans every tenant. Active keeps only calls that have not ended.
type ListQuery struct {
	TenantID string
	Active   bool
	Limit    int
	Offset   int
}

func (q ListQuery) normalized() ListQuery {
	q.TenantID = strings.TrimSpace(q.TenantID)
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultListLimit
	case q.Limit > MaxListLimit:
		q.Limit = MaxListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

type Tenant struct {
	ID          string
	Name        string
	Credentials tenant.Credentials
	Greeting    string
}

// Directory knows which calls exist and which provider credentials belong to
// each tenant.
type Directory interface {
	RegisterCall(ctx context.Context, call Call) (Call, error)
	LookupCall(ctx context.Context, callID string) (Call, error)
	// ListCalls returns one page of calls and the total matching q.
	ListCalls(ctx context.Context, q ListQuery) ([]Call, int, error)
	MarkConnected(ctx context.Context, callID string) error
	EndCall(ctx context.Context, callID string, status Status) error
	RecordDTMF(ctx context.Context, callID, digit string) error
	TenantCredentials(ctx context.Context, tenantID string) (tenant.Credentials, error)
	TenantGreeting(ctx context.Context, tenantID string) (string, error)
	Close() error
}

// ValidDigit accepts one DTMF key: 0-9, *, # or A-D.
func ValidDigit(d string) bool {
	if len(d) != 1 {
		return false
	}
	c := d[0]
	return (c >= '0' && c <= '9') || c == '*' || c == '#' || (c >= 'A' && c <= 'D')
}
