package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageType identifies text control frames sent on the call websocket
// alongside binary audio.
type MessageType string

const (
	TypeDTMF   MessageType = "dtmf"
	TypeHangup MessageType = "hangup"
	TypeEvent  MessageType = "event"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrInvalidRequest  = errors.New("invalid request")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

type DTMFMessage struct {
	Type  MessageType `json:"type"`
	Digit string      `json:"digit"`
}

type HangupMessage struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status,omitempty"`
}

// ServerEvent is sent to the transport client as a text frame.
type ServerEvent struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"call_id"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

// ParseControlMessage decodes a text frame received on the call websocket.
func ParseControlMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeDTMF:
		var msg DTMFMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if len(msg.Digit) != 1 {
			return nil, fmt.Errorf("%w: dtmf digit", ErrInvalidRequest)
		}
		return msg, nil
	case TypeHangup:
		var msg HangupMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// CallRingingRequest is posted by the telephony side when a call arrives.
type CallRingingRequest struct {
	CallID   string `json:"call_id"`
	TenantID string `json:"tenant_id"`
	From     string `json:"from"`
	To       string `json:"to"`
}

func (r *CallRingingRequest) Normalize() error {
	r.CallID = strings.TrimSpace(r.CallID)
	r.TenantID = strings.TrimSpace(r.TenantID)
	r.From = strings.TrimSpace(r.From)
	r.To = strings.TrimSpace(r.To)
	if len(r.CallID) > 128 {
		return fmt.Errorf("%w: call_id too long", ErrInvalidRequest)
	}
	return nil
}

type CallEndedRequest struct {
	Status string `json:"status"`
}

type DTMFRequest struct {
	Digit string `json:"digit"`
}

func (r *DTMFRequest) Normalize() error {
	r.Digit = strings.ToUpper(strings.TrimSpace(r.Digit))
	if len(r.Digit) != 1 {
		return fmt.Errorf("%w: digit must be a single key", ErrInvalidRequest)
	}
	return nil
}

type CallResponse struct {
	CallID      string     `json:"call_id"`
	TenantID    string     `json:"tenant_id"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	StreamURL   string     `json:"stream_url,omitempty"`
	From        string     `json:"from,omitempty"`
	To          string     `json:"to,omitempty"`
	// IsConnected is true while a media stream is attached to the call.
	IsConnected bool `json:"is_connected"`
}

type CallListResponse struct {
	Calls  []CallResponse `json:"calls"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type GreetingResponse struct {
	TenantID        string `json:"tenant_id"`
	GreetingMessage string `json:"greeting_message"`
}
