package reply

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/callvoice/internal/reliability"
)

type DifyConfig struct {
	// Strict rejects undecodable stream events instead of skipping them.
	Strict  bool
	Timeout time.Duration
}

// DifyClient calls a tenant's Dify chat app. Endpoint and key come from the
// tenant credentials of each request.
type DifyClient struct {
	strict bool
	client *http.Client
	logger *zap.Logger
}

var _ Generator = (*DifyClient)(nil)

func NewDifyClient(cfg DifyConfig, logger *zap.Logger) *DifyClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DifyClient{
		strict: cfg.Strict,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("dify"),
	}
}

func (d *DifyClient) Name() string { return "dify" }

type difyChatRequest struct {
	Inputs         map[string]any `json:"inputs"`
	Query          string         `json:"query"`
	ResponseMode   string         `json:"response_mode"`
	ConversationID string         `json:"conversation_id"`
	User           string         `json:"user"`
}

// difyChunk is the JSON envelope carried in each stream event's data field.
type difyChunk struct {
	Event          string `json:"event"`
	Answer         string `json:"answer"`
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Status         int    `json:"status"`
	Code           string `json:"code"`
	Message        string `json:"message"`
}

func (d *DifyClient) Generate(ctx context.Context, req Request) (string, error) {
	creds := req.Credentials
	endpoint := strings.TrimRight(strings.TrimSpace(creds.ReplyEndpoint), "/")
	if endpoint == "" || strings.TrimSpace(creds.ReplyAPIKey) == "" {
		return "", fmt.Errorf("%w: dify endpoint and api key are required: %w", ErrProviderUnavailable, reliability.ErrInvalidCredentials)
	}

	payload, err := json.Marshal(difyChatRequest{
		Inputs:       map[string]any{},
		Query:        req.Transcript,
		ResponseMode: "streaming",
		User:         firstNonEmpty(req.CallID, creds.TenantID, "callvoice"),
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/chat-messages", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+creds.ReplyAPIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	res, err := d.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProviderUnavailable, reliability.TransportError("dify", err))
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("%w: %w", ErrProviderUnavailable, reliability.ClassifyHTTPStatus("dify", res.StatusCode, body))
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") {
		return d.consumeStream(res.Body, req.CallID)
	}
	return d.consumeBlocking(res.Body)
}

// consumeStream assembles the answer from "message" deltas until "message_end".
// Each event is decoded on its own so a malformed event never leaks raw bytes
// into the assembled text.
func (d *DifyClient) consumeStream(body io.Reader, callID string) (string, error) {
	var (
		out     strings.Builder
		done    bool
		skipped int
	)
	err := readSSE(body, func(ev sseEvent) error {
		data := strings.TrimSpace(ev.Data)
		if data == "" {
			return nil
		}
		if data == "[DONE]" {
			done = true
			return errStopStream
		}

		var chunk difyChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			if d.strict {
				return fmt.Errorf("%w: invalid stream event: %v", ErrProviderUnavailable, err)
			}
			skipped++
			return nil
		}
		if chunk.Event == "" {
			chunk.Event = ev.Event
		}

		switch chunk.Event {
		case "message", "agent_message":
			out.WriteString(chunk.Answer)
		case "message_replace":
			out.Reset()
			out.WriteString(chunk.Answer)
		case "message_end":
			done = true
			return errStopStream
		case "error":
			return fmt.Errorf("%w: dify error event status=%d code=%s: %s", ErrProviderUnavailable, chunk.Status, chunk.Code, chunk.Message)
		}
		return nil
	})
	if skipped > 0 {
		d.logger.Warn("skipped undecodable stream events", zap.String("call_id", callID), zap.Int("count", skipped))
	}
	if err != nil {
		return "", err
	}
	if !done {
		return "", fmt.Errorf("%w: %w", ErrProviderUnavailable, ErrIncompleteStream)
	}
	return strings.TrimSpace(out.String()), nil
}

func (d *DifyClient) consumeBlocking(body io.Reader) (string, error) {
	var chunk difyChunk
	if err := json.NewDecoder(io.LimitReader(body, 1<<20)).Decode(&chunk); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrProviderUnavailable, err)
	}
	answer := strings.TrimSpace(chunk.Answer)
	if answer == "" {
		return "", fmt.Errorf("%w: empty answer", ErrProviderUnavailable)
	}
	return answer, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
