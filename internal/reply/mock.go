package reply

import (
	"context"
	"strings"
	"sync"
)

// MockGenerator answers locally. It echoes the transcript unless Reply or Err is set.
type MockGenerator struct {
	Reply string
	Err   error

	mu       sync.Mutex
	requests []Request
}

func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

func (m *MockGenerator) Name() string { return "mock" }

func (m *MockGenerator) Generate(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Err != nil {
		return "", m.Err
	}
	if m.Reply != "" {
		return m.Reply, nil
	}
	t := strings.TrimSpace(req.Transcript)
	if t == "" {
		return "すみません、よく聞き取れませんでした。もう一度お願いします。", nil
	}
	return "「" + t + "」について承りました。", nil
}

func (m *MockGenerator) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}
