package main

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := parseFlags([]string{"-base-url", "http://localhost:9000/", "-turns", "2"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if cfg.baseURL != "http://localhost:9000" {
		t.Fatalf("baseURL = %q, want trailing slash trimmed", cfg.baseURL)
	}
	if cfg.turns != 2 || cfg.frameMS != 20 {
		t.Fatalf("turns=%d frameMS=%d, want 2 and 20", cfg.turns, cfg.frameMS)
	}
	if len(cfg.callID) < 5 || cfg.callID[:4] != "sim-" {
		t.Fatalf("callID = %q, want generated sim- id", cfg.callID)
	}

	if _, err := parseFlags([]string{"-frame-ms", "5"}); err == nil {
		t.Fatalf("parseFlags(frame-ms=5) succeeded, want error")
	}
}

func TestStreamURL(t *testing.T) {
	got, err := streamURL("https://voice.example.com/base", "/ws/call/c1", "tok")
	if err != nil {
		t.Fatalf("streamURL() error = %v", err)
	}
	if got != "wss://voice.example.com/base/ws/call/c1?access_token=tok" {
		t.Fatalf("streamURL() = %q", got)
	}
	if _, err := streamURL("ftp://x", "/ws/call/c1", ""); err == nil {
		t.Fatalf("streamURL(ftp) succeeded, want error")
	}
}

func TestCollectReplyMeasuresFirstAudio(t *testing.T) {
	audioCh := make(chan inbound, 4)
	errCh := make(chan error, 1)
	start := time.Now()
	audioCh <- inbound{at: start.Add(300 * time.Millisecond), data: []byte{1, 2}}
	audioCh <- inbound{at: start.Add(320 * time.Millisecond), data: []byte{3, 4}}

	var sink bytes.Buffer
	res, err := collectReply(audioCh, errCh, start, 50*time.Millisecond, time.Second, &sink)
	if err != nil {
		t.Fatalf("collectReply() error = %v", err)
	}
	if res.firstAudio != 300*time.Millisecond || res.replyBytes != 4 || sink.Len() != 4 {
		t.Fatalf("collectReply() = %+v sink=%d", res, sink.Len())
	}

	errCh <- errors.New("closed")
	if _, err := collectReply(audioCh, errCh, start, 50*time.Millisecond, time.Second, &sink); err == nil {
		t.Fatalf("collectReply() after close succeeded, want error")
	}
}

func TestPercentiles(t *testing.T) {
	var results []turnResult
	for i := 1; i <= 20; i++ {
		results = append(results, turnResult{firstAudio: time.Duration(i) * time.Millisecond})
	}
	p50, p95 := percentiles(results)
	if p50 != 10*time.Millisecond || p95 != 19*time.Millisecond {
		t.Fatalf("percentiles() = %s, %s, want 10ms, 19ms", p50, p95)
	}
	if a, b := percentiles(nil); a != 0 || b != 0 {
		t.Fatalf("percentiles(nil) = %s, %s", a, b)
	}
}
