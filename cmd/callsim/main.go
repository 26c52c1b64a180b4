// Command callsim places a synthetic call against a running callvoice server
// and reports end-of-speech to first-reply-audio latency per turn.
package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/callvoice/internal/audio"
	"github.com/antoniostano/callvoice/internal/protocol"
)

type options struct {
	baseURL     string
	token       string
	tenantID    string
	callID      string
	turns       int
	frameMS     int
	speechMS    int
	silenceMS   int
	realtime    float64
	replyGap    time.Duration
	turnTimeout time.Duration
	wavIn       string
	wavOut      string
	verbose     bool
}

type turnResult struct {
	firstAudio time.Duration
	replyBytes int
}

type inbound struct {
	at   time.Time
	data []byte
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	fs := flag.NewFlagSet("callsim", flag.ContinueOnError)
	var replyGapMS, turnTimeoutMS int

	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "callvoice base URL")
	fs.StringVar(&cfg.token, "token", os.Getenv("CALLSIM_TOKEN"), "bearer token when auth is enabled")
	fs.StringVar(&cfg.tenantID, "tenant-id", "", "tenant for the synthetic call")
	fs.StringVar(&cfg.callID, "call-id", "", "call id (random when empty)")
	fs.IntVar(&cfg.turns, "turns", 3, "number of caller utterances")
	fs.IntVar(&cfg.frameMS, "frame-ms", 20, "inbound frame size in milliseconds")
	fs.IntVar(&cfg.speechMS, "speech-ms", 800, "synthetic utterance length when -wav is not set")
	fs.IntVar(&cfg.silenceMS, "silence-ms", 600, "trailing silence sent after each utterance")
	fs.Float64Var(&cfg.realtime, "realtime", 1.0, "frame pacing multiplier (1.0=realtime, 2.0=2x)")
	fs.IntVar(&replyGapMS, "reply-gap-ms", 500, "idle time that marks the end of a reply")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "timeout waiting for reply audio")
	fs.StringVar(&cfg.wavIn, "wav", "", "PCM16 WAV file used as the caller utterance")
	fs.StringVar(&cfg.wavOut, "out", "", "write received reply audio to this WAV file")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print per-turn progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.frameMS < 10 || cfg.frameMS > 200 {
		return options{}, fmt.Errorf("frame-ms must be in [10,200]")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if cfg.callID == "" {
		cfg.callID = "sim-" + uuid.NewString()
	}
	cfg.replyGap = time.Duration(max(replyGapMS, 50)) * time.Millisecond
	cfg.turnTimeout = time.Duration(max(turnTimeoutMS, 1000)) * time.Millisecond
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	utterance := syntheticUtterance(cfg.speechMS, audio.DefaultSampleRate)
	sampleRate := audio.DefaultSampleRate
	if cfg.wavIn != "" {
		raw, err := os.ReadFile(cfg.wavIn)
		if err != nil {
			return fmt.Errorf("read wav: %w", err)
		}
		if utterance, sampleRate, err = audio.DecodeWAVPCM16(raw); err != nil {
			return fmt.Errorf("decode wav: %w", err)
		}
	}

	client := &http.Client{Timeout: 30 * time.Second}
	call, err := registerCall(ctx, client, cfg)
	if err != nil {
		return fmt.Errorf("register call: %w", err)
	}
	if cfg.verbose {
		fmt.Printf("callsim: call=%s tenant=%s turns=%d\n", call.CallID, call.TenantID, cfg.turns)
	}

	wsURL, err := streamURL(cfg.baseURL, call.StreamURL, cfg.token)
	if err != nil {
		return fmt.Errorf("build stream URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	audioCh := make(chan inbound, 1024)
	readErrCh := make(chan error, 1)
	go readLoop(conn, audioCh, readErrCh, cfg.verbose)

	silence := make([]byte, sampleRate*audio.BytesPerSample*cfg.silenceMS/1000)
	frameBytes := sampleRate * audio.BytesPerSample * cfg.frameMS / 1000
	pace := time.Duration(float64(time.Duration(cfg.frameMS)*time.Millisecond) / cfg.realtime)

	var (
		results  []turnResult
		received bytes.Buffer
	)
	for i := 0; i < cfg.turns; i++ {
		if err := sendFrames(conn, utterance, frameBytes, pace); err != nil {
			return fmt.Errorf("turn %d send speech: %w", i+1, err)
		}
		speechEnd := time.Now()
		if err := sendFrames(conn, silence, frameBytes, pace); err != nil {
			return fmt.Errorf("turn %d send silence: %w", i+1, err)
		}

		res, err := collectReply(audioCh, readErrCh, speechEnd, cfg.replyGap, cfg.turnTimeout, &received)
		if err != nil {
			return fmt.Errorf("turn %d await reply: %w", i+1, err)
		}
		results = append(results, res)
		if cfg.verbose {
			fmt.Printf("callsim: turn %d/%d first_audio=%s reply_bytes=%d\n", i+1, cfg.turns, res.firstAudio.Round(time.Millisecond), res.replyBytes)
		}
	}

	_ = conn.WriteJSON(protocol.HangupMessage{Type: protocol.TypeHangup, Status: "completed"})

	if cfg.wavOut != "" {
		wav, err := audio.EncodeWAVPCM16LE(received.Bytes(), sampleRate)
		if err != nil {
			return err
		}
		if err := os.WriteFile(cfg.wavOut, wav, 0o644); err != nil {
			return fmt.Errorf("write reply wav: %w", err)
		}
	}

	p50, p95 := percentiles(results)
	fmt.Printf("callsim: turns=%d first_audio_p50=%s first_audio_p95=%s\n", len(results), p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	return nil
}

func registerCall(ctx context.Context, client *http.Client, cfg options) (protocol.CallResponse, error) {
	payload, err := json.Marshal(protocol.CallRingingRequest{CallID: cfg.callID, TenantID: cfg.tenantID})
	if err != nil {
		return protocol.CallResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/calls", bytes.NewReader(payload))
	if err != nil {
		return protocol.CallResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.token)
	}

	res, err := client.Do(req)
	if err != nil {
		return protocol.CallResponse{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return protocol.CallResponse{}, err
	}
	if res.StatusCode != http.StatusCreated {
		return protocol.CallResponse{}, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var out protocol.CallResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return protocol.CallResponse{}, err
	}
	if out.StreamURL == "" {
		out.StreamURL = "/ws/call/" + url.PathEscape(out.CallID)
	}
	return out, nil
}

func streamURL(baseURL, path, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	if token != "" {
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, audioCh chan<- inbound, readErrCh chan<- error, verbose bool) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			readErrCh <- err
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			audioCh <- inbound{at: time.Now(), data: data}
		case websocket.TextMessage:
			var ev protocol.ServerEvent
			if err := json.Unmarshal(data, &ev); err == nil && verbose {
				fmt.Fprintf(os.Stderr, "callsim: event code=%s detail=%s\n", ev.Code, ev.Detail)
			}
		}
	}
}

func sendFrames(conn *websocket.Conn, pcm []byte, frameBytes int, pace time.Duration) error {
	for _, frame := range audio.Chunk(pcm, frameBytes) {
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return err
		}
		time.Sleep(pace)
	}
	return nil
}

// collectReply waits for the first reply chunk and then drains chunks until
// the stream has been idle for gap.
func collectReply(audioCh <-chan inbound, readErrCh <-chan error, speechEnd time.Time, gap, timeout time.Duration, sink *bytes.Buffer) (turnResult, error) {
	var res turnResult
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case in := <-audioCh:
		res.firstAudio = in.at.Sub(speechEnd)
		res.replyBytes += len(in.data)
		sink.Write(in.data)
	case err := <-readErrCh:
		return res, err
	case <-deadline.C:
		return res, fmt.Errorf("no reply audio after %s", timeout)
	}

	for {
		select {
		case in := <-audioCh:
			res.replyBytes += len(in.data)
			sink.Write(in.data)
		case <-time.After(gap):
			return res, nil
		case err := <-readErrCh:
			return res, err
		}
	}
}

// syntheticUtterance is a 440Hz tone loud enough to register as speech.
func syntheticUtterance(ms, sampleRate int) []byte {
	n := sampleRate * ms / 1000
	pcm := make([]byte, n*audio.BytesPerSample)
	for i := 0; i < n; i++ {
		v := 0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*32767)))
	}
	return pcm
}

func percentiles(results []turnResult) (p50, p95 time.Duration) {
	if len(results) == 0 {
		return 0, 0
	}
	d := make([]time.Duration, len(results))
	for i, r := range results {
		d[i] = r.firstAudio
	}
	sort.Slice(d, func(i, j int) bool { return d[i] < d[j] })
	at := func(q float64) time.Duration {
		idx := int(math.Ceil(q*float64(len(d)))) - 1
		return d[min(max(idx, 0), len(d)-1)]
	}
	return at(0.50), at(0.95)
}
