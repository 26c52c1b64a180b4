package httpapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/callvoice/internal/audio"
	"github.com/antoniostano/callvoice/internal/protocol"
	"github.com/antoniostano/callvoice/internal/session"
)

// wsTransport writes synthesized audio to the call websocket as binary chunks.
// The connection is attached after the session is created so that capacity
// and duplicate errors can still be answered with a plain HTTP status.
type wsTransport struct {
	chunkBytes   int
	writeTimeout time.Duration

	writeMu sync.Mutex

	stateMu sync.Mutex
	conn    *websocket.Conn
	closed  bool
}

var _ session.Transport = (*wsTransport)(nil)

func newWSTransport(chunkBytes int, writeTimeout time.Duration) *wsTransport {
	if chunkBytes <= 0 {
		chunkBytes = 640
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &wsTransport{chunkBytes: chunkBytes, writeTimeout: writeTimeout}
}

// attach binds the upgraded connection. It reports false, after closing conn,
// when the session was torn down in the meantime.
func (t *wsTransport) attach(conn *websocket.Conn) bool {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if t.closed {
		_ = conn.Close()
		return false
	}
	t.conn = conn
	return true
}

func (t *wsTransport) current() (*websocket.Conn, error) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if t.closed || t.conn == nil {
		return nil, session.ErrTransportDisconnected
	}
	return t.conn, nil
}

func (t *wsTransport) SendAudio(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	conn, err := t.current()
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	for _, chunk := range audio.Chunk(pcm, t.chunkBytes) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(t.deadline(ctx))
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			return fmt.Errorf("%w: %w", session.ErrTransportDisconnected, err)
		}
	}
	return nil
}

func (t *wsTransport) sendEvent(ev protocol.ServerEvent) error {
	conn, err := t.current()
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return conn.WriteJSON(ev)
}

// Close may run concurrently with a write; gorilla permits WriteControl and
// Close alongside the single writer.
func (t *wsTransport) Close() error {
	t.stateMu.Lock()
	if t.closed {
		t.stateMu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.stateMu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
		time.Now().Add(time.Second),
	)
	return conn.Close()
}

func (t *wsTransport) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(t.writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}
