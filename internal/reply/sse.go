package reply

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// sseEvent is one dispatched server-sent event.
type sseEvent struct {
	Event string
	ID    string
	Data  string
}

// errStopStream ends readSSE without an error.
var errStopStream = errors.New("stop stream")

// readSSE parses a text/event-stream body and calls fn once per event. Data
// lines within one event are joined with "\n"; comment lines are skipped.
func readSSE(body io.Reader, fn func(sseEvent) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		cur     sseEvent
		data    []string
		pending bool
	)
	dispatch := func() error {
		if !pending {
			return nil
		}
		cur.Data = strings.Join(data, "\n")
		ev := cur
		cur = sseEvent{}
		data = data[:0]
		pending = false
		return fn(ev)
	}

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			if err := dispatch(); err != nil {
				return stopOrErr(err)
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}
		switch field {
		case "data":
			data = append(data, value)
			pending = true
		case "event":
			cur.Event = value
			pending = true
		case "id":
			cur.ID = value
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read: %w", err)
	}
	return stopOrErr(dispatch())
}

func stopOrErr(err error) error {
	if errors.Is(err, errStopStream) {
		return nil
	}
	return err
}
