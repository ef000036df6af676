package assistant

import (
	"bufio"
	"io"
	"strings"
)

// SSEEvent represents a parsed SSE event.
type SSEEvent struct {
	Event string
	Data  string
}

const maxEventSize = 4 << 20

// eventReader yields one SSE event per call to next.
type eventReader struct {
	scanner *bufio.Scanner
}

func newEventReader(r io.Reader) *eventReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)
	return &eventReader{scanner: scanner}
}

// next returns the next complete event, or io.EOF when the input ends.
func (r *eventReader) next() (SSEEvent, error) {
	var event SSEEvent
	hasData := false
	for r.scanner.Scan() {
		line := r.scanner.Text()

		// Empty line marks end of event
		if line == "" {
			if event.Event != "" || hasData {
				return event, nil
			}
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		// A single space after the colon is not part of the value.
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event.Event = value
		case "data":
			if hasData {
				event.Data += "\n" + value
			} else {
				event.Data = value
				hasData = true
			}
		}
		// Ignore comments (lines starting with :) and other fields
	}
	if err := r.scanner.Err(); err != nil {
		return SSEEvent{}, err
	}
	// Handle any remaining event
	if event.Event != "" || hasData {
		return event, nil
	}
	return SSEEvent{}, io.EOF
}
