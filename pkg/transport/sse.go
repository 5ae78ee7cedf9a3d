package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthroute/anthroute/pkg/api"
)

// sseWriter emits protocol stream events over SSE. Each event is written
// as:
//
//	event: {type}\n
//	data: {json}\n
//	\n
//
// and flushed immediately. The stream ends with the terminal event
// itself (message_stop or error); no sentinel line follows. A writer is
// owned by the single goroutine serving its exchange.
type sseWriter struct {
	w         http.ResponseWriter
	rc        *http.ResponseController
	started   bool
	completed bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

// WriteEvent sends a single SSE event. The first event commits the SSE
// response headers. Writes after a terminal event fail.
func (s *sseWriter) WriteEvent(event api.StreamEvent) error {
	if s.completed {
		return errors.New("cannot write event: stream is completed")
	}

	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.started = true
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	if event.IsTerminal() {
		s.completed = true
	}
	return nil
}

// WriteEvents sends a batch of events, stopping at the first write error.
func (s *sseWriter) WriteEvents(events []api.StreamEvent) error {
	for _, event := range events {
		if err := s.WriteEvent(event); err != nil {
			return err
		}
	}
	return nil
}

// Started reports whether any event has been written. Once true, the
// response is committed as SSE and errors must be delivered in-band.
func (s *sseWriter) Started() bool {
	return s.started
}
