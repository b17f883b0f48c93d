package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter frames protocol events as server-sent-event data lines and
// flushes after every write so tokens reach the client immediately.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter sets the streaming response headers and wraps w. The flusher
// is optional; buffered writers still produce a correct, if bursty, stream.
func newSSEWriter(w http.ResponseWriter) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set(ProtocolHeader, ProtocolVersion)

	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher}
}

// writeEvent marshals v and writes it as one data line.
func (s *sseWriter) writeEvent(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("stream: marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return fmt.Errorf("stream: write event: %w", err)
	}
	s.flush()
	return nil
}

// writeDone writes the terminal [DONE] marker.
func (s *sseWriter) writeDone() error {
	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("stream: write done: %w", err)
	}
	s.flush()
	return nil
}

func (s *sseWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
