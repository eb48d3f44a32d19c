package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HeartbeatInterval keeps idle connections alive under load balancers
// that cut streams at 60s.
const HeartbeatInterval = 15 * time.Second

// Encoder frames events as text/event-stream messages.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
}

// NewEncoder sets SSE headers and wraps the response writer.
func NewEncoder(w http.ResponseWriter) (*Encoder, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flusher interface")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &Encoder{w: w, flusher: flusher}, nil
}

// WriteEvent frames one event as "event: <type>\ndata: {json}\n\n".
func (e *Encoder) WriteEvent(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	e.flusher.Flush()
	return nil
}

// WriteKeepalive emits the payload-free heartbeat frame.
func (e *Encoder) WriteKeepalive() error {
	return e.WriteEvent(Event{Type: EventKeepalive})
}
