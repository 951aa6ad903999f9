package service

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"kitaabse-pipeline/internal/domain"
)

// ProgressReporter writes pipeline events as server-sent events.
type ProgressReporter struct {
	logger domain.Logger
}

func NewProgressReporter(logger domain.Logger) *ProgressReporter {
	return &ProgressReporter{logger: logger}
}

// SetSSEHeaders prepares a response for streaming.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// Stream writes events until the first terminal one. The channel is always
// drained to its close so the producer never blocks; the first write error is
// returned after draining.
func (r *ProgressReporter) Stream(w io.Writer, events <-chan domain.ProgressEvent) error {
	flusher, _ := w.(http.Flusher)

	var writeErr error
	done := false
	for ev := range events {
		if done || writeErr != nil {
			continue
		}
		if err := WriteEvent(w, ev); err != nil {
			writeErr = err
			r.logger.Warn("Progress stream write failed; draining", "event", ev.Kind, "error", err)
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
		done = ev.IsTerminal()
	}
	return writeErr
}

// WriteEvent encodes one event in SSE framing.
func WriteEvent(w io.Writer, ev domain.ProgressEvent) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Kind, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}
