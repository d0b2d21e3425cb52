// Package sse formats pipeline events as Server-Sent Events and writes them
// to an http.ResponseWriter, flushing after every event so a client sees
// tokens as they arrive rather than after the handler returns.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Event is one named, JSON-payloaded Server-Sent Event emitted by the
// pipeline orchestrator. Name is one of the fixed event names in the
// protocol (step_start, step1_chunk, step1_done, step1_error, ...,
// pipeline_complete, error); Data is marshaled as the event's JSON body.
type Event struct {
	Name string
	Data any
}

// Writer writes Events to an underlying http.ResponseWriter as
// "event: <name>\ndata: <json>\n\n", flushing after each one.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter sets SSE headers on w and returns a Writer ready to stream
// events. Returns an error if w does not support flushing, since without it
// events would sit in Go's HTTP buffer instead of reaching the client live.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing (http.Flusher)")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Writer{w: w, flusher: flusher}, nil
}

// Send marshals event.Data and writes the event to the client, flushing
// immediately.
func (sw *Writer) Send(event Event) error {
	body, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", event.Name, err)
	}
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", event.Name, body); err != nil {
		return fmt.Errorf("writing %s event: %w", event.Name, err)
	}
	sw.flusher.Flush()
	return nil
}

// Drain reads every event off ch and writes it until the channel is closed,
// stopping early and returning the error on the first write failure, which
// usually means the client has gone away.
func (sw *Writer) Drain(ch <-chan Event) error {
	for event := range ch {
		if err := sw.Send(event); err != nil {
			return err
		}
	}
	return nil
}
