package sse

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriter_SetsSSEHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	_, err := NewWriter(rec)
	require.NoError(t, err)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
}

func TestSend_WritesEventAndDataLines(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	err = w.Send(Event{Name: "step1_chunk", Data: map[string]string{"provider": "claude", "content": "hi"}})
	require.NoError(t, err)

	body := rec.Body.String()
	assert.Contains(t, body, "event: step1_chunk\n")
	assert.Contains(t, body, `"provider":"claude"`)
	assert.True(t, strings.HasSuffix(body, "\n\n"))
}

func TestDrain_WritesEveryEventUntilChannelCloses(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	ch := make(chan Event, 2)
	ch <- Event{Name: "step_start", Data: map[string]any{"provider": "system", "step": 1}}
	ch <- Event{Name: "pipeline_complete", Data: map[string]any{"providers_used": 3}}
	close(ch)

	require.NoError(t, w.Drain(ch))

	body := rec.Body.String()
	assert.Contains(t, body, "event: step_start\n")
	assert.Contains(t, body, "event: pipeline_complete\n")
}
