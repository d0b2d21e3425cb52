package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kea-dev/kea/internal/pipeline"
	"github.com/kea-dev/kea/internal/registry"
)

func TestHandleHealth_ReturnsOK(t *testing.T) {
	s := New(func() *pipeline.Orchestrator { return nil })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleMetrics_ExposesPrometheusFormat(t *testing.T) {
	s := New(func() *pipeline.Orchestrator { return nil })

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestHandlePipeline_RejectsEmptyMessages(t *testing.T) {
	s := New(func() *pipeline.Orchestrator { return nil })

	body, _ := json.Marshal(pipelineRequest{Messages: nil})
	req := httptest.NewRequest(http.MethodPost, "/v1/pipeline", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlePipeline_RejectsInvalidJSON(t *testing.T) {
	s := New(func() *pipeline.Orchestrator { return nil })

	req := httptest.NewRequest(http.MethodPost, "/v1/pipeline", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlePipeline_StreamsEventsFromOrchestrator(t *testing.T) {
	orch := pipeline.New(registry.New(nil, nil), 5, 2, nil, nil)
	s := New(func() *pipeline.Orchestrator { return orch })

	reqBody, _ := json.Marshal(pipelineRequest{
		Messages: []apiMessage{{Role: "user", Content: "why is the sky blue?"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/pipeline", bytes.NewReader(reqBody))
	req = req.WithContext(context.Background())
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	// No providers are registered, so stage 1 runs against zero providers and
	// the pipeline fails the minimum-providers gate immediately.
	assert.Contains(t, w.Body.String(), "event: error")
	assert.Contains(t, w.Body.String(), "event: pipeline_complete")
}

func TestApiMessage_ToMessage_PlainText(t *testing.T) {
	m := apiMessage{Role: "user", Content: "hello"}
	out := m.toMessage()
	assert.Equal(t, "hello", out.Text)
	assert.Nil(t, out.Parts)
}

func TestApiMessage_ToMessage_MultimodalParts(t *testing.T) {
	m := apiMessage{
		Role: "user",
		Parts: []apiPart{
			{Type: "text", Text: "describe this"},
			{Type: "image"},
		},
	}
	out := m.toMessage()
	require.Len(t, out.Parts, 2)
	assert.Equal(t, "text", string(out.Parts[0].Type))
	assert.Equal(t, "image", string(out.Parts[1].Type))
}
