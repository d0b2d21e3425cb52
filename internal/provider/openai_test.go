package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kea-dev/kea/internal/message"
)

func TestOpenAIProvider_StreamChat_ParsesDeltasAndDoneSentinel(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: "+`{"choices":[{"delta":{"content":"Hello"}}]}`+"\n\n")
		io.WriteString(w, "data: "+`{"choices":[{"delta":{"content":" world"}}]}`+"\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAIProvider("gpt", "gpt-4o", "test-key", srv.URL, srv.Client())
	chunks := drainChunks(t, p.StreamChat(context.Background(), []message.Message{{Role: message.RoleUser, Text: "hi"}}, "be nice"))

	require.Len(t, chunks, 3)
	assert.Equal(t, "Hello", chunks[0].Content)
	assert.Equal(t, " world", chunks[1].Content)
	assert.True(t, chunks[2].Done)
	assert.Equal(t, "Bearer test-key", gotAuth)
}

func TestOpenRouterProvider_FreeTierDetectedFromModelSuffix(t *testing.T) {
	free := NewOpenRouterProvider("openrouter-free", "meta-llama/llama-3.1-8b-instruct:free", "test-key", nil)
	assert.True(t, free.FreeTier())

	paid := NewOpenRouterProvider("openrouter-paid", "meta-llama/llama-3.1-8b-instruct", "test-key", nil)
	assert.False(t, paid.FreeTier())
}

func TestOpenAICompatibleProvider_IsConfigured_AlwaysTrueEvenWithoutAPIKey(t *testing.T) {
	p := NewOpenAICompatibleProvider("local", "local-model", "", "http://localhost:11434/v1", nil)
	assert.True(t, p.IsConfigured())
}

func TestOpenAICompatibleProvider_StreamChat_OmitsAuthHeaderWithoutAPIKey(t *testing.T) {
	var gotAuth string
	authSeen := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		authSeen = gotAuth != ""
		io.WriteString(w, "data: "+`{"choices":[{"delta":{"content":"ok"}}]}`+"\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAICompatibleProvider("local", "local-model", "", srv.URL, srv.Client())
	chunks := drainChunks(t, p.StreamChat(context.Background(), []message.Message{{Role: message.RoleUser, Text: "hi"}}, ""))

	require.Len(t, chunks, 2)
	assert.False(t, authSeen)
	assert.Equal(t, "ok", chunks[0].Content)
}
