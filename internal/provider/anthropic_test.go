package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kea-dev/kea/internal/message"
)

func drainChunks(t *testing.T, ch <-chan StreamChunk) []StreamChunk {
	t.Helper()
	var chunks []StreamChunk
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return chunks
			}
			chunks = append(chunks, c)
		case <-deadline:
			t.Fatal("timed out waiting for stream chunks")
		}
	}
}

func TestAnthropicProvider_StreamChat_ParsesContentDeltasAndStop(t *testing.T) {
	var gotAuth, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: "+`{"type":"content_block_delta","delta":{"text":"Hello"}}`+"\n\n")
		io.WriteString(w, "data: "+`{"type":"content_block_delta","delta":{"text":" world"}}`+"\n\n")
		io.WriteString(w, "data: "+`{"type":"message_stop"}`+"\n\n")
	}))
	defer srv.Close()

	p := NewAnthropicProvider("claude", "claude-sonnet-4-5", "test-key", srv.URL, srv.Client())
	messages := []message.Message{{Role: message.RoleUser, Text: "hi"}}

	chunks := drainChunks(t, p.StreamChat(context.Background(), messages, "be nice"))

	require.Len(t, chunks, 3)
	assert.Equal(t, "Hello", chunks[0].Content)
	assert.Equal(t, " world", chunks[1].Content)
	assert.True(t, chunks[2].Done)
	assert.Equal(t, "test-key", gotAuth)
	assert.Equal(t, anthropicAPIVersion, gotVersion)
}

func TestAnthropicProvider_StreamChat_NonOKStatusEmitsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("claude", "claude-sonnet-4-5", "test-key", srv.URL, srv.Client())
	chunks := drainChunks(t, p.StreamChat(context.Background(), []message.Message{{Role: message.RoleUser, Text: "hi"}}, ""))

	require.Len(t, chunks, 1)
	require.Error(t, chunks[0].Err)
}

func TestAnthropicProvider_StreamChat_NoStopSentinelStillSynthesizesDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: "+`{"type":"content_block_delta","delta":{"text":"partial"}}`+"\n\n")
	}))
	defer srv.Close()

	p := NewAnthropicProvider("claude", "m", "k", srv.URL, srv.Client())
	chunks := drainChunks(t, p.StreamChat(context.Background(), []message.Message{{Role: message.RoleUser, Text: "hi"}}, ""))

	require.Len(t, chunks, 2)
	assert.Equal(t, "partial", chunks[0].Content)
	assert.True(t, chunks[1].Done)
}

func TestAnthropicProvider_IsConfigured(t *testing.T) {
	withKey := NewAnthropicProvider("a", "m", "k", "", nil)
	assert.True(t, withKey.IsConfigured())

	withoutKey := NewAnthropicProvider("a", "m", "", "", nil)
	assert.False(t, withoutKey.IsConfigured())
}
