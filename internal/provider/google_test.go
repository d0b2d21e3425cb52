package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kea-dev/kea/internal/message"
)

func TestGoogleProvider_StreamChat_ExtractsTextAndSynthesizesDone(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q, _ := url.ParseQuery(r.URL.RawQuery)
		gotKey = q.Get("key")
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: "+`{"candidates":[{"content":{"parts":[{"text":"Paris"}]}}]}`+"\n\n")
		io.WriteString(w, "data: "+`{"candidates":[{"content":{"parts":[{"text":" is the capital"}]}}]}`+"\n\n")
	}))
	defer srv.Close()

	p := NewGoogleProvider("gemini", "gemini-2.0-flash", "test-key", srv.URL, srv.Client())
	chunks := drainChunks(t, p.StreamChat(context.Background(), []message.Message{{Role: message.RoleUser, Text: "capital of france?"}}, ""))

	require.Len(t, chunks, 3)
	assert.Equal(t, "Paris", chunks[0].Content)
	assert.Equal(t, " is the capital", chunks[1].Content)
	assert.True(t, chunks[2].Done)
	assert.Equal(t, "test-key", gotKey)
}

func TestGoogleProvider_StreamChat_NonOKStatusEmitsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewGoogleProvider("gemini", "m", "k", srv.URL, srv.Client())
	chunks := drainChunks(t, p.StreamChat(context.Background(), []message.Message{{Role: message.RoleUser, Text: "hi"}}, ""))

	require.Len(t, chunks, 1)
	require.Error(t, chunks[0].Err)
}

func TestGoogleProvider_StreamChat_SkipsEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: "+`{"candidates":[]}`+"\n\n")
		io.WriteString(w, "data: "+`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`+"\n\n")
	}))
	defer srv.Close()

	p := NewGoogleProvider("gemini", "m", "k", srv.URL, srv.Client())
	chunks := drainChunks(t, p.StreamChat(context.Background(), []message.Message{{Role: message.RoleUser, Text: "hi"}}, ""))

	require.Len(t, chunks, 2)
	assert.Equal(t, "ok", chunks[0].Content)
	assert.True(t, chunks[1].Done)
}
