package registry

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kea-dev/kea/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_SkipsUnconfiguredProviders(t *testing.T) {
	r := New([]provider.Descriptor{
		{Name: "claude", Kind: provider.KindAnthropicMessages, Model: "claude-x", APIKey: "sk-test"},
		{Name: "no-key", Kind: provider.KindOpenAIChat, Model: "gpt-x", APIKey: ""},
	}, testLogger())

	_, ok := r.Get("claude")
	require.True(t, ok)

	_, ok = r.Get("no-key")
	assert.False(t, ok)
}

func TestNew_SkipsUnknownKind(t *testing.T) {
	r := New([]provider.Descriptor{
		{Name: "mystery", Kind: provider.Kind("carrier-pigeon"), Model: "x", APIKey: "key"},
	}, testLogger())

	_, ok := r.Get("mystery")
	assert.False(t, ok)
}

func TestNew_OpenAICompatibleAllowedWithoutAPIKey(t *testing.T) {
	r := New([]provider.Descriptor{
		{Name: "local", Kind: provider.KindOpenAICompatibleChat, Model: "llama3", BaseURL: "http://localhost:11434/v1"},
	}, testLogger())

	p, ok := r.Get("local")
	require.True(t, ok)
	assert.True(t, p.IsConfigured())
}

func TestListActive_OnlyReturnsConfiguredProviders(t *testing.T) {
	r := New([]provider.Descriptor{
		{Name: "claude", Kind: provider.KindAnthropicMessages, Model: "claude-x", APIKey: "sk-test"},
		{Name: "gemini", Kind: provider.KindGoogleGenerateContent, Model: "gemini-x", APIKey: "gk-test"},
	}, testLogger())

	assert.Len(t, r.ListActive(), 2)
}

func TestListActive_PreservesDescriptorOrder(t *testing.T) {
	r := New([]provider.Descriptor{
		{Name: "zeta", Kind: provider.KindAnthropicMessages, Model: "claude-x", APIKey: "sk-test"},
		{Name: "alpha", Kind: provider.KindGoogleGenerateContent, Model: "gemini-x", APIKey: "gk-test"},
		{Name: "middle", Kind: provider.KindOpenAIChat, Model: "gpt-x", APIKey: "oai-test"},
	}, testLogger())

	active := r.ListActive()
	require.Len(t, active, 3)
	assert.Equal(t, "zeta", active[0].Name())
	assert.Equal(t, "alpha", active[1].Name())
	assert.Equal(t, "middle", active[2].Name())
}

func TestStreamStartedAndEnded_TracksCount(t *testing.T) {
	r := New(nil, testLogger())

	r.StreamStarted()
	r.StreamStarted()
	assert.Equal(t, int64(2), r.ActiveStreamCount())

	r.StreamEnded()
	assert.Equal(t, int64(1), r.ActiveStreamCount())
}

func TestCleanup_ReturnsImmediatelyWhenNoActiveStreams(t *testing.T) {
	r := New([]provider.Descriptor{
		{Name: "claude", Kind: provider.KindAnthropicMessages, Model: "claude-x", APIKey: "sk-test"},
	}, testLogger())

	start := time.Now()
	r.Cleanup(context.Background())
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	_, ok := r.Get("claude")
	assert.False(t, ok, "Cleanup clears the registry once every provider has been closed")
}

func TestCleanup_StopsWaitingWhenContextCancelled(t *testing.T) {
	r := New(nil, testLogger())
	r.StreamStarted()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	r.Cleanup(ctx)
	assert.Less(t, time.Since(start), 2*time.Second)
}
