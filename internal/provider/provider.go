// Package provider implements the uniform streaming-chat interface over the
// five supported LLM wire protocols, translating the universal multimodal
// message into each vendor's own wire format.
//
// Every LLM backend implements the Provider interface. The rest of the
// pipeline — registry, orchestrator — works with this unified type and
// never needs to know which vendor is actually handling a stream.
package provider

import (
	"context"
	"strings"

	"github.com/kea-dev/kea/internal/message"
)

// Kind selects which wire protocol a descriptor's adapter speaks.
type Kind string

const (
	KindAnthropicMessages     Kind = "anthropic-messages"
	KindOpenAIChat            Kind = "openai-chat"
	KindGoogleGenerateContent Kind = "google-generate-content"
	KindOpenRouterChat        Kind = "openrouter-chat"
	KindOpenAICompatibleChat  Kind = "openai-compatible-chat"
)

// Descriptor is the immutable configuration for one provider, as loaded
// from config. Registry construction turns each Descriptor into a Provider.
type Descriptor struct {
	Name    string
	Kind    Kind
	Model   string
	APIKey  string
	BaseURL string
}

// IsFreeTierModel reports whether a model id signals free-tier, rate-limited
// operation — currently only OpenRouter's ":free" suffix convention.
func IsFreeTierModel(kind Kind, model string) bool {
	return kind == KindOpenRouterChat && strings.HasSuffix(model, ":free")
}

// StreamChunk is the adapter's output unit. A stream is a finite sequence
// ending in exactly one chunk with Done=true or one chunk with a non-nil Err.
type StreamChunk struct {
	Provider string
	Content  string
	Done     bool
	Err      error
}

// Provider is the uniform interface every wire-kind adapter implements.
type Provider interface {
	// Name is the provider's configured, human-readable identifier.
	Name() string
	// SupportsVision reports whether this adapter accepts image content parts.
	SupportsVision() bool
	// FreeTier reports whether this provider should get the extended timeout
	// and retry treatment the orchestrator applies to slower, rate-limited
	// backends.
	FreeTier() bool
	// IsConfigured reports whether the adapter has what it needs to make
	// requests (normally: a non-empty API key).
	IsConfigured() bool
	// StreamChat streams a chat completion. The returned channel is closed
	// after the terminal chunk (Done or Err) is sent, or when ctx is done.
	StreamChat(ctx context.Context, messages []message.Message, systemPrompt string) <-chan StreamChunk
	// Close releases the adapter's HTTP client resources. Safe to call once.
	Close()
}
