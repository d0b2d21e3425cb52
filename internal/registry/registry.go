// Package registry holds the set of configured LLM providers and tracks how
// many streams are in flight, so shutdown can wait for them to drain before
// closing provider HTTP clients out from under a running request.
package registry

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/atomic"

	"github.com/kea-dev/kea/internal/provider"
)

// cleanupTimeout bounds how long Cleanup waits for in-flight streams to
// finish before closing providers anyway.
const cleanupTimeout = 10 * time.Second

// cleanupPollInterval is how often Cleanup rechecks the active-stream count
// while waiting out cleanupTimeout.
const cleanupPollInterval = 100 * time.Millisecond

// Registry is the central lookup for configured providers. It is built once
// from a set of descriptors and then read concurrently by the orchestrator;
// while it serves runs, the only mutable state is the active-stream counter,
// which is safe for concurrent use via atomic.Int64. Cleanup empties the
// provider map and is not safe to call concurrently with other methods.
type Registry struct {
	providers     map[string]provider.Provider
	order         []string
	activeStreams atomic.Int64
	logger        *slog.Logger
}

// Builder constructs a Provider from a Descriptor for one wire Kind.
type Builder func(d provider.Descriptor) provider.Provider

// defaultBuilders maps each wire kind to its adapter constructor. Descriptors
// with an unrecognised Kind are skipped during New.
func defaultBuilders() map[provider.Kind]Builder {
	return map[provider.Kind]Builder{
		provider.KindAnthropicMessages: func(d provider.Descriptor) provider.Provider {
			return provider.NewAnthropicProvider(d.Name, d.Model, d.APIKey, d.BaseURL, nil)
		},
		provider.KindGoogleGenerateContent: func(d provider.Descriptor) provider.Provider {
			return provider.NewGoogleProvider(d.Name, d.Model, d.APIKey, d.BaseURL, nil)
		},
		provider.KindOpenAIChat: func(d provider.Descriptor) provider.Provider {
			return provider.NewOpenAIProvider(d.Name, d.Model, d.APIKey, d.BaseURL, nil)
		},
		provider.KindOpenRouterChat: func(d provider.Descriptor) provider.Provider {
			return provider.NewOpenRouterProvider(d.Name, d.Model, d.APIKey, nil)
		},
		provider.KindOpenAICompatibleChat: func(d provider.Descriptor) provider.Provider {
			return provider.NewOpenAICompatibleProvider(d.Name, d.Model, d.APIKey, d.BaseURL, nil)
		},
	}
}

// New builds a Registry from descriptors loaded from config. A descriptor is
// skipped — logged, never fatal — when its Kind is unrecognised, or when it
// carries no API key and its Kind is not openai-compatible-chat (the only
// wire kind that can legitimately run unauthenticated, against a local
// server).
func New(descriptors []provider.Descriptor, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	builders := defaultBuilders()

	r := &Registry{
		providers: make(map[string]provider.Provider, len(descriptors)),
		logger:    logger,
	}

	for _, d := range descriptors {
		build, ok := builders[d.Kind]
		if !ok {
			logger.Warn("skipping provider with unknown kind", "provider", d.Name, "kind", d.Kind)
			continue
		}
		if d.APIKey == "" && d.Kind != provider.KindOpenAICompatibleChat {
			logger.Warn("skipping unconfigured provider", "provider", d.Name, "kind", d.Kind)
			continue
		}
		p := build(d)
		r.providers[d.Name] = p
		r.order = append(r.order, d.Name)
		logger.Info("registered provider", "provider", d.Name, "kind", d.Kind, "model", d.Model)
	}

	return r
}

// Get looks up a single provider by its configured name.
func (r *Registry) Get(name string) (provider.Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// ListActive returns every registered provider that reports itself
// configured, in the order descriptors were passed to New — so label
// assignment (A, B, C...) is stable across runs of the same config rather
// than following Go's randomised map iteration.
func (r *Registry) ListActive() []provider.Provider {
	active := make([]provider.Provider, 0, len(r.providers))
	for _, name := range r.order {
		p := r.providers[name]
		if p.IsConfigured() {
			active = append(active, p)
		}
	}
	return active
}

// StreamStarted records that a provider stream has begun. Call once per
// stream, paired with a deferred StreamEnded.
func (r *Registry) StreamStarted() {
	r.activeStreams.Inc()
}

// StreamEnded records that a provider stream has finished.
func (r *Registry) StreamEnded() {
	r.activeStreams.Dec()
}

// ActiveStreamCount reports the number of in-flight provider streams.
func (r *Registry) ActiveStreamCount() int64 {
	return r.activeStreams.Load()
}

// Cleanup waits for in-flight streams to drain, up to cleanupTimeout, then
// closes every provider's HTTP client. A provider that is still streaming
// when the timeout elapses is closed anyway, mirroring how the original
// cleanup proceeds after logging a warning rather than blocking forever.
func (r *Registry) Cleanup(ctx context.Context) {
	deadline := time.Now().Add(cleanupTimeout)
	ticker := time.NewTicker(cleanupPollInterval)
	defer ticker.Stop()

waitLoop:
	for r.activeStreams.Load() > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break waitLoop
		case <-ticker.C:
		}
	}

	if n := r.activeStreams.Load(); n > 0 {
		r.logger.Warn("cleanup timeout with streams still active", "active_streams", n)
	}

	for name, p := range r.providers {
		p.Close()
		delete(r.providers, name)
	}
}
