package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kea-dev/kea/internal/message"
	"github.com/kea-dev/kea/internal/provider"
	"github.com/kea-dev/kea/internal/sse"
)

const (
	// stepTimeoutMultiplier scales provider_timeout into the base per-stage
	// timeout, before the free-tier multiplier is applied.
	stepTimeoutMultiplier = 2
	// stageStaggerDelay spaces out provider starts within a stage to reduce
	// burst rate-limit pressure.
	stageStaggerDelay = 150 * time.Millisecond
	// maxRetryAttempts bounds how many times a free-tier provider is retried
	// after a failure, within one stage.
	maxRetryAttempts = 1
	// retryBaseDelay is the base of the exponential retry backoff, in seconds.
	retryBaseDelay = 2.0
)

type streamEventKind string

const (
	kindChunk streamEventKind = "chunk"
	kindDone  streamEventKind = "done"
	kindError streamEventKind = "error"
)

// streamEvent is one item on a stage's inbound channel: a chunk of content,
// a completed response, or an error, always tagged with which provider it
// came from and whether it came from a retry attempt.
type streamEvent struct {
	kind     streamEventKind
	provider string
	data     string
	isRetry  bool
}

// stageConfig describes one of stages 1-3's prompt and event naming; the
// parse-and-store step is supplied separately since its record type differs
// per stage.
type stageConfig struct {
	stepNum     int
	prompt      string
	eventPrefix string
	errorKey    string
}

// parseAndStoreFunc parses one provider's raw full response, stores the
// result on the orchestrator's state, and returns the done-event payload
// plus whether the record counts as successful in runStage's returned count.
// The minimum-providers gate after stages 1 and 2 counts stored records.
type parseAndStoreFunc func(providerName, raw string) (doneData map[string]any, success bool)

// providerTimeout computes the per-provider timeout for one stage: free-tier
// providers get a 3x multiplier to account for slower, rate-limited
// responses; everyone else gets 1x.
func (o *Orchestrator) providerTimeout(p provider.Provider) time.Duration {
	base := time.Duration(o.providerTimeoutSeconds) * stepTimeoutMultiplier * time.Second
	if p.FreeTier() {
		return base * 3
	}
	return base
}

// runStage runs every provider in providers concurrently against one
// prompt, staggering starts by stageStaggerDelay, retrying free-tier
// failures once with exponential backoff, and emitting chunk/done/error/
// retry events as they occur. It returns how many providers produced a
// record counted as successful by parseAndStore.
//
// Outstanding work (the initial attempt per provider, plus any retries) is
// tracked as a plain count owned exclusively by this loop, not a
// sync.WaitGroup closed from a sibling goroutine: a retry is scheduled from
// inside this same loop after the erroring worker has already returned, so
// a WaitGroup's counter could reach zero — and a sibling closer fire
// close(inbound) — in the window between the original worker's wg.Done()
// and the retry's wg.Add(1), panicking the retry's send on a closed
// channel. Counting here instead means the increment for a retry and the
// decrement for its originating error are the same goroutine, in the same
// step, with no such window.
func (o *Orchestrator) runStage(ctx context.Context, providers []provider.Provider, messages []message.Message, cfg stageConfig, parseAndStore parseAndStoreFunc, emit func(sse.Event)) int {
	stageStart := time.Now()
	inbound := make(chan streamEvent)

	go func() {
		for idx, p := range providers {
			if idx > 0 {
				select {
				case <-time.After(stageStaggerDelay):
				case <-ctx.Done():
				}
			}
			go func(p provider.Provider) {
				o.collectWithTimeout(ctx, p, cfg, messages, false, inbound)
			}(p)
		}
	}()

	retryCounts := make(map[string]int)
	successCount := 0
	outstanding := len(providers)

	for outstanding > 0 {
		evt := <-inbound
		switch evt.kind {
		case kindChunk:
			emit(sse.Event{Name: cfg.eventPrefix + "_chunk", Data: map[string]any{
				"provider": evt.provider,
				"content":  evt.data,
			}})

		case kindDone:
			doneData, success := parseAndStore(evt.provider, evt.data)
			if success {
				successCount++
			}
			emit(sse.Event{Name: cfg.eventPrefix + "_done", Data: doneData})
			outstanding--

		case kindError:
			p := o.providersByName[evt.provider]
			retryCount := retryCounts[evt.provider]
			shouldRetry := p != nil && p.FreeTier() && retryCount < maxRetryAttempts && !evt.isRetry

			if o.metrics != nil {
				o.metrics.ProviderErrors.WithLabelValues(evt.provider, cfg.eventPrefix).Inc()
			}

			if shouldRetry {
				retryCounts[evt.provider] = retryCount + 1
				delay := retryBaseDelay * math.Pow(2, float64(retryCount))

				if o.metrics != nil {
					o.metrics.ProviderRetries.WithLabelValues(evt.provider, cfg.eventPrefix).Inc()
				}

				emit(sse.Event{Name: cfg.eventPrefix + "_retry", Data: map[string]any{
					"provider": evt.provider,
					"attempt":  retryCount + 1,
					"delay":    delay,
				}})

				// The retry replaces this error as the provider's pending
				// terminal event; the decrement below balances it.
				outstanding++
				go func(p provider.Provider, delay float64) {
					select {
					case <-time.After(time.Duration(delay * float64(time.Second))):
					case <-ctx.Done():
						inbound <- streamEvent{kind: kindError, provider: p.Name(), data: "cancelled before retry", isRetry: true}
						return
					}
					o.collectWithTimeout(ctx, p, cfg, messages, true, inbound)
				}(p, delay)
			} else {
				o.state.Errors[cfg.errorKey] = append(o.state.Errors[cfg.errorKey], fmt.Sprintf("%s: %s", evt.provider, evt.data))
				emit(sse.Event{Name: cfg.eventPrefix + "_error", Data: map[string]any{
					"provider": evt.provider,
					"error":    evt.data,
				}})
			}
			outstanding--
		}
	}

	if o.metrics != nil {
		o.metrics.StageDuration.WithLabelValues(cfg.eventPrefix).Observe(time.Since(stageStart).Seconds())
	}
	return successCount
}

// collectWithTimeout streams one provider under a per-provider timeout
// derived from providerTimeout, forwarding chunk/done/error events onto
// inbound. The registry's active-stream counter is incremented and
// decremented around every attempt, including retries.
//
// The terminal event (done or error) is always delivered with a plain
// blocking send, never dropped: runStage's consumer loop counts one
// outstanding unit of work per launch and only stops reading once every
// unit's terminal event has arrived, so the consumer is guaranteed to
// still be listening. A chunk, by contrast, is fine to drop once the run
// is cancelled — it carries no accounting obligation.
func (o *Orchestrator) collectWithTimeout(ctx context.Context, p provider.Provider, cfg stageConfig, messages []message.Message, isRetry bool, inbound chan<- streamEvent) {
	timeout := o.providerTimeout(p)
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	o.registry.StreamStarted()
	defer o.registry.StreamEnded()
	if o.metrics != nil {
		o.metrics.ActiveStreams.Inc()
		defer o.metrics.ActiveStreams.Dec()
	}

	var full strings.Builder
	chunks := p.StreamChat(stepCtx, messages, cfg.prompt)

	for chunk := range chunks {
		if chunk.Err != nil {
			inbound <- streamEvent{kind: kindError, provider: p.Name(), data: chunk.Err.Error(), isRetry: isRetry}
			return
		}
		if chunk.Done {
			inbound <- streamEvent{kind: kindDone, provider: p.Name(), data: full.String(), isRetry: isRetry}
			return
		}
		full.WriteString(chunk.Content)
		sendEvent(ctx, inbound, streamEvent{kind: kindChunk, provider: p.Name(), data: chunk.Content, isRetry: isRetry})
	}

	// The stream ended without a Done or Err chunk: the per-provider
	// deadline fired and the adapter's goroutine gave up mid-stream.
	if stepCtx.Err() != nil {
		inbound <- streamEvent{
			kind: kindError, provider: p.Name(),
			data: fmt.Sprintf("timeout after %s", timeout), isRetry: isRetry,
		}
	}
}

// sendEvent delivers e on ch unless the run's outer context has already
// been cancelled, in which case it is dropped: no events are emitted after
// cancellation. Only used for chunk events, which carry no outstanding-work
// accounting and are safe to lose.
func sendEvent(ctx context.Context, ch chan<- streamEvent, e streamEvent) {
	select {
	case ch <- e:
	case <-ctx.Done():
	}
}
