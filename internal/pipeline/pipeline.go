// Package pipeline sequences the four-stage Knowledge Ensemble Aggregation
// run: independent answers, mixture-of-agents refinement, peer evaluation,
// and a synthesized final answer from an elected synthesizer.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/kea-dev/kea/internal/message"
	"github.com/kea-dev/kea/internal/metrics"
	"github.com/kea-dev/kea/internal/parse"
	"github.com/kea-dev/kea/internal/provider"
	"github.com/kea-dev/kea/internal/registry"
	"github.com/kea-dev/kea/internal/sse"
)

// defaultMinProviders is how many successful records a stage needs after
// stage 1 or stage 2 for the pipeline to continue, absent config override.
const defaultMinProviders = 2

// defaultProviderTimeoutSeconds is the base per-provider timeout used when
// config leaves provider_timeout_seconds unset.
const defaultProviderTimeoutSeconds = 60

// Orchestrator runs one pipeline to completion against a fixed set of
// providers drawn from the registry. A fresh Orchestrator (or at least a
// fresh State) is needed per run — state is owned exclusively by the
// goroutine driving RunPipeline.
type Orchestrator struct {
	providers        []provider.Provider
	providersByName  map[string]provider.Provider
	minProviders     int
	providerTimeoutSeconds int
	registry         *registry.Registry
	metrics          *metrics.Metrics
	logger           *slog.Logger

	state *State
}

// New builds an Orchestrator over the registry's active providers.
func New(reg *registry.Registry, providerTimeoutSeconds, minProviders int, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	if minProviders <= 0 {
		minProviders = defaultMinProviders
	}
	if providerTimeoutSeconds <= 0 {
		providerTimeoutSeconds = defaultProviderTimeoutSeconds
	}
	if logger == nil {
		logger = slog.Default()
	}

	active := reg.ListActive()
	byName := make(map[string]provider.Provider, len(active))
	for _, p := range active {
		byName[p.Name()] = p
	}

	return &Orchestrator{
		providers:              active,
		providersByName:        byName,
		minProviders:           minProviders,
		providerTimeoutSeconds: providerTimeoutSeconds,
		registry:               reg,
		metrics:                m,
		logger:                 logger,
	}
}

// RunPipeline runs all four stages and streams every event on the returned
// channel, which is closed when the run ends (whether by completion or by
// an early, minimum-providers-gated stop). The caller should range over the
// channel and stop consuming to cancel the run via ctx.
func (o *Orchestrator) RunPipeline(ctx context.Context, messages []message.Message, question string) <-chan sse.Event {
	out := make(chan sse.Event)

	go func() {
		defer close(out)
		emit := func(e sse.Event) {
			select {
			case out <- e:
			case <-ctx.Done():
			}
		}

		if o.metrics != nil {
			o.metrics.PipelinesStarted.Inc()
		}

		o.state = newState(question)
		names := make([]string, len(o.providers))
		for i, p := range o.providers {
			names[i] = p.Name()
		}
		o.state.assignLabels(names)

		o.runStage1(ctx, messages, emit)
	}()

	return out
}

// runStage1 runs stage 1 (with vision filtering), gates on minProviders,
// then continues into the rest of the pipeline, or stops with a terminal
// summary.
func (o *Orchestrator) runStage1(ctx context.Context, messages []message.Message, emit func(sse.Event)) {
	emit(sse.Event{Name: "step_start", Data: map[string]any{"provider": "system", "step": 1, "name": "Initial Responses"}})
	o.state.CurrentStep = 1

	stage1Providers := o.providers
	if anyHasImages(messages) {
		visionProviders := make([]provider.Provider, 0, len(o.providers))
		for _, p := range o.providers {
			if p.SupportsVision() {
				visionProviders = append(visionProviders, p)
			}
		}
		if len(visionProviders) == 0 {
			emit(sse.Event{Name: "error", Data: map[string]any{
				"provider": "system",
				"message":  "No vision-capable providers available for image analysis",
			}})
			return
		}
		o.logger.Info("image detected, restricting stage 1 to vision-capable providers",
			"vision_provider_count", len(visionProviders))
		stage1Providers = visionProviders
	}

	cfg := stageConfig{stepNum: 1, prompt: step1Prompt, eventPrefix: "step1", errorKey: "step1"}
	o.runStage(ctx, stage1Providers, messages, cfg, o.parseAndStoreStep1, emit)

	emit(sse.Event{Name: "step_complete", Data: map[string]any{
		"provider": "system", "step": 1, "count": len(o.state.Step1Responses),
	}})

	if len(o.state.Step1Responses) < o.minProviders {
		o.failMinProviders(1, emit)
		return
	}

	textOnly := projectTextOnly(messages)
	o.runStage2(ctx, textOnly, emit)
}

func (o *Orchestrator) runStage2(ctx context.Context, messages []message.Message, emit func(sse.Event)) {
	emit(sse.Event{Name: "step_start", Data: map[string]any{"provider": "system", "step": 2, "name": "MoA Refinement"}})
	o.state.CurrentStep = 2

	context2 := buildStep2Context(o.state.Question, o.providers, o.state.Step1Responses, o.state.ProviderToLabel)
	augmented := appendContextTurn(messages, context2)

	cfg := stageConfig{stepNum: 2, prompt: step2Prompt, eventPrefix: "step2", errorKey: "step2"}
	o.runStage(ctx, o.providers, augmented, cfg, o.parseAndStoreStep2, emit)

	emit(sse.Event{Name: "step_complete", Data: map[string]any{
		"provider": "system", "step": 2, "count": len(o.state.Step2Responses),
	}})

	if len(o.state.Step2Responses) < o.minProviders {
		o.failMinProviders(2, emit)
		return
	}

	o.runStage3(ctx, messages, emit)
}

func (o *Orchestrator) runStage3(ctx context.Context, messages []message.Message, emit func(sse.Event)) {
	emit(sse.Event{Name: "step_start", Data: map[string]any{"provider": "system", "step": 3, "name": "Peer Evaluation"}})
	o.state.CurrentStep = 3

	context3 := buildStep3Context(o.state.Question, o.providers, o.state.Step2Responses, o.state.ProviderToLabel)
	augmented := appendContextTurn(messages, context3)

	cfg := stageConfig{stepNum: 3, prompt: step3Prompt, eventPrefix: "step3", errorKey: "step3"}
	count := o.runStage(ctx, o.providers, augmented, cfg, o.parseAndStoreStep3, emit)

	emit(sse.Event{Name: "step_complete", Data: map[string]any{
		"provider": "system", "step": 3, "count": count,
	}})

	o.runStage4(ctx, messages, emit)
}

func (o *Orchestrator) runStage4(ctx context.Context, messages []message.Message, emit func(sse.Event)) {
	emit(sse.Event{Name: "step_start", Data: map[string]any{"provider": "system", "step": 4, "name": "KEA Synthesis"}})
	o.state.CurrentStep = 4

	synthesizer := selectSynthesizer(o.state, o.providers, o.providersByName)
	if synthesizer == nil {
		emit(sse.Event{Name: "step4_error", Data: map[string]any{"provider": "pipeline", "error": "No synthesizer available"}})
		o.complete(emit)
		return
	}

	emit(sse.Event{Name: "step4_synthesizer", Data: map[string]any{
		"provider": synthesizer.Name(),
		"label":    o.state.ProviderToLabel[synthesizer.Name()],
	}})

	context4 := buildStep4Context(o.state.Question, o.providers, o.state.Step2Responses, o.state.Step3Responses, o.state.ProviderToLabel)
	augmented := appendContextTurn(messages, context4)

	inbound := make(chan streamEvent)
	cfg := stageConfig{stepNum: 4, prompt: step4Prompt, eventPrefix: "step4", errorKey: "step4"}
	go func() {
		defer close(inbound)
		o.collectWithTimeout(ctx, synthesizer, cfg, augmented, false, inbound)
	}()

	for evt := range inbound {
		switch evt.kind {
		case kindChunk:
			emit(sse.Event{Name: "step4_chunk", Data: map[string]any{"provider": evt.provider, "content": evt.data}})
		case kindDone:
			resp := parse.ParseStep4Response(evt.provider, evt.data, o.logger)
			o.state.Step4Response = &resp
			emit(sse.Event{Name: "step4_done", Data: map[string]any{
				"provider":     evt.provider,
				"success":      true,
				"final_answer": resp.FinalAnswer,
				"confidence":   resp.Confidence,
			}})
		case kindError:
			if o.metrics != nil {
				o.metrics.ProviderErrors.WithLabelValues(evt.provider, "step4").Inc()
			}
			emit(sse.Event{Name: "step4_error", Data: map[string]any{"provider": evt.provider, "error": evt.data}})
		}
	}

	emit(sse.Event{Name: "step_complete", Data: map[string]any{
		"provider": "system", "step": 4, "has_response": o.state.Step4Response != nil,
	}})

	o.complete(emit)
}

func (o *Orchestrator) complete(emit func(sse.Event)) {
	emit(sse.Event{Name: "pipeline_complete", Data: o.state.summary()})
}

func (o *Orchestrator) failMinProviders(step int, emit func(sse.Event)) {
	var count int
	switch step {
	case 1:
		count = len(o.state.Step1Responses)
	case 2:
		count = len(o.state.Step2Responses)
	}
	if o.metrics != nil {
		o.metrics.PipelinesFailed.WithLabelValues("insufficient_providers").Inc()
	}
	emit(sse.Event{Name: "error", Data: map[string]any{
		"provider": "pipeline",
		"message":  insufficientProvidersMessage(step, count, o.minProviders),
	}})
	o.complete(emit)
}
