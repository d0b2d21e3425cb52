package pipeline

import (
	"fmt"

	"github.com/kea-dev/kea/internal/message"
	"github.com/kea-dev/kea/internal/parse"
)

// anyHasImages reports whether any message in the conversation carries an
// image part.
func anyHasImages(messages []message.Message) bool {
	for _, m := range messages {
		if message.HasImages(m) {
			return true
		}
	}
	return false
}

// projectTextOnly strips images from every user message, leaving
// assistant/system turns untouched. Used once, after stage 1, so stages
// 2-4 never re-send image bytes.
func projectTextOnly(messages []message.Message) []message.Message {
	out := make([]message.Message, len(messages))
	for i, m := range messages {
		if m.Role == message.RoleUser {
			out[i] = message.ExtractTextOnly(m)
		} else {
			out[i] = m
		}
	}
	return out
}

// appendContextTurn appends an anonymised dump of a prior stage's records
// as one more user turn, the way each stage augments the conversation
// before sending it to the next.
func appendContextTurn(messages []message.Message, context string) []message.Message {
	out := make([]message.Message, len(messages), len(messages)+1)
	copy(out, messages)
	return append(out, message.Message{Role: message.RoleUser, Text: context})
}

// insufficientProvidersMessage renders the pipeline-level error message for
// a stage that didn't clear the minimum-providers gate.
func insufficientProvidersMessage(step, count, minProviders int) string {
	return fmt.Sprintf("Not enough Step %d responses (%d/%d)", step, count, minProviders)
}

// parseAndStoreStep1 parses a stage-1 record and stores it on state. A
// record that reaches "done" always counts as successful: the tolerant
// parser never fails outright, it falls back to salvaged text.
func (o *Orchestrator) parseAndStoreStep1(providerName, raw string) (map[string]any, bool) {
	resp := parse.ParseStep1Response(providerName, raw, o.logger)
	o.state.Step1Responses[providerName] = resp
	return map[string]any{
		"provider":    providerName,
		"success":     true,
		"confidence":  resp.Confidence,
		"facts_count": len(resp.AtomicFacts),
	}, true
}

// parseAndStoreStep2 parses a stage-2 record and stores it on state.
func (o *Orchestrator) parseAndStoreStep2(providerName, raw string) (map[string]any, bool) {
	resp := parse.ParseStep2Response(providerName, raw, o.logger)
	o.state.Step2Responses[providerName] = resp
	return map[string]any{
		"provider":   providerName,
		"success":    true,
		"confidence": resp.Confidence,
		"parsed": map[string]any{
			"improved_answer": resp.ImprovedAnswer,
			"confidence":       resp.Confidence,
			"improvements":     resp.Improvements,
		},
	}, true
}

// parseAndStoreStep3 parses a stage-3 record and stores it on state.
// Success requires a non-empty ranking, since stage 3 is the only stage
// whose downstream use (synthesizer election) depends on structured fields
// rather than salvageable text.
func (o *Orchestrator) parseAndStoreStep3(providerName, raw string) (map[string]any, bool) {
	resp := parse.ParseStep3Response(providerName, raw, o.logger)
	o.state.Step3Responses[providerName] = resp
	success := resp.Success()

	evaluations := make(map[string]any, len(resp.Evaluations))
	for label, e := range resp.Evaluations {
		evaluations[label] = map[string]any{
			"score":       e.Score,
			"strengths":   e.Strengths,
			"weaknesses":  e.Weaknesses,
		}
	}

	return map[string]any{
		"provider":      providerName,
		"success":       success,
		"ranking":       resp.Ranking,
		"flagged_count": len(resp.FlaggedFacts),
		"parsed": map[string]any{
			"ranking":          resp.Ranking,
			"predicted_winner": resp.PredictedWinner,
			"evaluations":      evaluations,
			"flagged_facts":    resp.FlaggedFacts,
			"consensus_facts":  resp.ConsensusFacts,
		},
	}, success
}
