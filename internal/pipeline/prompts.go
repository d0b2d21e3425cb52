package pipeline

import (
	"fmt"
	"strings"

	"github.com/kea-dev/kea/internal/parse"
	"github.com/kea-dev/kea/internal/provider"
)

// providerLabels assigns anonymous letters to providers in stage order, the
// same way every peer-facing prompt refers to "Response A", "Response B", ...
// instead of a real provider name.
const providerLabels = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// step1Prompt asks each provider for an independent answer plus a
// confidence score and the atomic facts it relied on.
const step1Prompt = `Answer the user's question directly and thoroughly.

Respond with a single JSON object and nothing else, in this exact shape:
{"answer": "<your answer>", "confidence": <0.0-1.0>, "atomic_facts": ["<fact 1>", "<fact 2>"]}

"atomic_facts" should list the individual factual claims your answer depends on, each as its own short string.`

// step2Prompt asks each provider to revise its answer after seeing every
// other provider's stage-1 response (mixture-of-agents refinement).
const step2Prompt = `You have been shown the independent answers every participating model gave to the same question, each labelled with a letter.

Write an improved answer that incorporates the strongest points from all of them and corrects anything you believe is wrong.

Respond with a single JSON object and nothing else, in this exact shape:
{"improved_answer": "<your improved answer>", "confidence": <0.0-1.0>, "improvements": ["<what you changed and why>", "..."]}`

// step3Prompt asks each provider to rank the stage-2 answers, predict which
// one will be judged best overall, and flag or confirm individual facts.
const step3Prompt = `You have been shown the refined answers from every participating model, each labelled with a letter.

Rank the answers from best to worst by their letter, predict which letter you think the other evaluators will rank first, score each answer from 1 to 10 with strengths and weaknesses, and flag any facts you believe are questionable along with any facts you believe are well-supported by consensus.

Respond with a single JSON object and nothing else, in this exact shape:
{"ranking": ["<letter>", "..."], "predicted_winner": "<letter>", "evaluations": {"<letter>": {"score": <1-10>, "strengths": "<text>", "weaknesses": "<text>"}}, "flagged_facts": ["<questionable claim>"], "consensus_facts": ["<well-supported claim>"]}`

// step4Prompt asks the elected synthesizer to produce the final answer,
// drawing on the refined answers, the peer rankings, and the flagged and
// consensus facts accumulated across the ensemble.
const step4Prompt = `You have been elected, by the other participating models, to write the final answer on behalf of the ensemble.

You have been shown every model's refined answer, how the evaluators ranked them, and which facts were flagged as questionable or confirmed by consensus.

Write the best possible final answer, using markdown formatting where it helps readability. Note which sources (letters) you drew on most heavily and which you chose to exclude and why.

Respond with a single JSON object and nothing else, in this exact shape:
{"final_answer": "<your final answer, markdown>", "confidence": <0.0-1.0>, "sources_used": ["<letter>", "..."], "excluded": ["<letter: reason>", "..."]}`

// buildStep2Context renders an anonymised dump of every stage-1 record for
// the stage-2 augmented user turn. Providers are walked in the orchestrator's
// fixed configuration order, not responses' map order, so the rendered
// prompt text is identical across runs of the same config.
func buildStep2Context(question string, providers []provider.Provider, responses map[string]parse.Step1Response, providerToLabel map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original question: %s\n\n", question)
	b.WriteString("Independent answers from each model:\n\n")

	for _, p := range providers {
		resp, ok := responses[p.Name()]
		if !ok {
			continue
		}
		label := providerToLabel[p.Name()]
		fmt.Fprintf(&b, "Response %s (confidence %.2f):\n%s\n", label, resp.Confidence, resp.Answer)
		if len(resp.AtomicFacts) > 0 {
			fmt.Fprintf(&b, "Key facts: %s\n", strings.Join(resp.AtomicFacts, "; "))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// buildStep3Context renders an anonymised dump of every stage-2 record for
// the stage-3 augmented user turn, in configuration order.
func buildStep3Context(question string, providers []provider.Provider, responses map[string]parse.Step2Response, providerToLabel map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original question: %s\n\n", question)
	b.WriteString("Refined answers from each model:\n\n")

	for _, p := range providers {
		resp, ok := responses[p.Name()]
		if !ok {
			continue
		}
		label := providerToLabel[p.Name()]
		fmt.Fprintf(&b, "Response %s (confidence %.2f):\n%s\n", label, resp.Confidence, resp.ImprovedAnswer)
		if len(resp.Improvements) > 0 {
			fmt.Fprintf(&b, "Changes made: %s\n", strings.Join(resp.Improvements, "; "))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// buildStep4Context renders the material the synthesizer needs: all stage-2
// answers, every evaluator's ranking, and the union of flagged and
// consensus facts, all walked in configuration order.
func buildStep4Context(question string, providers []provider.Provider, step2 map[string]parse.Step2Response, step3 map[string]parse.Step3Response, providerToLabel map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original question: %s\n\n", question)

	b.WriteString("Refined answers from each model:\n\n")
	for _, p := range providers {
		resp, ok := step2[p.Name()]
		if !ok {
			continue
		}
		label := providerToLabel[p.Name()]
		fmt.Fprintf(&b, "Response %s:\n%s\n\n", label, resp.ImprovedAnswer)
	}

	b.WriteString("Evaluator rankings:\n")
	for _, p := range providers {
		resp, ok := step3[p.Name()]
		if !ok {
			continue
		}
		label := providerToLabel[p.Name()]
		if len(resp.Ranking) > 0 {
			fmt.Fprintf(&b, "- Evaluator %s ranked: %s\n", label, strings.Join(resp.Ranking, " > "))
		}
	}

	flagged := collectUnique(providers, step3, func(r parse.Step3Response) []string { return r.FlaggedFacts })
	if len(flagged) > 0 {
		fmt.Fprintf(&b, "\nFlagged facts: %s\n", strings.Join(flagged, "; "))
	}

	consensus := collectUnique(providers, step3, func(r parse.Step3Response) []string { return r.ConsensusFacts })
	if len(consensus) > 0 {
		fmt.Fprintf(&b, "\nConsensus facts: %s\n", strings.Join(consensus, "; "))
	}

	return b.String()
}

// collectUnique flattens a field across every stage-3 record, walking
// providers in configuration order and keeping first-occurrence order within
// each record, dropping duplicates across the whole pass.
func collectUnique(providers []provider.Provider, step3 map[string]parse.Step3Response, field func(parse.Step3Response) []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range providers {
		resp, ok := step3[p.Name()]
		if !ok {
			continue
		}
		for _, item := range field(resp) {
			if !seen[item] {
				seen[item] = true
				out = append(out, item)
			}
		}
	}
	return out
}
