package parse

import "log/slog"

// ProviderEvaluation is one evaluator's scoring of a single ranked answer.
type ProviderEvaluation struct {
	Score       int    `json:"score"`
	Strengths   string `json:"strengths"`
	Weaknesses  string `json:"weaknesses"`
}

// Step1Response is stage 1's per-provider record: an independent answer.
type Step1Response struct {
	Provider     string   `json:"provider"`
	Answer       string   `json:"answer"`
	Confidence   float64  `json:"confidence"`
	AtomicFacts  []string `json:"atomic_facts"`
	RawResponse  string   `json:"-"`
}

// Step2Response is stage 2's per-provider record: a refined answer.
type Step2Response struct {
	Provider     string   `json:"provider"`
	ImprovedAnswer string `json:"improved_answer"`
	Confidence   float64  `json:"confidence"`
	Improvements []string `json:"improvements"`
	RawResponse  string   `json:"-"`
}

// Step3Response is stage 3's per-provider record: a peer evaluation.
type Step3Response struct {
	Provider        string                         `json:"provider"`
	Ranking         []string                       `json:"ranking"`
	PredictedWinner string                         `json:"predicted_winner"`
	Evaluations     map[string]ProviderEvaluation  `json:"evaluations"`
	FlaggedFacts    []string                       `json:"flagged_facts"`
	ConsensusFacts  []string                       `json:"consensus_facts"`
	RawResponse     string                         `json:"-"`
}

// Success reports whether this stage-3 record is usable by the synthesizer
// election: it requires a non-empty ranking. Flagged/consensus facts alone
// are not sufficient — see SPEC_FULL.md §9 open question 1.
func (r Step3Response) Success() bool {
	return len(r.Ranking) > 0
}

// Step4Response is stage 4's single record: the synthesized final answer.
type Step4Response struct {
	Provider     string   `json:"provider"`
	FinalAnswer  string   `json:"final_answer"`
	Confidence   float64  `json:"confidence"`
	SourcesUsed  []string `json:"sources_used"`
	Excluded     []string `json:"excluded"`
	RawResponse  string   `json:"-"`
}

// ParseStep1Response parses a stage-1 response, falling back to text
// salvage when no JSON object can be recovered at all.
func ParseStep1Response(provider, raw string, logger *slog.Logger) Step1Response {
	data := decodeStage(raw, provider, logger)
	if data == nil {
		logger.Warn("failed to parse step1 response", "provider", provider)
		return Step1Response{
			Provider:    provider,
			Answer:      ExtractTextFallback(raw),
			Confidence:  0.5,
			AtomicFacts: []string{},
			RawResponse: raw,
		}
	}
	return Step1Response{
		Provider:    provider,
		Answer:      CleanAnswerField(stringField(data, "answer")),
		Confidence:  floatField(data, "confidence", 0.5),
		AtomicFacts: NormalizeStringList(data["atomic_facts"], "atomic_facts", provider, logger),
		RawResponse: raw,
	}
}

// ParseStep2Response parses a stage-2 response with the same cascade.
func ParseStep2Response(provider, raw string, logger *slog.Logger) Step2Response {
	data := decodeStage(raw, provider, logger)
	if data == nil {
		logger.Warn("failed to parse step2 response", "provider", provider)
		return Step2Response{
			Provider:       provider,
			ImprovedAnswer: ExtractTextFallback(raw),
			Confidence:     0.5,
			Improvements:   []string{},
			RawResponse:    raw,
		}
	}
	return Step2Response{
		Provider:       provider,
		ImprovedAnswer: CleanAnswerField(stringField(data, "improved_answer")),
		Confidence:     floatField(data, "confidence", 0.5),
		Improvements:   NormalizeStringList(data["improvements"], "improvements", provider, logger),
		RawResponse:    raw,
	}
}

// ParseStep3Response parses a stage-3 peer evaluation. On total parse
// failure, the returned record has an empty ranking; see Step3Response.Success.
func ParseStep3Response(provider, raw string, logger *slog.Logger) Step3Response {
	data := decodeStage(raw, provider, logger)
	if data == nil {
		logger.Warn("failed to parse step3 response", "provider", provider)
		return Step3Response{
			Provider:       provider,
			Ranking:        []string{},
			Evaluations:    map[string]ProviderEvaluation{},
			FlaggedFacts:   []string{},
			ConsensusFacts: []string{},
			RawResponse:    raw,
		}
	}

	evaluations := map[string]ProviderEvaluation{}
	if raw, ok := data["evaluations"].(map[string]any); ok {
		for label, v := range raw {
			obj, ok := v.(map[string]any)
			if !ok {
				continue
			}
			evaluations[label] = ProviderEvaluation{
				Score:      intField(obj, "score", 5),
				Strengths:  NormalizeToString(obj["strengths"]),
				Weaknesses: NormalizeToString(obj["weaknesses"]),
			}
		}
	}

	var ranking []string
	if rawRanking, ok := data["ranking"].([]any); ok {
		for _, item := range rawRanking {
			if s, ok := item.(string); ok {
				ranking = append(ranking, s)
			}
		}
	}
	if ranking == nil {
		ranking = []string{}
	}

	return Step3Response{
		Provider:        provider,
		Ranking:         ranking,
		PredictedWinner: stringField(data, "predicted_winner"),
		Evaluations:     evaluations,
		FlaggedFacts:    NormalizeStringList(data["flagged_facts"], "flagged_facts", provider, logger),
		ConsensusFacts:  NormalizeStringList(data["consensus_facts"], "consensus_facts", provider, logger),
		RawResponse:     raw,
	}
}

// ParseStep4Response parses the synthesizer's stage-4 output.
func ParseStep4Response(provider, raw string, logger *slog.Logger) Step4Response {
	data := decodeStage(raw, provider, logger)
	if data == nil {
		logger.Warn("failed to parse step4 response", "provider", provider)
		return Step4Response{
			Provider:    provider,
			FinalAnswer: ExtractTextFallback(raw),
			Confidence:  0.5,
			SourcesUsed: []string{},
			Excluded:    []string{},
			RawResponse: raw,
		}
	}
	return Step4Response{
		Provider:    provider,
		FinalAnswer: CleanAnswerField(stringField(data, "final_answer")),
		Confidence:  floatField(data, "confidence", 0.5),
		SourcesUsed: NormalizeStringList(data["sources_used"], "sources_used", provider, logger),
		Excluded:    NormalizeStringList(data["excluded"], "excluded", provider, logger),
		RawResponse: raw,
	}
}
