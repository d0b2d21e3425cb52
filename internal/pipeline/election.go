package pipeline

import "github.com/kea-dev/kea/internal/provider"

// selectSynthesizer elects the stage-4 synthesizer using a Surprisingly
// Popular score with a 0.1-weighted Borda count added in. Exact score ties
// go to the provider that comes first in configuration order.
//
// For every stage-3 record with a non-empty ranking, the first-placed label
// contributes one actual first-place vote to its provider, every label at
// position i of a ranking of length N contributes N-i Borda points, and the
// predicted_winner label contributes one predicted first-place vote.
//
// sp_score(p) = actual_first_place(p) - predicted_first_place(p) + 0.1*borda(p)
//
// Falls back to the first provider with a stage-2 record, then the first
// configured provider, when there are no stage-3 records at all; falls back
// to the first configured provider when stage-3 records exist but none
// carries a ranking.
func selectSynthesizer(state *State, providers []provider.Provider, providersByName map[string]provider.Provider) provider.Provider {
	if len(state.Step3Responses) == 0 {
		for _, p := range providers {
			if _, ok := state.Step2Responses[p.Name()]; ok {
				return p
			}
		}
		if len(providers) > 0 {
			return providers[0]
		}
		return nil
	}

	actualFirstPlace := make(map[string]int)
	predictedFirstPlace := make(map[string]int)
	bordaScores := make(map[string]int)

	for _, resp := range state.Step3Responses {
		if len(resp.Ranking) > 0 {
			firstLabel := resp.Ranking[0]
			firstProvider := resolveLabel(state, firstLabel)
			actualFirstPlace[firstProvider]++
		}

		if resp.PredictedWinner != "" {
			predictedProvider := resolveLabel(state, resp.PredictedWinner)
			predictedFirstPlace[predictedProvider]++
		}

		numRanked := len(resp.Ranking)
		for position, label := range resp.Ranking {
			providerName := resolveLabel(state, label)
			points := numRanked - position
			bordaScores[providerName] += points
		}
	}

	if len(bordaScores) == 0 {
		if len(providers) > 0 {
			return providers[0]
		}
		return nil
	}

	// Iterate providers in their fixed configuration order, not
	// bordaScores' map order, so ties break deterministically on the
	// provider set's iteration order rather than Go's randomised map
	// iteration.
	var best string
	bestScore := 0.0
	first := true
	for _, p := range providers {
		name := p.Name()
		if _, ok := bordaScores[name]; !ok {
			continue
		}
		actual := actualFirstPlace[name]
		predicted := predictedFirstPlace[name]
		spScore := float64(actual-predicted) + 0.1*float64(bordaScores[name])
		if first || spScore > bestScore {
			best = name
			bestScore = spScore
			first = false
		}
	}

	return providersByName[best]
}

// resolveLabel maps a peer-facing letter back to the real provider name,
// passing the input through unchanged if it isn't a recognised label (a
// defensive fallback; well-formed stage-3 records only ever use assigned
// labels).
func resolveLabel(state *State, label string) string {
	if name, ok := state.LabelToProvider[label]; ok {
		return name
	}
	return label
}
