package pipeline

import "github.com/kea-dev/kea/internal/parse"

// State holds everything accumulated over one pipeline run: the question,
// every stage's records keyed by provider name, the label bijection assigned
// once at stage 1, and the error map surfaced in the final summary.
type State struct {
	Question string

	Step1Responses map[string]parse.Step1Response
	Step2Responses map[string]parse.Step2Response
	Step3Responses map[string]parse.Step3Response
	Step4Response  *parse.Step4Response

	CurrentStep int
	Errors      map[string][]string

	LabelToProvider map[string]string
	ProviderToLabel map[string]string
}

// newState builds an empty run state for a question.
func newState(question string) *State {
	return &State{
		Question:        question,
		Step1Responses:  make(map[string]parse.Step1Response),
		Step2Responses:  make(map[string]parse.Step2Response),
		Step3Responses:  make(map[string]parse.Step3Response),
		Errors:          make(map[string][]string),
		LabelToProvider: make(map[string]string),
		ProviderToLabel: make(map[string]string),
	}
}

// Summary is the payload of the pipeline_complete event.
type Summary struct {
	Step1Count          int                 `json:"step1_count"`
	Step2Count          int                 `json:"step2_count"`
	Step3Count          int                 `json:"step3_count"`
	HasFinal            bool                `json:"has_final"`
	FinalAnswer         *string             `json:"final_answer"`
	FinalConfidence     *float64            `json:"final_confidence"`
	SynthesizerProvider *string             `json:"synthesizer_provider"`
	Errors              map[string][]string `json:"errors"`
}

// summary builds the pipeline_complete payload from the accumulated state.
func (s *State) summary() Summary {
	step3Count := 0
	for _, r := range s.Step3Responses {
		if r.Success() {
			step3Count++
		}
	}
	sum := Summary{
		Step1Count: len(s.Step1Responses),
		Step2Count: len(s.Step2Responses),
		Step3Count: step3Count,
		Errors:     s.Errors,
	}
	if s.Step4Response != nil {
		sum.HasFinal = true
		answer := s.Step4Response.FinalAnswer
		confidence := s.Step4Response.Confidence
		provider := s.Step4Response.Provider
		sum.FinalAnswer = &answer
		sum.FinalConfidence = &confidence
		sum.SynthesizerProvider = &provider
	}
	return sum
}

// assignLabels assigns sequential letters to providers in the given order.
// Once assigned the bijection is fixed for the rest of the run, even if a
// provider is later excluded from a stage (e.g. a non-vision provider
// skipped for stage 1).
func (s *State) assignLabels(providerNames []string) {
	for idx, name := range providerNames {
		if idx >= len(providerLabels) {
			break
		}
		label := string(providerLabels[idx])
		s.LabelToProvider[label] = name
		s.ProviderToLabel[name] = label
	}
}
