package models

// Interaction types recorded in the token ledger.
const (
	InteractionConversation       = "conversation"
	InteractionStructuredSummary  = "structured_summary"
	InteractionRevisionPeers      = "revision_by_peers"
	InteractionRevisionCritique   = "revision_by_critique"
	InteractionRevisionNewInfo    = "revision_with_new_info"
	InteractionAgreementCheck     = "agreement_check"
	InteractionCritiqueExtraction = "critique_extraction"
	InteractionStateAnalysis      = "state_analysis"
	InteractionInitialSummary     = "initial_summary"
	InteractionSummaryRefinement  = "summary_refinement"
	InteractionFinalization       = "finalization"
	InteractionExamination        = "examination"
	InteractionPatientReply       = "patient_reply"
)

// Interaction is one gateway call's token accounting. Turn 0 marks the
// initial consultation phase; discussion-phase interactions carry the
// discussion turn number (>= 1).
type Interaction struct {
	InputTokens  int    `json:"input_tokens" bson:"input_tokens"`
	OutputTokens int    `json:"output_tokens" bson:"output_tokens"`
	Type         string `json:"type" bson:"type"`
	Turn         int    `json:"turn" bson:"turn"`
}

// TokenLedger accumulates token usage for one agent within one patient's
// consultation. Interactions are append-only; phase totals are always
// recomputed by resumming the logged interactions.
type TokenLedger struct {
	TotalInputTokens  int           `json:"total_input_tokens" bson:"total_input_tokens"`
	TotalOutputTokens int           `json:"total_output_tokens" bson:"total_output_tokens"`
	Interactions      []Interaction `json:"interactions" bson:"interactions"`
}

// Record appends one interaction and updates the running totals.
func (l *TokenLedger) Record(inputTokens, outputTokens int, interactionType string, turn int) {
	l.TotalInputTokens += inputTokens
	l.TotalOutputTokens += outputTokens
	l.Interactions = append(l.Interactions, Interaction{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Type:         interactionType,
		Turn:         turn,
	})
}

// Summary resums the full ledger into an AgentTokenSummary.
func (l *TokenLedger) Summary() AgentTokenSummary {
	var in, out int
	for _, it := range l.Interactions {
		in += it.InputTokens
		out += it.OutputTokens
	}
	return AgentTokenSummary{
		TotalInputTokens:  in,
		TotalOutputTokens: out,
		InteractionCount:  len(l.Interactions),
		Interactions:      append([]Interaction(nil), l.Interactions...),
	}
}

// PhaseSummary resums only interactions whose turn falls in [minTurn, maxTurn].
// Use (0, 0) for the initial consultation phase and (1, 1<<31-1) for the
// discussion phase.
func (l *TokenLedger) PhaseSummary(minTurn, maxTurn int) AgentTokenSummary {
	sum := AgentTokenSummary{}
	for _, it := range l.Interactions {
		if it.Turn < minTurn || it.Turn > maxTurn {
			continue
		}
		sum.TotalInputTokens += it.InputTokens
		sum.TotalOutputTokens += it.OutputTokens
		sum.InteractionCount++
		sum.Interactions = append(sum.Interactions, it)
	}
	return sum
}

// AgentTokenSummary is the persisted per-agent token total.
type AgentTokenSummary struct {
	TotalInputTokens  int           `json:"total_input_tokens" bson:"total_input_tokens"`
	TotalOutputTokens int           `json:"total_output_tokens" bson:"total_output_tokens"`
	InteractionCount  int           `json:"interaction_count" bson:"interaction_count"`
	Interactions      []Interaction `json:"interactions,omitempty" bson:"interactions,omitempty"`
}

// PhaseTokens groups per-doctor summaries for one phase.
type PhaseTokens struct {
	Doctors map[string]AgentTokenSummary `json:"doctors" bson:"doctors"`
}

// DiscussionPhaseTokens adds host usage and phase totals to the per-doctor
// discussion summaries.
type DiscussionPhaseTokens struct {
	Doctors           map[string]AgentTokenSummary `json:"doctors" bson:"doctors"`
	Host              AgentTokenSummary            `json:"host" bson:"host"`
	TotalInputTokens  int                          `json:"total_input_tokens" bson:"total_input_tokens"`
	TotalOutputTokens int                          `json:"total_output_tokens" bson:"total_output_tokens"`
	TotalTokens       int                          `json:"total_tokens" bson:"total_tokens"`
}

// TokenUsageSummary is the nested per-phase, per-agent accounting persisted
// with each consultation record.
type TokenUsageSummary struct {
	InitialConsultationPhase PhaseTokens           `json:"initial_consultation_phase" bson:"initial_consultation_phase"`
	DiscussionPhase          DiscussionPhaseTokens `json:"discussion_phase" bson:"discussion_phase"`
	Reporter                 AgentTokenSummary     `json:"reporter" bson:"reporter"`
}
