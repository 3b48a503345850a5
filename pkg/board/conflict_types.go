package board

import "fmt"

// Conflict records detected contention between agents. A conflict transitions
// Detected → Resolving → {Resolved | Escalated}; it reaches Resolved only
// through an attached ConflictResolution.
type Conflict struct {
	ID            string              `json:"id"`                       // UUID
	Type          ConflictType        `json:"type"`                     // Category of contention
	Severity      ConflictSeverity    `json:"severity"`                 // Assessed impact
	Status        ConflictStatus      `json:"status"`                   // Current lifecycle state
	AgentIDs      []string            `json:"agent_ids"`                // Involved agents
	ResourceIDs   []string            `json:"resource_ids"`             // Contested resources
	DetectedAtMs  int64               `json:"detected_at_ms"`           // Unix ms of detection
	PredictedHint string              `json:"predicted_hint,omitempty"` // Advisory resolution suggested by a prediction model
	Resolution    *ConflictResolution `json:"resolution,omitempty"`     // Set when the conflict resolves
}

// ConflictType defines the category of contention.
type ConflictType string

const (
	// ConflictFileContention is two agents wanting the same file or path
	ConflictFileContention ConflictType = "file_contention"

	// ConflictDependencyVersion is agents disagreeing on a dependency version
	ConflictDependencyVersion ConflictType = "dependency_version"

	// ConflictResourceContention is contention over a non-file shared resource
	ConflictResourceContention ConflictType = "resource_contention"

	// ConflictScheduling is a collision between agents' planned work windows
	ConflictScheduling ConflictType = "scheduling"
)

// ConflictSeverity defines the assessed impact of a conflict.
type ConflictSeverity string

const (
	SeverityLow      ConflictSeverity = "low"
	SeverityMedium   ConflictSeverity = "medium"
	SeverityHigh     ConflictSeverity = "high"
	SeverityCritical ConflictSeverity = "critical"
)

// ConflictStatus defines the lifecycle state of a conflict.
type ConflictStatus string

const (
	// ConflictStatusDetected means the conflict was recorded but no strategy chosen yet
	ConflictStatusDetected ConflictStatus = "detected"

	// ConflictStatusResolving means a resolution strategy is in flight
	ConflictStatusResolving ConflictStatus = "resolving"

	// ConflictStatusResolved is terminal: a resolution was applied
	ConflictStatusResolved ConflictStatus = "resolved"

	// ConflictStatusEscalated is terminal: resolution failed or timed out and
	// the conflict awaits external (human/policy) intervention
	ConflictStatusEscalated ConflictStatus = "escalated"
)

// ResolutionStrategy is the closed set of ways a conflict can be resolved.
type ResolutionStrategy string

const (
	// StrategyAutomatic applies a deterministic rule with no agent interaction
	StrategyAutomatic ResolutionStrategy = "automatic"

	// StrategyConsensus puts candidate resolutions to a quorum vote
	StrategyConsensus ResolutionStrategy = "consensus"

	// StrategyNegotiation is a two-party proposal/counter-proposal exchange
	StrategyNegotiation ResolutionStrategy = "negotiation"

	// StrategyManual records that the conflict was escalated for a human
	StrategyManual ResolutionStrategy = "manual"
)

// ConflictResolution records how a conflict was settled.
type ConflictResolution struct {
	Strategy     ResolutionStrategy `json:"strategy"`       // Which strategy produced the decision
	Rule         string             `json:"rule,omitempty"` // Named rule for automatic resolutions
	Decision     string             `json:"decision"`       // The chosen outcome (winner agent, version, etc.)
	ResolvedAtMs int64              `json:"resolved_at_ms"` // Unix ms the resolution was applied
}

// ConsensusRound is a quorum vote over candidate resolutions, owned by a
// coordination session. Votes are stored in a separate Redis hash keyed by
// agent ID so a re-vote before close overwrites the earlier one (last vote
// wins). The round closes the instant one option's vote share reaches the
// quorum fraction of registered participants, or fails at the deadline.
type ConsensusRound struct {
	ID             string      `json:"id"`              // UUID
	SessionID      string      `json:"session_id"`      // Owning session
	ConflictID     string      `json:"conflict_id"`     // Conflict being voted on
	Options        []string    `json:"options"`         // Candidate resolutions
	ParticipantIDs []string    `json:"participants"`    // Registered voters
	QuorumFraction float64     `json:"quorum_fraction"` // Minimum agreeing share, e.g. 0.75
	DeadlineMs     int64       `json:"deadline_ms"`     // Unix ms the round fails if still open
	Status         RoundStatus `json:"status"`          // Current state
	Decision       string      `json:"decision"`        // Winning option once decided
	CreatedAtMs    int64       `json:"created_at_ms"`   // Unix ms the round opened
}

// RoundStatus defines the lifecycle state of a consensus round.
type RoundStatus string

const (
	// RoundStatusOpen means the round is still collecting votes
	RoundStatusOpen RoundStatus = "open"

	// RoundStatusDecided means one option reached quorum
	RoundStatusDecided RoundStatus = "decided"

	// RoundStatusFailed means the deadline passed without quorum
	RoundStatusFailed RoundStatus = "failed"
)

// NegotiationState tracks a two-party proposal/counter-proposal exchange.
type NegotiationState struct {
	ID          string            `json:"id"`           // UUID
	SessionID   string            `json:"session_id"`   // Owning session
	ConflictID  string            `json:"conflict_id"`  // Conflict being negotiated
	InitiatorID string            `json:"initiator_id"` // Agent that opened the negotiation
	ResponderID string            `json:"responder_id"` // The other party
	Proposals   []Proposal        `json:"proposals"`    // Exchange history, oldest first
	MaxRounds   int               `json:"max_rounds"`   // Proposal cap before escalation
	DeadlineMs  int64             `json:"deadline_ms"`  // Unix ms the negotiation times out
	Status      NegotiationStatus `json:"status"`       // Current state
	CreatedAtMs int64             `json:"created_at_ms"`
}

// Proposal is a single entry in a negotiation exchange.
type Proposal struct {
	AgentID      string `json:"agent_id"`       // Who proposed
	Value        string `json:"value"`          // The proposed outcome
	ProposedAtMs int64  `json:"proposed_at_ms"`
}

// NegotiationStatus defines the lifecycle state of a negotiation.
type NegotiationStatus string

const (
	NegotiationStatusOpen     NegotiationStatus = "open"
	NegotiationStatusAccepted NegotiationStatus = "accepted"
	NegotiationStatusTimedOut NegotiationStatus = "timed_out"
)

// LastProposal returns the most recent proposal, or nil if none were made.
func (n *NegotiationState) LastProposal() *Proposal {
	if len(n.Proposals) == 0 {
		return nil
	}
	return &n.Proposals[len(n.Proposals)-1]
}

// PredictionModel holds an advisory, confidence-scored hint source for one
// conflict category. Models are read-only at prediction time; Retrain is the
// only mutation path. Their output never forces a resolution - it only biases
// the candidate order presented to automatic and consensus resolution.
type PredictionModel struct {
	ID                  string             `json:"id"`                   // UUID
	ConflictType        ConflictType       `json:"conflict_type"`        // Category this model covers
	ConfidenceThreshold float64            `json:"confidence_threshold"` // Hints below this are suppressed [0,1]
	OptionWeights       map[string]float64 `json:"option_weights"`       // Candidate outcome → confidence [0,1]
	Metrics             TrainingMetrics    `json:"metrics"`              // Calibration bookkeeping
	TrainedAtMs         int64              `json:"trained_at_ms"`        // Unix ms of last retrain
}

// TrainingMetrics records a model's calibration figures.
type TrainingMetrics struct {
	Accuracy    float64 `json:"accuracy"`
	Precision   float64 `json:"precision"`
	Recall      float64 `json:"recall"`
	F1          float64 `json:"f1"`
	SampleCount int     `json:"sample_count"`
}

// Validate checks if the Conflict has valid field values.
func (c *Conflict) Validate() error {
	if !isValidUUID(c.ID) {
		return fmt.Errorf("invalid conflict ID: not a valid UUID")
	}

	if err := c.Type.Validate(); err != nil {
		return fmt.Errorf("invalid conflict type: %w", err)
	}

	if err := c.Severity.Validate(); err != nil {
		return fmt.Errorf("invalid severity: %w", err)
	}

	if err := c.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	if len(c.AgentIDs) == 0 {
		return fmt.Errorf("conflict must involve at least one agent")
	}

	return nil
}

// Validate checks if the ConflictType is a valid enum value.
func (t ConflictType) Validate() error {
	switch t {
	case ConflictFileContention, ConflictDependencyVersion,
		ConflictResourceContention, ConflictScheduling:
		return nil
	default:
		return fmt.Errorf("unknown conflict type: %q", t)
	}
}

// Validate checks if the ConflictSeverity is a valid enum value.
func (s ConflictSeverity) Validate() error {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return nil
	default:
		return fmt.Errorf("unknown severity: %q", s)
	}
}

// Validate checks if the ConflictStatus is a valid enum value.
func (s ConflictStatus) Validate() error {
	switch s {
	case ConflictStatusDetected, ConflictStatusResolving,
		ConflictStatusResolved, ConflictStatusEscalated:
		return nil
	default:
		return fmt.Errorf("unknown conflict status: %q", s)
	}
}

// Validate checks if the ResolutionStrategy is a valid enum value.
func (s ResolutionStrategy) Validate() error {
	switch s {
	case StrategyAutomatic, StrategyConsensus, StrategyNegotiation, StrategyManual:
		return nil
	default:
		return fmt.Errorf("unknown resolution strategy: %q", s)
	}
}

// Validate checks if the ConsensusRound has valid field values.
func (r *ConsensusRound) Validate() error {
	if !isValidUUID(r.ID) {
		return fmt.Errorf("invalid round ID: not a valid UUID")
	}

	if !isValidUUID(r.SessionID) {
		return fmt.Errorf("invalid session ID: not a valid UUID")
	}

	if len(r.Options) == 0 {
		return fmt.Errorf("round must have at least one option")
	}

	if len(r.ParticipantIDs) == 0 {
		return fmt.Errorf("round must have at least one participant")
	}

	if r.QuorumFraction <= 0 || r.QuorumFraction > 1 {
		return fmt.Errorf("quorum fraction must be in (0,1], got %v", r.QuorumFraction)
	}

	if err := r.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	return nil
}

// Validate checks if the RoundStatus is a valid enum value.
func (s RoundStatus) Validate() error {
	switch s {
	case RoundStatusOpen, RoundStatusDecided, RoundStatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown round status: %q", s)
	}
}

// Validate checks if the NegotiationState has valid field values.
func (n *NegotiationState) Validate() error {
	if !isValidUUID(n.ID) {
		return fmt.Errorf("invalid negotiation ID: not a valid UUID")
	}

	if n.InitiatorID == "" || n.ResponderID == "" {
		return fmt.Errorf("negotiation requires both parties")
	}

	if n.InitiatorID == n.ResponderID {
		return fmt.Errorf("negotiation parties must differ")
	}

	if err := n.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	return nil
}

// Validate checks if the NegotiationStatus is a valid enum value.
func (s NegotiationStatus) Validate() error {
	switch s {
	case NegotiationStatusOpen, NegotiationStatusAccepted, NegotiationStatusTimedOut:
		return nil
	default:
		return fmt.Errorf("unknown negotiation status: %q", s)
	}
}

// Validate checks if the PredictionModel has valid field values.
func (m *PredictionModel) Validate() error {
	if !isValidUUID(m.ID) {
		return fmt.Errorf("invalid model ID: not a valid UUID")
	}

	if err := m.ConflictType.Validate(); err != nil {
		return fmt.Errorf("invalid conflict type: %w", err)
	}

	if m.ConfidenceThreshold < 0 || m.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got %v", m.ConfidenceThreshold)
	}

	return nil
}
