package board

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Complex fields like
// arrays and nested structs are JSON-encoded into single hash fields. This
// provides a balance between queryability (individual fields) and flexibility
// (complex structures).

// AgentToHash converts an AgentRecord to a Redis hash format.
// The capabilities array is JSON-encoded.
func AgentToHash(a *AgentRecord) (map[string]interface{}, error) {
	capabilitiesJSON, err := json.Marshal(a.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capabilities: %w", err)
	}

	hash := map[string]interface{}{
		"id":                a.ID,
		"display_name":      a.DisplayName,
		"agent_type":        a.AgentType,
		"status":            string(a.Status),
		"capabilities":      string(capabilitiesJSON),
		"assigned_scope":    a.AssignedScope,
		"last_heartbeat_ms": a.LastHeartbeatMs,
		"registered_at_ms":  a.RegisteredAtMs,
	}

	return hash, nil
}

// HashToAgent converts a Redis hash to an AgentRecord.
func HashToAgent(hash map[string]string) (*AgentRecord, error) {
	var capabilities []string
	if capabilitiesJSON := hash["capabilities"]; capabilitiesJSON != "" {
		if err := json.Unmarshal([]byte(capabilitiesJSON), &capabilities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
		}
	}
	if capabilities == nil {
		capabilities = []string{}
	}

	lastHeartbeatMs, _ := strconv.ParseInt(hash["last_heartbeat_ms"], 10, 64)
	registeredAtMs, _ := strconv.ParseInt(hash["registered_at_ms"], 10, 64)

	agent := &AgentRecord{
		ID:              hash["id"],
		DisplayName:     hash["display_name"],
		AgentType:       hash["agent_type"],
		Status:          AgentStatus(hash["status"]),
		Capabilities:    capabilities,
		AssignedScope:   hash["assigned_scope"],
		LastHeartbeatMs: lastHeartbeatMs,
		RegisteredAtMs:  registeredAtMs,
	}

	return agent, nil
}

// MessageToHash converts a Message to a Redis hash format.
// Recipient array and payload are JSON-encoded.
func MessageToHash(m *Message) (map[string]interface{}, error) {
	recipientsJSON, err := json.Marshal(m.RecipientIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal recipient_ids: %w", err)
	}

	payloadJSON, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	hash := map[string]interface{}{
		"id":            m.ID,
		"type":          string(m.Type),
		"priority":      string(m.Priority),
		"sender_id":     m.SenderID,
		"recipient_ids": string(recipientsJSON),
		"payload":       string(payloadJSON),
		"created_at_ms": m.CreatedAtMs,
		"expires_at_ms": m.ExpiresAtMs,
		"requires_ack":  m.RequiresAck,
	}

	return hash, nil
}

// HashToMessage converts a Redis hash to a Message.
func HashToMessage(hash map[string]string) (*Message, error) {
	var recipients []string
	if recipientsJSON := hash["recipient_ids"]; recipientsJSON != "" {
		if err := json.Unmarshal([]byte(recipientsJSON), &recipients); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recipient_ids: %w", err)
		}
	}

	var payload map[string]interface{}
	if payloadJSON := hash["payload"]; payloadJSON != "" && payloadJSON != "null" {
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	expiresAtMs, _ := strconv.ParseInt(hash["expires_at_ms"], 10, 64)
	requiresAck, _ := strconv.ParseBool(hash["requires_ack"])

	msg := &Message{
		ID:           hash["id"],
		Type:         MessageType(hash["type"]),
		Priority:     MessagePriority(hash["priority"]),
		SenderID:     hash["sender_id"],
		RecipientIDs: recipients,
		Payload:      payload,
		CreatedAtMs:  createdAtMs,
		ExpiresAtMs:  expiresAtMs,
		RequiresAck:  requiresAck,
	}

	return msg, nil
}

// SessionToHash converts a CoordinationSession to a Redis hash format.
func SessionToHash(s *CoordinationSession) (map[string]interface{}, error) {
	participantsJSON, err := json.Marshal(s.ParticipantIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal participants: %w", err)
	}

	hash := map[string]interface{}{
		"id":            s.ID,
		"topic":         s.Topic,
		"participants":  string(participantsJSON),
		"status":        string(s.Status),
		"created_at_ms": s.CreatedAtMs,
		"closed_at_ms":  s.ClosedAtMs,
		"outcome":       s.Outcome,
	}

	return hash, nil
}

// HashToSession converts a Redis hash to a CoordinationSession.
func HashToSession(hash map[string]string) (*CoordinationSession, error) {
	var participants []string
	if participantsJSON := hash["participants"]; participantsJSON != "" {
		if err := json.Unmarshal([]byte(participantsJSON), &participants); err != nil {
			return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
		}
	}

	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	closedAtMs, _ := strconv.ParseInt(hash["closed_at_ms"], 10, 64)

	session := &CoordinationSession{
		ID:             hash["id"],
		Topic:          hash["topic"],
		ParticipantIDs: participants,
		Status:         SessionStatus(hash["status"]),
		CreatedAtMs:    createdAtMs,
		ClosedAtMs:     closedAtMs,
		Outcome:        hash["outcome"],
	}

	return session, nil
}

// ConflictToHash converts a Conflict to a Redis hash format.
// Agent/resource arrays and the resolution are JSON-encoded.
func ConflictToHash(c *Conflict) (map[string]interface{}, error) {
	agentsJSON, err := json.Marshal(c.AgentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal agent_ids: %w", err)
	}

	resourcesJSON, err := json.Marshal(c.ResourceIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource_ids: %w", err)
	}

	hash := map[string]interface{}{
		"id":             c.ID,
		"type":           string(c.Type),
		"severity":       string(c.Severity),
		"status":         string(c.Status),
		"agent_ids":      string(agentsJSON),
		"resource_ids":   string(resourcesJSON),
		"detected_at_ms": c.DetectedAtMs,
		"predicted_hint": c.PredictedHint,
	}

	if c.Resolution != nil {
		resolutionJSON, err := json.Marshal(c.Resolution)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal resolution: %w", err)
		}
		hash["resolution"] = string(resolutionJSON)
	} else {
		hash["resolution"] = ""
	}

	return hash, nil
}

// HashToConflict converts a Redis hash to a Conflict.
func HashToConflict(hash map[string]string) (*Conflict, error) {
	var agentIDs []string
	if agentsJSON := hash["agent_ids"]; agentsJSON != "" {
		if err := json.Unmarshal([]byte(agentsJSON), &agentIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal agent_ids: %w", err)
		}
	}

	var resourceIDs []string
	if resourcesJSON := hash["resource_ids"]; resourcesJSON != "" {
		if err := json.Unmarshal([]byte(resourcesJSON), &resourceIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal resource_ids: %w", err)
		}
	}
	if resourceIDs == nil {
		resourceIDs = []string{}
	}

	var resolution *ConflictResolution
	if resolutionJSON := hash["resolution"]; resolutionJSON != "" {
		resolution = &ConflictResolution{}
		if err := json.Unmarshal([]byte(resolutionJSON), resolution); err != nil {
			return nil, fmt.Errorf("failed to unmarshal resolution: %w", err)
		}
	}

	detectedAtMs, _ := strconv.ParseInt(hash["detected_at_ms"], 10, 64)

	conflict := &Conflict{
		ID:            hash["id"],
		Type:          ConflictType(hash["type"]),
		Severity:      ConflictSeverity(hash["severity"]),
		Status:        ConflictStatus(hash["status"]),
		AgentIDs:      agentIDs,
		ResourceIDs:   resourceIDs,
		DetectedAtMs:  detectedAtMs,
		PredictedHint: hash["predicted_hint"],
		Resolution:    resolution,
	}

	return conflict, nil
}

// RoundToHash converts a ConsensusRound to a Redis hash format.
// Votes live in a separate hash (RoundVotesKey), not here.
func RoundToHash(r *ConsensusRound) (map[string]interface{}, error) {
	optionsJSON, err := json.Marshal(r.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal options: %w", err)
	}

	participantsJSON, err := json.Marshal(r.ParticipantIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal participants: %w", err)
	}

	hash := map[string]interface{}{
		"id":              r.ID,
		"session_id":      r.SessionID,
		"conflict_id":     r.ConflictID,
		"options":         string(optionsJSON),
		"participants":    string(participantsJSON),
		"quorum_fraction": strconv.FormatFloat(r.QuorumFraction, 'f', -1, 64),
		"deadline_ms":     r.DeadlineMs,
		"status":          string(r.Status),
		"decision":        r.Decision,
		"created_at_ms":   r.CreatedAtMs,
	}

	return hash, nil
}

// HashToRound converts a Redis hash to a ConsensusRound.
func HashToRound(hash map[string]string) (*ConsensusRound, error) {
	var options []string
	if optionsJSON := hash["options"]; optionsJSON != "" {
		if err := json.Unmarshal([]byte(optionsJSON), &options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal options: %w", err)
		}
	}

	var participants []string
	if participantsJSON := hash["participants"]; participantsJSON != "" {
		if err := json.Unmarshal([]byte(participantsJSON), &participants); err != nil {
			return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
		}
	}

	quorumFraction, err := strconv.ParseFloat(hash["quorum_fraction"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid quorum_fraction field: %w", err)
	}

	deadlineMs, _ := strconv.ParseInt(hash["deadline_ms"], 10, 64)
	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)

	round := &ConsensusRound{
		ID:             hash["id"],
		SessionID:      hash["session_id"],
		ConflictID:     hash["conflict_id"],
		Options:        options,
		ParticipantIDs: participants,
		QuorumFraction: quorumFraction,
		DeadlineMs:     deadlineMs,
		Status:         RoundStatus(hash["status"]),
		Decision:       hash["decision"],
		CreatedAtMs:    createdAtMs,
	}

	return round, nil
}

// NegotiationToHash converts a NegotiationState to a Redis hash format.
func NegotiationToHash(n *NegotiationState) (map[string]interface{}, error) {
	proposalsJSON, err := json.Marshal(n.Proposals)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proposals: %w", err)
	}

	hash := map[string]interface{}{
		"id":            n.ID,
		"session_id":    n.SessionID,
		"conflict_id":   n.ConflictID,
		"initiator_id":  n.InitiatorID,
		"responder_id":  n.ResponderID,
		"proposals":     string(proposalsJSON),
		"max_rounds":    n.MaxRounds,
		"deadline_ms":   n.DeadlineMs,
		"status":        string(n.Status),
		"created_at_ms": n.CreatedAtMs,
	}

	return hash, nil
}

// HashToNegotiation converts a Redis hash to a NegotiationState.
func HashToNegotiation(hash map[string]string) (*NegotiationState, error) {
	var proposals []Proposal
	if proposalsJSON := hash["proposals"]; proposalsJSON != "" {
		if err := json.Unmarshal([]byte(proposalsJSON), &proposals); err != nil {
			return nil, fmt.Errorf("failed to unmarshal proposals: %w", err)
		}
	}
	if proposals == nil {
		proposals = []Proposal{}
	}

	maxRounds, _ := strconv.Atoi(hash["max_rounds"])
	deadlineMs, _ := strconv.ParseInt(hash["deadline_ms"], 10, 64)
	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)

	negotiation := &NegotiationState{
		ID:          hash["id"],
		SessionID:   hash["session_id"],
		ConflictID:  hash["conflict_id"],
		InitiatorID: hash["initiator_id"],
		ResponderID: hash["responder_id"],
		Proposals:   proposals,
		MaxRounds:   maxRounds,
		DeadlineMs:  deadlineMs,
		Status:      NegotiationStatus(hash["status"]),
		CreatedAtMs: createdAtMs,
	}

	return negotiation, nil
}

// ModelToHash converts a PredictionModel to a Redis hash format.
func ModelToHash(m *PredictionModel) (map[string]interface{}, error) {
	weightsJSON, err := json.Marshal(m.OptionWeights)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal option_weights: %w", err)
	}

	metricsJSON, err := json.Marshal(m.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metrics: %w", err)
	}

	hash := map[string]interface{}{
		"id":                   m.ID,
		"conflict_type":        string(m.ConflictType),
		"confidence_threshold": strconv.FormatFloat(m.ConfidenceThreshold, 'f', -1, 64),
		"option_weights":       string(weightsJSON),
		"metrics":              string(metricsJSON),
		"trained_at_ms":        m.TrainedAtMs,
	}

	return hash, nil
}

// HashToModel converts a Redis hash to a PredictionModel.
func HashToModel(hash map[string]string) (*PredictionModel, error) {
	var weights map[string]float64
	if weightsJSON := hash["option_weights"]; weightsJSON != "" && weightsJSON != "null" {
		if err := json.Unmarshal([]byte(weightsJSON), &weights); err != nil {
			return nil, fmt.Errorf("failed to unmarshal option_weights: %w", err)
		}
	}
	if weights == nil {
		weights = map[string]float64{}
	}

	var metrics TrainingMetrics
	if metricsJSON := hash["metrics"]; metricsJSON != "" {
		if err := json.Unmarshal([]byte(metricsJSON), &metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
		}
	}

	confidenceThreshold, err := strconv.ParseFloat(hash["confidence_threshold"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid confidence_threshold field: %w", err)
	}

	trainedAtMs, _ := strconv.ParseInt(hash["trained_at_ms"], 10, 64)

	model := &PredictionModel{
		ID:                  hash["id"],
		ConflictType:        ConflictType(hash["conflict_type"]),
		ConfidenceThreshold: confidenceThreshold,
		OptionWeights:       weights,
		Metrics:             metrics,
		TrainedAtMs:         trainedAtMs,
	}

	return model, nil
}
