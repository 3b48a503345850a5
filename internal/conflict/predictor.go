package conflict

import (
	"context"
	"log"

	"github.com/dyluth/drey/pkg/board"
	"github.com/google/uuid"
)

// Hint is a prediction model's advisory suggestion for a conflict category.
type Hint struct {
	Option     string  `json:"option"`     // Suggested resolution outcome
	Confidence float64 `json:"confidence"` // The model's weight for it [0,1]
}

// Predict returns the strongest hint the category's model offers, or nil when
// no model covers the category or its best option falls below the model's
// confidence threshold. Hints are advisory only: they bias candidate ordering
// and get recorded on the conflict, but never force a resolution.
func (e *Engine) Predict(ctx context.Context, conflictType board.ConflictType) (*Hint, error) {
	model, err := e.client.GetModel(ctx, conflictType)
	if err != nil {
		if board.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	best := ""
	bestWeight := 0.0
	for option, weight := range model.OptionWeights {
		if weight > bestWeight || (weight == bestWeight && best != "" && option < best) {
			best = option
			bestWeight = weight
		}
	}

	if best == "" || bestWeight < model.ConfidenceThreshold {
		return nil, nil
	}

	return &Hint{Option: best, Confidence: bestWeight}, nil
}

// Retrain rebuilds the category's model from the resolved conflict history on
// the board: option weights become each decision's share of resolved
// conflicts in the category, and the metrics record how often the previous
// hints matched the eventual decision. This is the only path that mutates a
// model; prediction is read-only.
func (e *Engine) Retrain(ctx context.Context, conflictType board.ConflictType) (*board.PredictionModel, error) {
	ids, err := e.client.ListConflictIDs(ctx)
	if err != nil {
		return nil, err
	}

	decisions := make(map[string]int)
	total := 0
	hinted := 0
	hintedCorrect := 0

	for _, conflictID := range ids {
		conflict, err := e.client.GetConflict(ctx, conflictID)
		if err != nil {
			log.Printf("[Conflict] Retrain: failed to read %s: %v", conflictID, err)
			continue
		}
		if conflict.Type != conflictType || conflict.Status != board.ConflictStatusResolved || conflict.Resolution == nil {
			continue
		}

		decisions[conflict.Resolution.Decision]++
		total++

		if conflict.PredictedHint != "" {
			hinted++
			if conflict.PredictedHint == conflict.Resolution.Decision {
				hintedCorrect++
			}
		}
	}

	model := &board.PredictionModel{
		ID:                  uuid.New().String(),
		ConflictType:        conflictType,
		ConfidenceThreshold: e.confidenceThreshold,
		OptionWeights:       make(map[string]float64, len(decisions)),
		TrainedAtMs:         e.now().UnixMilli(),
	}

	for decision, count := range decisions {
		model.OptionWeights[decision] = float64(count) / float64(total)
	}

	model.Metrics = trainingMetrics(total, hinted, hintedCorrect)

	if err := e.client.PutModel(ctx, model); err != nil {
		return nil, err
	}

	e.logEvent("model_retrained", map[string]interface{}{
		"conflict_type": string(conflictType),
		"samples":       total,
		"options":       len(model.OptionWeights),
		"accuracy":      model.Metrics.Accuracy,
	})

	return model, nil
}

// trainingMetrics derives calibration figures from hint hit rates. With no
// hinted samples the figures stay zero rather than dividing by nothing.
func trainingMetrics(total, hinted, hintedCorrect int) board.TrainingMetrics {
	metrics := board.TrainingMetrics{SampleCount: total}

	if hinted > 0 {
		metrics.Precision = float64(hintedCorrect) / float64(hinted)
	}
	if total > 0 {
		metrics.Accuracy = float64(hintedCorrect) / float64(total)
		metrics.Recall = float64(hinted) / float64(total) * metrics.Precision
	}
	if metrics.Precision+metrics.Recall > 0 {
		metrics.F1 = 2 * metrics.Precision * metrics.Recall / (metrics.Precision + metrics.Recall)
	}

	return metrics
}
