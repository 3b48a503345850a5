package conflict

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/drey/pkg/board"
)

func TestPredict(t *testing.T) {
	e, _, _, client, _ := setupTestEngine(t)
	ctx := context.Background()

	t.Run("no model means no hint", func(t *testing.T) {
		hint, err := e.Predict(ctx, board.ConflictFileContention)
		require.NoError(t, err)
		assert.Nil(t, hint)
	})

	t.Run("returns the strongest option above threshold", func(t *testing.T) {
		model := &board.PredictionModel{
			ID:                  uuid.New().String(),
			ConflictType:        board.ConflictDependencyVersion,
			ConfidenceThreshold: 0.7,
			OptionWeights:       map[string]float64{"v1.22": 0.8, "v1.21": 0.2},
		}
		require.NoError(t, client.PutModel(ctx, model))

		hint, err := e.Predict(ctx, board.ConflictDependencyVersion)
		require.NoError(t, err)
		require.NotNil(t, hint)
		assert.Equal(t, "v1.22", hint.Option)
		assert.Equal(t, 0.8, hint.Confidence)
	})

	t.Run("suppresses hints below the model threshold", func(t *testing.T) {
		model := &board.PredictionModel{
			ID:                  uuid.New().String(),
			ConflictType:        board.ConflictScheduling,
			ConfidenceThreshold: 0.7,
			OptionWeights:       map[string]float64{"defer": 0.5, "split": 0.5},
		}
		require.NoError(t, client.PutModel(ctx, model))

		hint, err := e.Predict(ctx, board.ConflictScheduling)
		require.NoError(t, err)
		assert.Nil(t, hint)
	})
}

// resolvedConflict seeds a resolved conflict record directly on the board.
func resolvedConflict(t *testing.T, client *board.Client, conflictType board.ConflictType, hint, decision string) {
	t.Helper()
	err := client.CreateConflict(context.Background(), &board.Conflict{
		ID:            uuid.New().String(),
		Type:          conflictType,
		Severity:      board.SeverityMedium,
		Status:        board.ConflictStatusResolved,
		AgentIDs:      []string{"coder-1", "coder-2"},
		DetectedAtMs:  1000,
		PredictedHint: hint,
		Resolution: &board.ConflictResolution{
			Strategy:     board.StrategyConsensus,
			Decision:     decision,
			ResolvedAtMs: 2000,
		},
	})
	require.NoError(t, err)
}

func TestRetrain(t *testing.T) {
	e, _, _, client, _ := setupTestEngine(t)
	ctx := context.Background()

	// Four resolved dependency disputes: v1.22 won three, v1.21 once.
	// Two carried hints, one of which matched the outcome.
	resolvedConflict(t, client, board.ConflictDependencyVersion, "v1.22", "v1.22")
	resolvedConflict(t, client, board.ConflictDependencyVersion, "v1.21", "v1.22")
	resolvedConflict(t, client, board.ConflictDependencyVersion, "", "v1.22")
	resolvedConflict(t, client, board.ConflictDependencyVersion, "", "v1.21")

	// Other categories and unresolved conflicts must not leak in
	resolvedConflict(t, client, board.ConflictScheduling, "", "defer")
	_, err := e.Detect(ctx, board.ConflictDependencyVersion, board.SeverityLow,
		[]string{"coder-1", "coder-2"}, nil)
	require.NoError(t, err)

	model, err := e.Retrain(ctx, board.ConflictDependencyVersion)
	require.NoError(t, err)

	t.Run("weights are decision shares", func(t *testing.T) {
		assert.InDelta(t, 0.75, model.OptionWeights["v1.22"], 1e-9)
		assert.InDelta(t, 0.25, model.OptionWeights["v1.21"], 1e-9)
		assert.Equal(t, 4, model.Metrics.SampleCount)
	})

	t.Run("metrics track hint hit rates", func(t *testing.T) {
		assert.InDelta(t, 0.5, model.Metrics.Precision, 1e-9)  // 1 of 2 hints correct
		assert.InDelta(t, 0.25, model.Metrics.Accuracy, 1e-9)  // 1 of 4 samples
	})

	t.Run("retrained model drives future predictions", func(t *testing.T) {
		hint, err := e.Predict(ctx, board.ConflictDependencyVersion)
		require.NoError(t, err)
		require.NotNil(t, hint)
		assert.Equal(t, "v1.22", hint.Option)
	})

	t.Run("retraining replaces the model in place", func(t *testing.T) {
		resolvedConflict(t, client, board.ConflictDependencyVersion, "", "v1.21")

		updated, err := e.Retrain(ctx, board.ConflictDependencyVersion)
		require.NoError(t, err)
		assert.Equal(t, 5, updated.Metrics.SampleCount)
		assert.InDelta(t, 0.6, updated.OptionWeights["v1.22"], 1e-9)
	})
}
