package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drey.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("minimal file gets full defaults", func(t *testing.T) {
		path := writeConfig(t, "version: \"1.0\"\n")

		cfg, err := Load(path)
		require.NoError(t, err)

		co := cfg.Coordination
		assert.Equal(t, Duration(DefaultLeaseDuration), co.Lock.LeaseDuration)
		assert.Equal(t, DefaultMaxLocksPerAgent, co.Lock.MaxLocksPerAgent)
		assert.Equal(t, DefaultAuditRetention, co.Lock.AuditRetention)
		assert.Equal(t, Duration(DefaultHeartbeatTimeout), co.Hub.HeartbeatTimeout)
		assert.Equal(t, DefaultQuorumFraction, co.Consensus.QuorumFraction)
		assert.Equal(t, DefaultNegotiationMaxRounds, co.Negotiation.MaxRounds)
		assert.Equal(t, DefaultConfidenceThreshold, co.Prediction.ConfidenceThreshold)
		assert.Equal(t, Duration(DefaultSweepInterval), co.SweepInterval)
	})

	t.Run("explicit values survive", func(t *testing.T) {
		path := writeConfig(t, `version: "1.0"
coordination:
  lock:
    lease_duration: 90s
    max_locks_per_agent: 4
  consensus:
    quorum_fraction: 0.67
    round_timeout: 45s
    panel: [arbiter-1, arbiter-2, arbiter-3]
  negotiation:
    max_rounds: 3
`)

		cfg, err := Load(path)
		require.NoError(t, err)

		co := cfg.Coordination
		assert.Equal(t, 90*time.Second, co.Lock.LeaseDuration.Std())
		assert.Equal(t, 4, co.Lock.MaxLocksPerAgent)
		assert.Equal(t, 0.67, co.Consensus.QuorumFraction)
		assert.Equal(t, 45*time.Second, co.Consensus.RoundTimeout.Std())
		assert.Equal(t, []string{"arbiter-1", "arbiter-2", "arbiter-3"}, co.Consensus.Panel)
		assert.Equal(t, 3, co.Negotiation.MaxRounds)
		// Unset sections still default
		assert.Equal(t, Duration(DefaultAckTimeout), co.Hub.AckTimeout)
	})

	t.Run("missing file fails", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml fails", func(t *testing.T) {
		path := writeConfig(t, "version: [unclosed\n")
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("bad duration string fails", func(t *testing.T) {
		path := writeConfig(t, `version: "1.0"
coordination:
  lock:
    lease_duration: soon
`)
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("rejects unsupported version", func(t *testing.T) {
		cfg := &DreyConfig{Version: "2.0"}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported version")
	})

	t.Run("rejects out-of-range quorum", func(t *testing.T) {
		cfg := &DreyConfig{Version: "1.0"}
		cfg.Coordination.Consensus.QuorumFraction = 1.5
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "quorum_fraction")
	})

	t.Run("rejects negative durations", func(t *testing.T) {
		cfg := &DreyConfig{Version: "1.0"}
		cfg.Coordination.Lock.LeaseDuration = Duration(-time.Second)
		assert.Error(t, cfg.Validate())
	})
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, Duration(DefaultLeaseDuration), cfg.Coordination.Lock.LeaseDuration)
	assert.Equal(t, DefaultQuorumFraction, cfg.Coordination.Consensus.QuorumFraction)
}
