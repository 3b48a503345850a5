package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DreyConfig represents the top-level drey.yml configuration.
// The coordination core consumes these settings but does not own them;
// everything has a sensible default so a minimal file only needs the version.
type DreyConfig struct {
	Version      string             `yaml:"version"`
	Coordination CoordinationConfig `yaml:"coordination"`
}

// CoordinationConfig groups the tunables of the three coordination components.
type CoordinationConfig struct {
	Lock        LockConfig        `yaml:"lock"`
	Hub         HubConfig         `yaml:"hub"`
	Consensus   ConsensusConfig   `yaml:"consensus"`
	Negotiation NegotiationConfig `yaml:"negotiation"`
	Prediction  PredictionConfig  `yaml:"prediction"`

	// SweepInterval is how often the coordinator daemon runs the periodic
	// sweeps (lease expiry, stale agents, deadlines). The core itself never
	// self-schedules timers.
	SweepInterval Duration `yaml:"sweep_interval,omitempty"`
}

// LockConfig specifies lock manager behavior.
type LockConfig struct {
	LeaseDuration    Duration `yaml:"lease_duration,omitempty"`      // Lease length for every lock (single manager-wide value)
	MaxLocksPerAgent int      `yaml:"max_locks_per_agent,omitempty"` // Concurrent lock cap per agent (0 = unlimited)
	AuditRetention   int      `yaml:"audit_retention,omitempty"`     // Max audit entries kept; oldest trimmed beyond this
}

// HubConfig specifies coordination hub behavior.
type HubConfig struct {
	HeartbeatTimeout Duration `yaml:"heartbeat_timeout,omitempty"` // Agents with no heartbeat this long decay to Offline
	AckTimeout       Duration `yaml:"ack_timeout,omitempty"`       // Deadline for requires_ack messages
}

// ConsensusConfig specifies consensus round defaults.
type ConsensusConfig struct {
	QuorumFraction float64  `yaml:"quorum_fraction,omitempty"` // Minimum agreeing share of registered participants
	RoundTimeout   Duration `yaml:"round_timeout,omitempty"`   // Deadline for open rounds
	Panel          []string `yaml:"panel,omitempty"`           // Optional fixed participant panel; empty = involved agents
}

// NegotiationConfig specifies two-party negotiation defaults.
type NegotiationConfig struct {
	Timeout   Duration `yaml:"timeout,omitempty"`    // Deadline for open negotiations
	MaxRounds int      `yaml:"max_rounds,omitempty"` // Proposal cap before escalation
}

// PredictionConfig specifies prediction model defaults.
type PredictionConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold,omitempty"` // Default threshold for new models
}

// Defaults applied by Validate when fields are unset.
const (
	DefaultLeaseDuration        = 5 * time.Minute
	DefaultMaxLocksPerAgent     = 16
	DefaultAuditRetention       = 10000
	DefaultHeartbeatTimeout     = 90 * time.Second
	DefaultAckTimeout           = 30 * time.Second
	DefaultQuorumFraction       = 0.75
	DefaultRoundTimeout         = 2 * time.Minute
	DefaultNegotiationTimeout   = 2 * time.Minute
	DefaultNegotiationMaxRounds = 6
	DefaultConfidenceThreshold  = 0.7
	DefaultSweepInterval        = 5 * time.Second
)

// Load reads and validates a drey.yml file, applying defaults.
func Load(path string) (*DreyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg DreyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a fully-defaulted configuration, used when no drey.yml exists.
func Default() *DreyConfig {
	cfg := &DreyConfig{Version: "1.0"}
	// Validate only fills defaults on a well-formed version
	_ = cfg.Validate()
	return cfg
}

// Validate performs strict validation on the configuration and applies
// defaults to unset fields.
func (c *DreyConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	co := &c.Coordination

	if co.Lock.LeaseDuration == 0 {
		co.Lock.LeaseDuration = Duration(DefaultLeaseDuration)
	}
	if co.Lock.LeaseDuration < 0 {
		return fmt.Errorf("lock.lease_duration must be positive")
	}
	if co.Lock.MaxLocksPerAgent == 0 {
		co.Lock.MaxLocksPerAgent = DefaultMaxLocksPerAgent
	}
	if co.Lock.MaxLocksPerAgent < 0 {
		return fmt.Errorf("lock.max_locks_per_agent must be >= 0")
	}
	if co.Lock.AuditRetention == 0 {
		co.Lock.AuditRetention = DefaultAuditRetention
	}
	if co.Lock.AuditRetention < 0 {
		return fmt.Errorf("lock.audit_retention must be >= 0")
	}

	if co.Hub.HeartbeatTimeout == 0 {
		co.Hub.HeartbeatTimeout = Duration(DefaultHeartbeatTimeout)
	}
	if co.Hub.HeartbeatTimeout < 0 {
		return fmt.Errorf("hub.heartbeat_timeout must be positive")
	}
	if co.Hub.AckTimeout == 0 {
		co.Hub.AckTimeout = Duration(DefaultAckTimeout)
	}
	if co.Hub.AckTimeout < 0 {
		return fmt.Errorf("hub.ack_timeout must be positive")
	}

	if co.Consensus.QuorumFraction == 0 {
		co.Consensus.QuorumFraction = DefaultQuorumFraction
	}
	if co.Consensus.QuorumFraction <= 0 || co.Consensus.QuorumFraction > 1 {
		return fmt.Errorf("consensus.quorum_fraction must be in (0,1], got %v", co.Consensus.QuorumFraction)
	}
	if co.Consensus.RoundTimeout == 0 {
		co.Consensus.RoundTimeout = Duration(DefaultRoundTimeout)
	}
	if co.Consensus.RoundTimeout < 0 {
		return fmt.Errorf("consensus.round_timeout must be positive")
	}

	if co.Negotiation.Timeout == 0 {
		co.Negotiation.Timeout = Duration(DefaultNegotiationTimeout)
	}
	if co.Negotiation.Timeout < 0 {
		return fmt.Errorf("negotiation.timeout must be positive")
	}
	if co.Negotiation.MaxRounds == 0 {
		co.Negotiation.MaxRounds = DefaultNegotiationMaxRounds
	}
	if co.Negotiation.MaxRounds < 0 {
		return fmt.Errorf("negotiation.max_rounds must be >= 0")
	}

	if co.Prediction.ConfidenceThreshold == 0 {
		co.Prediction.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if co.Prediction.ConfidenceThreshold < 0 || co.Prediction.ConfidenceThreshold > 1 {
		return fmt.Errorf("prediction.confidence_threshold must be in [0,1], got %v", co.Prediction.ConfidenceThreshold)
	}

	if co.SweepInterval == 0 {
		co.SweepInterval = Duration(DefaultSweepInterval)
	}
	if co.SweepInterval < 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}

	return nil
}
