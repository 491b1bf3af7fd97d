// Package config defines Config, the validated, immutable-after-
// construction settings record every corelog component is built from.
// There is no file or environment loading here — construction is the
// caller's responsibility; yaml tags exist purely to document field
// naming in the teacher's DispatcherConfig style, never for decoding.
package config

import (
	"time"

	corelogerrors "corelog/pkg/errors"
	"corelog/pkg/types"
)

// AdaptiveConfig governs the pressure monitor and its actuators.
type AdaptiveConfig struct {
	Enabled              bool          `yaml:"enabled"`
	CheckIntervalSeconds float64       `yaml:"check_interval_seconds"`
	EscalateElevated     float64       `yaml:"escalate_elevated"`
	EscalateHigh         float64       `yaml:"escalate_high"`
	EscalateCritical     float64       `yaml:"escalate_critical"`
	DeescalateElevated   float64       `yaml:"deescalate_elevated"`
	DeescalateHigh       float64       `yaml:"deescalate_high"`
	DeescalateCritical   float64       `yaml:"deescalate_critical"`
	CooldownSeconds      float64       `yaml:"cooldown_seconds"`

	ProtectedShedThreshold    float64 `yaml:"protected_shed_threshold"`
	ProtectedRecoverThreshold float64 `yaml:"protected_recover_threshold"`

	FilterTightening bool `yaml:"filter_tightening"`
	WorkerScaling    bool `yaml:"worker_scaling"`
	CapacityGrowth   bool `yaml:"capacity_growth"`

	MaxWorkers     int     `yaml:"max_workers"`
	MaxQueueGrowth float64 `yaml:"max_queue_growth"`
}

// RedactionConfig governs the pipeline's redactor failure policy and
// guardrails.
type RedactionConfig struct {
	FailMode       string `yaml:"fail_mode"` // "open" or "closed"
	MaxDepth       int    `yaml:"max_depth"`
	MaxKeysScanned int    `yaml:"max_keys_scanned"`
	GuardrailDrop  bool   `yaml:"guardrail_drop"` // false = continue best-effort
}

// CircuitBreakerConfig governs a sink's wrapping breaker.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	TimeoutSeconds   float64       `yaml:"timeout_seconds"`
	FallbackSink     string        `yaml:"fallback_sink"`
}

// Config is the fully resolved configuration for one logger instance.
type Config struct {
	LogLevel types.Level `yaml:"log_level"`

	ProtectedLevels []types.Level `yaml:"protected_levels"`

	QueueCapacity       int     `yaml:"queue_capacity"`
	ProtectedCapacity   int     `yaml:"protected_capacity"`
	BatchMaxSize        int     `yaml:"batch_max_size"`
	BatchTimeoutSeconds float64 `yaml:"batch_timeout_seconds"`

	BackpressureWaitMS int  `yaml:"backpressure_wait_ms"`
	DropOnFull         bool `yaml:"drop_on_full"`

	WorkerCount int `yaml:"worker_count"`

	SinkCircuitBreaker CircuitBreakerConfig `yaml:"sink_circuit_breaker"`

	Adaptive  AdaptiveConfig  `yaml:"adaptive"`
	Redaction RedactionConfig `yaml:"redaction"`

	Compliance types.CompliancePolicy `yaml:"compliance"`

	DedupCacheSize int           `yaml:"dedup_cache_size"`
	DedupTTL       time.Duration `yaml:"dedup_ttl"`
}

// Default returns a Config populated with the spec's documented
// defaults; callers typically start here and override fields.
func Default() Config {
	return Config{
		LogLevel:            types.LevelInfo,
		ProtectedLevels:     []types.Level{types.LevelError, types.LevelCritical},
		QueueCapacity:       10000,
		ProtectedCapacity:   2000,
		BatchMaxSize:        100,
		BatchTimeoutSeconds: 1.0,
		BackpressureWaitMS:  0,
		DropOnFull:          true,
		WorkerCount:         1,
		SinkCircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 3,
			TimeoutSeconds:   60,
		},
		Adaptive: AdaptiveConfig{
			Enabled:              false,
			CheckIntervalSeconds: 1,
			EscalateElevated:     0.60,
			EscalateHigh:         0.80,
			EscalateCritical:     0.92,
			DeescalateElevated:   0.40,
			DeescalateHigh:       0.60,
			DeescalateCritical:   0.75,
			CooldownSeconds:      5,

			ProtectedShedThreshold:    0.70,
			ProtectedRecoverThreshold: 0.30,

			FilterTightening: true,
			WorkerScaling:    true,
			CapacityGrowth:   true,

			MaxWorkers:     16,
			MaxQueueGrowth: 4.0,
		},
		Redaction: RedactionConfig{
			FailMode:       "open",
			MaxDepth:       20,
			MaxKeysScanned: 10000,
		},
		DedupCacheSize: 256,
		DedupTTL:       10 * time.Second,
	}
}

// Validate checks threshold ordering and other structural invariants,
// returning a *errors.CoreError (CodeConfiguration) describing the
// first violation found, or nil if cfg is well-formed.
func (c Config) Validate() error {
	if !c.LogLevel.Valid() {
		return corelogerrors.ConfigurationError("validate", "log_level is not a recognized level")
	}
	if c.QueueCapacity <= 0 {
		return corelogerrors.ConfigurationError("validate", "queue_capacity must be positive")
	}
	if c.ProtectedCapacity <= 0 {
		return corelogerrors.ConfigurationError("validate", "protected_capacity must be positive")
	}
	if c.BatchMaxSize <= 0 {
		return corelogerrors.ConfigurationError("validate", "batch_max_size must be positive")
	}
	if c.WorkerCount <= 0 {
		return corelogerrors.ConfigurationError("validate", "worker_count must be positive")
	}

	a := c.Adaptive
	if a.Enabled {
		if !(a.EscalateElevated < a.EscalateHigh && a.EscalateHigh < a.EscalateCritical) {
			return corelogerrors.ConfigurationError("validate", "adaptive escalate thresholds must be strictly increasing")
		}
		if !(a.DeescalateElevated < a.DeescalateHigh && a.DeescalateHigh < a.DeescalateCritical) {
			return corelogerrors.ConfigurationError("validate", "adaptive deescalate thresholds must be strictly increasing")
		}
		if a.DeescalateElevated >= a.EscalateElevated ||
			a.DeescalateHigh >= a.EscalateHigh ||
			a.DeescalateCritical >= a.EscalateCritical {
			return corelogerrors.ConfigurationError("validate", "each deescalate threshold must be below its escalate counterpart")
		}
		if a.ProtectedShedThreshold <= a.ProtectedRecoverThreshold {
			return corelogerrors.ConfigurationError("validate", "protected_shed_threshold must exceed protected_recover_threshold")
		}
	}

	if c.Redaction.FailMode != "open" && c.Redaction.FailMode != "closed" {
		return corelogerrors.ConfigurationError("validate", "redaction fail_mode must be \"open\" or \"closed\"")
	}

	if c.SinkCircuitBreaker.Enabled && c.SinkCircuitBreaker.FailureThreshold <= 0 {
		return corelogerrors.ConfigurationError("validate", "sink_circuit_breaker.failure_threshold must be positive when enabled")
	}

	return nil
}
