// Package pressure implements the hysteresis state machine that turns
// queue fill ratios into a types.PressureLevel, coupling it to the
// shedding decision for the protected lane. It is modeled on the
// backpressure manager's score -> level -> cooldown/stabilize shape,
// but uses distinct ascending and descending threshold ladders instead
// of one symmetric ladder, so the monitor does not flap at a boundary.
package pressure

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	corelogerrors "corelog/pkg/errors"
	"corelog/pkg/types"
)

// Config configures the Monitor's threshold ladders and timing.
type Config struct {
	// EscalateThresholds is indexed by the level being escalated INTO:
	// [1]=ELEVATED, [2]=HIGH, [3]=CRITICAL. Defaults 0.60/0.80/0.92.
	EscalateThresholds [4]float64
	// DeescalateThresholds is indexed the same way; a level is
	// abandoned once the fill ratio drops below its own de-escalate
	// threshold. Defaults 0.40/0.60/0.75.
	DeescalateThresholds [4]float64

	Cooldown time.Duration

	// ShedActivateRatio/ShedDeactivateRatio gate the protected-lane
	// shedding decision independently of the level thresholds above.
	ShedActivateRatio   float64
	ShedDeactivateRatio float64
}

func defaultConfig() Config {
	return Config{
		EscalateThresholds:   [4]float64{0, 0.60, 0.80, 0.92},
		DeescalateThresholds: [4]float64{0, 0.40, 0.60, 0.75},
		Cooldown:             5 * time.Second,
		ShedActivateRatio:    0.70,
		ShedDeactivateRatio:  0.30,
	}
}

// ShedTarget is the protected lane a Monitor drives shedding on.
// queue.DualQueue satisfies this directly.
type ShedTarget interface {
	ActivateShedding()
	DeactivateShedding()
	IsShedding() bool
}

// Monitor tracks pressure level and accumulates an AdaptiveSnapshot
// across its lifetime.
type Monitor struct {
	cfg    Config
	logger *logrus.Logger

	mu             sync.Mutex
	level          types.PressureLevel
	lastTransition time.Time
	everTransited  bool

	snapshot       types.AdaptiveSnapshot
	levelEnteredAt time.Time

	onTransition func(from, to types.PressureLevel)
	shedTarget   ShedTarget
}

// New constructs a Monitor starting at PressureNormal. Zero-valued
// threshold and shed-ratio fields in cfg fall back to the package
// defaults; a zero Cooldown means no cooldown, and only a negative
// Cooldown selects the default. Returns a
// *errors.CoreError (CodeConfiguration) if the resulting thresholds
// are not strictly ordered, per spec.md's "validated at construction"
// requirement.
func New(cfg Config, logger *logrus.Logger) (*Monitor, error) {
	d := defaultConfig()
	if cfg.EscalateThresholds == [4]float64{} {
		cfg.EscalateThresholds = d.EscalateThresholds
	}
	if cfg.DeescalateThresholds == [4]float64{} {
		cfg.DeescalateThresholds = d.DeescalateThresholds
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = d.Cooldown
	}
	if cfg.ShedActivateRatio <= 0 {
		cfg.ShedActivateRatio = d.ShedActivateRatio
	}
	if cfg.ShedDeactivateRatio <= 0 {
		cfg.ShedDeactivateRatio = d.ShedDeactivateRatio
	}

	if err := validateThresholds(cfg); err != nil {
		return nil, err
	}

	now := time.Now()
	return &Monitor{
		cfg:            cfg,
		logger:         logger,
		level:          types.PressureNormal,
		levelEnteredAt: now,
		snapshot:       types.AdaptiveSnapshot{TimeAtLevel: map[types.PressureLevel]time.Duration{}},
	}, nil
}

// validateThresholds enforces escalate_to_elevated < escalate_to_high <
// escalate_to_critical, the same ordering for the deescalate ladder,
// each deescalate_from_X < escalate_to_X, and shed-activate above
// shed-deactivate.
func validateThresholds(cfg Config) error {
	e, d := cfg.EscalateThresholds, cfg.DeescalateThresholds

	if !(e[types.PressureElevated] < e[types.PressureHigh] && e[types.PressureHigh] < e[types.PressureCritical]) {
		return corelogerrors.ConfigurationError("validate", "pressure escalate thresholds must be strictly increasing")
	}
	if !(d[types.PressureElevated] < d[types.PressureHigh] && d[types.PressureHigh] < d[types.PressureCritical]) {
		return corelogerrors.ConfigurationError("validate", "pressure deescalate thresholds must be strictly increasing")
	}
	for _, lvl := range []types.PressureLevel{types.PressureElevated, types.PressureHigh, types.PressureCritical} {
		if d[lvl] >= e[lvl] {
			return corelogerrors.ConfigurationError("validate", "each pressure deescalate threshold must be below its escalate counterpart")
		}
	}
	if cfg.ShedActivateRatio <= cfg.ShedDeactivateRatio {
		return corelogerrors.ConfigurationError("validate", "shed_activate_ratio must exceed shed_deactivate_ratio")
	}
	return nil
}

// OnTransition registers a callback invoked after every accepted level
// change, used to drive the filter/worker/capacity actuators.
func (m *Monitor) OnTransition(fn func(from, to types.PressureLevel)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = fn
}

// Level returns the monitor's current pressure level.
func (m *Monitor) Level() types.PressureLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Observe feeds a fresh main-lane fill ratio into the state machine
// and returns the (possibly unchanged) resulting level. The very first
// observation is never cooldown-gated so the monitor can react
// immediately to a system that starts under load.
func (m *Monitor) Observe(mainFillRatio float64) types.PressureLevel {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := m.nextLevel(m.level, mainFillRatio)
	if target == m.level {
		return m.level
	}

	if m.everTransited && time.Since(m.lastTransition) < m.cfg.Cooldown {
		return m.level
	}

	m.transition(target)
	return m.level
}

// nextLevel applies the hysteresis ladders, moving at most one step
// per observation: escalation uses the escalate threshold of the level
// directly above current; de-escalation uses the de-escalate threshold
// of the CURRENT level, so a level is only abandoned once utilization
// falls meaningfully below where it was entered.
func (m *Monitor) nextLevel(current types.PressureLevel, ratio float64) types.PressureLevel {
	if current < types.PressureCritical && ratio >= m.cfg.EscalateThresholds[current+1] {
		return current + 1
	}
	if current > types.PressureNormal && ratio < m.cfg.DeescalateThresholds[current] {
		return current - 1
	}
	return current
}

func (m *Monitor) transition(target types.PressureLevel) {
	from := m.level
	now := time.Now()

	if d, ok := m.snapshot.TimeAtLevel[from]; ok {
		m.snapshot.TimeAtLevel[from] = d + now.Sub(m.levelEnteredAt)
	} else {
		m.snapshot.TimeAtLevel[from] = now.Sub(m.levelEnteredAt)
	}

	m.level = target
	m.levelEnteredAt = now
	m.lastTransition = now
	m.everTransited = true

	if target > from {
		m.snapshot.EscalationCount++
	} else {
		m.snapshot.DeescalationCount++
	}
	if target > m.snapshot.PeakLevel {
		m.snapshot.PeakLevel = target
	}

	m.logger.WithFields(logrus.Fields{
		"from": from.String(),
		"to":   target.String(),
	}).Warn("pressure level changed")

	if m.onTransition != nil {
		m.onTransition(from, target)
	}
}

// ShouldActivateShedding/ShouldDeactivateShedding apply the
// independent protected-lane hysteresis band to the protected lane's
// own fill ratio.
func (m *Monitor) ShouldActivateShedding(protectedFillRatio float64) bool {
	return protectedFillRatio >= m.cfg.ShedActivateRatio
}

func (m *Monitor) ShouldDeactivateShedding(protectedFillRatio float64) bool {
	return protectedFillRatio < m.cfg.ShedDeactivateRatio
}

// CoupleShedding wires target as this Monitor's 1:1 shedding
// controller: ObserveProtected will call target's Activate/Deactivate
// methods directly instead of leaving the decision to the caller.
func (m *Monitor) CoupleShedding(target ShedTarget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shedTarget = target
}

// ObserveProtected feeds a fresh protected-lane fill ratio into the
// shedding hysteresis band and, if a shed target is coupled, toggles
// it. Returns the resulting shedding state.
func (m *Monitor) ObserveProtected(protectedFillRatio float64) bool {
	m.mu.Lock()
	target := m.shedTarget
	m.mu.Unlock()

	if target == nil {
		return m.ShouldActivateShedding(protectedFillRatio) && !m.ShouldDeactivateShedding(protectedFillRatio)
	}

	switch {
	case m.ShouldActivateShedding(protectedFillRatio):
		target.ActivateShedding()
	case m.ShouldDeactivateShedding(protectedFillRatio):
		target.DeactivateShedding()
	}
	return target.IsShedding()
}

// Snapshot returns a copy of the accumulated AdaptiveSnapshot,
// including time spent at the current (not-yet-closed-out) level.
func (m *Monitor) Snapshot() types.AdaptiveSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.snapshot
	out.TimeAtLevel = make(map[types.PressureLevel]time.Duration, len(m.snapshot.TimeAtLevel)+1)
	for k, v := range m.snapshot.TimeAtLevel {
		out.TimeAtLevel[k] = v
	}
	out.TimeAtLevel[m.level] += time.Since(m.levelEnteredAt)
	return out
}

// RecordFilterSwap/RecordWorkerScale/RecordBatchResize let actuators
// report that they fired, for the AdaptiveSnapshot's actuator counts.
func (m *Monitor) RecordFilterSwap() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.FiltersSwapped++
}

func (m *Monitor) RecordWorkerScale(newCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.WorkersScaled++
	if newCount > m.snapshot.PeakWorkerCount {
		m.snapshot.PeakWorkerCount = newCount
	}
}

func (m *Monitor) RecordBatchResize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.BatchResizeCount++
}
