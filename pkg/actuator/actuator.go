// Package actuator turns a pressure.Monitor's level transitions into
// concrete countermeasures: swapping in a tighter filter set, scaling
// the worker pool, and growing queue capacity. It is modeled on the
// degradation manager's level -> ladder-of-actions shape, but drives
// pipeline/worker/queue knobs instead of feature flags.
package actuator

import (
	"math"

	"github.com/sirupsen/logrus"

	"corelog/pkg/pipeline"
	"corelog/pkg/queue"
	"corelog/pkg/types"
	"corelog/pkg/worker"
)

// scaleFactors is indexed by types.PressureLevel; worker count target
// is ceil(initialWorkers * scaleFactors[level]).
var scaleFactors = [4]float64{1.0, 1.0, 1.5, 2.0}

// capacityFactors is indexed by types.PressureLevel; queue capacity
// target is ceil(initialCapacity * capacityFactors[level]). Capacity
// only ever grows (see queue.DualQueue.GrowCapacity), so a lower
// factor on de-escalation is a no-op rather than a shrink.
var capacityFactors = [4]float64{1.0, 1.25, 1.5, 2.0}

// FilterLadder maps each pressure level to the filter set that should
// be active at that level, tightest last. CRITICAL should name the
// most aggressive filter chain (e.g. an added SamplingFilter or a
// lower RateLimitFilter).
type FilterLadder map[types.PressureLevel]pipeline.Plugins

// Config wires an Actuator to the components it drives.
type Config struct {
	Runner *pipeline.Runner
	Pool   *worker.Pool
	Queue  *queue.DualQueue

	Ladder FilterLadder

	InitialWorkers       int
	InitialMainCapacity  int
	InitialProtectedCap  int
}

// Actuator applies the configured ladder whenever it observes a
// pressure transition; register Run as a pressure.Monitor's
// OnTransition callback.
type Actuator struct {
	cfg    Config
	logger *logrus.Logger

	onFilterSwap  func()
	onWorkerScale func(int)
	onCapacityGrow func()
}

// New constructs an Actuator.
func New(cfg Config, logger *logrus.Logger) *Actuator {
	return &Actuator{cfg: cfg, logger: logger}
}

// OnFilterSwap/OnWorkerScale/OnCapacityGrow register observers so the
// pressure monitor's AdaptiveSnapshot counters can be updated without
// this package importing pressure directly.
func (a *Actuator) OnFilterSwap(fn func())        { a.onFilterSwap = fn }
func (a *Actuator) OnWorkerScale(fn func(int))    { a.onWorkerScale = fn }
func (a *Actuator) OnCapacityGrow(fn func())      { a.onCapacityGrow = fn }

// Run applies every configured countermeasure for the target level.
// It is safe to call on every transition, including de-escalations:
// the filter ladder and worker scaler react symmetrically, while
// capacity growth is a no-op once the target is at or below the
// current capacity.
func (a *Actuator) Run(from, to types.PressureLevel) {
	a.applyFilterLadder(to)
	a.applyWorkerScale(to)
	a.applyCapacityGrowth(to)

	a.logger.WithFields(logrus.Fields{
		"from": from.String(),
		"to":   to.String(),
	}).Info("actuator applied countermeasures for pressure transition")
}

func (a *Actuator) applyFilterLadder(level types.PressureLevel) {
	if a.cfg.Runner == nil || a.cfg.Ladder == nil {
		return
	}
	plugins, ok := a.cfg.Ladder[level]
	if !ok {
		return
	}
	a.cfg.Runner.SetPlugins(plugins)
	if a.onFilterSwap != nil {
		a.onFilterSwap()
	}
}

func (a *Actuator) applyWorkerScale(level types.PressureLevel) {
	if a.cfg.Pool == nil || a.cfg.InitialWorkers <= 0 {
		return
	}
	target := scaledCount(a.cfg.InitialWorkers, level)
	a.cfg.Pool.ScaleTo(target)
	if a.onWorkerScale != nil {
		a.onWorkerScale(target)
	}
}

func (a *Actuator) applyCapacityGrowth(level types.PressureLevel) {
	if a.cfg.Queue == nil {
		return
	}
	newMain := scaledCapacity(a.cfg.InitialMainCapacity, level)
	newProtected := scaledCapacity(a.cfg.InitialProtectedCap, level)
	a.cfg.Queue.GrowCapacity(newMain, newProtected)
	if a.onCapacityGrow != nil {
		a.onCapacityGrow()
	}
}

func scaledCount(initial int, level types.PressureLevel) int {
	return int(math.Ceil(float64(initial) * scaleFactors[level]))
}

func scaledCapacity(initial int, level types.PressureLevel) int {
	return int(math.Ceil(float64(initial) * capacityFactors[level]))
}
