// Package pipeline runs one envelope through the fixed-order
// enrich -> redact -> process -> filter stages, containing failures at
// each stage per the contracts in corelog/pkg/types.
package pipeline

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"corelog/pkg/envelope"
	"corelog/pkg/types"
)

const unsafeMarkerKey = "_fapilog_unsafe"

// GuardrailPolicy controls what a redactor rollback does when a
// guardrail limit is exceeded.
type GuardrailPolicy int

const (
	// GuardrailContinue keeps the redactions committed so far and skips
	// every remaining redactor.
	GuardrailContinue GuardrailPolicy = iota
	// GuardrailDrop returns the original, pre-redaction event untouched
	// (never nil) and skips remaining redactors.
	GuardrailDrop
)

// GuardrailConfig bounds redactor CPU usage. Runner enforces
// MaxKeysScanned, a running count of top-level Data keys across the
// redactor chain; MaxDepth is not consulted.
type GuardrailConfig struct {
	MaxDepth       int
	MaxKeysScanned int
	Policy         GuardrailPolicy
}

// RedactionFailMode controls how a raising redactor's failure is
// handled. FailOpen (the default) lets the pre-redaction event proceed
// unchanged; FailClosed drops the event.
type RedactionFailMode int

const (
	RedactionFailOpen RedactionFailMode = iota
	RedactionFailClosed
)

// Config configures a Runner's guardrails and redaction failure
// policy. The plugin lists are held separately as Plugins, which the
// filter-tightening actuator may swap at runtime through SetPlugins;
// Runner guards them with a read-write mutex so each read sees one
// consistent set.
type Config struct {
	Guardrail     GuardrailConfig
	RedactionFail RedactionFailMode
}

// Plugins is one consistent set of pipeline stages. The filter-
// tightening actuator swaps this wholesale.
type Plugins struct {
	Enrichers  []types.Enricher
	Redactors  []types.Redactor
	Processors []types.Processor
	Filters    []types.Filter
}

// Outcome is what running one envelope through the pipeline produced.
type Outcome struct {
	View    types.SerializedView
	Dropped bool
	// DroppedBy names the filter that dropped the event, empty otherwise.
	DroppedBy string
}

// Runner executes the pipeline for one envelope at a time; it is safe
// for concurrent use by multiple workers.
type Runner struct {
	cfg    Config
	logger *logrus.Logger

	mu      sync.RWMutex
	plugins Plugins
}

// New constructs a Runner with an initial plugin set.
func New(cfg Config, logger *logrus.Logger, plugins Plugins) *Runner {
	return &Runner{cfg: cfg, logger: logger, plugins: plugins}
}

// SetPlugins atomically replaces the active plugin set. Workers only
// observe the new set at their next batch boundary.
func (r *Runner) SetPlugins(p Plugins) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = p
}

// CurrentPlugins returns the plugin set workers should use for their
// next batch.
func (r *Runner) CurrentPlugins() Plugins {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.plugins
}

// Run executes enrich -> redact -> process -> filter on env using the
// plugin set supplied (normally Runner.CurrentPlugins(), captured once
// per batch by the worker pool).
func (r *Runner) Run(ctx context.Context, env types.LogEnvelope, plugins Plugins) (Outcome, error) {
	enriched := r.runEnrichers(ctx, env, plugins.Enrichers)

	var redacted *types.LogEnvelope
	if isUnsafe(enriched) {
		redacted = &enriched
	} else {
		redacted = r.runRedactors(ctx, enriched, plugins.Redactors)
	}
	if redacted == nil {
		return Outcome{Dropped: true, DroppedBy: "redaction_fail_closed"}, nil
	}

	view, err := envelope.Serialize(*redacted)
	if err != nil {
		return Outcome{}, err
	}

	view = r.runProcessors(ctx, view, plugins.Processors)

	for _, f := range plugins.Filters {
		out := f.Filter(ctx, redacted)
		if out.Drop {
			return Outcome{Dropped: true, DroppedBy: f.Name()}, nil
		}
	}

	return Outcome{View: view}, nil
}

func isUnsafe(env types.LogEnvelope) bool {
	v, ok := env.Data[unsafeMarkerKey]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// runEnrichers fans out in parallel and merges contributions into the
// envelope's Data, last-writer-wins, per registration order on ties.
// A panicking or erroring enricher's contribution is dropped; the
// others still proceed.
func (r *Runner) runEnrichers(ctx context.Context, env types.LogEnvelope, enrichers []types.Enricher) types.LogEnvelope {
	if len(enrichers) == 0 {
		return env
	}

	contributions := make([]map[string]any, len(enrichers))
	var wg sync.WaitGroup
	for i, e := range enrichers {
		wg.Add(1)
		go func(i int, e types.Enricher) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.WithFields(logrus.Fields{
						"enricher": e.Name(),
						"panic":    rec,
					}).Warn("enricher panicked, contribution dropped")
				}
			}()
			out, err := e.Enrich(ctx, &env)
			if err != nil {
				r.logger.WithError(err).WithField("enricher", e.Name()).Warn("enricher failed, contribution dropped")
				return
			}
			contributions[i] = out
		}(i, e)
	}
	wg.Wait()

	out := env
	out.Data = cloneData(env.Data)
	for _, c := range contributions {
		for k, v := range c {
			out.Data[k] = v
		}
	}
	return out
}

// runRedactors runs redactors sequentially over a deep copy, rolling
// back to the last committed envelope if one fails.
func (r *Runner) runRedactors(ctx context.Context, env types.LogEnvelope, redactors []types.Redactor) *types.LogEnvelope {
	committed := env.Clone()
	depth, keysScanned := 0, 0
	_ = depth

	for _, red := range redactors {
		keysScanned += len(committed.Data)
		if r.cfg.Guardrail.MaxKeysScanned > 0 && keysScanned > r.cfg.Guardrail.MaxKeysScanned {
			if r.cfg.Guardrail.Policy == GuardrailDrop {
				return env.Clone()
			}
			continue
		}

		next, err := red.Redact(ctx, committed.Clone())
		if err != nil {
			r.logger.WithError(err).WithField("redactor", red.Name()).Warn("redactor failed")
			if r.cfg.RedactionFail == RedactionFailClosed {
				return nil
			}
			continue // fail-open: keep last committed snapshot, move to next redactor
		}
		committed = next
	}
	return committed
}

func (r *Runner) runProcessors(ctx context.Context, view types.SerializedView, processors []types.Processor) types.SerializedView {
	current := view
	for _, p := range processors {
		next, err := p.Process(ctx, current)
		if err != nil {
			r.logger.WithError(err).WithField("processor", p.Name()).Warn("processor failed, view unchanged")
			continue
		}
		current = next
	}
	return current
}

func cloneData(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
