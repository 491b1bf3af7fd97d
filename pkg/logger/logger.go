// Package logger implements the Logger facade: the public entry point
// applications call to emit a log event. It resolves bound context,
// applies the level gate and backpressure policy, builds and enqueues
// an envelope, and exposes the dedup-suppression and graceful-drain
// behavior described in the spec's facade section. Its enqueue/
// backpressure shape is grounded on the teacher's
// Dispatcher.Handle/handleWithoutBackpressure flow.
package logger

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"corelog/pkg/config"
	"corelog/pkg/envelope"
	"corelog/pkg/types"
	"corelog/pkg/worker"
)

// Enqueuer is the subset of worker.Pool the facade depends on; kept as
// an interface so tests can substitute a recording fake.
type Enqueuer interface {
	Submit(env types.LogEnvelope) bool
}

var _ Enqueuer = (*worker.Pool)(nil)

// DrainResult reports the outcome of StopAndDrain.
type DrainResult struct {
	Drained  int
	TimedOut bool
}

// dedupEntry is one suppressed-repeat tracking slot.
type dedupEntry struct {
	key       uint64
	expiresAt time.Time
	count     int
}

// Logger is the facade applications call into.
type Logger struct {
	cfg    config.Config
	pool   Enqueuer
	logger *logrus.Logger
	name   string

	mu      sync.Mutex
	context map[string]any

	dedupMu sync.Mutex
	dedup   map[uint64]*dedupEntry
}

// New constructs a Logger bound to name (the envelope's logger field),
// submitting accepted events to pool.
func New(cfg config.Config, name string, pool Enqueuer, diagLogger *logrus.Logger) *Logger {
	return &Logger{
		cfg:    cfg,
		pool:   pool,
		logger: diagLogger,
		name:   name,
		dedup:  make(map[uint64]*dedupEntry),
	}
}

// Bind merges key/value into this Logger's bound context, returned on
// every subsequent log call until Unbind/ClearContext.
func (l *Logger) Bind(key string, value any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.context == nil {
		l.context = make(map[string]any)
	}
	l.context[key] = value
}

// Unbind removes one bound context key.
func (l *Logger) Unbind(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.context, key)
}

// ClearContext removes every bound context key.
func (l *Logger) ClearContext() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.context = nil
}

func (l *Logger) boundContext() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]any, len(l.context))
	for k, v := range l.context {
		out[k] = v
	}
	return out
}

// Debug/Info/Warning/Error/Critical emit one log event at the named
// level, subject to the level gate, dedup suppression (ERROR/CRITICAL
// only), and backpressure policy.
func (l *Logger) Debug(msg string, extra map[string]any) bool {
	return l.log(types.LevelDebug, msg, extra, nil)
}

func (l *Logger) Info(msg string, extra map[string]any) bool {
	return l.log(types.LevelInfo, msg, extra, nil)
}

func (l *Logger) Warning(msg string, extra map[string]any) bool {
	return l.log(types.LevelWarning, msg, extra, nil)
}

func (l *Logger) Error(msg string, extra map[string]any) bool {
	return l.log(types.LevelError, msg, extra, nil)
}

func (l *Logger) Critical(msg string, extra map[string]any) bool {
	return l.log(types.LevelCritical, msg, extra, nil)
}

// Exception logs at ERROR with exception serialization enabled for
// err.
func (l *Logger) Exception(msg string, err error, extra map[string]any) bool {
	return l.log(types.LevelError, msg, extra, err)
}

// UnsafeDebug logs at DEBUG with the unsafe marker set, so the
// pipeline skips the redactor stage entirely for this one event. It
// is the only facade method permitted to do so.
func (l *Logger) UnsafeDebug(msg string, extra map[string]any) bool {
	merged := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		merged[k] = v
	}
	merged["_fapilog_unsafe"] = true
	return l.emit(types.LevelDebug, msg, merged, nil, true)
}

func (l *Logger) log(level types.Level, msg string, extra map[string]any, err error) bool {
	return l.emit(level, msg, extra, err, false)
}

// emit builds and enqueues one event. allowUnsafe is true only for
// UnsafeDebug; every other method has the unsafe marker stripped.
func (l *Logger) emit(level types.Level, msg string, extra map[string]any, err error, allowUnsafe bool) bool {
	if level.Rank() < l.cfg.LogLevel.Rank() {
		return false
	}

	if (level == types.LevelError || level == types.LevelCritical) && l.isDuplicate(level, msg) {
		return false
	}

	opts := envelope.BuildOptions{
		Level:                  level,
		Message:                msg,
		Extra:                  extra,
		BoundContext:           l.boundContext(),
		Logger:                 l.name,
		Err:                    err,
		ExceptionSerialization: err != nil,
		AllowUnsafeMarker:      allowUnsafe,
	}
	env := envelope.Build(opts)

	return l.enqueue(env)
}

// isDuplicate reports whether (level, message) matches the last
// suppressed-repeat entry within its TTL, recording a fresh entry
// otherwise. The cache key is an xxhash digest of level+message,
// matching the teacher's xxhash-mode deduplication manager.
func (l *Logger) isDuplicate(level types.Level, msg string) bool {
	if l.cfg.DedupCacheSize <= 0 {
		return false
	}
	key := hashKey(level, msg)
	now := time.Now()

	l.dedupMu.Lock()
	defer l.dedupMu.Unlock()

	if entry, ok := l.dedup[key]; ok && now.Before(entry.expiresAt) {
		entry.count++
		entry.expiresAt = now.Add(l.cfg.DedupTTL)
		return true
	}

	l.evictExpired(now)
	if len(l.dedup) >= l.cfg.DedupCacheSize {
		l.evictOldest()
	}
	l.dedup[key] = &dedupEntry{key: key, expiresAt: now.Add(l.cfg.DedupTTL)}
	return false
}

func (l *Logger) evictExpired(now time.Time) {
	for k, e := range l.dedup {
		if now.After(e.expiresAt) {
			delete(l.dedup, k)
		}
	}
}

func (l *Logger) evictOldest() {
	var oldestKey uint64
	var oldestAt time.Time
	first := true
	for k, e := range l.dedup {
		if first || e.expiresAt.Before(oldestAt) {
			oldestKey, oldestAt, first = k, e.expiresAt, false
		}
	}
	if !first {
		delete(l.dedup, oldestKey)
	}
}

func hashKey(level types.Level, msg string) uint64 {
	h := xxhash.New()
	h.WriteString(string(level))
	h.WriteString("|")
	h.WriteString(msg)
	return h.Sum64()
}

// enqueue applies the configured backpressure policy: drop at once
// when DropOnFull is set or BackpressureWaitMS is not positive,
// otherwise retry for up to BackpressureWaitMS and then drop. It never
// blocks without that deadline. Modeled on the teacher's
// rate-limit/backpressure branch in Dispatcher.Handle.
func (l *Logger) enqueue(env types.LogEnvelope) bool {
	if l.pool.Submit(env) {
		return true
	}
	if l.cfg.DropOnFull || l.cfg.BackpressureWaitMS <= 0 {
		l.logger.WithField("level", env.Level).Warn("queue full, event dropped")
		return false
	}

	deadline := time.After(time.Duration(l.cfg.BackpressureWaitMS) * time.Millisecond)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			l.logger.WithField("level", env.Level).Warn("queue full after backpressure wait, event dropped")
			return false
		case <-ticker.C:
			if l.pool.Submit(env) {
				return true
			}
		}
	}
}

// StopAndDrain stops the worker pool (if it is one), flushing any
// events still sitting in the queue through one final batch, and
// reports how many of them were recovered by that flush, respecting
// ctx's deadline.
func (l *Logger) StopAndDrain(ctx context.Context) DrainResult {
	pool, ok := l.pool.(*worker.Pool)
	if !ok {
		return DrainResult{}
	}

	drainedCh := make(chan int, 1)
	go func() {
		drainedCh <- pool.Stop()
	}()

	select {
	case drained := <-drainedCh:
		return DrainResult{Drained: drained}
	case <-ctx.Done():
		return DrainResult{TimedOut: true}
	}
}
