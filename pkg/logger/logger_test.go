package logger

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corelog/pkg/config"
	"corelog/pkg/pipeline"
	"corelog/pkg/queue"
	"corelog/pkg/types"
	"corelog/pkg/worker"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type recordingEnqueuer struct {
	mu    sync.Mutex
	envs  []types.LogEnvelope
	full  bool
}

func (r *recordingEnqueuer) Submit(env types.LogEnvelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return false
	}
	r.envs = append(r.envs, env)
	return true
}

func (r *recordingEnqueuer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envs)
}

func newTestLogger(pool Enqueuer) *Logger {
	cfg := config.Default()
	cfg.LogLevel = types.LevelDebug
	return New(cfg, "test", pool, quietLogger())
}

func TestLevelGateDropsBelowConfiguredLevel(t *testing.T) {
	pool := &recordingEnqueuer{}
	cfg := config.Default()
	cfg.LogLevel = types.LevelWarning
	l := New(cfg, "test", pool, quietLogger())

	ok := l.Debug("should be gated out", nil)
	assert.False(t, ok)
	assert.Equal(t, 0, pool.count())

	ok = l.Error("should pass the gate", nil)
	assert.True(t, ok)
	assert.Equal(t, 1, pool.count())
}

func TestBindMergesIntoEveryEnvelope(t *testing.T) {
	pool := &recordingEnqueuer{}
	l := newTestLogger(pool)

	l.Bind("request_id", "abc-123")
	l.Info("hello", map[string]any{"extra_field": 1})

	require.Len(t, pool.envs, 1)
	assert.Equal(t, "abc-123", pool.envs[0].Data["request_id"])
	assert.Equal(t, 1, pool.envs[0].Data["extra_field"])
}

func TestUnbindAndClearContextRemoveBoundKeys(t *testing.T) {
	pool := &recordingEnqueuer{}
	l := newTestLogger(pool)

	l.Bind("a", 1)
	l.Bind("b", 2)
	l.Unbind("a")
	l.Info("one", nil)
	require.Len(t, pool.envs, 1)
	_, hasA := pool.envs[0].Data["a"]
	assert.False(t, hasA)
	assert.Equal(t, 2, pool.envs[0].Data["b"])

	l.ClearContext()
	l.Info("two", nil)
	require.Len(t, pool.envs, 2)
	assert.Empty(t, pool.envs[1].Data)
}

func TestConsecutiveErrorDuplicatesAreSuppressed(t *testing.T) {
	pool := &recordingEnqueuer{}
	l := newTestLogger(pool)

	assert.True(t, l.Error("disk full", nil))
	assert.False(t, l.Error("disk full", nil))
	assert.False(t, l.Error("disk full", nil))
	assert.Equal(t, 1, pool.count())

	assert.True(t, l.Error("different message", nil))
	assert.Equal(t, 2, pool.count())
}

func TestDuplicateSuppressionDoesNotApplyBelowErrorLevel(t *testing.T) {
	pool := &recordingEnqueuer{}
	l := newTestLogger(pool)

	assert.True(t, l.Info("steady state", nil))
	assert.True(t, l.Info("steady state", nil))
	assert.Equal(t, 2, pool.count())
}

func TestDuplicateSuppressionExpiresAfterTTL(t *testing.T) {
	pool := &recordingEnqueuer{}
	cfg := config.Default()
	cfg.LogLevel = types.LevelDebug
	cfg.DedupTTL = time.Millisecond
	l := New(cfg, "test", pool, quietLogger())

	assert.True(t, l.Error("flaky", nil))
	time.Sleep(5 * time.Millisecond)
	assert.True(t, l.Error("flaky", nil))
	assert.Equal(t, 2, pool.count())
}

func TestUnsafeDebugSetsUnsafeMarker(t *testing.T) {
	pool := &recordingEnqueuer{}
	l := newTestLogger(pool)

	l.UnsafeDebug("raw dump", map[string]any{"payload": "secret"})
	require.Len(t, pool.envs, 1)
	assert.Equal(t, true, pool.envs[0].Data["_fapilog_unsafe"])
}

func TestExceptionCapturesErrDetails(t *testing.T) {
	pool := &recordingEnqueuer{}
	l := newTestLogger(pool)

	l.Exception("failed to connect", assertError("boom"), nil)
	require.Len(t, pool.envs, 1)
	require.NotNil(t, pool.envs[0].Diagnostics.Exception)
	assert.Equal(t, "boom", pool.envs[0].Diagnostics.Exception.Message)
}

func TestEnqueueDropsImmediatelyWhenFullAndDropOnFullSet(t *testing.T) {
	pool := &recordingEnqueuer{full: true}
	cfg := config.Default()
	cfg.LogLevel = types.LevelDebug
	cfg.DropOnFull = true
	l := New(cfg, "test", pool, quietLogger())

	assert.False(t, l.Info("drop me", nil))
}

func TestEnqueueWaitsThenDropsWhenConfiguredToWait(t *testing.T) {
	pool := &recordingEnqueuer{full: true}
	cfg := config.Default()
	cfg.LogLevel = types.LevelDebug
	cfg.DropOnFull = false
	cfg.BackpressureWaitMS = 10
	l := New(cfg, "test", pool, quietLogger())

	start := time.Now()
	ok := l.Info("wait then drop", nil)
	elapsed := time.Since(start)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 9*time.Millisecond)
}

func TestStopAndDrainReturnsZeroValueForNonPoolEnqueuer(t *testing.T) {
	pool := &recordingEnqueuer{}
	l := newTestLogger(pool)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result := l.StopAndDrain(ctx)
	assert.Equal(t, DrainResult{}, result)
}

func TestStopAndDrainFlushesEventsStillQueuedAtShutdown(t *testing.T) {
	q := queue.New(queue.Config{MainCapacity: 10, ProtectedCapacity: 10})
	runner := pipeline.New(pipeline.Config{}, quietLogger(), pipeline.Plugins{})
	pool := worker.New(worker.Config{Workers: 0, BatchMaxSize: 5, BatchTimeout: time.Hour}, q, runner, nil, quietLogger())

	cfg := config.Default()
	cfg.LogLevel = types.LevelDebug
	l := New(cfg, "test", pool, quietLogger())

	for i := 0; i < 3; i++ {
		require.True(t, l.Info("queued at shutdown", nil))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result := l.StopAndDrain(ctx)
	assert.Equal(t, DrainResult{Drained: 3}, result)
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

func assertError(msg string) error {
	return simpleError(msg)
}
