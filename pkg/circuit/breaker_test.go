package circuit

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corelog/pkg/types"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeSink struct {
	name   string
	fail   bool
	writes int
}

func (f *fakeSink) Name() string                   { return f.name }
func (f *fakeSink) Start(ctx context.Context) error { return nil }
func (f *fakeSink) Stop() error                     { return nil }
func (f *fakeSink) HealthCheck() bool               { return !f.fail }
func (f *fakeSink) Write(ctx context.Context, v types.SerializedView) error {
	f.writes++
	if f.fail {
		return errors.New("primary down")
	}
	return nil
}

func writeThrough(sink *fakeSink) func(ctx context.Context) error {
	return func(ctx context.Context) error { return sink.Write(ctx, types.SerializedView("x")) }
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{FailureThreshold: 2, Timeout: time.Hour}, quietLogger())
	sink := &fakeSink{name: "s", fail: true}

	_ = b.Guard(context.Background(), sink, writeThrough(sink))
	assert.Equal(t, types.CircuitBreakerClosed, b.State())

	_ = b.Guard(context.Background(), sink, writeThrough(sink))
	assert.Equal(t, types.CircuitBreakerOpen, b.State())
}

func TestBreakerOpenRejectsWithoutCallingFn(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Timeout: time.Hour}, quietLogger())
	sink := &fakeSink{name: "s", fail: true}
	_ = b.Guard(context.Background(), sink, writeThrough(sink))
	require.Equal(t, types.CircuitBreakerOpen, b.State())

	called := false
	err := b.Guard(context.Background(), sink, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called, "cooldown has not elapsed, write must not run")
}

func TestBreakerStaysOpenWhenSinkFailsHealthCheck(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Timeout: time.Millisecond}, quietLogger())
	sink := &fakeSink{name: "s", fail: true}
	_ = b.Guard(context.Background(), sink, writeThrough(sink))
	require.Equal(t, types.CircuitBreakerOpen, b.State())

	time.Sleep(5 * time.Millisecond)

	called := false
	err := b.Guard(context.Background(), sink, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called, "sink still fails its own health check, no probe write should run")
	assert.Equal(t, types.CircuitBreakerOpen, b.State(), "breaker stays open rather than half-opening against a known-bad sink")
}

func TestBreakerHalfOpenProbeClosesOnSuccess(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Millisecond}, quietLogger())
	sink := &fakeSink{name: "s", fail: true}
	_ = b.Guard(context.Background(), sink, writeThrough(sink))
	require.Equal(t, types.CircuitBreakerOpen, b.State())

	time.Sleep(5 * time.Millisecond)
	sink.fail = false // health check now passes, a probe is admitted

	err := b.Guard(context.Background(), sink, writeThrough(sink))
	assert.NoError(t, err)
	assert.Equal(t, types.CircuitBreakerClosed, b.State())
}

func TestBreakerHalfOpenProbeReopensOnFailure(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Timeout: time.Millisecond}, quietLogger())
	sink := &fakeSink{name: "s", fail: true}
	_ = b.Guard(context.Background(), sink, writeThrough(sink))
	time.Sleep(5 * time.Millisecond)

	// The health check reports healthy (the prior failure has cleared
	// at the transport level) but the probe write itself still fails.
	probeSink := &fakeSink{name: "s"}
	err := b.Guard(context.Background(), probeSink, func(ctx context.Context) error {
		return errors.New("still failing")
	})
	assert.Error(t, err)
	assert.Equal(t, types.CircuitBreakerOpen, b.State())
}

func TestSinkBreakerRoutesToFallbackWhenOpen(t *testing.T) {
	primary := &fakeSink{name: "primary", fail: true}
	fallback := &fakeSink{name: "fallback"}
	sb := NewSinkBreaker(primary, Config{FailureThreshold: 1, Timeout: time.Hour}, quietLogger(), fallback)

	err := sb.Write(context.Background(), types.SerializedView("x"))
	assert.NoError(t, err)
	assert.Equal(t, 1, fallback.writes)

	err = sb.Write(context.Background(), types.SerializedView("x"))
	assert.NoError(t, err)
	assert.Equal(t, 2, fallback.writes, "breaker is open now, primary must not be called again")
	assert.Equal(t, 1, primary.writes)
}
