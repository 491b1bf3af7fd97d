package actuator

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

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

type nilSink struct{}

func (nilSink) Name() string                                      { return "nil" }
func (nilSink) Start(ctx context.Context) error                   { return nil }
func (nilSink) Stop() error                                       { return nil }
func (nilSink) HealthCheck() bool                                 { return true }
func (nilSink) Write(ctx context.Context, v types.SerializedView) error { return nil }

func TestApplyWorkerScaleUsesCeilingOfFactor(t *testing.T) {
	q := queue.New(queue.Config{MainCapacity: 10, ProtectedCapacity: 5})
	runner := pipeline.New(pipeline.Config{}, quietLogger(), pipeline.Plugins{})
	pool := worker.New(worker.Config{Workers: 3}, q, runner, []types.Sink{nilSink{}}, quietLogger())
	pool.Start(context.Background())
	defer pool.Stop()

	a := New(Config{Pool: pool, InitialWorkers: 3}, quietLogger())
	a.Run(types.PressureNormal, types.PressureHigh)

	assert.Equal(t, 5, pool.Stats().ActiveWorkers, "ceil(3 * 1.5) == 5")
}

func TestApplyCapacityGrowthIsMonotonic(t *testing.T) {
	q := queue.New(queue.Config{MainCapacity: 10, ProtectedCapacity: 5})
	a := New(Config{Queue: q, InitialMainCapacity: 10, InitialProtectedCap: 5}, quietLogger())

	a.Run(types.PressureNormal, types.PressureCritical)
	assert.Equal(t, 20, q.MainCapacity())
	assert.Equal(t, 10, q.ProtectedCapacity())

	a.Run(types.PressureCritical, types.PressureNormal)
	assert.Equal(t, 20, q.MainCapacity(), "capacity never shrinks back down on de-escalation")
}

func TestApplyFilterLadderSwapsRunnerPlugins(t *testing.T) {
	runner := pipeline.New(pipeline.Config{}, quietLogger(), pipeline.Plugins{})
	ladder := FilterLadder{
		types.PressureCritical: {Filters: nil},
	}
	a := New(Config{Runner: runner, Ladder: ladder}, quietLogger())

	swapped := false
	a.OnFilterSwap(func() { swapped = true })
	a.Run(types.PressureNormal, types.PressureCritical)
	assert.True(t, swapped)
}
