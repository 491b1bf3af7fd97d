// Package worker runs a pool of goroutines, resizable through ScaleTo,
// that drain a
// queue.DualQueue, batch events by size or timeout, run each through a
// pipeline.Runner, and write the resulting serialized views to a set
// of sinks.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"corelog/pkg/pipeline"
	"corelog/pkg/queue"
	"corelog/pkg/types"
)

// Config configures the Pool.
type Config struct {
	Workers             int
	BatchMaxSize        int
	BatchTimeout        time.Duration
	MaxRetries          int
	RetryDelay          time.Duration
}

// Stats is a point-in-time snapshot of the pool's counters.
type Stats struct {
	Submitted               int64
	Processed               int64
	Dropped                 int64
	Retried                 int64
	QueueDepthHighWatermark int64
	ActiveWorkers           int
	DrainedAtShutdown       int64
}

// Pool owns a set of worker goroutines draining a shared queue.
type Pool struct {
	cfg    Config
	q      *queue.DualQueue
	runner *pipeline.Runner
	sinks  []types.Sink
	logger *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// workerCancels holds one cancel func per live worker, in the order
	// workers were started, so scale-down can retire the
	// most-recently-added worker first without disturbing the rest.
	mu            sync.Mutex
	workerCancels []context.CancelFunc
	nextWorkerID  int

	submitted               atomic.Int64
	processed               atomic.Int64
	dropped                 atomic.Int64
	retried                 atomic.Int64
	queueDepthHighWatermark atomic.Int64
	drainedAtShutdown       atomic.Int64
}

// New constructs a Pool. It does not start any workers; call Start.
func New(cfg Config, q *queue.DualQueue, runner *pipeline.Runner, sinks []types.Sink, logger *logrus.Logger) *Pool {
	if cfg.BatchMaxSize <= 0 {
		cfg.BatchMaxSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 5 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Pool{cfg: cfg, q: q, runner: runner, sinks: sinks, logger: logger}
}

// Start launches the configured number of workers.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		p.addWorker()
	}
}

// Stop cancels every worker, waits for them to flush their in-flight
// batch, then drains whatever is still sitting in the queue (enqueued
// but never dequeued by a worker) and runs it through one final
// flush, per spec.md's "stop_and_drain() ... flushes pending events."
// Returns the number of envelopes recovered by that final drain.
func (p *Pool) Stop() int {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	var remaining []types.LogEnvelope
	p.q.DrainInto(&remaining)
	p.drainedAtShutdown.Store(int64(len(remaining)))

	log := p.logger.WithField("worker_id", "shutdown-drain")
	for i := 0; i < len(remaining); i += p.cfg.BatchMaxSize {
		end := i + p.cfg.BatchMaxSize
		if end > len(remaining) {
			end = len(remaining)
		}
		p.processBatch(context.Background(), remaining[i:end], log)
	}

	return len(remaining)
}

// ScaleTo adjusts the live worker count to target, starting new
// workers or retiring the most-recently-added ones as needed. It is
// the mechanism the pressure actuator drives.
func (p *Pool) ScaleTo(target int) {
	p.mu.Lock()
	current := len(p.workerCancels)
	p.mu.Unlock()

	if target > current {
		for i := current; i < target; i++ {
			p.addWorker()
		}
		return
	}
	for i := current; i > target; i-- {
		p.retireLastWorker()
	}
}

func (p *Pool) addWorker() {
	p.mu.Lock()
	wctx, wcancel := context.WithCancel(p.ctx)
	p.workerCancels = append(p.workerCancels, wcancel)
	id := p.nextWorkerID
	p.nextWorkerID++
	p.mu.Unlock()

	p.wg.Add(1)
	go p.runWorker(wctx, id)
}

func (p *Pool) retireLastWorker() {
	p.mu.Lock()
	n := len(p.workerCancels)
	if n == 0 {
		p.mu.Unlock()
		return
	}
	cancel := p.workerCancels[n-1]
	p.workerCancels = p.workerCancels[:n-1]
	p.mu.Unlock()
	cancel()
}

// Submit enqueues an already-built envelope. Reports whether the
// event was accepted (false means the lane was full and the event was
// dropped).
func (p *Pool) Submit(env types.LogEnvelope) bool {
	p.submitted.Add(1)
	ok := p.q.TryEnqueue(env)
	if !ok {
		p.dropped.Add(1)
	}
	return ok
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	active := len(p.workerCancels)
	p.mu.Unlock()
	return Stats{
		Submitted:               p.submitted.Load(),
		Processed:               p.processed.Load(),
		Dropped:                 p.dropped.Load(),
		Retried:                 p.retried.Load(),
		QueueDepthHighWatermark: p.queueDepthHighWatermark.Load(),
		ActiveWorkers:           active,
		DrainedAtShutdown:       p.drainedAtShutdown.Load(),
	}
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.WithField("worker_id", id)
	log.Debug("worker started")

	batch := make([]types.LogEnvelope, 0, p.cfg.BatchMaxSize)
	timer := time.NewTimer(p.cfg.BatchTimeout)
	if !timer.Stop() {
		<-timer.C
	}

	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.processBatch(ctx, batch, log)
		batch = batch[:0]
	}

	defer func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		flush()
		log.Debug("worker stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		env, ok := p.q.TryDequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				flush()
			case <-time.After(5 * time.Millisecond):
			}
			continue
		}

		mainDepth, protectedDepth := p.q.Depths()
		if total := int64(mainDepth + protectedDepth); total > p.queueDepthHighWatermark.Load() {
			p.queueDepthHighWatermark.Store(total)
		}

		if len(batch) == 0 {
			timer.Reset(p.cfg.BatchTimeout)
		}
		batch = append(batch, env)

		if len(batch) >= p.cfg.BatchMaxSize {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			flush()
		}
	}
}

func (p *Pool) processBatch(ctx context.Context, batch []types.LogEnvelope, log *logrus.Entry) {
	plugins := p.runner.CurrentPlugins()
	start := time.Now()

	views := make([]types.SerializedView, 0, len(batch))
	for _, env := range batch {
		outcome, err := p.runner.Run(ctx, env, plugins)
		if err != nil {
			log.WithError(err).Error("pipeline run failed, event dropped")
			p.dropped.Add(1)
			continue
		}
		if outcome.Dropped {
			p.dropped.Add(1)
			continue
		}
		views = append(views, outcome.View)
	}

	for _, view := range views {
		p.writeToSinks(ctx, view, log)
	}
	p.processed.Add(int64(len(views)))

	log.WithFields(logrus.Fields{
		"batch_size": len(batch),
		"written":    len(views),
		"duration":   time.Since(start),
	}).Debug("batch processed")
}

func (p *Pool) writeToSinks(ctx context.Context, view types.SerializedView, log *logrus.Entry) {
	for _, sink := range p.sinks {
		var err error
		for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
			err = sink.Write(ctx, view)
			if err == nil {
				break
			}
			if attempt < p.cfg.MaxRetries {
				p.retried.Add(1)
				time.Sleep(p.cfg.RetryDelay * time.Duration(attempt+1))
			}
		}
		if err != nil {
			log.WithError(err).WithField("sink", sink.Name()).Error("sink write failed after retries")
		}
	}
}
