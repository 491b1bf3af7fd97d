// Package filter implements the built-in Filter plugins: level
// gating, uniform sampling, token-bucket rate limiting,
// first-occurrence-with-window, and trace-consistent sampling.
package filter

import (
	"container/list"
	"context"
	"crypto/md5"
	"math"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"corelog/pkg/types"
)

func pass(env *types.LogEnvelope) types.FilterOutcome {
	return types.FilterOutcome{Envelope: env}
}

func drop() types.FilterOutcome {
	return types.FilterOutcome{Drop: true}
}

// LevelGateFilter drops any envelope below the configured minimum
// level.
type LevelGateFilter struct {
	Minimum types.Level
}

func (LevelGateFilter) Name() string { return "level_gate" }

func (f LevelGateFilter) Filter(ctx context.Context, env *types.LogEnvelope) types.FilterOutcome {
	if env.Level.GTE(f.Minimum) {
		return pass(env)
	}
	return drop()
}

// SamplingFilter passes each event independently with probability
// Rate, always passing levels in AlwaysPass.
type SamplingFilter struct {
	Rate       float64
	AlwaysPass map[types.Level]struct{}
	rand       *rand.Rand
	mu         sync.Mutex
}

func NewSamplingFilter(rate float64, alwaysPass ...types.Level) *SamplingFilter {
	set := make(map[types.Level]struct{}, len(alwaysPass))
	for _, l := range alwaysPass {
		set[l] = struct{}{}
	}
	return &SamplingFilter{Rate: clamp01(rate), AlwaysPass: set, rand: rand.New(rand.NewSource(1))}
}

func (*SamplingFilter) Name() string { return "sampling" }

func (f *SamplingFilter) Filter(ctx context.Context, env *types.LogEnvelope) types.FilterOutcome {
	if _, ok := f.AlwaysPass[env.Level]; ok {
		return pass(env)
	}
	f.mu.Lock()
	r := f.rand.Float64()
	f.mu.Unlock()
	if r < f.Rate {
		return pass(env)
	}
	return drop()
}

// RateLimitFilter is a token-bucket limiter: up to Burst events pass
// immediately, refilling at RatePerSecond.
type RateLimitFilter struct {
	ratePerSecond float64
	burst         float64

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

func NewRateLimitFilter(ratePerSecond float64, burst int) *RateLimitFilter {
	return &RateLimitFilter{
		ratePerSecond: ratePerSecond,
		burst:         float64(burst),
		tokens:        float64(burst),
		lastRefill:    time.Now(),
	}
}

func (*RateLimitFilter) Name() string { return "rate_limit" }

func (f *RateLimitFilter) Filter(ctx context.Context, env *types.LogEnvelope) types.FilterOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(f.lastRefill).Seconds()
	f.tokens = math.Min(f.burst, f.tokens+elapsed*f.ratePerSecond)
	f.lastRefill = now

	if f.tokens < 1 {
		return drop()
	}
	f.tokens--
	return pass(env)
}

// FirstOccurrenceFilter passes the first event for a given key within
// Window, then drops subsequent occurrences unless SubsequentSampleRate
// is set, in which case it samples them at that rate. Key is computed
// by KeyFn (defaults to message). Bounded by MaxKeys, evicting
// the oldest key first (an LRU-ish ring, not a strict LRU).
type FirstOccurrenceFilter struct {
	Window                time.Duration
	MaxKeys                int
	SubsequentSampleRate   float64
	KeyFn                  func(*types.LogEnvelope) string

	mu   sync.Mutex
	seen map[string]*list.Element
	ord  *list.List // oldest at front
	rand *rand.Rand
}

type seenEntry struct {
	key  string
	seen time.Time
}

func NewFirstOccurrenceFilter(window time.Duration, maxKeys int, subsequentSampleRate float64) *FirstOccurrenceFilter {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	return &FirstOccurrenceFilter{
		Window:               window,
		MaxKeys:              maxKeys,
		SubsequentSampleRate: clamp01(subsequentSampleRate),
		KeyFn:                func(e *types.LogEnvelope) string { return e.Message },
		seen:                 make(map[string]*list.Element),
		ord:                  list.New(),
		rand:                 rand.New(rand.NewSource(1)),
	}
}

func (*FirstOccurrenceFilter) Name() string { return "first_occurrence" }

func (f *FirstOccurrenceFilter) Filter(ctx context.Context, env *types.LogEnvelope) types.FilterOutcome {
	key := f.KeyFn(env)
	now := time.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	f.pruneExpired(now)

	if el, ok := f.seen[key]; ok {
		el.Value.(*seenEntry).seen = now
		f.ord.MoveToBack(el)
		if f.SubsequentSampleRate <= 0 {
			return drop()
		}
		if f.rand.Float64() < f.SubsequentSampleRate {
			return pass(env)
		}
		return drop()
	}

	el := f.ord.PushBack(&seenEntry{key: key, seen: now})
	f.seen[key] = el
	for f.ord.Len() > f.MaxKeys {
		oldest := f.ord.Front()
		f.ord.Remove(oldest)
		delete(f.seen, oldest.Value.(*seenEntry).key)
	}
	return pass(env)
}

func (f *FirstOccurrenceFilter) pruneExpired(now time.Time) {
	if f.Window <= 0 {
		return
	}
	cutoff := now.Add(-f.Window)
	for f.ord.Len() > 0 {
		front := f.ord.Front()
		if front.Value.(*seenEntry).seen.Before(cutoff) {
			f.ord.Remove(front)
			delete(f.seen, front.Value.(*seenEntry).key)
		} else {
			break
		}
	}
}

// TraceAwareSamplingFilter samples deterministically by trace ID so
// that every event in the same trace is either entirely kept or
// entirely dropped, always passing levels in AlwaysPass.
type TraceAwareSamplingFilter struct {
	SampleRate float64
	AlwaysPass map[types.Level]struct{}
	rand       *rand.Rand
	mu         sync.Mutex
}

func NewTraceAwareSamplingFilter(sampleRate float64, alwaysPass ...types.Level) *TraceAwareSamplingFilter {
	set := make(map[types.Level]struct{}, len(alwaysPass))
	for _, l := range alwaysPass {
		set[l] = struct{}{}
	}
	return &TraceAwareSamplingFilter{SampleRate: clamp01(sampleRate), AlwaysPass: set, rand: rand.New(rand.NewSource(1))}
}

func (*TraceAwareSamplingFilter) Name() string { return "trace_aware_sampling" }

func (f *TraceAwareSamplingFilter) Filter(ctx context.Context, env *types.LogEnvelope) types.FilterOutcome {
	if _, ok := f.AlwaysPass[env.Level]; ok {
		return pass(env)
	}

	if env.TraceID == "" {
		f.mu.Lock()
		r := f.rand.Float64()
		f.mu.Unlock()
		if r < f.SampleRate {
			return pass(env)
		}
		return drop()
	}

	sum := md5.Sum([]byte(env.TraceID))
	hashValue := new(big.Int).SetBytes(sum[:])
	max128 := new(big.Int).Lsh(big.NewInt(1), 128)
	threshold := new(big.Int).Mul(big.NewInt(int64(f.SampleRate*1e9)), max128)
	threshold.Div(threshold, big.NewInt(1e9))

	if hashValue.Cmp(threshold) < 0 {
		return pass(env)
	}
	return drop()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
