package metrics

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Engine is the run-wide metrics registry.
//
// One Engine is created per run and handed to every virtual user. Named
// trends and counters are created on first use. Every latency recorded
// through RecordLatency also lands in an operations histogram that feeds the
// time series, so HTTP requests and message round trips share one
// throughput view.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Counters are atomic, each trend has its
// own mutex, and the background emitter runs in its own goroutine.
type Engine struct {
	config EngineConfig

	ops *Trend

	trends   map[string]*Trend
	trendsMu sync.RWMutex

	counters   map[string]*Counter
	countersMu sync.RWMutex

	totalOps  atomic.Int64
	failedOps atomic.Int64
	bytes     atomic.Int64

	activeVUs atomic.Int32

	bucketStore *TimeBucketStore

	currentPhase Phase
	phaseMu      sync.RWMutex
	phaseHistory []PhaseChange

	startTime time.Time
	stopTime  atomic.Pointer[time.Time]

	emitterCtx    context.Context
	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
	stopOnce      sync.Once
}

// NewEngine creates a metrics engine with the default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a metrics engine and starts its bucket emitter.
func NewEngineWithConfig(config EngineConfig) *Engine {
	if config.BucketInterval <= 0 {
		config.BucketInterval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		config:        config,
		ops:           newTrend("operations", config),
		trends:        make(map[string]*Trend),
		counters:      make(map[string]*Counter),
		bucketStore:   NewTimeBucketStore(config.MaxBuckets),
		currentPhase:  PhaseInit,
		startTime:     time.Now(),
		emitterCtx:    ctx,
		emitterCancel: cancel,
	}

	e.emitterWg.Add(1)
	go e.runEmitter()

	return e
}

// Trend returns the named trend, creating it on first use.
func (e *Engine) Trend(name string) *Trend {
	e.trendsMu.RLock()
	t, ok := e.trends[name]
	e.trendsMu.RUnlock()
	if ok {
		return t
	}

	e.trendsMu.Lock()
	defer e.trendsMu.Unlock()
	if t, ok = e.trends[name]; !ok {
		t = newTrend(name, e.config)
		e.trends[name] = t
	}
	return t
}

// Counter returns the named counter, creating it on first use.
func (e *Engine) Counter(name string) *Counter {
	e.countersMu.RLock()
	c, ok := e.counters[name]
	e.countersMu.RUnlock()
	if ok {
		return c
	}

	e.countersMu.Lock()
	defer e.countersMu.Unlock()
	if c, ok = e.counters[name]; !ok {
		c = &Counter{name: name}
		e.counters[name] = c
	}
	return c
}

// RecordLatency records one completed operation.
//
// The duration goes into the named trend and the operations histogram;
// success and bytes feed the operation totals and the current time bucket.
func (e *Engine) RecordLatency(d time.Duration, trend string, success bool, bytes int64) {
	e.ops.Record(d)
	if trend != "" {
		e.Trend(trend).Record(d)
	}
	e.countOperation(success, bytes)
}

// RecordFailure records an operation that produced no latency sample, such
// as a message that was never answered or a refused handshake.
func (e *Engine) RecordFailure() {
	e.countOperation(false, 0)
}

func (e *Engine) countOperation(success bool, bytes int64) {
	e.totalOps.Add(1)
	if bytes > 0 {
		e.bytes.Add(bytes)
	}
	if !success {
		e.failedOps.Add(1)
	}
	e.bucketStore.RecordOperation(success)
}

// SetPhase marks a phase transition. Repeating the current phase is a no-op.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}

	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:      phase,
		Timestamp:  time.Now(),
		Operations: e.totalOps.Load(),
	})
}

// GetPhase returns the current phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// GetPhaseHistory returns a copy of the phase transitions.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	result := make([]PhaseChange, len(e.phaseHistory))
	copy(result, e.phaseHistory)
	return result
}

// AddActiveVUs adjusts the live VU gauge by delta.
func (e *Engine) AddActiveVUs(delta int) {
	e.activeVUs.Add(int32(delta))
}

// GetActiveVUs returns the live VU gauge.
func (e *Engine) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

func (e *Engine) runEmitter() {
	defer e.emitterWg.Done()

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.emitterCtx.Done():
			return
		case <-ticker.C:
			e.emitBucket()
		}
	}
}

func (e *Engine) emitBucket() {
	e.bucketStore.CreateBucket(
		e.totalOps.Load(), e.failedOps.Load(), e.bytes.Load(),
		e.ops.Percentiles(), e.GetActiveVUs(), e.GetPhase(),
	)
}

// GetTimeSeries returns the retained time buckets oldest first.
func (e *Engine) GetTimeSeries() []*TimeBucket {
	return e.bucketStore.GetBuckets()
}

// TrendNames returns the registered trend names in sorted order.
func (e *Engine) TrendNames() []string {
	e.trendsMu.RLock()
	names := make([]string, 0, len(e.trends))
	for name := range e.trends {
		names = append(names, name)
	}
	e.trendsMu.RUnlock()

	sort.Strings(names)
	return names
}

// CounterNames returns the registered counter names in sorted order.
func (e *Engine) CounterNames() []string {
	e.countersMu.RLock()
	names := make([]string, 0, len(e.counters))
	for name := range e.counters {
		names = append(names, name)
	}
	e.countersMu.RUnlock()

	sort.Strings(names)
	return names
}

// Elapsed returns the time since the engine started, frozen once Stop has
// been called.
func (e *Engine) Elapsed() time.Duration {
	if stopped := e.stopTime.Load(); stopped != nil {
		return stopped.Sub(e.startTime)
	}
	return time.Since(e.startTime)
}

// GetSnapshot returns a point-in-time copy of every metric.
func (e *Engine) GetSnapshot() *Snapshot {
	elapsed := e.Elapsed()
	seconds := elapsed.Seconds()

	total := e.totalOps.Load()
	failed := e.failedOps.Load()

	rate := 0.0
	if seconds > 0 {
		rate = float64(total) / seconds
	}
	steady, steadyBuckets := e.bucketStore.CalculateSteadyStateRate()
	if steadyBuckets > 0 {
		rate = steady
	}

	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	trends := make(map[string]LatencyStats)
	e.trendsMu.RLock()
	for name, t := range e.trends {
		trends[name] = t.Stats()
	}
	e.trendsMu.RUnlock()

	counters := make(map[string]CounterStats)
	e.countersMu.RLock()
	for name, c := range e.counters {
		v := c.Value()
		cs := CounterStats{Value: v}
		if seconds > 0 {
			cs.Rate = float64(v) / seconds
		}
		counters[name] = cs
	}
	e.countersMu.RUnlock()

	return &Snapshot{
		TotalOperations:  total,
		FailedOperations: failed,
		TotalBytes:       e.bytes.Load(),
		Rate:             rate,
		SteadyStateRate:  steady,
		ErrorRate:        errorRate,
		Trends:           trends,
		Counters:         counters,
		ActiveVUs:        e.GetActiveVUs(),
		CurrentPhase:     e.GetPhase(),
		Elapsed:          elapsed,
		StartTime:        e.startTime,
		Timestamp:        time.Now(),
	}
}

// Stop halts the emitter and writes a final bucket. It is safe to call more
// than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.emitterCancel()
		e.emitterWg.Wait()
		e.emitBucket()

		now := time.Now()
		e.stopTime.Store(&now)
	})
}

