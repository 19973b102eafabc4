package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Trend is a named latency distribution.
//
// HDR histogram RecordValue is not safe for concurrent use, so every access
// goes through mu.
type Trend struct {
	name string
	min  int64
	max  int64

	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

func newTrend(name string, cfg EngineConfig) *Trend {
	return &Trend{
		name: name,
		min:  cfg.HistogramMin,
		max:  cfg.HistogramMax,
		hist: hdrhistogram.New(cfg.HistogramMin, cfg.HistogramMax, cfg.HistogramSigFigs),
	}
}

// Name returns the trend name.
func (t *Trend) Name() string {
	return t.name
}

// Record adds one sample. Negative durations are recorded as zero and values
// outside the histogram range are clamped to it.
func (t *Trend) Record(d time.Duration) {
	if d < 0 {
		d = 0
	}

	micros := d.Microseconds()
	if micros < t.min {
		micros = t.min
	}
	if micros > t.max {
		micros = t.max
	}

	t.mu.Lock()
	_ = t.hist.RecordValue(micros)
	t.mu.Unlock()
}

// Stats returns the current summary of the distribution.
func (t *Trend) Stats() LatencyStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return LatencyStats{
		Min:    micros(t.hist.Min()),
		Max:    micros(t.hist.Max()),
		Mean:   micros(int64(t.hist.Mean())),
		StdDev: micros(int64(t.hist.StdDev())),
		P50:    micros(t.hist.ValueAtQuantile(50)),
		P90:    micros(t.hist.ValueAtQuantile(90)),
		P95:    micros(t.hist.ValueAtQuantile(95)),
		P99:    micros(t.hist.ValueAtQuantile(99)),
		Count:  t.hist.TotalCount(),
	}
}

// Percentiles returns the quantiles used in time buckets.
func (t *Trend) Percentiles() LatencyPercentiles {
	t.mu.Lock()
	defer t.mu.Unlock()

	return LatencyPercentiles{
		Min: micros(t.hist.Min()),
		Max: micros(t.hist.Max()),
		P50: micros(t.hist.ValueAtQuantile(50)),
		P90: micros(t.hist.ValueAtQuantile(90)),
		P95: micros(t.hist.ValueAtQuantile(95)),
		P99: micros(t.hist.ValueAtQuantile(99)),
	}
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}

// Counter is a named monotonic count shared by all virtual users.
type Counter struct {
	name  string
	value atomic.Int64
}

// Name returns the counter name.
func (c *Counter) Name() string {
	return c.name
}

// Inc adds one.
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Add adds n. Negative values are ignored so the counter never decreases.
func (c *Counter) Add(n int64) {
	if n <= 0 {
		return
	}
	c.value.Add(n)
}

// Value returns the current count.
func (c *Counter) Value() int64 {
	return c.value.Load()
}
