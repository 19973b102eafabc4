// Package metrics aggregates the samples produced by virtual users during a
// run: latency trends backed by HDR histograms, monotonic counters, and a
// one-second time series of operation throughput.
package metrics

import "time"

// Well-known metric names. Workloads may register additional names freely.
const (
	// HTTPReqDuration is the request/response probe latency trend.
	HTTPReqDuration = "http_req_duration"
	// HTTPReqs counts issued probe requests.
	HTTPReqs = "http_reqs"
	// HTTPReqFailed counts probe requests that errored or returned status >= 400.
	HTTPReqFailed = "http_req_failed"

	// WebSocketLatency is the correlated round-trip latency trend.
	WebSocketLatency = "websocket_latency"
	// MessagesSent counts messages written to persistent sessions.
	MessagesSent = "messages_sent"
	// MessagesReceived counts every frame read from persistent sessions.
	MessagesReceived = "messages_received"
	// CompletedRoundTrips counts replies matched to a pending send.
	CompletedRoundTrips = "completed_round_trips"
	// MessagesAbandoned counts pending sends replaced by a resend.
	MessagesAbandoned = "messages_abandoned"
	// MessagesUnanswered counts sends still pending when their session closed.
	MessagesUnanswered = "messages_unanswered"
	// WSSessions counts sessions that reached the open state.
	WSSessions = "ws_sessions"
	// WSConnectFailures counts handshakes that did not end in an open session.
	WSConnectFailures = "ws_connect_failures"
)

// Phase represents a phase of the load test.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDone     Phase = "done"
)

// LatencyStats summarizes one latency distribution.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// Stat returns the named statistic ("avg", "min", "med", "max", "p90",
// "p95", "p99", "count"). Durations are returned in milliseconds.
func (s LatencyStats) Stat(name string) (float64, bool) {
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

	switch name {
	case "avg", "mean":
		return ms(s.Mean), true
	case "min":
		return ms(s.Min), true
	case "max":
		return ms(s.Max), true
	case "med", "p50":
		return ms(s.P50), true
	case "p90":
		return ms(s.P90), true
	case "p95":
		return ms(s.P95), true
	case "p99":
		return ms(s.P99), true
	case "count":
		return float64(s.Count), true
	default:
		return 0, false
	}
}

// LatencyPercentiles holds the percentiles stamped into each time bucket.
type LatencyPercentiles struct {
	Min time.Duration
	Max time.Duration
	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// CounterStats is the final value of a counter and its per-second rate over
// the run.
type CounterStats struct {
	Value int64   `json:"value"`
	Rate  float64 `json:"rate"`
}

// TimeBucket is one interval of the operation time series.
type TimeBucket struct {
	Timestamp time.Time `json:"timestamp"`

	TotalOperations int64 `json:"totalOperations"`
	TotalFailures   int64 `json:"totalFailures"`
	TotalBytes      int64 `json:"totalBytes"`

	IntervalOperations int64   `json:"intervalOperations"`
	IntervalRate       float64 `json:"intervalRate"`
	IntervalErrorRate  float64 `json:"intervalErrorRate"`

	LatencyP50 time.Duration `json:"latencyP50"`
	LatencyP95 time.Duration `json:"latencyP95"`
	LatencyP99 time.Duration `json:"latencyP99"`

	ActiveVUs int   `json:"activeVUs"`
	Phase     Phase `json:"phase"`
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase      Phase
	Timestamp  time.Time
	Operations int64
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// BucketInterval is the interval for time-series buckets (default: 1s)
	BucketInterval time.Duration

	// MaxBuckets is the ring size of the time series (default: 3600)
	MaxBuckets int

	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

// Snapshot is a point-in-time copy of every metric. Snapshots are never
// mutated after they are returned.
type Snapshot struct {
	TotalOperations  int64                   `json:"totalOperations"`
	FailedOperations int64                   `json:"failedOperations"`
	TotalBytes       int64                   `json:"totalBytes"`
	Rate             float64                 `json:"rate"`
	SteadyStateRate  float64                 `json:"steadyStateRate"`
	ErrorRate        float64                 `json:"errorRate"`
	Trends           map[string]LatencyStats `json:"trends"`
	Counters         map[string]CounterStats `json:"counters"`
	ActiveVUs        int                     `json:"activeVUs"`
	CurrentPhase     Phase                   `json:"currentPhase"`
	Elapsed          time.Duration           `json:"elapsed"`
	StartTime        time.Time               `json:"startTime"`
	Timestamp        time.Time               `json:"timestamp"`
}

// Counter returns the value of the named counter, or zero.
func (s *Snapshot) Counter(name string) int64 {
	return s.Counters[name].Value
}
