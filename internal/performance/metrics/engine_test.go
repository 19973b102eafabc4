package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNewEngine(t *testing.T) {
	engine := NewEngine()
	if engine == nil {
		t.Fatal("NewEngine() returned nil")
	}
	defer engine.Stop()

	snapshot := engine.GetSnapshot()
	if snapshot.TotalOperations != 0 {
		t.Errorf("Initial TotalOperations = %d, want 0", snapshot.TotalOperations)
	}
	if snapshot.CurrentPhase != PhaseInit {
		t.Errorf("Initial phase = %v, want %v", snapshot.CurrentPhase, PhaseInit)
	}
	if len(snapshot.Trends) != 0 || len(snapshot.Counters) != 0 {
		t.Errorf("Initial snapshot has %d trends and %d counters, want none", len(snapshot.Trends), len(snapshot.Counters))
	}
}

func TestEngine_RecordLatency(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.RecordLatency(10*time.Millisecond, HTTPReqDuration, true, 1000)
	engine.RecordLatency(20*time.Millisecond, HTTPReqDuration, true, 2000)
	engine.RecordLatency(30*time.Millisecond, WebSocketLatency, false, 500)

	snapshot := engine.GetSnapshot()

	if snapshot.TotalOperations != 3 {
		t.Errorf("TotalOperations = %d, want 3", snapshot.TotalOperations)
	}
	if snapshot.FailedOperations != 1 {
		t.Errorf("FailedOperations = %d, want 1", snapshot.FailedOperations)
	}
	if snapshot.TotalBytes != 3500 {
		t.Errorf("TotalBytes = %d, want 3500", snapshot.TotalBytes)
	}
	if got := snapshot.Trends[HTTPReqDuration].Count; got != 2 {
		t.Errorf("%s count = %d, want 2", HTTPReqDuration, got)
	}
	if got := snapshot.Trends[WebSocketLatency].Count; got != 1 {
		t.Errorf("%s count = %d, want 1", WebSocketLatency, got)
	}
}

func TestEngine_RecordFailure(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.RecordFailure()
	engine.RecordFailure()

	snapshot := engine.GetSnapshot()
	if snapshot.TotalOperations != 2 || snapshot.FailedOperations != 2 {
		t.Errorf("operations = %d/%d failed, want 2/2", snapshot.FailedOperations, snapshot.TotalOperations)
	}
	if snapshot.ErrorRate != 1.0 {
		t.Errorf("ErrorRate = %v, want 1.0", snapshot.ErrorRate)
	}
}

func TestTrend_Percentiles(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	trend := engine.Trend(WebSocketLatency)
	for i := 1; i <= 10; i++ {
		trend.Record(time.Duration(i*10) * time.Millisecond)
	}

	stats := trend.Stats()

	if stats.P50 < 40*time.Millisecond || stats.P50 > 60*time.Millisecond {
		t.Errorf("P50 = %v, want ~50ms (±10ms)", stats.P50)
	}
	if stats.P99 < 90*time.Millisecond || stats.P99 > 110*time.Millisecond {
		t.Errorf("P99 = %v, want ~100ms (±10ms)", stats.P99)
	}
	if stats.Min < 9*time.Millisecond || stats.Min > 11*time.Millisecond {
		t.Errorf("Min = %v, want ~10ms", stats.Min)
	}
	if stats.Count != 10 {
		t.Errorf("Count = %d, want 10", stats.Count)
	}
}

func TestTrend_NegativeClampedToZero(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	trend := engine.Trend("clamped")
	trend.Record(-5 * time.Millisecond)

	stats := trend.Stats()
	if stats.Count != 1 {
		t.Fatalf("Count = %d, want 1", stats.Count)
	}
	if stats.Max < 0 || stats.Max > time.Microsecond {
		t.Errorf("Max = %v, want within [0, 1µs]", stats.Max)
	}
}

func TestEngine_TrendAndCounterAreShared(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	if engine.Trend("a") != engine.Trend("a") {
		t.Error("Trend(\"a\") returned different instances")
	}
	if engine.Counter("c") != engine.Counter("c") {
		t.Error("Counter(\"c\") returned different instances")
	}
}

func TestCounter_ConcurrentIncrements(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	const workers, perWorker = 50, 200

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := engine.Counter(MessagesSent)
			for j := 0; j < perWorker; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()

	if got := engine.Counter(MessagesSent).Value(); got != workers*perWorker {
		t.Errorf("counter = %d, want %d", got, workers*perWorker)
	}
}

func TestCounter_AddIgnoresNegative(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	c := engine.Counter("monotonic")
	c.Add(5)
	c.Add(-3)

	if c.Value() != 5 {
		t.Errorf("Value() = %d, want 5", c.Value())
	}
}

func TestEngine_Phase(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	phases := []Phase{PhaseRampUp, PhaseSteady, PhaseSteady, PhaseRampDown, PhaseDone}
	for _, phase := range phases {
		engine.SetPhase(phase)
		if engine.GetPhase() != phase {
			t.Errorf("After SetPhase(%v), GetPhase() = %v", phase, engine.GetPhase())
		}
	}

	history := engine.GetPhaseHistory()
	if len(history) != 4 {
		t.Errorf("PhaseHistory length = %d, want 4", len(history))
	}
}

func TestEngine_ActiveVUs(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.AddActiveVUs(3)
	engine.AddActiveVUs(-1)
	if got := engine.GetActiveVUs(); got != 2 {
		t.Errorf("GetActiveVUs() = %d, want 2", got)
	}
}

func TestEngine_StopFreezesElapsed(t *testing.T) {
	engine := NewEngine()
	engine.Counter(MessagesSent).Add(10)
	engine.Stop()
	engine.Stop()

	first := engine.GetSnapshot()
	time.Sleep(20 * time.Millisecond)
	second := engine.GetSnapshot()

	if first.Elapsed != second.Elapsed {
		t.Errorf("Elapsed moved after Stop: %v then %v", first.Elapsed, second.Elapsed)
	}
	if second.Counter(MessagesSent) != 10 {
		t.Errorf("Counter(%s) = %d, want 10", MessagesSent, second.Counter(MessagesSent))
	}
	if len(engine.GetTimeSeries()) == 0 {
		t.Error("Stop() did not emit a final bucket")
	}
}

func TestEngine_TimeSeries(t *testing.T) {
	engine := NewEngineWithConfig(EngineConfig{
		BucketInterval:   20 * time.Millisecond,
		MaxBuckets:       100,
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	})
	defer engine.Stop()

	engine.SetPhase(PhaseSteady)
	for i := 0; i < 5; i++ {
		engine.RecordLatency(time.Millisecond, "", true, 0)
	}
	time.Sleep(70 * time.Millisecond)

	buckets := engine.GetTimeSeries()
	if len(buckets) < 2 {
		t.Fatalf("len(buckets) = %d, want >= 2", len(buckets))
	}

	var ops int64
	for _, b := range buckets {
		ops += b.IntervalOperations
	}
	if ops != 5 {
		t.Errorf("sum of interval operations = %d, want 5", ops)
	}
}

func TestTimeBucketStore_RingOrder(t *testing.T) {
	store := NewTimeBucketStore(3)
	for i := int64(1); i <= 5; i++ {
		store.CreateBucket(i, 0, 0, LatencyPercentiles{}, 0, PhaseSteady)
	}

	buckets := store.GetBuckets()
	if len(buckets) != 3 {
		t.Fatalf("len(buckets) = %d, want 3", len(buckets))
	}
	for i, want := range []int64{3, 4, 5} {
		if buckets[i].TotalOperations != want {
			t.Errorf("buckets[%d].TotalOperations = %d, want %d", i, buckets[i].TotalOperations, want)
		}
	}
}

func TestLatencyStats_Stat(t *testing.T) {
	stats := LatencyStats{
		Min:   time.Millisecond,
		Max:   9 * time.Millisecond,
		Mean:  4 * time.Millisecond,
		P50:   3 * time.Millisecond,
		P90:   7 * time.Millisecond,
		P95:   8 * time.Millisecond,
		P99:   9 * time.Millisecond,
		Count: 42,
	}

	tests := []struct {
		name string
		want float64
	}{
		{"avg", 4}, {"min", 1}, {"med", 3}, {"max", 9},
		{"p90", 7}, {"p95", 8}, {"p99", 9}, {"count", 42},
	}
	for _, tt := range tests {
		got, ok := stats.Stat(tt.name)
		if !ok || got != tt.want {
			t.Errorf("Stat(%q) = %v, %v, want %v, true", tt.name, got, ok, tt.want)
		}
	}

	if _, ok := stats.Stat("p42"); ok {
		t.Error("Stat(\"p42\") ok = true, want false")
	}
}

func TestHandler_ExposesRegistry(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.Counter(CompletedRoundTrips).Add(7)
	engine.Trend(WebSocketLatency).Record(3 * time.Millisecond)
	engine.AddActiveVUs(4)

	srv := httptest.NewServer(Handler(engine, "volley"))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		"volley_completed_round_trips_total 7",
		"volley_websocket_latency_seconds_count 1",
		"volley_vus 4",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}
