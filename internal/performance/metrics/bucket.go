package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// TimeBucketStore keeps the operation time series in a fixed-size ring.
//
// Operations are accumulated lock-free between buckets; CreateBucket drains
// the accumulators and appends one entry, overwriting the oldest once the
// ring is full.
type TimeBucketStore struct {
	buckets    []*TimeBucket
	head       int
	count      int
	maxBuckets int
	mu         sync.RWMutex

	lastBucketTime time.Time

	currentOps      atomic.Int64
	currentFailures atomic.Int64
}

// NewTimeBucketStore creates a store retaining at most maxBuckets entries.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = 3600
	}

	return &TimeBucketStore{
		buckets:        make([]*TimeBucket, maxBuckets),
		maxBuckets:     maxBuckets,
		lastBucketTime: time.Now(),
	}
}

// RecordOperation adds one operation to the current interval.
func (tbs *TimeBucketStore) RecordOperation(success bool) {
	tbs.currentOps.Add(1)
	if !success {
		tbs.currentFailures.Add(1)
	}
}

// CreateBucket closes the current interval and appends it to the ring.
func (tbs *TimeBucketStore) CreateBucket(
	totalOps, totalFailures, totalBytes int64,
	latencies LatencyPercentiles,
	activeVUs int,
	phase Phase,
) *TimeBucket {
	tbs.mu.Lock()
	defer tbs.mu.Unlock()

	now := time.Now()

	intervalOps := tbs.currentOps.Swap(0)
	intervalFailures := tbs.currentFailures.Swap(0)

	seconds := now.Sub(tbs.lastBucketTime).Seconds()
	if seconds <= 0 {
		seconds = 1.0
	}

	errorRate := 0.0
	if intervalOps > 0 {
		errorRate = float64(intervalFailures) / float64(intervalOps)
	}

	bucket := &TimeBucket{
		Timestamp:          now,
		TotalOperations:    totalOps,
		TotalFailures:      totalFailures,
		TotalBytes:         totalBytes,
		IntervalOperations: intervalOps,
		IntervalRate:       float64(intervalOps) / seconds,
		IntervalErrorRate:  errorRate,
		LatencyP50:         latencies.P50,
		LatencyP95:         latencies.P95,
		LatencyP99:         latencies.P99,
		ActiveVUs:          activeVUs,
		Phase:              phase,
	}

	tbs.buckets[tbs.head] = bucket
	tbs.head = (tbs.head + 1) % tbs.maxBuckets
	if tbs.count < tbs.maxBuckets {
		tbs.count++
	}
	tbs.lastBucketTime = now

	return bucket
}

// GetBuckets returns the retained buckets oldest first.
func (tbs *TimeBucketStore) GetBuckets() []*TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}

	result := make([]*TimeBucket, tbs.count)
	start := 0
	if tbs.count == tbs.maxBuckets {
		start = tbs.head
	}
	for i := 0; i < tbs.count; i++ {
		result[i] = tbs.buckets[(start+i)%tbs.maxBuckets]
	}

	return result
}

// Count returns the number of retained buckets.
func (tbs *TimeBucketStore) Count() int {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()
	return tbs.count
}

// CalculateSteadyStateRate averages the interval rate over buckets recorded
// in the steady phase. It also returns how many buckets contributed.
func (tbs *TimeBucketStore) CalculateSteadyStateRate() (float64, int) {
	var total int64
	n := 0
	for _, b := range tbs.GetBuckets() {
		if b.Phase != PhaseSteady {
			continue
		}
		total += b.IntervalOperations
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return float64(total) / float64(n), n
}

