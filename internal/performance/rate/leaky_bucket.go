// Package rate schedules evenly spaced sends.
package rate

import (
	"sync"
	"sync/atomic"
	"time"
)

// LeakyBucket answers "when should the next send happen" for a fixed rate.
//
// The bucket keeps a virtual drip time that advances by 1/rate for every
// call to Next. If the caller falls behind schedule the returned time is in
// the past and the send should happen immediately; accumulated credit is
// capped at one send, so a slow consumer never triggers a burst.
//
// # Thread Safety
//
// LeakyBucket is safe for concurrent use, although a persistent session
// drives its own bucket from a single goroutine.
type LeakyBucket struct {
	rate        float64
	lastDrip    time.Time
	accumulated float64
	mu          sync.Mutex

	totalScheduled atomic.Int64
	totalWaitTime  atomic.Int64
}

// NewLeakyBucket creates a bucket for rate sends per second. The first call
// to Next waits one full interval.
func NewLeakyBucket(rate float64) *LeakyBucket {
	if rate <= 0 {
		rate = 1.0
	}
	return &LeakyBucket{
		rate:     rate,
		lastDrip: time.Now(),
	}
}

// NewIntervalBucket creates a bucket that schedules one send every interval,
// starting immediately.
func NewIntervalBucket(interval time.Duration) *LeakyBucket {
	if interval <= 0 {
		interval = time.Second
	}
	lb := NewLeakyBucket(float64(time.Second) / float64(interval))
	lb.accumulated = 1.0
	return lb
}

// Next reserves the next send slot and returns when it is due. Slots
// reserved ahead of time queue behind each other, one interval apart.
func (lb *LeakyBucket) Next() time.Time {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := time.Now()
	base := now
	if lb.lastDrip.After(now) {
		base = lb.lastDrip
	} else {
		lb.accumulated += now.Sub(lb.lastDrip).Seconds() * lb.rate
		if lb.accumulated > 1.0 {
			lb.accumulated = 1.0
		}
	}
	lb.totalScheduled.Add(1)

	if lb.accumulated >= 1.0 {
		lb.accumulated -= 1.0
		lb.lastDrip = base
		return base
	}

	wait := time.Duration((1.0 - lb.accumulated) / lb.rate * float64(time.Second))
	lb.accumulated = 0

	// lastDrip moves to the slot itself so waking up at next does not earn
	// another full credit.
	next := base.Add(wait)
	lb.lastDrip = next
	lb.totalWaitTime.Add(int64(next.Sub(now)))

	return next
}

// Stats returns scheduling statistics.
func (lb *LeakyBucket) Stats() LeakyBucketStats {
	lb.mu.Lock()
	r := lb.rate
	lb.mu.Unlock()

	return LeakyBucketStats{
		Rate:           r,
		TotalScheduled: lb.totalScheduled.Load(),
		TotalWaitTime:  time.Duration(lb.totalWaitTime.Load()),
	}
}

// LeakyBucketStats contains statistics about the leaky bucket.
type LeakyBucketStats struct {
	Rate           float64       `json:"rate"`
	TotalScheduled int64         `json:"totalScheduled"`
	TotalWaitTime  time.Duration `json:"totalWaitTime"`
}
