package performance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/volley/internal/performance/metrics"
)

// DefaultRetryDelay is the wait before a VU retries a failed iteration when
// its scenario has no pacing.
const DefaultRetryDelay = time.Second

// VUScheduler manages the lifecycle of Virtual Users for one scenario.
//
// Executors decide how many VUs should run; the scheduler spawns them, runs
// their iteration loops, and coordinates shutdown.
type VUScheduler struct {
	scenario *Scenario
	metrics  *metrics.Engine
	logger   *zap.Logger

	vus   map[int]*VirtualUser
	vusMu sync.RWMutex

	nextVUID   atomic.Int32
	iterations atomic.Int64

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewVUScheduler creates a scheduler for scenario. A nil logger disables
// logging.
func NewVUScheduler(scenario *Scenario, metricsEngine *metrics.Engine, logger *zap.Logger) *VUScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VUScheduler{
		scenario:   scenario,
		metrics:    metricsEngine,
		logger:     logger.With(zap.String("scenario", scenario.Name)),
		vus:        make(map[int]*VirtualUser),
		shutdownCh: make(chan struct{}),
	}
}

// Scenario returns the scenario the scheduler runs.
func (s *VUScheduler) Scenario() *Scenario {
	return s.scenario
}

// SpawnVU creates and registers a new Virtual User without starting it.
func (s *VUScheduler) SpawnVU() *VirtualUser {
	id := int(s.nextVUID.Add(1))
	vu := NewVirtualUser(id, s.scenario, s.metrics)

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()

	return vu
}

// Start runs vu in its own goroutine.
//
// runCtx ends the VU's working period: once it is done no new iteration
// starts. ioCtx bounds the iteration in flight and is normally runCtx's
// deadline plus the graceful stop period.
func (s *VUScheduler) Start(runCtx, ioCtx context.Context, vu *VirtualUser) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunVU(runCtx, ioCtx, vu)
	}()
}

// RunVU runs vu's iteration loop until it is stopped, runCtx is done, or the
// scheduler shuts down.
func (s *VUScheduler) RunVU(runCtx, ioCtx context.Context, vu *VirtualUser) {
	defer vu.MarkStopped()

	s.metrics.AddActiveVUs(1)
	defer s.metrics.AddActiveVUs(-1)

	stopCtx, cancel := context.WithCancel(runCtx)
	defer cancel()
	go func() {
		select {
		case <-vu.StopCh():
		case <-s.shutdownCh:
		case <-stopCtx.Done():
		}
		cancel()
	}()
	stop := stopCtx.Done()
	deadline, _ := runCtx.Deadline()

	s.logger.Debug("vu started", zap.Int("vu", vu.ID))
	defer func() {
		s.logger.Debug("vu stopped", zap.Int("vu", vu.ID), zap.Int64("iterations", vu.GetIteration()))
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}

		outcome, err := vu.RunIteration(ioCtx, stop, deadline)
		if err != nil {
			return
		}
		s.iterations.Add(1)

		switch outcome {
		case OutcomeFinished:
			<-stop
			return
		case OutcomeRetry:
			wait := s.scenario.Pacing.Next()
			if wait <= 0 {
				wait = DefaultRetryDelay
			}
			if !sleepUntilStop(wait, stop) {
				return
			}
		default:
			if !sleepUntilStop(s.scenario.Pacing.Next(), stop) {
				return
			}
		}
	}
}

// GetVU returns a VU by ID, or nil if not found.
func (s *VUScheduler) GetVU(id int) *VirtualUser {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()
	return s.vus[id]
}

// GetActiveVUCount returns the number of VUs that are neither stopping nor
// stopped.
func (s *VUScheduler) GetActiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if st := vu.GetState(); st == VUStateIdle || st == VUStateRunning {
			count++
		}
	}
	return count
}

// Iterations returns the number of iterations completed by all VUs.
func (s *VUScheduler) Iterations() int64 {
	return s.iterations.Load()
}

// StopVU requests a specific VU to stop.
func (s *VUScheduler) StopVU(id int) {
	if vu := s.GetVU(id); vu != nil {
		vu.RequestStop()
	}
}

// StopAllVUs requests all VUs to stop.
func (s *VUScheduler) StopAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// Wait blocks until every started VU has exited or timeout elapses. It
// returns false on timeout.
func (s *VUScheduler) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Shutdown stops every VU and waits up to timeout for them to exit. VUs
// still running afterwards are abandoned; it returns how many.
func (s *VUScheduler) Shutdown(timeout time.Duration) int {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
	s.StopAllVUs()

	if s.Wait(timeout) {
		return 0
	}

	stragglers := s.GetActiveVUCount()
	s.vusMu.RLock()
	for _, vu := range s.vus {
		if vu.GetState() == VUStateStopping {
			stragglers++
		}
	}
	s.vusMu.RUnlock()

	s.logger.Warn("graceful stop expired", zap.Duration("timeout", timeout), zap.Int("abandoned_vus", stragglers))
	return stragglers
}
