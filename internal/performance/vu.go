// Package performance runs virtual users against a workload.
//
// A VirtualUser is one simulated client. The VUScheduler owns the pool and
// drives each user's iteration loop; executors decide how many users run at
// any moment.
package performance

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/volley/internal/performance/metrics"
)

// ErrVUStopped is returned by RunIteration once the VU has been asked to stop.
var ErrVUStopped = errors.New("virtual user is stopping or stopped")

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is between iterations.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is inside an iteration.
	VUStateRunning
	// VUStateStopping indicates the VU has been requested to stop.
	VUStateStopping
	// VUStateStopped indicates the VU goroutine has exited.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Outcome tells the scheduler what to do after an iteration.
type Outcome int

const (
	// OutcomeContinue paces and runs the next iteration.
	OutcomeContinue Outcome = iota
	// OutcomeRetry means the iteration failed before doing useful work
	// (e.g. a refused connection); the VU paces and tries again.
	OutcomeRetry
	// OutcomeFinished means the VU has nothing more to do for its lifetime;
	// it stays parked until stopped.
	OutcomeFinished
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeRetry:
		return "retry"
	case OutcomeFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Iteration identifies one unit of work handed to a Workload.
type Iteration struct {
	// VU is the 1-based virtual user ID.
	VU int
	// Number is the 1-based iteration count for this VU.
	Number int64
	// Stop is closed once the VU must not start new work: its scenario
	// deadline passed, it was ramped down, or the run is shutting down.
	// Work already in flight may continue until the iteration context ends.
	Stop <-chan struct{}
	// Deadline is the scenario's end. No request or send may start at or
	// after it. Zero means no deadline.
	Deadline time.Time
}

// Stopped reports whether it.Stop has been closed.
func (it Iteration) Stopped() bool {
	select {
	case <-it.Stop:
		return true
	default:
		return false
	}
}

// Workload is what a virtual user executes.
//
// Iterate must return promptly once ctx is done and must not start new
// requests or sends after it.Stop is closed.
type Workload interface {
	Iterate(ctx context.Context, it Iteration) Outcome
}

// WorkloadFunc adapts a function to Workload.
type WorkloadFunc func(ctx context.Context, it Iteration) Outcome

// Iterate calls f.
func (f WorkloadFunc) Iterate(ctx context.Context, it Iteration) Outcome {
	return f(ctx, it)
}

// Scenario binds a workload to its pacing.
type Scenario struct {
	Name     string
	Workload Workload
	Pacing   *Pacing
}

// VirtualUser represents a single simulated client.
//
// VUs are created by the VUScheduler. Each one is driven by exactly one
// goroutine; the workload must not share per-user state between VUs.
type VirtualUser struct {
	// Unique identifier for this VU within its scheduler
	ID int

	// Scenario defines what the VU executes
	Scenario *Scenario

	// Metrics engine for recording results
	Metrics *metrics.Engine

	// SpawnTime is when the scheduler created the VU
	SpawnTime time.Time

	state     atomic.Int32
	stopCh    chan struct{}
	doneCh    chan struct{}
	iteration atomic.Int64
}

// NewVirtualUser creates a new Virtual User in the idle state.
func NewVirtualUser(id int, scenario *Scenario, metricsEngine *metrics.Engine) *VirtualUser {
	return &VirtualUser{
		ID:        id,
		Scenario:  scenario,
		Metrics:   metricsEngine,
		SpawnTime: time.Now(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// StopCh is closed when the VU is asked to stop.
func (vu *VirtualUser) StopCh() <-chan struct{} {
	return vu.stopCh
}

// RunIteration executes one iteration of the scenario workload.
//
// ctx bounds the work in flight; stop signals that no new work may begin
// and deadline is when the scenario ends. It returns ErrVUStopped without
// running anything if the VU is already stopping.
func (vu *VirtualUser) RunIteration(ctx context.Context, stop <-chan struct{}, deadline time.Time) (Outcome, error) {
	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning)) {
		return OutcomeFinished, fmt.Errorf("VU %d: %w", vu.ID, ErrVUStopped)
	}
	defer vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))

	if err := ctx.Err(); err != nil {
		return OutcomeFinished, err
	}

	n := vu.iteration.Add(1)
	return vu.Scenario.Workload.Iterate(ctx, Iteration{VU: vu.ID, Number: n, Stop: stop, Deadline: deadline}), nil
}

// RequestStop signals the VU to stop. In-flight work is allowed to finish.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// WaitForStop waits for the VU goroutine to exit.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

// MarkStopped marks the VU as fully stopped.
// Called by the scheduler when the VU goroutine exits.
func (vu *VirtualUser) MarkStopped() {
	prev := VUState(vu.state.Swap(int32(VUStateStopped)))
	if prev == VUStateIdle || prev == VUStateRunning {
		close(vu.stopCh)
	}
	select {
	case <-vu.doneCh:
	default:
		close(vu.doneCh)
	}
}
