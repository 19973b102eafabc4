package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/volley/internal/performance"
	"github.com/wesleyorama2/volley/internal/performance/metrics"
)

// ControllerInterval is how often a ramping executor re-evaluates its target.
const ControllerInterval = 100 * time.Millisecond

// RampingVUs ramps VU count up and down according to stages.
//
// StartVUs are spawned at t=0. The target is then interpolated linearly from
// the previous stage's target (initially StartVUs) to the current stage's
// target across the stage duration.
//
// Example stages:
//
//	startVUs: 500
//	stages:
//	  - duration: 1m
//	    target: 500    # hold 500 VUs for a minute (burst)
//	  - duration: 30s
//	    target: 0      # ramp down to 0 VUs over 30s
type RampingVUs struct {
	lifecycle

	currentStage atomic.Int32

	// VU tracking
	vus   []*performance.VirtualUser
	vusMu sync.Mutex
}

// NewRampingVUs creates a new ramping VUs executor. A nil logger disables
// logging.
func NewRampingVUs(logger *zap.Logger) *RampingVUs {
	e := &RampingVUs{}
	e.setLogger(logger)
	return e
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeRampingVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run drives the VU population until the deadline and graceful stop.
func (e *RampingVUs) Run(ctx context.Context, scheduler *performance.VUScheduler, metricsEngine *metrics.Engine) error {
	runCtx, ioCtx, release := e.begin(ctx, scheduler)
	defer release()

	start := time.Now()
	e.step(runCtx, ioCtx, scheduler, metricsEngine, 0)

	ticker := time.NewTicker(ControllerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			e.finish()
			return nil
		case <-ticker.C:
			e.step(runCtx, ioCtx, scheduler, metricsEngine, time.Since(start))
		}
	}
}

func (e *RampingVUs) step(runCtx, ioCtx context.Context, scheduler *performance.VUScheduler, metricsEngine *metrics.Engine, elapsed time.Duration) {
	target, stage := TargetVUsAt(e.config.StartVUs, e.config.Stages, elapsed)
	e.targetVUs.Store(int32(target))
	e.currentStage.Store(int32(stage))
	e.adjustVUs(runCtx, ioCtx, scheduler, target)
	e.updatePhase(metricsEngine, stage)
}

// TargetVUsAt returns the interpolated VU target elapsed into a ramp and
// the index of the stage in effect.
func TargetVUsAt(startVUs int, stages []Stage, elapsed time.Duration) (target, stage int) {
	var stageStart time.Duration
	prevTarget := startVUs

	for i, s := range stages {
		stageEnd := stageStart + s.Duration

		if elapsed < stageEnd {
			// Calculate progress within this stage (0.0 to 1.0)
			stageProgress := float64(elapsed-stageStart) / float64(s.Duration)
			if stageProgress < 0 {
				stageProgress = 0
			}
			if stageProgress > 1 {
				stageProgress = 1
			}

			targetVUs := float64(prevTarget) + float64(s.Target-prevTarget)*stageProgress
			return int(targetVUs + 0.5), i // Round to nearest
		}

		prevTarget = s.Target
		stageStart = stageEnd
	}

	// Past all stages - return last target
	if len(stages) > 0 {
		return stages[len(stages)-1].Target, len(stages) - 1
	}
	return startVUs, 0
}

// adjustVUs spawns or stops VUs so the population matches targetVUs.
func (e *RampingVUs) adjustVUs(runCtx, ioCtx context.Context, scheduler *performance.VUScheduler, targetVUs int) {
	if runCtx.Err() != nil {
		return
	}

	e.vusMu.Lock()
	defer e.vusMu.Unlock()

	currentVUs := len(e.vus)

	if targetVUs > currentVUs {
		for i := currentVUs; i < targetVUs; i++ {
			vu := scheduler.SpawnVU()
			e.vus = append(e.vus, vu)
			scheduler.Start(runCtx, ioCtx, vu)
		}
	} else if targetVUs < currentVUs {
		// Stop excess VUs (from the end)
		for i := currentVUs - 1; i >= targetVUs; i-- {
			scheduler.StopVU(e.vus[i].ID)
		}
		e.vus = e.vus[:targetVUs]
	}
}

// updatePhase updates the metrics phase based on current stage.
func (e *RampingVUs) updatePhase(metricsEngine *metrics.Engine, stageIdx int) {
	if stageIdx >= len(e.config.Stages) {
		return
	}

	prevTarget := e.config.StartVUs
	if stageIdx > 0 {
		prevTarget = e.config.Stages[stageIdx-1].Target
	}

	switch target := e.config.Stages[stageIdx].Target; {
	case target == prevTarget:
		metricsEngine.SetPhase(metrics.PhaseSteady)
	case target > prevTarget:
		metricsEngine.SetPhase(metrics.PhaseRampUp)
	default:
		metricsEngine.SetPhase(metrics.PhaseRampDown)
	}
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	stats := e.baseStats()

	stageIdx := int(e.currentStage.Load())
	if stageIdx < len(e.config.Stages) {
		stats.CurrentStageName = e.config.Stages[stageIdx].Name
	}
	stats.CurrentStage = stageIdx
	stats.TotalStages = len(e.config.Stages)
	return stats
}

// Ensure RampingVUs implements Executor
var _ Executor = (*RampingVUs)(nil)
