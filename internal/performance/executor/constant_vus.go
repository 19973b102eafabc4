package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wesleyorama2/volley/internal/performance"
	"github.com/wesleyorama2/volley/internal/performance/metrics"
)

// ConstantVUs runs a fixed number of VUs for a duration.
//
// All VUs are spawned at t=0 and held until the deadline. This is the
// steady profile: each VU typically opens one session and keeps it for the
// whole run.
type ConstantVUs struct {
	lifecycle
}

// NewConstantVUs creates a new constant VUs executor. A nil logger disables
// logging.
func NewConstantVUs(logger *zap.Logger) *ConstantVUs {
	e := &ConstantVUs{}
	e.setLogger(logger)
	return e
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run spawns every VU and blocks until the deadline and graceful stop.
func (e *ConstantVUs) Run(ctx context.Context, scheduler *performance.VUScheduler, metricsEngine *metrics.Engine) error {
	runCtx, ioCtx, release := e.begin(ctx, scheduler)
	defer release()

	// Constant VUs has no ramp
	metricsEngine.SetPhase(metrics.PhaseSteady)

	e.targetVUs.Store(int32(e.config.VUs))
	for i := 0; i < e.config.VUs; i++ {
		scheduler.Start(runCtx, ioCtx, scheduler.SpawnVU())
	}

	<-runCtx.Done()
	e.finish()
	return nil
}

// GetStats returns executor statistics.
func (e *ConstantVUs) GetStats() *Stats {
	return e.baseStats()
}

// Ensure ConstantVUs implements Executor
var _ Executor = (*ConstantVUs)(nil)
