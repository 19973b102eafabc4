// Package executor provides the load profiles that decide how many virtual
// users run at any moment of a scenario.
package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/volley/internal/performance"
	"github.com/wesleyorama2/volley/internal/performance/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"
)

// DefaultGracefulStop bounds how long in-flight work may run past the
// scenario deadline when the config does not say.
const DefaultGracefulStop = 30 * time.Second

// Executor defines the interface for load profiles.
//
// Executors control HOW MANY virtual users run; the VUScheduler runs them.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init validates and stores the configuration.
	// Called once before Run().
	Init(ctx context.Context, config *Config) error

	// Run drives the VU population and blocks until the scenario deadline
	// has passed and every VU has exited or been abandoned.
	Run(ctx context.Context, scheduler *performance.VUScheduler, metrics *metrics.Engine) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats

	// Stop ends the scenario early and waits for Run to return or ctx to
	// expire.
	Stop(ctx context.Context) error
}

// Config contains configuration for an executor.
type Config struct {
	// Name is the name of this executor instance
	Name string `json:"name" yaml:"name"`

	// Type is the executor type
	Type Type `json:"type" yaml:"type"`

	// VUs is the population of a constant-vus executor
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// StartVUs is the population a ramping-vus executor spawns at t=0
	StartVUs int `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`

	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Stages (for ramping executors)
	Stages []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Graceful stop timeout
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// Stage defines a stage in ramping executors.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	// Timing
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// VU stats
	ActiveVUs    int `json:"activeVUs"`
	TargetVUs    int `json:"targetVUs"`
	AbandonedVUs int `json:"abandonedVUs"`

	Iterations int64 `json:"iterations"`

	// Stage info (for ramping executors)
	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName"`
	TotalStages      int    `json:"totalStages"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}
	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}

	switch c.Type {
	case TypeConstantVUs:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypeRampingVUs:
		if len(c.Stages) == 0 {
			return &ValidationError{Field: "stages", Message: "at least one stage is required"}
		}
		if c.StartVUs < 0 {
			return &ValidationError{Field: "startVUs", Message: "startVUs must be >= 0"}
		}
		peak := c.StartVUs
		for _, stage := range c.Stages {
			if stage.Duration < 0 {
				return &ValidationError{Field: "stages", Message: "stage duration must be >= 0"}
			}
			if stage.Target < 0 {
				return &ValidationError{Field: "stages", Message: "stage target must be >= 0"}
			}
			if stage.Target > peak {
				peak = stage.Target
			}
		}
		if peak == 0 {
			return &ValidationError{Field: "stages", Message: "startVUs or a stage target must be > 0"}
		}
		if c.TotalDuration() <= 0 {
			return &ValidationError{Field: "stages", Message: "total stage duration must be > 0"}
		}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	return nil
}

// TotalDuration calculates the total duration for this executor.
func (c *Config) TotalDuration() time.Duration {
	switch c.Type {
	case TypeConstantVUs:
		return c.Duration

	case TypeRampingVUs:
		var total time.Duration
		for _, stage := range c.Stages {
			total += stage.Duration
		}
		return total

	default:
		return 0
	}
}

// GracefulStopOrDefault returns GracefulStop, or DefaultGracefulStop when it
// is unset.
func (c *Config) GracefulStopOrDefault() time.Duration {
	if c.GracefulStop == 0 {
		return DefaultGracefulStop
	}
	return c.GracefulStop
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

// lifecycle is the run bookkeeping shared by both executors.
type lifecycle struct {
	config *Config
	logger *zap.Logger

	mu        sync.Mutex
	scheduler *performance.VUScheduler
	startTime time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	running   atomic.Bool
	targetVUs atomic.Int32
	abandoned atomic.Int32
}

func (l *lifecycle) setLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l.logger = logger
}

// begin derives the two contexts a run needs. runCtx ends at the scenario
// deadline and stops new work; ioCtx lasts one graceful stop longer and
// bounds work already in flight. The returned func releases both.
func (l *lifecycle) begin(ctx context.Context, scheduler *performance.VUScheduler) (runCtx, ioCtx context.Context, release func()) {
	start := time.Now()
	deadline := start.Add(l.config.TotalDuration())

	ioCtx, ioCancel := context.WithDeadline(ctx, deadline.Add(l.config.GracefulStopOrDefault()))
	runCtx, runCancel := context.WithDeadline(ioCtx, deadline)

	l.mu.Lock()
	l.scheduler = scheduler
	l.startTime = start
	l.cancel = runCancel
	l.done = make(chan struct{})
	l.mu.Unlock()
	l.running.Store(true)

	l.logger.Info("scenario started",
		zap.String("scenario", l.config.Name),
		zap.String("executor", string(l.config.Type)),
		zap.Duration("duration", l.config.TotalDuration()),
	)

	return runCtx, ioCtx, func() {
		runCancel()
		ioCancel()
	}
}

// finish stops every VU, waits out the graceful stop and records how many
// VUs were abandoned.
func (l *lifecycle) finish() {
	l.mu.Lock()
	scheduler, done := l.scheduler, l.done
	l.mu.Unlock()

	abandoned := scheduler.Shutdown(l.config.GracefulStopOrDefault())
	l.abandoned.Store(int32(abandoned))
	l.running.Store(false)

	l.logger.Info("scenario finished",
		zap.String("scenario", l.config.Name),
		zap.Int64("iterations", scheduler.Iterations()),
		zap.Int("abandoned_vus", abandoned),
	)
	close(done)
}

func (l *lifecycle) elapsed() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.startTime.IsZero() {
		return 0
	}
	return time.Since(l.startTime)
}

// GetProgress returns current progress (0.0 to 1.0).
func (l *lifecycle) GetProgress() float64 {
	elapsed := l.elapsed()
	if !l.running.Load() {
		if elapsed == 0 {
			return 0.0
		}
		return 1.0
	}

	totalDuration := l.config.TotalDuration()
	if totalDuration == 0 {
		return 1.0
	}

	progress := float64(elapsed) / float64(totalDuration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns current active VU count.
func (l *lifecycle) GetActiveVUs() int {
	l.mu.Lock()
	scheduler := l.scheduler
	l.mu.Unlock()
	if scheduler == nil {
		return 0
	}
	return scheduler.GetActiveVUCount()
}

func (l *lifecycle) baseStats() *Stats {
	l.mu.Lock()
	start, scheduler := l.startTime, l.scheduler
	l.mu.Unlock()

	stats := &Stats{
		StartTime:     start,
		CurrentTime:   time.Now(),
		TotalDuration: l.config.TotalDuration(),
		TargetVUs:     int(l.targetVUs.Load()),
		AbandonedVUs:  int(l.abandoned.Load()),
	}
	if !start.IsZero() {
		stats.Elapsed = time.Since(start)
	}
	if scheduler != nil {
		stats.ActiveVUs = scheduler.GetActiveVUCount()
		stats.Iterations = scheduler.Iterations()
	}
	return stats
}

// Stop ends the scenario early and waits for Run to return.
func (l *lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
