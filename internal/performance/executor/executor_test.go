package executor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wesleyorama2/volley/internal/performance"
	"github.com/wesleyorama2/volley/internal/performance/executor"
	"github.com/wesleyorama2/volley/internal/performance/metrics"
)

// vuRecorder remembers which VUs ran and how many iterations they did.
type vuRecorder struct {
	mu         sync.Mutex
	seen       map[int]int
	concurrent int
	peak       int
	hold       time.Duration
}

func newRecorder(hold time.Duration) *vuRecorder {
	return &vuRecorder{seen: make(map[int]int), hold: hold}
}

func (r *vuRecorder) Iterate(ctx context.Context, it performance.Iteration) performance.Outcome {
	r.mu.Lock()
	r.seen[it.VU]++
	r.concurrent++
	if r.concurrent > r.peak {
		r.peak = r.concurrent
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.concurrent--
		r.mu.Unlock()
	}()

	if r.hold > 0 {
		select {
		case <-ctx.Done():
		case <-it.Stop:
		case <-time.After(r.hold):
		}
	}
	return performance.OutcomeContinue
}

func (r *vuRecorder) vus() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func (r *vuRecorder) peakConcurrent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak
}

func newScheduler(t *testing.T, workload performance.Workload) (*performance.VUScheduler, *metrics.Engine) {
	t.Helper()
	metricsEngine := metrics.NewEngine()
	t.Cleanup(metricsEngine.Stop)
	scenario := &performance.Scenario{
		Name:     "executor-test",
		Workload: workload,
		Pacing:   &performance.Pacing{Type: performance.PacingConstant, Duration: 5 * time.Millisecond},
	}
	return performance.NewVUScheduler(scenario, metricsEngine, nil), metricsEngine
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  executor.Config
		field   string
		wantErr bool
	}{
		{"constant valid", executor.Config{Type: executor.TypeConstantVUs, VUs: 10, Duration: time.Minute}, "", false},
		{"constant zero vus", executor.Config{Type: executor.TypeConstantVUs, VUs: 0, Duration: time.Minute}, "vus", true},
		{"constant zero duration", executor.Config{Type: executor.TypeConstantVUs, VUs: 1}, "duration", true},
		{"constant negative duration", executor.Config{Type: executor.TypeConstantVUs, VUs: 1, Duration: -time.Second}, "duration", true},
		{"ramping valid", executor.Config{
			Type:   executor.TypeRampingVUs,
			Stages: []executor.Stage{{Duration: time.Minute, Target: 10}},
		}, "", false},
		{"ramping from startVUs", executor.Config{
			Type:     executor.TypeRampingVUs,
			StartVUs: 500,
			Stages:   []executor.Stage{{Duration: time.Minute, Target: 500}},
		}, "", false},
		{"ramping no stages", executor.Config{Type: executor.TypeRampingVUs}, "stages", true},
		{"ramping all zero", executor.Config{
			Type:   executor.TypeRampingVUs,
			Stages: []executor.Stage{{Duration: time.Minute, Target: 0}},
		}, "stages", true},
		{"ramping negative target", executor.Config{
			Type:   executor.TypeRampingVUs,
			Stages: []executor.Stage{{Duration: time.Minute, Target: -1}},
		}, "stages", true},
		{"ramping negative startVUs", executor.Config{
			Type:     executor.TypeRampingVUs,
			StartVUs: -5,
			Stages:   []executor.Stage{{Duration: time.Minute, Target: 1}},
		}, "startVUs", true},
		{"ramping zero total", executor.Config{
			Type:   executor.TypeRampingVUs,
			Stages: []executor.Stage{{Duration: 0, Target: 3}},
		}, "stages", true},
		{"negative gracefulStop", executor.Config{
			Type: executor.TypeConstantVUs, VUs: 1, Duration: time.Second, GracefulStop: -time.Second,
		}, "gracefulStop", true},
		{"missing type", executor.Config{VUs: 1, Duration: time.Second}, "type", true},
		{"arrival rate", executor.Config{Type: "constant-arrival-rate", VUs: 1, Duration: time.Second}, "type", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}
			var verr *executor.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %T, want *ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestConfig_TotalDuration(t *testing.T) {
	constant := &executor.Config{Type: executor.TypeConstantVUs, Duration: 90 * time.Second}
	if got := constant.TotalDuration(); got != 90*time.Second {
		t.Errorf("constant TotalDuration() = %v, want 90s", got)
	}

	ramping := &executor.Config{
		Type: executor.TypeRampingVUs,
		Stages: []executor.Stage{
			{Duration: 30 * time.Second, Target: 10},
			{Duration: time.Minute, Target: 10},
			{Duration: 30 * time.Second, Target: 0},
		},
	}
	if got := ramping.TotalDuration(); got != 2*time.Minute {
		t.Errorf("ramping TotalDuration() = %v, want 2m", got)
	}

	if got := ramping.GracefulStopOrDefault(); got != executor.DefaultGracefulStop {
		t.Errorf("GracefulStopOrDefault() = %v, want %v", got, executor.DefaultGracefulStop)
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &executor.ValidationError{Field: "vus", Message: "vus must be > 0"}
	want := "validation error on field 'vus': vus must be > 0"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestInit_WrongType(t *testing.T) {
	constant := executor.NewConstantVUs(nil)
	err := constant.Init(context.Background(), &executor.Config{
		Type:   executor.TypeRampingVUs,
		Stages: []executor.Stage{{Duration: time.Second, Target: 1}},
	})
	if err == nil {
		t.Error("ConstantVUs.Init() should reject a ramping config")
	}

	ramping := executor.NewRampingVUs(nil)
	err = ramping.Init(context.Background(), &executor.Config{Type: executor.TypeConstantVUs, VUs: 1, Duration: time.Second})
	if err == nil {
		t.Error("RampingVUs.Init() should reject a constant config")
	}
}

func TestStop_BeforeRun(t *testing.T) {
	e := executor.NewConstantVUs(nil)
	if err := e.Init(context.Background(), &executor.Config{Type: executor.TypeConstantVUs, VUs: 1, Duration: time.Second}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := e.Stop(context.Background()); err != nil {
		t.Errorf("Stop() before Run() error = %v", err)
	}
	if got := e.GetProgress(); got != 0 {
		t.Errorf("GetProgress() before Run() = %v, want 0", got)
	}
	if got := e.GetActiveVUs(); got != 0 {
		t.Errorf("GetActiveVUs() before Run() = %d, want 0", got)
	}
}
