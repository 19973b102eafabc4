package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/wesleyorama2/volley/internal/performance"
	"github.com/wesleyorama2/volley/internal/performance/executor"
	"github.com/wesleyorama2/volley/internal/performance/metrics"
)

func TestNewConstantVUs(t *testing.T) {
	e := executor.NewConstantVUs(nil)
	if e == nil {
		t.Fatal("NewConstantVUs() returned nil")
	}
	if e.Type() != executor.TypeConstantVUs {
		t.Errorf("Type() = %v, want %v", e.Type(), executor.TypeConstantVUs)
	}
}

func TestConstantVUs_Run(t *testing.T) {
	recorder := newRecorder(0)
	scheduler, metricsEngine := newScheduler(t, recorder)

	e := executor.NewConstantVUs(nil)
	config := &executor.Config{
		Name:         "constant",
		Type:         executor.TypeConstantVUs,
		VUs:          3,
		Duration:     200 * time.Millisecond,
		GracefulStop: time.Second,
	}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	start := time.Now()
	if err := e.Run(context.Background(), scheduler, metricsEngine); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 200*time.Millisecond {
		t.Errorf("Run() returned after %v, before the deadline", elapsed)
	}
	if elapsed > 900*time.Millisecond {
		t.Errorf("Run() took %v, want close to 200ms", elapsed)
	}

	if got := recorder.vus(); got != 3 {
		t.Errorf("distinct VUs = %d, want 3", got)
	}

	stats := e.GetStats()
	if stats.TargetVUs != 3 {
		t.Errorf("TargetVUs = %d, want 3", stats.TargetVUs)
	}
	if stats.Iterations == 0 {
		t.Error("Iterations = 0, want > 0")
	}
	if stats.AbandonedVUs != 0 {
		t.Errorf("AbandonedVUs = %d, want 0", stats.AbandonedVUs)
	}
	if e.GetActiveVUs() != 0 {
		t.Errorf("GetActiveVUs() after Run = %d, want 0", e.GetActiveVUs())
	}
	if e.GetProgress() != 1.0 {
		t.Errorf("GetProgress() after Run = %v, want 1.0", e.GetProgress())
	}
	if metricsEngine.GetPhase() != metrics.PhaseSteady {
		t.Errorf("phase = %v, want %v", metricsEngine.GetPhase(), metrics.PhaseSteady)
	}
}

func TestConstantVUs_AbandonsStragglers(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	// Ignores every stop signal until the test ends.
	stubborn := performance.WorkloadFunc(func(ctx context.Context, it performance.Iteration) performance.Outcome {
		<-release
		return performance.OutcomeContinue
	})
	scheduler, metricsEngine := newScheduler(t, stubborn)

	e := executor.NewConstantVUs(nil)
	config := &executor.Config{
		Type:         executor.TypeConstantVUs,
		VUs:          2,
		Duration:     50 * time.Millisecond,
		GracefulStop: 50 * time.Millisecond,
	}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	start := time.Now()
	if err := e.Run(context.Background(), scheduler, metricsEngine); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if elapsed := time.Since(start); elapsed > 600*time.Millisecond {
		t.Errorf("Run() took %v, graceful stop should bound it", elapsed)
	}
	if got := e.GetStats().AbandonedVUs; got != 2 {
		t.Errorf("AbandonedVUs = %d, want 2", got)
	}
}

func TestConstantVUs_Stop(t *testing.T) {
	recorder := newRecorder(time.Second)
	scheduler, metricsEngine := newScheduler(t, recorder)

	e := executor.NewConstantVUs(nil)
	config := &executor.Config{Type: executor.TypeConstantVUs, VUs: 2, Duration: 10 * time.Second}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- e.Run(context.Background(), scheduler, metricsEngine)
	}()

	time.Sleep(50 * time.Millisecond)
	if got := e.GetActiveVUs(); got != 2 {
		t.Errorf("GetActiveVUs() while running = %d, want 2", got)
	}
	if p := e.GetProgress(); p <= 0 || p >= 1 {
		t.Errorf("GetProgress() while running = %v, want in (0, 1)", p)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after Stop()")
	}
}

func TestConstantVUs_ParentCancel(t *testing.T) {
	recorder := newRecorder(time.Second)
	scheduler, metricsEngine := newScheduler(t, recorder)

	e := executor.NewConstantVUs(nil)
	config := &executor.Config{Type: executor.TypeConstantVUs, VUs: 1, Duration: 10 * time.Second}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := e.Run(ctx, scheduler, metricsEngine); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Run() took %v after parent cancel", elapsed)
	}
}
