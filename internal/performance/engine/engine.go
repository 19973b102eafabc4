// Package engine orchestrates a load test: it turns a validated
// configuration into scenarios, runs them against a shared metrics engine
// and check registry, and evaluates thresholds over the final snapshot.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/volley/internal/performance"
	"github.com/wesleyorama2/volley/internal/performance/check"
	"github.com/wesleyorama2/volley/internal/performance/config"
	"github.com/wesleyorama2/volley/internal/performance/executor"
	"github.com/wesleyorama2/volley/internal/performance/metrics"
	"github.com/wesleyorama2/volley/internal/performance/probe"
	"github.com/wesleyorama2/volley/internal/performance/session"
	"github.com/wesleyorama2/volley/pkg/jsonschema"
)

// Workload kinds reported in ScenarioResult.
const (
	WorkloadHTTP      = "http"
	WorkloadWebSocket = "websocket"
)

// Engine is the main orchestrator for a load test.
//
// It coordinates:
//   - Configuration validation and defaults
//   - Scenario execution with their respective executors
//   - Metrics collection and check tallies
//   - Threshold evaluation
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("test.yaml")
//	engine, _ := engine.NewEngine(cfg)
//	result, _ := engine.Run(context.Background())
//	fmt.Printf("Test passed: %v\n", result.Passed)
type Engine struct {
	config *config.TestConfig
	logger *zap.Logger

	// Shared across all scenarios
	metricsEngine *metrics.Engine
	checks        *check.Registry
	httpClient    *http.Client
	dialer        session.Dialer

	thresholds map[string][]config.Threshold

	scenarios []*ScenarioRunner
	mu        sync.RWMutex

	startTime time.Time
	running   bool
}

// ScenarioRunner manages the execution of a single scenario.
type ScenarioRunner struct {
	Name      string
	Workload  string
	Config    *config.ScenarioConfig
	Executor  executor.Executor
	Scheduler *performance.VUScheduler
	Result    *ScenarioResult
}

// ScenarioResult contains the results of a single scenario.
type ScenarioResult struct {
	Name         string        `json:"name"`
	Executor     string        `json:"executor"`
	Workload     string        `json:"workload"`
	Duration     time.Duration `json:"duration"`
	Iterations   int64         `json:"iterations"`
	MaxVUs       int           `json:"maxVUs"`
	AbandonedVUs int           `json:"abandonedVUs"`
	Error        string        `json:"error,omitempty"`
}

// TestResult contains the complete test results.
type TestResult struct {
	RunID       string        `json:"runId"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	Scenarios map[string]*ScenarioResult `json:"scenarios"`

	Metrics    *metrics.Snapshot     `json:"metrics"`
	TimeSeries []*metrics.TimeBucket `json:"timeSeries,omitempty"`
	Checks     []check.Result        `json:"checks,omitempty"`

	Passed     bool              `json:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty"`

	// Error is set when a scenario failed outright.
	Error string `json:"error,omitempty"`
}

// ThresholdResult contains the result of a threshold evaluation.
type ThresholdResult struct {
	Metric     string  `json:"metric"`
	Expression string  `json:"expression"`
	Passed     bool    `json:"passed"`
	Value      float64 `json:"value"`
	Message    string  `json:"message,omitempty"`
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger handed to executors and workloads.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithDialer replaces the WebSocket dialer used by session workloads.
func WithDialer(dialer session.Dialer) Option {
	return func(e *Engine) {
		e.dialer = dialer
	}
}

// WithHTTPClient replaces the shared HTTP client used by probe workloads.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) {
		e.httpClient = client
	}
}

// NewEngine validates cfg, applies defaults and builds every scenario.
// Nothing runs until Run is called; a configuration error is returned
// before any virtual user exists.
func NewEngine(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	e := &Engine{
		config:        cfg,
		logger:        zap.NewNop(),
		metricsEngine: metrics.NewEngine(),
		checks:        check.NewRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.httpClient == nil {
		e.httpClient = probe.NewClient(probe.ClientConfig{
			Timeout:             cfg.Settings.Timeout.GetDuration(30 * time.Second),
			MaxIdleConns:        1000,
			MaxIdleConnsPerHost: cfg.Settings.MaxIdleConnsPerHost,
			MaxConnsPerHost:     cfg.Settings.MaxConnectionsPerHost,
			IdleConnTimeout:     90 * time.Second,
			InsecureSkipVerify:  cfg.Settings.InsecureSkipVerify,
		})
	}

	thresholds, err := parseThresholds(cfg.Thresholds)
	if err != nil {
		e.metricsEngine.Stop()
		return nil, err
	}
	e.thresholds = thresholds

	if err := e.initializeScenarios(); err != nil {
		e.metricsEngine.Stop()
		return nil, fmt.Errorf("failed to initialize scenarios: %w", err)
	}

	return e, nil
}

func parseThresholds(tc config.ThresholdsConfig) (map[string][]config.Threshold, error) {
	parsed := make(map[string][]config.Threshold, len(tc))
	for metric, exprs := range tc {
		for _, expr := range exprs {
			t, err := config.ParseThreshold(expr)
			if err != nil {
				return nil, fmt.Errorf("threshold %s: %w", metric, err)
			}
			parsed[metric] = append(parsed[metric], t)
		}
	}
	return parsed, nil
}

// initializeScenarios creates executors and schedulers in name order.
func (e *Engine) initializeScenarios() error {
	names := make([]string, 0, len(e.config.Scenarios))
	for name := range e.config.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		runner, err := e.newScenarioRunner(name, e.config.Scenarios[name])
		if err != nil {
			return fmt.Errorf("scenario %s: %w", name, err)
		}
		e.scenarios = append(e.scenarios, runner)
	}
	return nil
}

func (e *Engine) newScenarioRunner(name string, sc *config.ScenarioConfig) (*ScenarioRunner, error) {
	logger := e.logger.With(zap.String("scenario", name))

	var (
		workload performance.Workload
		kind     string
		err      error
	)
	switch {
	case sc.HTTP != nil:
		kind = WorkloadHTTP
		workload, err = e.newProbe(sc.HTTP, logger)
	case sc.WebSocket != nil:
		kind = WorkloadWebSocket
		workload, err = e.newSessionWorkload(sc.WebSocket, logger)
	default:
		err = fmt.Errorf("no workload configured")
	}
	if err != nil {
		return nil, err
	}

	execConfig, err := executor.FromScenarioConfig(name, sc)
	if err != nil {
		return nil, err
	}
	exec, err := executor.CreateAndInitExecutor(context.Background(), execConfig, logger)
	if err != nil {
		return nil, err
	}

	pacing, err := executor.ParsePacing(sc.Pacing)
	if err != nil {
		return nil, err
	}

	scenario := &performance.Scenario{
		Name:     name,
		Workload: workload,
		Pacing:   pacing,
	}

	return &ScenarioRunner{
		Name:      name,
		Workload:  kind,
		Config:    sc,
		Executor:  exec,
		Scheduler: performance.NewVUScheduler(scenario, e.metricsEngine, logger),
	}, nil
}

func (e *Engine) newProbe(hc *config.HTTPConfig, logger *zap.Logger) (*probe.Probe, error) {
	headers := config.MergeHeaders(
		e.config.Settings.Headers,
		map[string]string{"User-Agent": e.config.Settings.UserAgent},
		hc.Headers,
	)

	cfg := probe.Config{
		URL:            hc.URL,
		Method:         hc.Method,
		Headers:        headers,
		Body:           hc.Body,
		ExpectedStatus: hc.ExpectedStatus,
		Marker:         hc.Marker,
	}

	var err error
	if cfg.Timeout, err = config.ParseDurationString(hc.Timeout); err != nil {
		return nil, fmt.Errorf("invalid http timeout: %w", err)
	}
	if cfg.MaxDuration, err = config.ParseDurationString(hc.MaxDuration); err != nil {
		return nil, fmt.Errorf("invalid http maxDuration: %w", err)
	}

	switch {
	case hc.Schema != "":
		cfg.Schema, err = jsonschema.Compile(hc.Schema)
	case hc.SchemaFile != "":
		cfg.Schema, err = jsonschema.CompileFile(hc.SchemaFile)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid http schema: %w", err)
	}

	return probe.New(cfg, e.httpClient, e.metricsEngine, e.checks, logger)
}

func (e *Engine) newSessionWorkload(wc *config.WebSocketConfig, logger *zap.Logger) (*session.Workload, error) {
	policy, err := session.ParsePolicy(wc.Policy)
	if err != nil {
		return nil, err
	}

	cfg := session.Config{
		URL: wc.URL,
		Headers: config.MergeHeaders(
			e.config.Settings.Headers,
			map[string]string{"User-Agent": e.config.Settings.UserAgent},
			wc.Headers,
		),
		Policy: policy,
		Count:  wc.Count,
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"staleAfter", wc.StaleAfter, &cfg.StaleAfter},
		{"interval", wc.Interval, &cfg.Interval},
		{"handshakeTimeout", wc.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"closeGrace", wc.CloseGrace, &cfg.CloseGrace},
		{"maxDuration", wc.MaxDuration, &cfg.MaxDuration},
	}
	for _, d := range durations {
		if *d.dst, err = config.ParseDurationString(d.raw); err != nil {
			return nil, fmt.Errorf("invalid websocket %s: %w", d.name, err)
		}
	}

	dialer := e.dialer
	if dialer == nil {
		dialer = &session.WebSocketDialer{HandshakeTimeout: cfg.HandshakeTimeout}
	}

	return session.NewWorkload(cfg, dialer, e.metricsEngine, e.checks, logger)
}

// Run executes all scenarios and returns the test results.
//
// By default, all scenarios run concurrently. If Options.Sequential is true,
// scenarios run one at a time. Cancelling ctx stops every scenario; each
// still honors its graceful stop before Run returns.
//
// An engine runs once: its metrics engine is stopped when Run returns.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	e.running = true
	e.startTime = time.Now()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	runID := uuid.NewString()
	logger := e.logger.With(zap.String("run_id", runID))
	logger.Info("test started",
		zap.String("name", e.config.Name),
		zap.Int("scenarios", len(e.scenarios)))

	var runErr error
	if e.config.Options != nil && e.config.Options.Sequential {
		runErr = e.runScenariosSequentially(ctx)
	} else {
		runErr = e.runScenariosConcurrently(ctx)
	}

	e.metricsEngine.SetPhase(metrics.PhaseDone)
	e.metricsEngine.Stop()

	snapshot := e.metricsEngine.GetSnapshot()
	thresholdResults := e.evaluateThresholds(snapshot)
	passed := runErr == nil
	for _, tr := range thresholdResults {
		if !tr.Passed {
			passed = false
			break
		}
	}

	end := time.Now()
	result := &TestResult{
		RunID:       runID,
		Name:        e.config.Name,
		Description: e.config.Description,
		StartTime:   e.startTime,
		EndTime:     end,
		Duration:    end.Sub(e.startTime),
		Scenarios:   make(map[string]*ScenarioResult, len(e.scenarios)),
		Metrics:     snapshot,
		TimeSeries:  e.metricsEngine.GetTimeSeries(),
		Checks:      e.checks.Results(),
		Passed:      passed,
		Thresholds:  thresholdResults,
	}
	for _, runner := range e.scenarios {
		if runner.Result != nil {
			result.Scenarios[runner.Name] = runner.Result
		}
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}

	logger.Info("test finished",
		zap.Bool("passed", passed),
		zap.Duration("duration", result.Duration),
		zap.Int64("operations", snapshot.TotalOperations))

	return result, runErr
}

// runScenariosConcurrently runs all scenarios in parallel. A failing
// scenario does not cancel its siblings.
func (e *Engine) runScenariosConcurrently(ctx context.Context) error {
	var g errgroup.Group
	for _, runner := range e.scenarios {
		runner := runner
		g.Go(func() error {
			if err := e.runScenario(ctx, runner); err != nil {
				return fmt.Errorf("scenario %s failed: %w", runner.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// runScenariosSequentially runs all scenarios one at a time in name order.
func (e *Engine) runScenariosSequentially(ctx context.Context) error {
	for _, runner := range e.scenarios {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.runScenario(ctx, runner); err != nil {
			return fmt.Errorf("scenario %s failed: %w", runner.Name, err)
		}
	}
	return nil
}

// runScenario runs a single scenario.
func (e *Engine) runScenario(ctx context.Context, runner *ScenarioRunner) error {
	startTime := time.Now()
	err := runner.Executor.Run(ctx, runner.Scheduler, e.metricsEngine)
	stats := runner.Executor.GetStats()

	execConfig, _ := executor.FromScenarioConfig(runner.Name, runner.Config)
	result := &ScenarioResult{
		Name:         runner.Name,
		Executor:     string(runner.Executor.Type()),
		Workload:     runner.Workload,
		Duration:     time.Since(startTime),
		Iterations:   stats.Iterations,
		AbandonedVUs: stats.AbandonedVUs,
	}
	if execConfig != nil {
		result.MaxVUs = executor.CalculateMaxVUs(execConfig)
	}
	if err != nil {
		result.Error = err.Error()
	}

	e.mu.Lock()
	runner.Result = result
	e.mu.Unlock()
	return err
}

// evaluateThresholds evaluates every configured threshold in metric name
// order.
func (e *Engine) evaluateThresholds(snapshot *metrics.Snapshot) []ThresholdResult {
	if len(e.thresholds) == 0 {
		return nil
	}

	names := make([]string, 0, len(e.thresholds))
	for name := range e.thresholds {
		names = append(names, name)
	}
	sort.Strings(names)

	var results []ThresholdResult
	for _, name := range names {
		for _, t := range e.thresholds[name] {
			results = append(results, e.evaluateThreshold(name, t, snapshot))
		}
	}
	return results
}

func (e *Engine) evaluateThreshold(metric string, t config.Threshold, snapshot *metrics.Snapshot) ThresholdResult {
	result := ThresholdResult{
		Metric:     metric,
		Expression: t.Expression,
	}

	actual, err := e.metricValue(metric, t.Stat, snapshot)
	if err != nil {
		result.Message = err.Error()
		return result
	}

	result.Value = actual
	result.Passed = t.Passes(actual)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %.4g, threshold: %s %g", t.Stat, actual, t.Op, t.Value)
	}
	return result
}

// metricValue resolves stat for metric. Trends report milliseconds and
// counts; counters report their value as count and per-second rate.
// The failure counter and the check tally report rate as a fraction.
func (e *Engine) metricValue(metric, stat string, snapshot *metrics.Snapshot) (float64, error) {
	switch metric {
	case "checks":
		totals := e.checks.Totals()
		if totals.Total() == 0 {
			return 0, fmt.Errorf("metric %s was not recorded", metric)
		}
		switch stat {
		case "rate":
			return totals.Rate(), nil
		case "count":
			return float64(totals.Total()), nil
		}
		return 0, fmt.Errorf("%s only supports 'rate' or 'count', got: %s", metric, stat)

	case metrics.HTTPReqFailed:
		if stat == "rate" {
			reqs := snapshot.Counter(metrics.HTTPReqs)
			if reqs == 0 {
				return 0, fmt.Errorf("metric %s was not recorded", metrics.HTTPReqs)
			}
			return float64(snapshot.Counter(metrics.HTTPReqFailed)) / float64(reqs), nil
		}
	}

	if trend, ok := snapshot.Trends[metric]; ok {
		if stat == "rate" {
			return 0, fmt.Errorf("%s is a trend and does not support 'rate'", metric)
		}
		value, _ := trend.Stat(stat)
		return value, nil
	}

	if counter, ok := snapshot.Counters[metric]; ok {
		switch stat {
		case "count":
			return float64(counter.Value), nil
		case "rate":
			return counter.Rate, nil
		}
		return 0, fmt.Errorf("%s is a counter and only supports 'rate' or 'count', got: %s", metric, stat)
	}

	return 0, fmt.Errorf("metric %s was not recorded", metric)
}

// GetConfig returns the test configuration.
func (e *Engine) GetConfig() *config.TestConfig {
	return e.config
}

// Metrics returns the shared metrics engine.
func (e *Engine) Metrics() *metrics.Engine {
	return e.metricsEngine
}

// Checks returns the shared check registry.
func (e *Engine) Checks() *check.Registry {
	return e.checks
}

// GetMetrics returns the current metrics snapshot.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	return e.metricsEngine.GetSnapshot()
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stop ends every running scenario early. Scenarios still drain within
// their graceful stop.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.RLock()
	if !e.running {
		e.mu.RUnlock()
		return nil
	}
	scenarios := e.scenarios
	e.mu.RUnlock()

	var lastErr error
	for _, runner := range scenarios {
		if err := runner.Executor.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// GetProgress returns the overall test progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	if len(e.scenarios) == 0 {
		return 0.0
	}

	var totalProgress float64
	for _, runner := range e.scenarios {
		totalProgress += runner.Executor.GetProgress()
	}
	return totalProgress / float64(len(e.scenarios))
}

// GetScenarioStats returns current stats for all scenarios.
func (e *Engine) GetScenarioStats() map[string]*executor.Stats {
	stats := make(map[string]*executor.Stats, len(e.scenarios))
	for _, runner := range e.scenarios {
		stats[runner.Name] = runner.Executor.GetStats()
	}
	return stats
}
