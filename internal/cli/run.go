package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wesleyorama2/volley/internal/performance/config"
	"github.com/wesleyorama2/volley/internal/performance/engine"
	"github.com/wesleyorama2/volley/internal/performance/executor"
	"github.com/wesleyorama2/volley/internal/performance/metrics"
	"github.com/wesleyorama2/volley/internal/performance/output"
	"github.com/wesleyorama2/volley/internal/performance/report"
)

// ErrTestFailed is returned when the run completed but a threshold failed.
var ErrTestFailed = errors.New("load test failed")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a load test from a configuration file or flags",
	Long: `Drive virtual users against an HTTP endpoint or a WebSocket session.

Config file mode:
  volley run --config burst.yaml

Quick HTTP mode (single scenario):
  volley run --url http://localhost:8080/metrics \
    --executor ramping-vus \
    --start-vus 500 \
    --stages "1m:500"

Quick WebSocket mode:
  volley run --ws-url ws://localhost:8081/ws \
    --policy fixed-rate \
    --vus 10 \
    --duration 1m

The process exits with status 1 when any threshold fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := runOptionsFromFlags(cmd)
		if err != nil {
			return err
		}
		if opts.configFile == "" && opts.url == "" && opts.wsURL == "" {
			_ = cmd.Help()
			return fmt.Errorf("either --config, --url or --ws-url is required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runLoadTest(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

// runOptions holds the parsed command line.
type runOptions struct {
	configFile  string
	url         string
	wsURL       string
	executor    string
	vus         int
	startVUs    int
	stages      string
	duration    string
	policy      string
	jsonOutput  bool
	outputPath  string
	htmlPath    string
	quiet       bool
	verbose     bool
	metricsAddr string
}

func runOptionsFromFlags(cmd *cobra.Command) (runOptions, error) {
	var opts runOptions
	var errs []error
	getString := func(name string) string {
		v, err := cmd.Flags().GetString(name)
		errs = append(errs, err)
		return v
	}
	getInt := func(name string) int {
		v, err := cmd.Flags().GetInt(name)
		errs = append(errs, err)
		return v
	}
	getBool := func(name string) bool {
		v, err := cmd.Flags().GetBool(name)
		errs = append(errs, err)
		return v
	}

	opts.configFile = getString("config")
	opts.url = getString("url")
	opts.wsURL = getString("ws-url")
	opts.executor = getString("executor")
	opts.vus = getInt("vus")
	opts.startVUs = getInt("start-vus")
	opts.stages = getString("stages")
	opts.duration = getString("duration")
	opts.policy = getString("policy")
	opts.jsonOutput = getBool("json")
	opts.outputPath = getString("output")
	opts.htmlPath = getString("html")
	opts.quiet = getBool("quiet")
	opts.verbose = getBool("verbose")
	opts.metricsAddr = getString("metrics-addr")

	return opts, errors.Join(errs...)
}

// runLoadTest loads or builds the configuration, runs it with live progress
// and writes the summary. Console output goes to stdout unless JSON is
// printed there.
func runLoadTest(ctx context.Context, opts runOptions, stdout, stderr io.Writer) error {
	var (
		testConfig *config.TestConfig
		err        error
	)
	if opts.configFile != "" {
		testConfig, err = config.LoadConfig(opts.configFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		testConfig, err = buildConfigFromCLI(opts)
		if err != nil {
			return fmt.Errorf("building config: %w", err)
		}
	}

	logger, err := newLogger(opts.verbose, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	eng, err := engine.NewEngine(testConfig, engine.WithLogger(logger))
	if err != nil {
		return err
	}

	if opts.metricsAddr != "" {
		addr, shutdown, err := serveMetrics(opts.metricsAddr, eng.Metrics(), logger)
		if err != nil {
			return err
		}
		defer shutdown()
		fmt.Fprintf(stderr, "Serving metrics on http://%s/metrics\n", addr)
	}

	consoleWriter := stdout
	if opts.jsonOutput && opts.outputPath == "" {
		consoleWriter = stderr
	}
	totalDuration := calculateTotalDuration(testConfig)
	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		TestName:      testConfig.Name,
		ExecutorType:  displayExecutor(testConfig),
		TotalDuration: totalDuration,
		Writer:        consoleWriter,
		Quiet:         opts.quiet,
	})
	console.PrintHeader()

	type runResult struct {
		result *engine.TestResult
		err    error
	}
	done := make(chan runResult, 1)
	go func() {
		result, err := eng.Run(ctx)
		done <- runResult{result, err}
	}()

	targetVUs := getTargetVUs(testConfig)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var final runResult
progressLoop:
	for {
		select {
		case final = <-done:
			break progressLoop
		case <-ticker.C:
			currentStage, totalStages := getStageInfo(eng.GetScenarioStats())
			stats := output.StatsFromMetrics(
				eng.GetMetrics(),
				eng.GetProgress(),
				totalDuration,
				targetVUs,
				currentStage,
				totalStages,
			)
			if console.IsTTY() {
				console.Update(stats)
			} else {
				console.PrintNonInteractiveUpdate(stats)
			}
		}
	}

	if final.result == nil {
		return final.err
	}
	console.PrintSummary(final.result)

	if opts.jsonOutput || opts.outputPath != "" {
		if err := outputJSONResult(final.result, opts.outputPath, stdout); err != nil {
			return err
		}
	}
	if opts.htmlPath != "" {
		if err := report.GenerateHTML(final.result, opts.htmlPath); err != nil {
			return err
		}
		fmt.Fprintf(stderr, "HTML report written to %s\n", opts.htmlPath)
	}

	if final.err != nil {
		return final.err
	}
	if !final.result.Passed {
		return ErrTestFailed
	}
	return nil
}

// newLogger builds a production JSON logger on w that only reports
// warnings, or a console logger at debug level with --verbose.
func newLogger(verbose bool, w io.Writer) (*zap.Logger, error) {
	if verbose {
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.AddSync(w),
			zap.DebugLevel,
		)
		return zap.New(core, zap.Development()), nil
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		zap.WarnLevel,
	)
	return zap.New(core), nil
}

// serveMetrics exposes the live metrics in Prometheus format until the
// returned function is called. It returns the bound address.
func serveMetrics(addr string, metricsEngine *metrics.Engine, logger *zap.Logger) (string, func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(metricsEngine, "volley"))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Debug("serving metrics", zap.String("addr", listener.Addr().String()))

	return listener.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}

// buildConfigFromCLI builds a single-scenario TestConfig from flags.
func buildConfigFromCLI(opts runOptions) (*config.TestConfig, error) {
	if opts.url != "" && opts.wsURL != "" {
		return nil, fmt.Errorf("--url and --ws-url are mutually exclusive")
	}

	executorType := opts.executor
	if executorType == "" {
		executorType = string(executor.TypeConstantVUs)
		if opts.stages != "" {
			executorType = string(executor.TypeRampingVUs)
		}
	}

	vus := opts.vus
	if vus == 0 && executorType == string(executor.TypeConstantVUs) {
		vus = 10
	}

	duration := opts.duration
	if duration == "" && opts.stages == "" {
		duration = "30s"
	}

	scenario := &config.ScenarioConfig{
		Executor: executorType,
		VUs:      vus,
		StartVUs: opts.startVUs,
		Duration: duration,
	}

	if opts.stages != "" {
		stages, err := parseStages(opts.stages)
		if err != nil {
			return nil, fmt.Errorf("invalid stages format: %w", err)
		}
		scenario.Stages = stages
	}

	endpoint := opts.url
	if opts.wsURL != "" {
		endpoint = opts.wsURL
		scenario.WebSocket = &config.WebSocketConfig{URL: opts.wsURL, Policy: opts.policy}
	} else {
		scenario.HTTP = &config.HTTPConfig{Method: http.MethodGet, URL: opts.url}
	}

	return &config.TestConfig{
		Name:        "CLI Test",
		Description: fmt.Sprintf("Test generated from CLI flags for %s", endpoint),
		Scenarios: map[string]*config.ScenarioConfig{
			"cli-test": scenario,
		},
	}, nil
}

// parseStages parses stages from CLI format "30s:10,2m:10,30s:0"
func parseStages(stagesStr string) ([]config.StageConfig, error) {
	var stages []config.StageConfig

	for i, part := range strings.Split(stagesStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		colonIdx := strings.LastIndex(part, ":")
		if colonIdx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}
		durationStr, targetStr := part[:colonIdx], part[colonIdx+1:]

		if _, err := config.ParseDurationString(durationStr); err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration '%s': %w", i+1, durationStr, err)
		}
		target, err := strconv.Atoi(targetStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s': %w", i+1, targetStr, err)
		}

		stages = append(stages, config.StageConfig{
			Duration: durationStr,
			Target:   target,
			Name:     fmt.Sprintf("stage-%d", i+1),
		})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}
	return stages, nil
}

// calculateTotalDuration returns the longest scenario duration.
func calculateTotalDuration(cfg *config.TestConfig) time.Duration {
	var maxDuration time.Duration
	for _, scenario := range cfg.Scenarios {
		if scenario == nil {
			continue
		}
		if d, err := config.ParseScenarioDuration(scenario); err == nil && d > maxDuration {
			maxDuration = d
		}
	}
	return maxDuration
}

// getTargetVUs returns the peak VU count across scenarios.
func getTargetVUs(cfg *config.TestConfig) int {
	maxVUs := 0
	for _, scenario := range cfg.Scenarios {
		if scenario == nil {
			continue
		}
		maxVUs = max(maxVUs, scenario.VUs, scenario.StartVUs)
		for _, stage := range scenario.Stages {
			maxVUs = max(maxVUs, stage.Target)
		}
	}
	return maxVUs
}

// getStageInfo reports the furthest stage across scenarios, 1-indexed.
func getStageInfo(stats map[string]*executor.Stats) (current, total int) {
	for _, s := range stats {
		if s == nil || s.TotalStages == 0 {
			continue
		}
		current = max(current, s.CurrentStage+1)
		total = max(total, s.TotalStages)
	}
	return current, total
}

func displayExecutor(cfg *config.TestConfig) string {
	var executors []string
	seen := map[string]bool{}
	for _, scenario := range cfg.Scenarios {
		if scenario != nil && !seen[scenario.Executor] {
			seen[scenario.Executor] = true
			executors = append(executors, scenario.Executor)
		}
	}
	if len(executors) == 1 {
		return executors[0]
	}
	return ""
}

// outputJSONResult writes the result as indented JSON to outputPath, or to
// w when no path is given.
func outputJSONResult(result *engine.TestResult, outputPath string, w io.Writer) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	if outputPath == "" {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	return nil
}

func init() {
	runCmd.Flags().StringP("config", "c", "", "Configuration file (YAML or JSON)")
	runCmd.Flags().String("url", "", "HTTP URL to probe (alternative to --config)")
	runCmd.Flags().String("ws-url", "", "WebSocket URL to hold sessions against (alternative to --config)")
	runCmd.Flags().String("executor", "", "Executor type: constant-vus, ramping-vus")
	runCmd.Flags().Int("vus", 0, "Number of virtual users (constant-vus)")
	runCmd.Flags().Int("start-vus", 0, "Virtual users spawned at start (ramping-vus)")
	runCmd.Flags().String("stages", "", "Stages in format 'duration:target,duration:target,...' for ramping-vus")
	runCmd.Flags().String("duration", "", "Test duration (e.g., 5m, 30s)")
	runCmd.Flags().String("policy", "", "WebSocket policy: single-slot (high-load) or fixed-rate (steady)")

	runCmd.Flags().Bool("json", false, "Output results as JSON")
	runCmd.Flags().String("output", "", "Write the JSON result to this file")
	runCmd.Flags().String("html", "", "Write an HTML report to this file")
	runCmd.Flags().BoolP("quiet", "q", false, "Disable live progress output, show only pass/fail")
	runCmd.Flags().BoolP("verbose", "v", false, "Enable debug logging")
	runCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address during the run (e.g. :9090)")
}
