// Package probe implements the request/response workload: one HTTP call per
// iteration, validated by checks and recorded in the metrics engine.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/volley/internal/performance"
	"github.com/wesleyorama2/volley/internal/performance/check"
	"github.com/wesleyorama2/volley/internal/performance/metrics"
	"github.com/wesleyorama2/volley/pkg/jsonpath"
	"github.com/wesleyorama2/volley/pkg/jsonschema"
)

// Defaults applied to zero Config fields.
const (
	DefaultMethod         = http.MethodGet
	DefaultExpectedStatus = http.StatusOK
	DefaultMarker         = "system"
)

// CheckSchema is the name of the body schema check.
const CheckSchema = "body matches schema"

// Config describes the request a probe issues and how its response is
// judged.
type Config struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string

	// Timeout bounds a single call. Zero uses the client's timeout.
	Timeout time.Duration

	ExpectedStatus int

	// Marker is a JSONPath or gjson path that must resolve to a truthy
	// value in the response body.
	Marker string

	// MaxDuration enables the response time check when set.
	MaxDuration time.Duration

	// Schema enables the body schema check when set.
	Schema *jsonschema.Schema
}

// WithDefaults returns a copy of c with zero fields set to their defaults.
func (c Config) WithDefaults() Config {
	if c.Method == "" {
		c.Method = DefaultMethod
	}
	c.Method = strings.ToUpper(c.Method)
	if c.ExpectedStatus == 0 {
		c.ExpectedStatus = DefaultExpectedStatus
	}
	if c.Marker == "" {
		c.Marker = DefaultMarker
	}
	return c
}

// Validate checks that c describes a usable request.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("http url is required")
	}
	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("http url must start with http:// or https://, got %q", c.URL)
	}
	if c.Timeout < 0 || c.MaxDuration < 0 {
		return errors.New("http durations must not be negative")
	}
	if c.ExpectedStatus < 100 || c.ExpectedStatus > 599 {
		return fmt.Errorf("expected status %d is not a valid HTTP status", c.ExpectedStatus)
	}
	return nil
}

// Result is the outcome of one call.
type Result struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
	Err        error
}

// Failed reports whether the call errored or returned an error status.
func (r *Result) Failed() bool {
	return r.Err != nil || r.StatusCode >= 400
}

// DecodeError reports a response body that could not be inspected.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response body for %q: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Probe issues one request per iteration. It is shared by every VU of a
// scenario and is safe for concurrent use.
type Probe struct {
	cfg     Config
	client  *http.Client
	metrics *metrics.Engine
	checks  *check.Registry
	logger  *zap.Logger

	checkList []check.Check[*Result]
}

// New validates cfg and builds a probe. A nil client uses NewClient with
// DefaultClientConfig.
func New(cfg Config, client *http.Client, metricsEngine *metrics.Engine, checks *check.Registry, logger *zap.Logger) (*Probe, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = NewClient(DefaultClientConfig())
	}
	if checks == nil {
		checks = check.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Probe{
		cfg:     cfg,
		client:  client,
		metrics: metricsEngine,
		checks:  checks,
		logger:  logger,
	}
	p.checkList = p.buildChecks()
	return p, nil
}

// CheckNames returns the names of the checks evaluated on every response.
func (p *Probe) CheckNames() []string {
	names := make([]string, len(p.checkList))
	for i, c := range p.checkList {
		names[i] = c.Name
	}
	return names
}

func (p *Probe) buildChecks() []check.Check[*Result] {
	checks := []check.Check[*Result]{
		{
			Name: fmt.Sprintf("status is %d", p.cfg.ExpectedStatus),
			Fn: func(r *Result) bool {
				return r.Err == nil && r.StatusCode == p.cfg.ExpectedStatus
			},
		},
		{
			Name: "body contains " + markerLabel(p.cfg.Marker),
			Fn:   p.hasMarker,
		},
	}

	if p.cfg.MaxDuration > 0 {
		checks = append(checks, check.Check[*Result]{
			Name: "response time < " + p.cfg.MaxDuration.String(),
			Fn: func(r *Result) bool {
				return r.Err == nil && r.Duration < p.cfg.MaxDuration
			},
		})
	}

	if p.cfg.Schema != nil {
		checks = append(checks, check.Check[*Result]{
			Name: CheckSchema,
			Fn: func(r *Result) bool {
				return r.Err == nil && p.cfg.Schema.Valid(r.Body)
			},
		})
	}

	return checks
}

func (p *Probe) hasMarker(r *Result) bool {
	if r.Err != nil {
		return false
	}
	ok, err := jsonpath.Truthy(r.Body, p.cfg.Marker)
	if err != nil {
		p.logger.Debug("marker check failed", zap.Error(&DecodeError{Path: p.cfg.Marker, Err: err}))
		return false
	}
	return ok
}

// markerLabel strips JSONPath syntax so "$.system" reads as "system".
func markerLabel(path string) string {
	label := strings.TrimPrefix(path, "$")
	return strings.TrimPrefix(label, ".")
}

// Iterate issues one request, evaluates the checks and records the sample.
// Failures are recorded, never returned.
func (p *Probe) Iterate(ctx context.Context, it performance.Iteration) performance.Outcome {
	if it.Stopped() || (!it.Deadline.IsZero() && !time.Now().Before(it.Deadline)) {
		return performance.OutcomeContinue
	}

	result := p.Do(ctx)
	if result.Err != nil {
		p.logger.Debug("request failed", zap.Int("vu", it.VU), zap.Error(result.Err))
	}
	return performance.OutcomeContinue
}

// Do performs one call and records it.
func (p *Probe) Do(ctx context.Context) *Result {
	result := p.call(ctx)

	p.metrics.RecordLatency(result.Duration, metrics.HTTPReqDuration, !result.Failed(), int64(len(result.Body)))
	p.metrics.Counter(metrics.HTTPReqs).Inc()
	if result.Failed() {
		p.metrics.Counter(metrics.HTTPReqFailed).Inc()
	}

	check.Evaluate(p.checks, result, p.checkList...)
	return result
}

func (p *Probe) call(ctx context.Context) *Result {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	var body io.Reader
	if p.cfg.Body != "" {
		body = strings.NewReader(p.cfg.Body)
	}

	req, err := http.NewRequestWithContext(ctx, p.cfg.Method, p.cfg.URL, body)
	if err != nil {
		return &Result{Err: fmt.Errorf("failed to build request: %w", err)}
	}
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return &Result{Duration: time.Since(start), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	result := &Result{
		StatusCode: resp.StatusCode,
		Body:       data,
		Duration:   time.Since(start),
	}
	if err != nil {
		result.Err = fmt.Errorf("failed to read response body: %w", err)
	}
	return result
}
