// Package config provides configuration parsing and validation for load tests.
package config

import (
	"time"
)

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: "websocket burst"
//	settings:
//	  timeout: 30s
//	scenarios:
//	  burst:
//	    executor: ramping-vus
//	    startVUs: 500
//	    stages:
//	      - duration: 1m
//	        target: 500
//	    websocket:
//	      url: ws://localhost:8081/ws
//	      policy: single-slot
//	thresholds:
//	  websocket_latency: ["p95 < 50ms"]
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Settings contains global settings for all scenarios
	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Scenarios defines the load profiles to run.
	// Each scenario runs independently with its own executor.
	Scenarios map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`

	// Thresholds define pass/fail criteria keyed by metric name
	Thresholds ThresholdsConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Options for test execution
	Options *ExecutionOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// GlobalSettings contains settings shared by every scenario.
type GlobalSettings struct {
	// Timeout is the default HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxConnectionsPerHost limits connections per host
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is sent with every HTTP request and WebSocket handshake
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are default headers applied to all requests and handshakes
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ScenarioConfig defines a single load testing scenario.
//
// A scenario runs exactly one workload: either http or websocket.
type ScenarioConfig struct {
	// Executor specifies the load profile: "constant-vus" or "ramping-vus"
	Executor string `json:"executor" yaml:"executor"`

	// VUs is the number of virtual users (constant-vus)
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// StartVUs is the number of VUs spawned at t=0 (ramping-vus)
	StartVUs int `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`

	// Duration is how long to run (e.g., "30s", "2m", "1h")
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Stages defines ramping stages (ramping-vus)
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// GracefulStop is how long to wait for in-flight work after the deadline
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Pacing controls time between iterations
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	// HTTP configures the request/response workload
	HTTP *HTTPConfig `json:"http,omitempty" yaml:"http,omitempty"`

	// WebSocket configures the persistent session workload
	WebSocket *WebSocketConfig `json:"websocket,omitempty" yaml:"websocket,omitempty"`

	// Tags are custom tags for this scenario's metrics
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// StageConfig defines a single stage in a ramping executor.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration string `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// PacingConfig controls pacing between iterations.
type PacingConfig struct {
	// Type is the pacing strategy: "none", "constant", "random"
	Type string `json:"type" yaml:"type"`

	// Duration is the wait time for constant pacing
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min is the minimum wait time for random pacing
	Min string `json:"min,omitempty" yaml:"min,omitempty"`

	// Max is the maximum wait time for random pacing
	Max string `json:"max,omitempty" yaml:"max,omitempty"`
}

// HTTPConfig defines the probe request and how its response is checked.
type HTTPConfig struct {
	// Method is the HTTP method (default GET)
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	// URL is the request URL
	URL string `json:"url" yaml:"url"`

	// Headers are request-specific headers
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is the request body
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// Timeout overrides settings.timeout for this request
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// ExpectedStatus is the status the status check expects (default 200)
	ExpectedStatus int `json:"expectedStatus,omitempty" yaml:"expectedStatus,omitempty"`

	// Marker is the JSON path that must be truthy in the body (default "system")
	Marker string `json:"marker,omitempty" yaml:"marker,omitempty"`

	// MaxDuration enables the response time check
	MaxDuration string `json:"maxDuration,omitempty" yaml:"maxDuration,omitempty"`

	// Schema is an inline JSON Schema the body must satisfy
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`

	// SchemaFile is a path to a JSON Schema file
	SchemaFile string `json:"schemaFile,omitempty" yaml:"schemaFile,omitempty"`
}

// WebSocketConfig defines the persistent session each VU holds.
type WebSocketConfig struct {
	// URL is the ws:// or wss:// endpoint
	URL string `json:"url" yaml:"url"`

	// Headers are sent with the handshake
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Policy is "single-slot" (default) or "fixed-rate"
	Policy string `json:"policy,omitempty" yaml:"policy,omitempty"`

	// StaleAfter is the single-slot resend timeout (default 500ms)
	StaleAfter string `json:"staleAfter,omitempty" yaml:"staleAfter,omitempty"`

	// Interval between fixed-rate sends (default 1s)
	Interval string `json:"interval,omitempty" yaml:"interval,omitempty"`

	// Count is the number of fixed-rate sends (default 60)
	Count int `json:"count,omitempty" yaml:"count,omitempty"`

	// HandshakeTimeout bounds the opening handshake (default 10s)
	HandshakeTimeout string `json:"handshakeTimeout,omitempty" yaml:"handshakeTimeout,omitempty"`

	// CloseGrace bounds the closing handshake (default 1s)
	CloseGrace string `json:"closeGrace,omitempty" yaml:"closeGrace,omitempty"`

	// MaxDuration caps how long one session stays open
	MaxDuration string `json:"maxDuration,omitempty" yaml:"maxDuration,omitempty"`
}

// ThresholdsConfig maps a metric name to its threshold expressions, e.g.
//
//	http_req_duration: ["p95 < 500ms", "avg < 200ms"]
//	http_req_failed:   ["rate < 0.01"]
//	checks:            ["rate > 0.99"]
type ThresholdsConfig map[string][]string

// ExecutionOptions controls test execution behavior.
type ExecutionOptions struct {
	// Sequential runs scenarios one-by-one instead of in parallel
	Sequential bool `json:"sequential,omitempty" yaml:"sequential,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
