package config

import (
	"errors"
	"strings"
	"testing"
)

func wsWorkload() *WebSocketConfig {
	return &WebSocketConfig{URL: "ws://localhost:8081/ws"}
}

func httpWorkload() *HTTPConfig {
	return &HTTPConfig{Method: "GET", URL: "http://localhost:8080/health"}
}

func validateOne(sc *ScenarioConfig) error {
	config := &TestConfig{Name: "Test", Scenarios: map[string]*ScenarioConfig{"test": sc}}
	return config.Validate()
}

func TestValidate_MinimalValid(t *testing.T) {
	err := validateOne(&ScenarioConfig{
		Executor: "constant-vus",
		VUs:      10,
		Duration: "30s",
		HTTP:     httpWorkload(),
	})
	if err != nil {
		t.Errorf("Validate() returned error for valid config: %v", err)
	}
}

func TestValidate_NoScenarios(t *testing.T) {
	config := &TestConfig{Name: "Test", Scenarios: map[string]*ScenarioConfig{}}

	err := config.Validate()
	if err == nil {
		t.Fatal("Validate() should return error when no scenarios defined")
	}
	if !strings.Contains(err.Error(), "scenario") {
		t.Errorf("Error should mention 'scenario', got: %v", err)
	}
}

func TestValidate_ConstantVUs(t *testing.T) {
	tests := []struct {
		name    string
		sc      *ScenarioConfig
		wantErr bool
		errMsg  string
	}{
		{"valid", &ScenarioConfig{Executor: "constant-vus", VUs: 10, Duration: "30s", HTTP: httpWorkload()}, false, ""},
		{"zero VUs", &ScenarioConfig{Executor: "constant-vus", VUs: 0, Duration: "30s", HTTP: httpWorkload()}, true, "vus"},
		{"negative VUs", &ScenarioConfig{Executor: "constant-vus", VUs: -3, Duration: "30s", HTTP: httpWorkload()}, true, "vus"},
		{"missing duration", &ScenarioConfig{Executor: "constant-vus", VUs: 10, HTTP: httpWorkload()}, true, "duration"},
		{"zero duration", &ScenarioConfig{Executor: "constant-vus", VUs: 10, Duration: "0s", HTTP: httpWorkload()}, true, "duration"},
		{"negative duration", &ScenarioConfig{Executor: "constant-vus", VUs: 10, Duration: "-1m", HTTP: httpWorkload()}, true, "duration"},
		{"invalid duration", &ScenarioConfig{Executor: "constant-vus", VUs: 10, Duration: "forever", HTTP: httpWorkload()}, true, "duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateOne(tt.sc)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Error should contain %q, got: %v", tt.errMsg, err)
			}
		})
	}
}

func TestValidate_RampingVUs(t *testing.T) {
	tests := []struct {
		name    string
		sc      *ScenarioConfig
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid ramp",
			sc: &ScenarioConfig{
				Executor:  "ramping-vus",
				Stages:    []StageConfig{{Duration: "30s", Target: 10}, {Duration: "30s", Target: 0}},
				WebSocket: wsWorkload(),
			},
		},
		{
			name: "startVUs only",
			sc: &ScenarioConfig{
				Executor:  "ramping-vus",
				StartVUs:  500,
				Stages:    []StageConfig{{Duration: "1m", Target: 500}},
				WebSocket: wsWorkload(),
			},
		},
		{
			name:    "no stages",
			sc:      &ScenarioConfig{Executor: "ramping-vus", WebSocket: wsWorkload()},
			wantErr: true,
			errMsg:  "stage",
		},
		{
			name: "all targets zero",
			sc: &ScenarioConfig{
				Executor:  "ramping-vus",
				Stages:    []StageConfig{{Duration: "30s", Target: 0}},
				WebSocket: wsWorkload(),
			},
			wantErr: true,
			errMsg:  "greater than 0",
		},
		{
			name: "negative target",
			sc: &ScenarioConfig{
				Executor:  "ramping-vus",
				Stages:    []StageConfig{{Duration: "30s", Target: -1}, {Duration: "30s", Target: 5}},
				WebSocket: wsWorkload(),
			},
			wantErr: true,
			errMsg:  "target",
		},
		{
			name: "negative startVUs",
			sc: &ScenarioConfig{
				Executor:  "ramping-vus",
				StartVUs:  -1,
				Stages:    []StageConfig{{Duration: "30s", Target: 5}},
				WebSocket: wsWorkload(),
			},
			wantErr: true,
			errMsg:  "startVUs",
		},
		{
			name: "zero total duration",
			sc: &ScenarioConfig{
				Executor:  "ramping-vus",
				Stages:    []StageConfig{{Duration: "0s", Target: 5}},
				WebSocket: wsWorkload(),
			},
			wantErr: true,
			errMsg:  "total stage duration",
		},
		{
			name: "negative stage duration",
			sc: &ScenarioConfig{
				Executor:  "ramping-vus",
				Stages:    []StageConfig{{Duration: "-10s", Target: 5}, {Duration: "1m", Target: 5}},
				WebSocket: wsWorkload(),
			},
			wantErr: true,
			errMsg:  "negative",
		},
		{
			name: "missing stage duration",
			sc: &ScenarioConfig{
				Executor:  "ramping-vus",
				Stages:    []StageConfig{{Target: 5}},
				WebSocket: wsWorkload(),
			},
			wantErr: true,
			errMsg:  "duration is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateOne(tt.sc)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Error should contain %q, got: %v", tt.errMsg, err)
			}
		})
	}
}

func TestValidate_InvalidExecutor(t *testing.T) {
	for _, executor := range []string{"", "constant-arrival-rate", "bogus"} {
		t.Run(executor, func(t *testing.T) {
			err := validateOne(&ScenarioConfig{Executor: executor, VUs: 1, Duration: "1s", HTTP: httpWorkload()})
			if err == nil || !strings.Contains(err.Error(), "executor") {
				t.Errorf("Validate() error = %v, want executor error", err)
			}
		})
	}
}

func TestValidate_Workload(t *testing.T) {
	base := func() *ScenarioConfig {
		return &ScenarioConfig{Executor: "constant-vus", VUs: 1, Duration: "10s"}
	}

	tests := []struct {
		name    string
		mutate  func(sc *ScenarioConfig)
		wantErr bool
		errMsg  string
	}{
		{"none", func(sc *ScenarioConfig) {}, true, "one of http or websocket"},
		{"both", func(sc *ScenarioConfig) { sc.HTTP = httpWorkload(); sc.WebSocket = wsWorkload() }, true, "mutually exclusive"},
		{"http ok", func(sc *ScenarioConfig) { sc.HTTP = httpWorkload() }, false, ""},
		{"http missing url", func(sc *ScenarioConfig) { sc.HTTP = &HTTPConfig{} }, true, "url is required"},
		{"http ws scheme", func(sc *ScenarioConfig) { sc.HTTP = &HTTPConfig{URL: "ws://localhost"} }, true, "scheme"},
		{"http bad method", func(sc *ScenarioConfig) { sc.HTTP = &HTTPConfig{URL: "http://x", Method: "FETCH"} }, true, "method"},
		{"http bad status", func(sc *ScenarioConfig) { sc.HTTP = &HTTPConfig{URL: "http://x", ExpectedStatus: 42} }, true, "status"},
		{"http bad timeout", func(sc *ScenarioConfig) { sc.HTTP = &HTTPConfig{URL: "http://x", Timeout: "soon"} }, true, "timeout"},
		{"http both schemas", func(sc *ScenarioConfig) {
			sc.HTTP = &HTTPConfig{URL: "http://x", Schema: "{}", SchemaFile: "s.json"}
		}, true, "schema"},
		{"ws ok", func(sc *ScenarioConfig) { sc.WebSocket = wsWorkload() }, false, ""},
		{"ws wss", func(sc *ScenarioConfig) { sc.WebSocket = &WebSocketConfig{URL: "wss://example.com/ws"} }, false, ""},
		{"ws http scheme", func(sc *ScenarioConfig) { sc.WebSocket = &WebSocketConfig{URL: "http://localhost"} }, true, "scheme"},
		{"ws bad policy", func(sc *ScenarioConfig) { sc.WebSocket = &WebSocketConfig{URL: "ws://x", Policy: "burst"} }, true, "policy"},
		{"ws negative count", func(sc *ScenarioConfig) { sc.WebSocket = &WebSocketConfig{URL: "ws://x", Count: -1} }, true, "count"},
		{"ws negative staleAfter", func(sc *ScenarioConfig) {
			sc.WebSocket = &WebSocketConfig{URL: "ws://x", StaleAfter: "-500ms"}
		}, true, "staleAfter"},
		{"negative gracefulStop", func(sc *ScenarioConfig) {
			sc.HTTP = httpWorkload()
			sc.GracefulStop = "-1s"
		}, true, "gracefulStop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := base()
			tt.mutate(sc)
			err := validateOne(sc)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Error should contain %q, got: %v", tt.errMsg, err)
			}
		})
	}
}

func TestValidate_Pacing(t *testing.T) {
	tests := []struct {
		name    string
		pacing  *PacingConfig
		wantErr bool
	}{
		{"none", &PacingConfig{Type: "none"}, false},
		{"constant", &PacingConfig{Type: "constant", Duration: "1s"}, false},
		{"constant missing duration", &PacingConfig{Type: "constant"}, true},
		{"random", &PacingConfig{Type: "random", Min: "1s", Max: "3s"}, false},
		{"random min > max", &PacingConfig{Type: "random", Min: "5s", Max: "1s"}, true},
		{"random missing max", &PacingConfig{Type: "random", Min: "1s"}, true},
		{"unknown type", &PacingConfig{Type: "poisson"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateOne(&ScenarioConfig{
				Executor: "constant-vus", VUs: 1, Duration: "10s", HTTP: httpWorkload(), Pacing: tt.pacing,
			})
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_Thresholds(t *testing.T) {
	tests := []struct {
		name       string
		thresholds ThresholdsConfig
		wantErr    bool
	}{
		{"valid duration", ThresholdsConfig{"http_req_duration": {"p95 < 500ms", "avg<200ms"}}, false},
		{"valid rate", ThresholdsConfig{"http_req_failed": {"rate < 0.01"}}, false},
		{"valid count", ThresholdsConfig{"completed_round_trips": {"count >= 1000"}}, false},
		{"unknown stat", ThresholdsConfig{"http_req_duration": {"p42 < 1s"}}, true},
		{"no operator", ThresholdsConfig{"http_req_duration": {"p95 500ms"}}, true},
		{"empty", ThresholdsConfig{"checks": {""}}, true},
		{"bad value", ThresholdsConfig{"checks": {"rate > lots"}}, true},
		{"empty metric", ThresholdsConfig{"": {"rate > 0.9"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &TestConfig{
				Name: "Test",
				Scenarios: map[string]*ScenarioConfig{
					"test": {Executor: "constant-vus", VUs: 1, Duration: "10s", HTTP: httpWorkload()},
				},
				Thresholds: tt.thresholds,
			}
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	config := &TestConfig{
		Scenarios: map[string]*ScenarioConfig{
			"a": {Executor: "constant-vus", VUs: 0, Duration: "10s", HTTP: httpWorkload()},
			"b": {Executor: "ramping-vus", WebSocket: wsWorkload()},
		},
		Settings: GlobalSettings{MaxIdleConnsPerHost: -1},
	}

	err := config.Validate()
	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("Validate() error = %T, want *ValidationErrors", err)
	}
	if len(verrs.Errors) != 3 {
		t.Errorf("len(Errors) = %d, want 3: %v", len(verrs.Errors), err)
	}
}

func TestValidationErrors(t *testing.T) {
	errs := &ValidationErrors{}
	if errs.HasErrors() {
		t.Error("HasErrors() should be false for empty collection")
	}

	errs.Add("field1", "error 1")
	errs.Add("field2", "error 2")

	if !errs.HasErrors() {
		t.Error("HasErrors() should be true after adding errors")
	}
	msg := errs.Error()
	if !strings.Contains(msg, "2 validation errors") || !strings.Contains(msg, "field1") || !strings.Contains(msg, "field2") {
		t.Errorf("Error() = %q", msg)
	}
}

func TestValidationError_Single(t *testing.T) {
	err := &ValidationError{Field: "scenarios.test.vus", Message: "vus must be greater than 0"}
	want := "validation error on field 'scenarios.test.vus': vus must be greater than 0"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	noField := &ValidationError{Message: "general"}
	if noField.Error() != "validation error: general" {
		t.Errorf("Error() = %q", noField.Error())
	}
}

func TestParseThreshold(t *testing.T) {
	tests := []struct {
		expr    string
		stat    string
		op      string
		value   float64
		wantErr bool
	}{
		{"p95 < 500ms", "p95", "<", 500, false},
		{"avg<=2s", "avg", "<=", 2000, false},
		{"rate > 0.99", "rate", ">", 0.99, false},
		{"count >= 1000", "count", ">=", 1000, false},
		{"max != 0", "max", "!=", 0, false},
		{"P99 < 1m", "p99", "<", 60000, false},
		{"p95", "", "", 0, true},
		{"median < 1s", "", "", 0, true},
		{"p95 < fast", "", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseThreshold(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseThreshold(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Stat != tt.stat || got.Op != tt.op || got.Value != tt.value {
				t.Errorf("ParseThreshold(%q) = %+v", tt.expr, got)
			}
		})
	}
}

func TestThreshold_Passes(t *testing.T) {
	tests := []struct {
		expr   string
		actual float64
		want   bool
	}{
		{"p95 < 500ms", 499.9, true},
		{"p95 < 500ms", 500, false},
		{"p95 <= 500ms", 500, true},
		{"rate > 0.99", 1, true},
		{"rate > 0.99", 0.5, false},
		{"count >= 10", 10, true},
		{"count == 3", 3, true},
		{"count != 3", 3, false},
	}

	for _, tt := range tests {
		th, err := ParseThreshold(tt.expr)
		if err != nil {
			t.Fatalf("ParseThreshold(%q) error = %v", tt.expr, err)
		}
		if got := th.Passes(tt.actual); got != tt.want {
			t.Errorf("%q.Passes(%v) = %v, want %v", tt.expr, tt.actual, got, tt.want)
		}
	}
}
