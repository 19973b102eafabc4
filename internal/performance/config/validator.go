package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the entire test configuration.
//
// Returns nil if valid, or a *ValidationErrors containing every problem found.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}

	for name, scenario := range c.Scenarios {
		prefix := "scenarios." + name
		if scenario == nil {
			errs.Add(prefix, "scenario is empty")
			continue
		}
		validateScenario(prefix, scenario, errs)
	}

	validateThresholds(c.Thresholds, errs)
	validateSettings(&c.Settings, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateScenario validates a single scenario configuration.
func validateScenario(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	switch sc.Executor {
	case "":
		errs.Add(prefix+".executor", "executor type is required")
	case "constant-vus":
		validateConstantVUs(prefix, sc, errs)
	case "ramping-vus":
		validateRampingVUs(prefix, sc, errs)
	default:
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s", sc.Executor))
	}

	validateDurationField(prefix+".gracefulStop", sc.GracefulStop, errs)

	if sc.Pacing != nil {
		validatePacing(prefix+".pacing", sc.Pacing, errs)
	}

	switch {
	case sc.HTTP == nil && sc.WebSocket == nil:
		errs.Add(prefix, "one of http or websocket is required")
	case sc.HTTP != nil && sc.WebSocket != nil:
		errs.Add(prefix, "http and websocket are mutually exclusive")
	case sc.HTTP != nil:
		validateHTTP(prefix+".http", sc.HTTP, errs)
	default:
		validateWebSocket(prefix+".websocket", sc.WebSocket, errs)
	}
}

// validateConstantVUs validates constant-vus executor config.
func validateConstantVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.VUs <= 0 {
		errs.Add(prefix+".vus", "vus must be greater than 0")
	}

	if sc.Duration == "" {
		errs.Add(prefix+".duration", "duration is required for constant-vus executor")
		return
	}
	d, err := ParseDurationString(sc.Duration)
	switch {
	case err != nil:
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	case d <= 0:
		errs.Add(prefix+".duration", "duration must be greater than 0")
	}
}

// validateRampingVUs validates ramping-vus executor config.
func validateRampingVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if len(sc.Stages) == 0 {
		errs.Add(prefix+".stages", "at least one stage is required for ramping-vus executor")
		return
	}
	if sc.StartVUs < 0 {
		errs.Add(prefix+".startVUs", "startVUs cannot be negative")
	}

	peak := sc.StartVUs
	stagesOK := true
	for i := range sc.Stages {
		if !validateStage(fmt.Sprintf("%s.stages[%d]", prefix, i), &sc.Stages[i], errs) {
			stagesOK = false
		}
		if sc.Stages[i].Target > peak {
			peak = sc.Stages[i].Target
		}
	}
	if peak <= 0 {
		errs.Add(prefix+".stages", "at least one stage target or startVUs must be greater than 0")
	}

	if stagesOK {
		if total, _ := ParseScenarioDuration(sc); total <= 0 {
			errs.Add(prefix+".stages", "total stage duration must be greater than 0")
		}
	}
}

// validateStage validates a single stage configuration and reports whether
// its duration parsed.
func validateStage(prefix string, stage *StageConfig, errs *ValidationErrors) bool {
	ok := true
	if stage.Duration == "" {
		errs.Add(prefix+".duration", "duration is required")
		ok = false
	} else if d, err := ParseDurationString(stage.Duration); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
		ok = false
	} else if d < 0 {
		errs.Add(prefix+".duration", "duration cannot be negative")
		ok = false
	}

	if stage.Target < 0 {
		errs.Add(prefix+".target", "target cannot be negative")
	}
	return ok
}

// validatePacing validates pacing configuration.
func validatePacing(prefix string, pacing *PacingConfig, errs *ValidationErrors) {
	validTypes := map[string]bool{
		"none": true, "constant": true, "random": true,
	}

	if !validTypes[pacing.Type] {
		errs.Add(prefix+".type", fmt.Sprintf("invalid pacing type: %s", pacing.Type))
	}

	switch pacing.Type {
	case "constant":
		if pacing.Duration == "" {
			errs.Add(prefix+".duration", "duration is required for constant pacing")
		} else {
			validateDurationField(prefix+".duration", pacing.Duration, errs)
		}

	case "random":
		if pacing.Min == "" {
			errs.Add(prefix+".min", "min is required for random pacing")
		} else {
			validateDurationField(prefix+".min", pacing.Min, errs)
		}

		if pacing.Max == "" {
			errs.Add(prefix+".max", "max is required for random pacing")
		} else {
			validateDurationField(prefix+".max", pacing.Max, errs)
		}

		if pacing.Min != "" && pacing.Max != "" {
			minDur, _ := ParseDurationString(pacing.Min)
			maxDur, _ := ParseDurationString(pacing.Max)
			if minDur > maxDur {
				errs.Add(prefix, "min must be less than or equal to max")
			}
		}
	}
}

// validateHTTP validates the request/response workload.
func validateHTTP(prefix string, h *HTTPConfig, errs *ValidationErrors) {
	validMethods := map[string]bool{
		"GET": true, "POST": true, "PUT": true, "DELETE": true,
		"PATCH": true, "HEAD": true, "OPTIONS": true,
	}
	if method := strings.ToUpper(h.Method); method != "" && !validMethods[method] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", h.Method))
	}

	validateURL(prefix+".url", h.URL, []string{"http", "https"}, errs)
	validateDurationField(prefix+".timeout", h.Timeout, errs)
	validateDurationField(prefix+".maxDuration", h.MaxDuration, errs)

	if h.ExpectedStatus != 0 && (h.ExpectedStatus < 100 || h.ExpectedStatus > 599) {
		errs.Add(prefix+".expectedStatus", fmt.Sprintf("invalid HTTP status: %d", h.ExpectedStatus))
	}
	if h.Schema != "" && h.SchemaFile != "" {
		errs.Add(prefix+".schema", "schema and schemaFile are mutually exclusive")
	}
}

// validateWebSocket validates the persistent session workload.
func validateWebSocket(prefix string, ws *WebSocketConfig, errs *ValidationErrors) {
	validateURL(prefix+".url", ws.URL, []string{"ws", "wss"}, errs)

	switch strings.ToLower(ws.Policy) {
	case "", "single-slot", "high-load", "fixed-rate", "steady":
	default:
		errs.Add(prefix+".policy", fmt.Sprintf("unknown policy: %s", ws.Policy))
	}

	if ws.Count < 0 {
		errs.Add(prefix+".count", "count cannot be negative")
	}

	validateDurationField(prefix+".staleAfter", ws.StaleAfter, errs)
	validateDurationField(prefix+".interval", ws.Interval, errs)
	validateDurationField(prefix+".handshakeTimeout", ws.HandshakeTimeout, errs)
	validateDurationField(prefix+".closeGrace", ws.CloseGrace, errs)
	validateDurationField(prefix+".maxDuration", ws.MaxDuration, errs)
}

func validateURL(field, raw string, schemes []string, errs *ValidationErrors) {
	if raw == "" {
		errs.Add(field, "url is required")
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid URL: %v", err))
		return
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return
		}
	}
	errs.Add(field, fmt.Sprintf("url scheme must be one of %s, got %q", strings.Join(schemes, ", "), u.Scheme))
}

// validateDurationField accepts an empty value, otherwise a non-negative
// duration.
func validateDurationField(field, value string, errs *ValidationErrors) {
	if value == "" {
		return
	}
	d, err := ParseDurationString(value)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid duration: %v", err))
		return
	}
	if d < 0 {
		errs.Add(field, "duration cannot be negative")
	}
}

// validateThresholds validates threshold configuration.
func validateThresholds(t ThresholdsConfig, errs *ValidationErrors) {
	for metric, exprs := range t {
		if strings.TrimSpace(metric) == "" {
			errs.Add("thresholds", "metric name cannot be empty")
			continue
		}
		for i, expr := range exprs {
			if _, err := ParseThreshold(expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", metric, i), err.Error())
			}
		}
	}
}

// validateSettings validates global settings.
func validateSettings(s *GlobalSettings, errs *ValidationErrors) {
	if s.Timeout < 0 {
		errs.Add("settings.timeout", "cannot be negative")
	}
	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
}
