package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultUserAgent identifies load generated by this tool.
const DefaultUserAgent = "volley/1.0"

// LoadConfig loads a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig decodes configuration data. A ".json" path selects JSON;
// anything else is read as YAML, which also accepts JSON documents.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var cfg TestConfig

	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
		return &cfg, nil
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return &cfg, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
//
// The empty string parses as zero.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	var seconds int
	var rest string
	if n, _ := fmt.Sscanf(s, "%d%s", &seconds, &rest); n == 1 {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ParseScenarioDuration returns how long a scenario runs.
//
// For stage-based executors the total is the sum of the stage durations.
func ParseScenarioDuration(sc *ScenarioConfig) (time.Duration, error) {
	if len(sc.Stages) > 0 {
		var total time.Duration
		for _, stage := range sc.Stages {
			stageDur, err := ParseDurationString(stage.Duration)
			if err != nil {
				return 0, fmt.Errorf("invalid stage duration: %w", err)
			}
			total += stageDur
		}
		return total, nil
	}

	if sc.Duration != "" {
		return ParseDurationString(sc.Duration)
	}

	return 0, fmt.Errorf("no duration specified and no stages defined")
}

// MergeHeaders merges header maps in order. Later maps override earlier
// ones.
func MergeHeaders(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// ApplyDefaults applies default values to a TestConfig.
func ApplyDefaults(config *TestConfig) {
	if config.Name == "" {
		config.Name = "load test"
	}

	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = Duration(30 * time.Second)
	}
	if config.Settings.MaxIdleConnsPerHost == 0 {
		config.Settings.MaxIdleConnsPerHost = 100
	}
	if config.Settings.UserAgent == "" {
		config.Settings.UserAgent = DefaultUserAgent
	}

	if config.Options == nil {
		config.Options = &ExecutionOptions{}
	}

	for _, sc := range config.Scenarios {
		if sc != nil {
			applyScenarioDefaults(sc)
		}
	}
}

// applyScenarioDefaults applies default values to a scenario.
func applyScenarioDefaults(sc *ScenarioConfig) {
	if sc.Executor == "" {
		if len(sc.Stages) > 0 {
			sc.Executor = "ramping-vus"
		} else {
			sc.Executor = "constant-vus"
		}
	}

	if sc.Executor == "constant-vus" && sc.VUs == 0 {
		sc.VUs = 1
	}

	if sc.HTTP != nil && sc.HTTP.Method == "" {
		sc.HTTP.Method = "GET"
	}
	if sc.WebSocket != nil && sc.WebSocket.Policy == "" {
		sc.WebSocket.Policy = "single-slot"
	}
}
