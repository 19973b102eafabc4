package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/volley/internal/performance"
	"github.com/wesleyorama2/volley/internal/performance/config"
)

// NewExecutor creates a new executor of the specified type.
//
// Supported types:
//   - "constant-vus" - Fixed number of VUs for a duration
//   - "ramping-vus" - VU count ramps up/down according to stages
//
// Returns an uninitialized executor. Call Init() before Run().
func NewExecutor(executorType Type, logger *zap.Logger) (Executor, error) {
	switch executorType {
	case TypeConstantVUs:
		return NewConstantVUs(logger), nil
	case TypeRampingVUs:
		return NewRampingVUs(logger), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}

// CreateAndInitExecutor creates and initializes an executor with the given config.
func CreateAndInitExecutor(ctx context.Context, cfg *Config, logger *zap.Logger) (Executor, error) {
	exec, err := NewExecutor(cfg.Type, logger)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	return exec, nil
}

// FromScenarioConfig converts a config.ScenarioConfig (from YAML/JSON) to an
// executor Config, parsing every duration.
func FromScenarioConfig(name string, sc *config.ScenarioConfig) (*Config, error) {
	cfg := &Config{
		Name:     name,
		Type:     Type(sc.Executor),
		VUs:      sc.VUs,
		StartVUs: sc.StartVUs,
	}

	if sc.Duration != "" {
		dur, err := config.ParseDurationString(sc.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid duration: %w", err)
		}
		cfg.Duration = dur
	}

	if sc.GracefulStop != "" {
		dur, err := config.ParseDurationString(sc.GracefulStop)
		if err != nil {
			return nil, fmt.Errorf("invalid gracefulStop: %w", err)
		}
		cfg.GracefulStop = dur
	}

	for _, stage := range sc.Stages {
		stageDur, err := config.ParseDurationString(stage.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid stage duration: %w", err)
		}
		cfg.Stages = append(cfg.Stages, Stage{
			Duration: stageDur,
			Target:   stage.Target,
			Name:     stage.Name,
		})
	}

	return cfg, nil
}

// ParsePacing converts a config.PacingConfig to the pacing a VU applies
// between iterations. A nil config yields nil (no pacing).
func ParsePacing(pc *config.PacingConfig) (*performance.Pacing, error) {
	if pc == nil {
		return nil, nil
	}

	pacing := &performance.Pacing{Type: performance.PacingType(pc.Type)}
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"duration", pc.Duration, &pacing.Duration},
		{"min", pc.Min, &pacing.Min},
		{"max", pc.Max, &pacing.Max},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		dur, err := config.ParseDurationString(f.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid pacing %s: %w", f.name, err)
		}
		*f.dst = dur
	}

	return pacing, nil
}

// IsValidExecutorType returns true if the type is a valid executor type.
func IsValidExecutorType(executorType string) bool {
	switch Type(executorType) {
	case TypeConstantVUs, TypeRampingVUs:
		return true
	default:
		return false
	}
}

// GetSupportedExecutors returns a list of all supported executor types.
func GetSupportedExecutors() []Type {
	return []Type{
		TypeConstantVUs,
		TypeRampingVUs,
	}
}

// CalculateMaxVUs returns the maximum number of VUs that might be used.
func CalculateMaxVUs(cfg *Config) int {
	switch cfg.Type {
	case TypeRampingVUs:
		maxVUs := cfg.StartVUs
		for _, stage := range cfg.Stages {
			if stage.Target > maxVUs {
				maxVUs = stage.Target
			}
		}
		return maxVUs
	default:
		return cfg.VUs
	}
}
