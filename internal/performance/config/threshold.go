package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var thresholdPattern = regexp.MustCompile(`^(\w+)\s*(<=|>=|==|!=|<|>)\s*(.+)$`)

var thresholdStats = map[string]bool{
	"p50": true, "p90": true, "p95": true, "p99": true,
	"min": true, "max": true, "avg": true, "med": true,
	"rate": true, "count": true,
}

// Threshold is a parsed expression such as "p95 < 500ms" or "rate > 0.99".
//
// Duration values are normalized to milliseconds so they compare against
// the millisecond statistics reported by the metrics engine.
type Threshold struct {
	Expression string
	Stat       string
	Op         string
	Value      float64
}

// ParseThreshold parses a threshold expression.
//
// Valid formats:
//   - "p95 < 500ms"
//   - "avg < 200ms"
//   - "rate < 0.01"
//   - "count > 1000"
func ParseThreshold(expr string) (Threshold, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Threshold{}, fmt.Errorf("threshold expression cannot be empty")
	}

	m := thresholdPattern.FindStringSubmatch(expr)
	if m == nil {
		return Threshold{}, fmt.Errorf("threshold must look like '<stat> <op> <value>', got %q", expr)
	}

	stat := strings.ToLower(m[1])
	if !thresholdStats[stat] {
		return Threshold{}, fmt.Errorf("threshold must start with a valid metric (p50, p90, p95, p99, min, max, avg, med, rate, count)")
	}

	value, err := parseThresholdValue(strings.TrimSpace(m[3]))
	if err != nil {
		return Threshold{}, err
	}

	return Threshold{Expression: expr, Stat: stat, Op: m[2], Value: value}, nil
}

func parseThresholdValue(s string) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid threshold value %q", s)
	}
	return float64(d) / float64(time.Millisecond), nil
}

// Passes reports whether actual satisfies the threshold.
func (t Threshold) Passes(actual float64) bool {
	switch t.Op {
	case "<":
		return actual < t.Value
	case "<=":
		return actual <= t.Value
	case ">":
		return actual > t.Value
	case ">=":
		return actual >= t.Value
	case "==":
		return actual == t.Value
	case "!=":
		return actual != t.Value
	default:
		return false
	}
}
