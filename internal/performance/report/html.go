// Package report renders a finished run as a standalone HTML page.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/wesleyorama2/volley/internal/performance/engine"
	"github.com/wesleyorama2/volley/internal/performance/metrics"
)

// Data is what the template renders.
type Data struct {
	*engine.TestResult
	Trends         []NamedTrend
	Counters       []NamedCounter
	TimeSeriesJSON template.JS
}

// NamedTrend is one non-empty trend row.
type NamedTrend struct {
	Name string
	metrics.LatencyStats
}

// NamedCounter is one counter row.
type NamedCounter struct {
	Name string
	metrics.CounterStats
}

// point is one chart sample. Latencies are milliseconds.
type point struct {
	Timestamp  string  `json:"timestamp"`
	Rate       float64 `json:"rate"`
	ErrorRate  float64 `json:"errorRate"`
	LatencyP50 float64 `json:"latencyP50"`
	LatencyP95 float64 `json:"latencyP95"`
	LatencyP99 float64 `json:"latencyP99"`
	ActiveVUs  int     `json:"activeVUs"`
	Phase      string  `json:"phase"`
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"latency":     formatLatency,
	"duration":    formatDuration,
	"number":      formatNumber,
	"bytes":       formatBytes,
	"percent":     func(f float64) string { return fmt.Sprintf("%.2f%%", f*100) },
	"successRate": successRate,
}).Parse(htmlTemplate))

// GenerateHTML renders result and writes it to outputPath.
func GenerateHTML(result *engine.TestResult, outputPath string) error {
	html, err := GenerateHTMLString(result)
	if err != nil {
		return fmt.Errorf("failed to generate HTML: %w", err)
	}

	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(outputPath, []byte(html), 0o644); err != nil {
		return fmt.Errorf("failed to write HTML file: %w", err)
	}
	return nil
}

// GenerateHTMLString renders result as an HTML document.
func GenerateHTMLString(result *engine.TestResult) (string, error) {
	if result == nil {
		return "", fmt.Errorf("result cannot be nil")
	}

	series, err := timeSeriesJSON(result.TimeSeries)
	if err != nil {
		return "", fmt.Errorf("failed to convert time series: %w", err)
	}

	data := Data{TestResult: result, TimeSeriesJSON: template.JS(series)}
	if result.Metrics != nil {
		data.Trends = trends(result.Metrics)
		data.Counters = counters(result.Metrics)
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

func trends(s *metrics.Snapshot) []NamedTrend {
	var out []NamedTrend
	for name, stats := range s.Trends {
		if stats.Count == 0 {
			continue
		}
		out = append(out, NamedTrend{Name: name, LatencyStats: stats})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func counters(s *metrics.Snapshot) []NamedCounter {
	out := make([]NamedCounter, 0, len(s.Counters))
	for name, stats := range s.Counters {
		out = append(out, NamedCounter{Name: name, CounterStats: stats})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func timeSeriesJSON(buckets []*metrics.TimeBucket) (string, error) {
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

	points := make([]point, 0, len(buckets))
	for _, b := range buckets {
		points = append(points, point{
			Timestamp:  b.Timestamp.Format(time.RFC3339),
			Rate:       b.IntervalRate,
			ErrorRate:  b.IntervalErrorRate,
			LatencyP50: ms(b.LatencyP50),
			LatencyP95: ms(b.LatencyP95),
			LatencyP99: ms(b.LatencyP99),
			ActiveVUs:  b.ActiveVUs,
			Phase:      string(b.Phase),
		})
	}

	data, err := json.Marshal(points)
	if err != nil {
		return "[]", err
	}
	return string(data), nil
}

func successRate(s *metrics.Snapshot) float64 {
	if s == nil || s.TotalOperations == 0 {
		return 0
	}
	return float64(s.TotalOperations-s.FailedOperations) / float64(s.TotalOperations)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func formatLatency(d time.Duration) string {
	switch {
	case d == 0:
		return "0"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		ms := float64(d.Microseconds()) / 1000
		if ms < 10 {
			return fmt.Sprintf("%.2fms", ms)
		}
		return fmt.Sprintf("%.1fms", ms)
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	s := fmt.Sprintf("%d", n)
	var out []byte
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	return string(out)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(n)/float64(div), "KMGT"[exp])
}
