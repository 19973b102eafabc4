// Package output renders live progress and the final report of a load test
// to the console.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/volley/internal/performance/engine"
	"github.com/wesleyorama2/volley/internal/performance/metrics"
)

// ANSI escape codes for cursor control
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

const (
	ruleWidth = 56
	boxWidth  = 55

	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	// Operations are HTTP requests plus completed round trips.
	Operations int64
	Rate       float64
	Errors     int64
	ErrorRate  float64

	// Latency of the primary trend: http_req_duration when recorded,
	// websocket_latency otherwise.
	LatencyTrend string
	LatencyP95   time.Duration
	LatencyAvg   time.Duration

	// Session counters, zero for HTTP-only runs.
	Sent      int64
	Completed int64
	Abandoned int64

	CurrentPhase string
	CurrentStage int // 1-indexed
	TotalStages  int
}

// ConsoleOutput manages live console output during test execution.
type ConsoleOutput struct {
	testName      string
	executorType  string
	totalDuration time.Duration
	writer        io.Writer
	isTTY         bool
	palette       *Palette
	quiet         bool

	mu          sync.Mutex
	linesOutput int
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	TestName      string
	ExecutorType  string
	TotalDuration time.Duration
	Writer        io.Writer
	Quiet         bool
	ForceColors   bool
	ForceTTY      bool
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(config ConsoleOutputConfig) *ConsoleOutput {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)
	palette := NoColorPalette()
	if config.ForceColors || (isTTY && supportsColors()) {
		palette = DefaultPalette()
	}

	return &ConsoleOutput{
		testName:      config.TestName,
		executorType:  config.ExecutorType,
		totalDuration: config.TotalDuration,
		writer:        config.Writer,
		isTTY:         isTTY,
		palette:       palette,
		quiet:         config.Quiet,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the test header.
func (c *ConsoleOutput) PrintHeader() {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	executorInfo := ""
	if c.executorType != "" {
		executorInfo = fmt.Sprintf(" [%s]", c.executorType)
	}

	c.rule()
	c.writeln(c.palette.Title.Sprintf("%s - Running%s", c.testName, executorInfo))
	c.rule()
	c.writeln("")
}

// Update redraws the live display in place. It does nothing unless the
// output is a terminal.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()
	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// PrintNonInteractiveUpdate prints a one-line status for piped output and
// CI logs.
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := fmt.Sprintf("[%s] Progress: %.0f%% | VUs: %d | Ops: %d | Rate: %.1f/s | Errors: %d (%.1f%%) | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stats.ActiveVUs,
		stats.Operations,
		stats.Rate,
		stats.Errors,
		stats.ErrorRate*100,
		formatDurationShort(stats.LatencyP95))
	if stats.Sent > 0 {
		line += fmt.Sprintf(" | Sent: %d | Abandoned: %d", stats.Sent, stats.Abandoned)
	}
	c.writeln(line)
}

func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	p := c.palette
	var lines []string

	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		p.Pass.Sprint(renderProgressBar(stats.Progress, 40)),
		p.Title.Sprintf("%.0f%%", stats.Progress*100),
		p.Dim.Sprint(timeInfo)))

	phaseInfo := stats.CurrentPhase
	if stats.TotalStages > 0 {
		phaseInfo = fmt.Sprintf("%s (%d/%d)", stats.CurrentPhase, stats.CurrentStage, stats.TotalStages)
	}
	lines = append(lines, "Stage:    "+p.Phase.Sprint(phaseInfo), "")

	lines = append(lines, p.Dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	lines = append(lines, c.formatBoxRow(
		fmt.Sprintf("VUs:     %s / %d", p.Value.Sprint(stats.ActiveVUs), stats.TargetVUs),
		"Ops:         "+p.Value.Sprint(formatNumber(stats.Operations))))

	errColor := p.Rate(1 - stats.ErrorRate)
	lines = append(lines, c.formatBoxRow(
		"Rate:    "+p.Pass.Sprintf("%.1f/s", stats.Rate),
		fmt.Sprintf("Errors:      %s (%s)", errColor.Sprint(stats.Errors), errColor.Sprintf("%.1f%%", stats.ErrorRate*100))))

	lines = append(lines, c.formatBoxRow(
		"P95:     "+p.Latency.Sprint(formatDurationShort(stats.LatencyP95)),
		"Avg:         "+p.Latency.Sprint(formatDurationShort(stats.LatencyAvg))))

	if stats.Sent > 0 {
		lines = append(lines, c.formatBoxRow(
			"Sent:    "+p.Value.Sprint(formatNumber(stats.Sent)),
			"Abandoned:   "+p.Value.Sprint(formatNumber(stats.Abandoned))))
	}

	lines = append(lines, p.Dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))
	return lines
}

// formatBoxRow formats a row inside the stats box with two columns.
func (c *ConsoleOutput) formatBoxRow(left, right string) string {
	colWidth := (boxWidth - 4) / 2
	pad := func(s string) string {
		n := colWidth - len([]rune(stripANSI(s)))
		if n < 0 {
			n = 0
		}
		return s + strings.Repeat(" ", n)
	}

	bar := c.palette.Dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s %s %s", bar, pad(left), bar, pad(right), bar)
}

func renderProgressBar(progress float64, width int) string {
	progress = max(0, min(progress, 1))
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// PrintSummary prints the final report.
func (c *ConsoleOutput) PrintSummary(result *engine.TestResult) {
	p := c.palette
	if c.quiet {
		if result.Passed {
			c.writeln(p.Pass.Sprint("PASSED"))
		} else {
			c.writeln(p.Fail.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}

	status, statusColor := "Completed ✓", p.Pass
	if !result.Passed {
		status, statusColor = "Failed ✗", p.Fail
	}

	c.writeln("")
	c.rule()
	c.writeln(fmt.Sprintf("%s - %s", p.Title.Sprint(result.Name), statusColor.Sprint(status)))
	c.rule()
	c.writeln("")

	c.writeln("Run ID:        " + p.Dim.Sprint(result.RunID))
	c.writeln("Duration:      " + p.Value.Sprint(formatDuration(result.Duration)))

	if m := result.Metrics; m != nil {
		c.writeln("Operations:    " + p.Value.Sprint(formatNumber(m.TotalOperations)))
		success := 1.0 - m.ErrorRate
		c.writeln("Success Rate:  " + p.Rate(success).Sprintf("%.1f%%", success*100))
		c.writeln("")
		c.printTrends(m)
		c.printCounters(m)
	}

	c.printScenarios(result)

	if len(result.Checks) > 0 {
		c.writeln(p.Label.Sprint("Checks:"))
		for _, r := range result.Checks {
			c.writeln(fmt.Sprintf("  %s %s %s",
				p.Mark(r.Fails == 0),
				r.Name,
				p.Dim.Sprintf("(%d passed, %d failed, %.2f%%)", r.Passes, r.Fails, r.Rate()*100)))
		}
		c.writeln("")
	}

	if len(result.Thresholds) > 0 {
		c.writeln(p.Label.Sprint("Thresholds:"))
		for _, t := range result.Thresholds {
			line := fmt.Sprintf("  %s %s %s", p.Mark(t.Passed), t.Metric, t.Expression)
			if t.Message != "" && !t.Passed {
				line += p.Dim.Sprintf(" (%s)", t.Message)
			} else {
				line += p.Dim.Sprintf(" (actual: %.4g)", t.Value)
			}
			c.writeln(line)
		}
		c.writeln("")
	}

	if result.Error != "" {
		c.writeln(p.Fail.Sprint("Error: " + result.Error))
		c.writeln("")
	}
}

func (c *ConsoleOutput) printTrends(m *metrics.Snapshot) {
	names := sortedKeys(m.Trends)
	for _, name := range names {
		s := m.Trends[name]
		if s.Count == 0 {
			continue
		}
		c.writeln(c.palette.Label.Sprintf("%s:", name) + c.palette.Dim.Sprintf(" (%s samples)", formatNumber(s.Count)))
		for _, row := range []struct {
			label string
			value time.Duration
		}{
			{"Min", s.Min}, {"Avg", s.Mean}, {"P50", s.P50}, {"P90", s.P90},
			{"P95", s.P95}, {"P99", s.P99}, {"Max", s.Max},
		} {
			c.writeln(fmt.Sprintf("  %-10s %s", row.label+":", formatDurationShort(row.value)))
		}
		c.writeln("")
	}
}

func (c *ConsoleOutput) printCounters(m *metrics.Snapshot) {
	if len(m.Counters) == 0 {
		return
	}
	c.writeln(c.palette.Label.Sprint("Counters:"))
	for _, name := range sortedKeys(m.Counters) {
		s := m.Counters[name]
		c.writeln(fmt.Sprintf("  %-24s %12s  %s", name, formatNumber(s.Value), c.palette.Dim.Sprintf("%.1f/s", s.Rate)))
	}
	c.writeln("")
}

func (c *ConsoleOutput) printScenarios(result *engine.TestResult) {
	if len(result.Scenarios) == 0 {
		return
	}
	c.writeln(c.palette.Label.Sprint("Scenarios:"))
	for _, name := range sortedKeys(result.Scenarios) {
		s := result.Scenarios[name]
		line := fmt.Sprintf("  %s %s [%s, %s] %d iterations, %d max VUs",
			c.palette.Mark(s.Error == ""), name, s.Executor, s.Workload, s.Iterations, s.MaxVUs)
		if s.AbandonedVUs > 0 {
			line += c.palette.Warn.Sprintf(", %d VUs abandoned", s.AbandonedVUs)
		}
		c.writeln(line)
	}
	c.writeln("")
}

// clearLive erases the previous live display. Callers hold c.mu.
func (c *ConsoleOutput) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *ConsoleOutput) rule() {
	c.writeln(c.palette.Rule.Sprint(strings.Repeat(boxHorizontal, ruleWidth)))
}

func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// StatsFromMetrics builds LiveStats from a metrics snapshot and the
// executor's view of progress.
func StatsFromMetrics(
	snapshot *metrics.Snapshot,
	progress float64,
	totalDuration time.Duration,
	targetVUs int,
	currentStage, totalStages int,
) *LiveStats {
	if snapshot == nil {
		return &LiveStats{
			Progress:     progress,
			TargetVUs:    targetVUs,
			CurrentStage: currentStage,
			TotalStages:  totalStages,
			CurrentPhase: "initializing",
		}
	}

	elapsed := snapshot.Elapsed
	var remaining time.Duration
	if progress > 0 && progress < 1 {
		remaining = time.Duration(float64(elapsed) * (1 - progress) / progress)
	} else if totalDuration > elapsed {
		remaining = totalDuration - elapsed
	}

	stats := &LiveStats{
		Progress:     progress,
		Elapsed:      elapsed,
		Remaining:    remaining,
		ActiveVUs:    snapshot.ActiveVUs,
		TargetVUs:    targetVUs,
		Operations:   snapshot.TotalOperations,
		Rate:         snapshot.Rate,
		Errors:       snapshot.FailedOperations,
		ErrorRate:    snapshot.ErrorRate,
		Sent:         snapshot.Counter(metrics.MessagesSent),
		Completed:    snapshot.Counter(metrics.CompletedRoundTrips),
		Abandoned:    snapshot.Counter(metrics.MessagesAbandoned),
		CurrentPhase: string(snapshot.CurrentPhase),
		CurrentStage: currentStage,
		TotalStages:  totalStages,
	}

	for _, name := range []string{metrics.HTTPReqDuration, metrics.WebSocketLatency} {
		if trend, ok := snapshot.Trends[name]; ok && trend.Count > 0 {
			stats.LatencyTrend = name
			stats.LatencyP95 = trend.P95
			stats.LatencyAvg = trend.Mean
			break
		}
	}
	return stats
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var b strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		b.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(str[i : i+3])
	}
	return b.String()
}

// stripANSI removes ANSI escape codes from a string.
func stripANSI(s string) string {
	var b strings.Builder
	inEscape := false
	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z') {
				inEscape = false
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
