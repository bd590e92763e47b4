// Package output renders the banner, live progress and results of a
// benchmark run on the console.
package output

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/tsbench/internal/benchmark/config"
	"github.com/wesleyorama2/tsbench/internal/benchmark/engine"
	"github.com/wesleyorama2/tsbench/internal/benchmark/metrics"
)

// ANSI escape codes for cursor control
const (
	cursorUp  = "\033[%dA" // Move cursor up N lines
	clearLine = "\033[2K"  // Clear entire line

	// Box drawing characters
	ruleChar       = "-"
	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	// Progress bar characters
	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	// Progress tracking
	Progress  float64       // 0.0 to 1.0
	Elapsed   time.Duration // Time elapsed since the writers started
	Remaining time.Duration // Time left until the deadline

	// Tick tracking
	Tick       int // Current tick (1-indexed)
	TotalTicks int // Configured secondsCount

	// Worker stats
	ActiveWorkers int
	TargetWorkers int

	// Write stats
	CurrentWPS float64 // Records per second
	Written    int64   // Records accepted by the sink
	Expected   int64   // Expected size of the run
	Failures   int64   // Failed write calls
	ErrorRate  float64 // 0.0 to 1.0

	// Latency stats
	LatencyP95 time.Duration
	LatencyAvg time.Duration

	CurrentPhase string
}

// ConsoleOutput manages console output during a run.
type ConsoleOutput struct {
	writer io.Writer
	isTTY  bool
	colors *ColorScheme
	quiet  bool

	mu          sync.Mutex
	lastStats   *LiveStats
	linesOutput int // Number of lines in the live display
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	Writer      io.Writer
	Quiet       bool
	NoColor     bool
	ForceColors bool
	ForceTTY    bool
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(cfg ConsoleOutputConfig) *ConsoleOutput {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	isTTY := cfg.ForceTTY || isTerminal(cfg.Writer)

	var scheme *ColorScheme
	switch {
	case cfg.NoColor:
		scheme = NoColorScheme()
	case cfg.ForceColors || (isTTY && supportsColors()):
		scheme = ForcedColorScheme()
	default:
		scheme = NoColorScheme()
	}

	return &ConsoleOutput{
		writer: cfg.Writer,
		isTTY:  isTTY,
		colors: scheme,
		quiet:  cfg.Quiet,
	}
}

// isTerminal checks if the writer is a terminal.
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isTerminalFile(f)
	}
	return false
}

// isTerminalFile checks if a file is a terminal (cross-platform).
func isTerminalFile(f *os.File) bool {
	if f == os.Stdout || f == os.Stderr {
		return checkIsTerminal(f)
	}
	return false
}

// supportsColors checks if the terminal supports colors.
func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if runtime.GOOS == "windows" {
		return true
	}

	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// PrintHeader prints the run banner.
func (c *ConsoleOutput) PrintHeader(cfg *config.BenchmarkConfig) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rule := strings.Repeat(ruleChar, 13)
	c.writeln("")
	c.writeln(fmt.Sprintf("%s %s %s", rule, c.colors.Title.Sprint(cfg.Sink.Type), rule))
	c.writeln("")
	c.writeln(fmt.Sprintf("measurement:         %s", cfg.MeasurementName))
	c.writeln(fmt.Sprintf("threadsCount:        %d", cfg.WorkerCount))
	c.writeln(fmt.Sprintf("secondsCount:        %d", cfg.DurationSeconds))
	c.writeln(fmt.Sprintf("lineProtocolsCount:  %d", cfg.BatchSize))
	c.writeln("")
	c.writeln(fmt.Sprintf("expected size:  %s", c.colors.Value.Sprint(formatNumber(cfg.ExpectedCount()))))
	c.writeln("")
}

// Update redraws the live display with new statistics.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastStats = stats
	c.clearLive()

	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

func (c *ConsoleOutput) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine)
		if i < c.linesOutput-1 {
			c.write("\n")
		}
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

// renderLiveStats renders the live statistics display.
func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	var lines []string

	progressBar := c.renderProgressBar(stats.Progress, 40)
	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		c.colors.Success.Sprint(progressBar),
		c.colors.Label.Sprintf("%.0f%%", stats.Progress*100),
		c.colors.Dim.Sprint(timeInfo)))
	lines = append(lines, fmt.Sprintf("Phase:    %s", c.colors.Phase.Sprint(stats.CurrentPhase)))
	lines = append(lines, "")

	boxWidth := 55
	lines = append(lines, c.colors.Dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	tickStr := fmt.Sprintf("Tick:    %s / %d", c.colors.Value.Sprint(stats.Tick), stats.TotalTicks)
	workersStr := fmt.Sprintf("Writers:     %s / %d", c.colors.Value.Sprint(stats.ActiveWorkers), stats.TargetWorkers)
	lines = append(lines, c.formatBoxRow(tickStr, workersStr, boxWidth))

	writtenStr := fmt.Sprintf("Written: %s", c.colors.Value.Sprint(formatNumber(stats.Written)))
	wpsStr := fmt.Sprintf("Rate:        %s/s", c.colors.Rate.Sprintf("%.1f", stats.CurrentWPS))
	lines = append(lines, c.formatBoxRow(writtenStr, wpsStr, boxWidth))

	errColor := c.colors.Success
	if stats.ErrorRate > 0.01 {
		errColor = c.colors.Warning
	}
	if stats.ErrorRate > 0.05 {
		errColor = c.colors.Error
	}
	failStr := fmt.Sprintf("Failed:  %s (%s)",
		errColor.Sprint(formatNumber(stats.Failures)),
		errColor.Sprintf("%.1f%%", stats.ErrorRate*100))
	p95Str := fmt.Sprintf("P95:         %s", c.colors.Latency.Sprint(formatDurationShort(stats.LatencyP95)))
	lines = append(lines, c.formatBoxRow(failStr, p95Str, boxWidth))

	lines = append(lines, c.colors.Dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))

	return lines
}

// formatBoxRow formats a row inside the stats box with two columns.
func (c *ConsoleOutput) formatBoxRow(left, right string, boxWidth int) string {
	// 3 borders and 3 spaces
	leftWidth := (boxWidth - 6) / 2
	rightWidth := boxWidth - 6 - leftWidth

	leftPadding := leftWidth - visibleLen(left)
	if leftPadding < 0 {
		leftPadding = 0
	}
	rightPadding := rightWidth - visibleLen(right)
	if rightPadding < 0 {
		rightPadding = 0
	}

	border := c.colors.Dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s%s %s%s %s",
		border,
		left, strings.Repeat(" ", leftPadding),
		border,
		right, strings.Repeat(" ", rightPadding),
		border)
}

// renderProgressBar renders a progress bar.
func (c *ConsoleOutput) renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// PrintSummary prints the results of a run.
func (c *ConsoleOutput) PrintSummary(result *engine.RunResult) {
	if c.quiet {
		c.printQuietSummary(result)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}

	c.writeln("")
	c.writeln(c.colors.Label.Sprint("Results:"))
	c.writeln(fmt.Sprintf("-> expected:         %s", formatNumber(result.ExpectedCount)))
	c.writeln(fmt.Sprintf("-> generated:        %s", formatNumber(result.GeneratedCount)))

	report := result.Verification
	switch {
	case report == nil:
		c.writeln(fmt.Sprintf("-> total:            %s", c.colors.Dim.Sprint("not counted (skipCount)")))
		c.writeRates(percent(result.GeneratedCount, result.ExpectedCount), perSecond(result.GeneratedCount, result.ElapsedMillis))
	case report.Verified:
		c.writeln(fmt.Sprintf("-> total:            %s", formatNumber(report.Persisted)))
		c.writeRates(report.RatePercent, report.Throughput)
	default:
		c.writeln(fmt.Sprintf("-> total:            %s", c.colors.Error.Sprint("unknown")))
		c.writeRates(report.GeneratedRatePercent, report.GeneratedThroughput)
	}

	if result.WriteFailures > 0 {
		c.writeln(fmt.Sprintf("-> write failures:   %s", c.colors.Warning.Sprint(formatNumber(result.WriteFailures))))
	}
	c.writeln("")
	c.writeln(fmt.Sprintf("Total time: %s", c.colors.Value.Sprint(formatDuration(time.Duration(result.ElapsedMillis)*time.Millisecond))))
	c.writeln("")

	if m := result.Metrics; m != nil && m.Latency.Count > 0 {
		c.writeln(c.colors.Label.Sprint("Write latency:"))
		c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(m.Latency.Min)))
		c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(m.Latency.P50)))
		c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(m.Latency.P95)))
		c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(m.Latency.P99)))
		c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(m.Latency.Max)))
		c.writeln("")
	}

	c.printWarnings(result)
}

func (c *ConsoleOutput) writeRates(rate, throughput float64) {
	c.writeln(fmt.Sprintf("-> rate [%%]:         %.2f", rate))
	c.writeln(fmt.Sprintf("-> rate [msg/sec]:   %s", c.colors.Rate.Sprintf("%.0f", throughput)))
}

func (c *ConsoleOutput) printWarnings(result *engine.RunResult) {
	warn := func(col *color.Color, format string, args ...interface{}) {
		c.writeln(col.Sprintf("! "+format, args...))
	}

	if report := result.Verification; report != nil {
		if report.QueryError != nil {
			warn(c.colors.Error, "count query failed: %s", report.QueryErrorMessage())
		}
		if report.AboveExpected {
			warn(c.colors.Warning, "persisted count is above expected (%.2f%%), records may be duplicated", report.RatePercent)
		}
	}
	if result.FinishError != nil {
		warn(c.colors.Error, "flushing the sink failed: %s", result.FinishError)
	}
	if len(result.AbandonedWorkers) > 0 {
		warn(c.colors.Warning, "%d writers did not stop in time: %v", len(result.AbandonedWorkers), result.AbandonedWorkers)
	}
}

func (c *ConsoleOutput) printQuietSummary(result *engine.RunResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if result.Verified() {
		c.writeln(fmt.Sprintf("%d/%d %.2f%% %.0f/s",
			result.Verification.Persisted, result.ExpectedCount,
			result.Verification.RatePercent, result.Verification.Throughput))
		return
	}
	c.writeln(fmt.Sprintf("%d/%d generated", result.GeneratedCount, result.ExpectedCount))
}

// PrintNonInteractiveUpdate prints a one-line status update.
// Used when output is not a TTY (e.g., piped to a file or CI/CD).
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] Tick: %d/%d | Writers: %d | Written: %d | Rate: %.1f/s | Failed: %d (%.1f%%) | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Tick,
		stats.TotalTicks,
		stats.ActiveWorkers,
		stats.Written,
		stats.CurrentWPS,
		stats.Failures,
		stats.ErrorRate*100,
		formatDurationShort(stats.LatencyP95)))
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

func percent(n, of int64) float64 {
	if of <= 0 {
		return 0
	}
	return float64(n) / float64(of) * 100
}

func perSecond(n, elapsedMillis int64) float64 {
	if elapsedMillis <= 0 {
		return 0
	}
	return float64(n) / (float64(elapsedMillis) / 1000)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
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

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}

// visibleLen returns the number of printed runes, ignoring ANSI sequences.
func visibleLen(s string) int {
	return len([]rune(stripANSI(s)))
}

// stripANSI removes ANSI escape codes from a string.
func stripANSI(s string) string {
	var result strings.Builder
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
		result.WriteByte(s[i])
	}

	return result.String()
}

// StatsFromMetrics creates LiveStats from a metrics snapshot.
func StatsFromMetrics(snapshot *metrics.Snapshot, progress float64, cfg *config.BenchmarkConfig) *LiveStats {
	stats := &LiveStats{
		Progress:      progress,
		TotalTicks:    cfg.DurationSeconds,
		TargetWorkers: cfg.WorkerCount,
		Expected:      cfg.ExpectedCount(),
		CurrentPhase:  string(metrics.PhaseInit),
	}
	stats.Tick = currentTick(progress, cfg.DurationSeconds)

	total := cfg.RunDuration()
	if snapshot == nil {
		stats.Remaining = total
		return stats
	}

	stats.Elapsed = snapshot.Elapsed
	stats.Remaining = total - snapshot.Elapsed
	if stats.Remaining < 0 {
		stats.Remaining = 0
	}
	stats.ActiveWorkers = snapshot.ActiveWorkers
	stats.CurrentWPS = snapshot.WPS
	stats.Written = snapshot.SuccessWrites
	stats.Failures = snapshot.FailedWrites
	stats.ErrorRate = snapshot.ErrorRate
	stats.LatencyP95 = snapshot.Latency.P95
	stats.LatencyAvg = snapshot.Latency.Mean
	stats.CurrentPhase = string(snapshot.CurrentPhase)
	return stats
}

func currentTick(progress float64, ticks int) int {
	if ticks <= 0 {
		return 0
	}
	tick := int(progress*float64(ticks)) + 1
	if tick > ticks {
		return ticks
	}
	return tick
}
