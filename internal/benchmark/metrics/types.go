package metrics

import "time"

// Phase represents a phase of a benchmark run.
type Phase string

const (
	// PhaseInit is the phase before workers are spawned
	PhaseInit Phase = "init"

	// PhaseWriting is the phase while workers generate load
	PhaseWriting Phase = "writing"

	// PhaseDraining is the phase between the deadline and the end of the join
	PhaseDraining Phase = "draining"

	// PhaseVerifying is the phase while the persisted count is queried
	PhaseVerifying Phase = "verifying"

	// PhaseDone indicates the run has completed
	PhaseDone Phase = "done"
)

// Snapshot contains a point-in-time view of all write metrics.
type Snapshot struct {
	// TotalWrites is the number of write calls observed
	TotalWrites int64 `json:"totalWrites"`

	// SuccessWrites is the number of writes the sink accepted
	SuccessWrites int64 `json:"successWrites"`

	// FailedWrites is the number of writes that returned an error
	FailedWrites int64 `json:"failedWrites"`

	// Latency contains write-call latency statistics
	Latency LatencyStats `json:"latency"`

	// WPS is the current writes per second
	WPS float64 `json:"wps"`

	// WritingWPS is the rate during the writing phase only
	WritingWPS float64 `json:"writingWps"`

	// ErrorRate is the fraction of failed writes (0.0 to 1.0)
	ErrorRate float64 `json:"errorRate"`

	// ActiveWorkers is the number of workers still running
	ActiveWorkers int `json:"activeWorkers"`

	// CurrentPhase is the current run phase
	CurrentPhase Phase `json:"currentPhase"`

	// Elapsed is the time since the engine started
	Elapsed time.Duration `json:"elapsed"`

	// StartTime is when the engine started
	StartTime time.Time `json:"startTime"`

	// Timestamp is when this snapshot was taken
	Timestamp time.Time `json:"timestamp"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// LatencyPercentiles holds latency percentile values.
type LatencyPercentiles struct {
	Min time.Duration
	Max time.Duration
	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// TimeBucket holds the metrics of one bucket interval.
//
// Each bucket carries both cumulative totals and the deltas for its interval.
type TimeBucket struct {
	Timestamp time.Time `json:"timestamp"`

	// Cumulative counters
	TotalWrites    int64 `json:"totalWrites"`
	TotalSuccesses int64 `json:"totalSuccesses"`
	TotalFailures  int64 `json:"totalFailures"`

	// Interval counters
	IntervalWrites    int64   `json:"intervalWrites"`
	IntervalWPS       float64 `json:"intervalWps"`
	IntervalErrorRate float64 `json:"intervalErrorRate"`

	LatencyP50 time.Duration `json:"latencyP50"`
	LatencyP95 time.Duration `json:"latencyP95"`
	LatencyP99 time.Duration `json:"latencyP99"`
	LatencyMax time.Duration `json:"latencyMax"`

	ActiveWorkers int   `json:"activeWorkers"`
	Phase         Phase `json:"phase"`
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Writes    int64     `json:"writes"`
}
