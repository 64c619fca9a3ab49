package timing

import "math"

// Issue labels appended to a link's coherence report. Each is evidence, not a
// fault; the chain never stops over them.
const (
	IssueCycleTooFast   = "CYCLE_TOO_FAST"
	IssueCycleDelayed   = "CYCLE_DELAYED"
	IssueClockDrift     = "CLOCK_DRIFT"
	IssueMonotonicStall = "MONOTONIC_STALL"
	IssueUniformJitter  = "UNIFORM_JITTER"
)

// Coherence is the per-link timing assessment.
type Coherence struct {
	Score    float64  `json:"score"`
	Issues   []string `json:"issues,omitempty"`
	Coherent bool     `json:"coherent"`
}

// Observation is everything the assessor needs about one cycle.
type Observation struct {
	DeltaMs         float64
	WallDeltaMs     float64
	MonotonicMs     float64
	PrevMonotonicMs float64
	// TrailingJitter holds jitter values over the trailing window including
	// the current cycle; the uniformity check only fires once it is deep
	// enough to be meaningful.
	TrailingJitter []float64
}

// Assessor scores a cycle's timing starting from 100 and subtracting a fixed
// penalty per anomaly.
type Assessor struct {
	NominalMs       float64
	MinCycleMs      float64
	DriftCeilingMs  float64
	MinJitterStddev float64
}

// UniformWindow is the minimum trailing depth before jitter uniformity is
// judged at all.
const UniformWindow = 10

// Genesis has no predecessor to measure against and scores 100 by definition.
func (a Assessor) Genesis() Coherence {
	return Coherence{Score: 100, Coherent: true}
}

func (a Assessor) Assess(o Observation) Coherence {
	score := 100.0
	var issues []string

	if o.DeltaMs < a.MinCycleMs {
		score -= 40
		issues = append(issues, IssueCycleTooFast)
	}
	if o.DeltaMs > 2*a.NominalMs {
		score -= 30
		issues = append(issues, IssueCycleDelayed)
	}
	if math.Abs(o.WallDeltaMs-o.DeltaMs) > a.DriftCeilingMs {
		score -= 30
		issues = append(issues, IssueClockDrift)
	}
	if o.MonotonicMs <= o.PrevMonotonicMs {
		score -= 40
		issues = append(issues, IssueMonotonicStall)
	}
	if len(o.TrailingJitter) >= UniformWindow && Stddev(o.TrailingJitter) < a.MinJitterStddev {
		score -= 25
		issues = append(issues, IssueUniformJitter)
	}

	if score < 0 {
		score = 0
	}
	return Coherence{Score: score, Issues: issues, Coherent: score >= 50}
}

// Mean of a float slice; zero for empty input.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Stddev is the population standard deviation; zero for fewer than two values.
func Stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := Mean(values)
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}
