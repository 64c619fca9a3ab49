package entropy

import "math"

// Verdict bands for the combined quality score.
const (
	VerdictGood     = "GOOD"
	VerdictDegraded = "DEGRADED"
	VerdictSuspect  = "SUSPECT"
)

// Quality is the per-sample assessment stamped into a chain link.
type Quality struct {
	Score     float64 `json:"score"`
	Verdict   string  `json:"verdict"`
	Synthetic bool    `json:"synthetic"`
}

// Assessor grades a sample with three statistics: chi-squared of the nibble
// distribution, an up/down runs test, and serial correlation of consecutive
// bytes. The thresholds are calibration constants, not derived values.
type Assessor struct {
	SerialCorrCeiling float64
	SyntheticChiFloor float64
}

// Assess combines the three statistics into a 0-100 score weighted 40/30/30.
// A sample is flagged synthetic when serial correlation is high while the
// chi-squared statistic is implausibly low (periodic generators), or when the
// sample is degenerate (zero byte variance).
func (a Assessor) Assess(sample []byte) Quality {
	if len(sample) < 2 {
		return Quality{Score: 0, Verdict: VerdictSuspect, Synthetic: true}
	}

	chi := chiSquaredNibbles(sample)
	runsDev := runsDeviation(sample)
	corr, degenerate := serialCorrelation(sample)

	chiScore := clampScore(100 - 50*math.Abs(chi-chiDegrees)/chiDegrees)
	runsScore := clampScore(100 - 200*runsDev)
	corrScore := clampScore(100 - 250*math.Abs(corr))

	q := Quality{
		Score: 0.40*chiScore + 0.30*runsScore + 0.30*corrScore,
	}
	switch {
	case q.Score > 60:
		q.Verdict = VerdictGood
	case q.Score >= 30:
		q.Verdict = VerdictDegraded
	default:
		q.Verdict = VerdictSuspect
	}
	if degenerate || (math.Abs(corr) > a.SerialCorrCeiling && chi < a.SyntheticChiFloor) {
		q.Synthetic = true
	}
	return q
}

// 16 nibble bins, so 15 degrees of freedom.
const chiDegrees = 15.0

func chiSquaredNibbles(sample []byte) float64 {
	var bins [16]float64
	for _, b := range sample {
		bins[b>>4]++
		bins[b&0x0f]++
	}
	expected := float64(2*len(sample)) / 16.0
	var chi float64
	for _, observed := range bins {
		d := observed - expected
		chi += d * d / expected
	}
	return chi
}

// runsDeviation returns the relative deviation of the observed up/down run
// count from the theoretical expectation (2n-1)/3.
func runsDeviation(sample []byte) float64 {
	runs := 0
	prevDir := 0
	for i := 1; i < len(sample); i++ {
		dir := 0
		if sample[i] > sample[i-1] {
			dir = 1
		} else if sample[i] < sample[i-1] {
			dir = -1
		}
		if dir == 0 {
			continue
		}
		if dir != prevDir {
			runs++
			prevDir = dir
		}
	}
	expected := (2*float64(len(sample)) - 1) / 3.0
	return math.Abs(float64(runs)-expected) / expected
}

// serialCorrelation is the Pearson correlation between each byte and its
// successor. A zero-variance sample cannot be correlated in the usual sense;
// it is reported as perfectly correlated and degenerate.
func serialCorrelation(sample []byte) (corr float64, degenerate bool) {
	n := len(sample) - 1
	var sumX, sumY, sumXX, sumYY, sumXY float64
	for i := 0; i < n; i++ {
		x := float64(sample[i])
		y := float64(sample[i+1])
		sumX += x
		sumY += y
		sumXX += x * x
		sumYY += y * y
		sumXY += x * y
	}
	fn := float64(n)
	varX := sumXX - sumX*sumX/fn
	varY := sumYY - sumY*sumY/fn
	if varX <= 0 || varY <= 0 {
		return 1.0, true
	}
	cov := sumXY - sumX*sumY/fn
	return cov / math.Sqrt(varX*varY), false
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
