package signature

import "math"

// Convergence verdict bands.
const (
	VerdictExactMatch = "EXACT_MATCH"
	VerdictStrong     = "STRONG_CONVERGENCE"
	VerdictModerate   = "MODERATE_CONVERGENCE"
	VerdictWeak       = "WEAK_CONVERGENCE"
	VerdictDivergent  = "DIVERGENT"
)

// Comparison scores two signatures for similarity per dimension and overall.
type Comparison struct {
	EntropySimilarity   float64 `json:"entropy_similarity"`
	JitterSimilarity    float64 `json:"jitter_similarity"`
	DeltaSimilarity     float64 `json:"delta_similarity"`
	CoherenceSimilarity float64 `json:"coherence_similarity"`
	Overall             float64 `json:"overall"`
	Verdict             string  `json:"verdict"`
	Convergent          bool    `json:"convergent"`
}

// Compare scores how compatible two signatures are. An exact chain digest
// match is the strongest possible signal: two processes cannot share a digest
// without sharing the chain segment, so statistics are overridden entirely.
func Compare(a, b Signature) Comparison {
	c := Comparison{
		EntropySimilarity:   scoreSimilarity(a.EntropyMean, b.EntropyMean),
		JitterSimilarity:    scaleSimilarity(a.JitterMean, b.JitterMean),
		DeltaSimilarity:     scaleSimilarity(a.DeltaMean, b.DeltaMean),
		CoherenceSimilarity: scoreSimilarity(a.CoherenceMean, b.CoherenceMean),
	}
	c.Overall = 0.30*c.EntropySimilarity + 0.20*c.JitterSimilarity +
		0.20*c.DeltaSimilarity + 0.30*c.CoherenceSimilarity

	if a.ChainDigest != "" && a.ChainDigest == b.ChainDigest {
		c.Overall = 100
		c.Verdict = VerdictExactMatch
		c.Convergent = true
		return c
	}

	switch {
	case c.Overall > 85:
		c.Verdict = VerdictStrong
	case c.Overall > 70:
		c.Verdict = VerdictModerate
	case c.Overall > 50:
		c.Verdict = VerdictWeak
	default:
		c.Verdict = VerdictDivergent
	}
	c.Convergent = c.Overall > 70
	return c
}

// scoreSimilarity compares two 0-100 scores by absolute distance.
func scoreSimilarity(a, b float64) float64 {
	return clamp(100 - math.Abs(a-b))
}

// scaleSimilarity compares two magnitudes (milliseconds) by relative
// distance, so a 5s and 5.1s cadence read as close while 5s and 50s do not.
func scaleSimilarity(a, b float64) float64 {
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return 100
	}
	return clamp(100 * (1 - math.Abs(a-b)/scale))
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
