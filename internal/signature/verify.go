package signature

// Issue labels a verifier can attach to a signature. Issues accumulate; none
// rejects on its own.
const (
	IssueEntropyMeanLow    = "ENTROPY_MEAN_LOW"
	IssueEntropyStddevHigh = "ENTROPY_STDDEV_HIGH"
	IssueSynthetic         = "SYNTHETIC_ENTROPY_DETECTED"
	IssueDeltaImplausible  = "DELTA_IMPLAUSIBLY_FAST"
	IssueUniformJitter     = "UNIFORM_JITTER"
	IssueCoherenceLow      = "COHERENCE_LOW"
	IssueChainIncoherent   = "CHAIN_INCOHERENT"
	IssueWindowTooSmall    = "WINDOW_TOO_SMALL"
	IssueTimeCompression   = "TIME_COMPRESSION"
	IssueTimeStretch       = "TIME_STRETCH"
)

// Verdict bands over the accumulated issue count.
const (
	VerdictAuthentic  = "AUTHENTIC"
	VerdictSuspicious = "SUSPICIOUS"
	VerdictForged     = "FORGED"
)

// VerifyResult is the outcome of judging one signature.
type VerifyResult struct {
	Verdict    string   `json:"verdict"`
	Confidence float64  `json:"confidence"`
	Issues     []string `json:"issues,omitempty"`
}

// Bounds are the plausibility limits a signature is judged against. They are
// independent of the chain that produced the signature, so a signature
// received from elsewhere can be judged too.
type Bounds struct {
	NominalMs       float64
	MinCycleMs      float64
	MinJitterStddev float64
}

// minUniformWindow mirrors the trailing depth the timing assessor requires
// before judging jitter uniformity.
const minUniformWindow = 10

// Verify applies each plausibility bound in turn. Bounds whose inputs are
// absent (zero window, missing wall timestamps) are skipped as unassessable
// rather than counted against the signature.
func (b Bounds) Verify(sig Signature) VerifyResult {
	var issues []string

	if sig.WindowSize < 3 {
		issues = append(issues, IssueWindowTooSmall)
	} else {
		if sig.EntropyMean < 30 {
			issues = append(issues, IssueEntropyMeanLow)
		}
		if sig.EntropyStddev > 35 {
			issues = append(issues, IssueEntropyStddevHigh)
		}
		if sig.SyntheticCount > 0 {
			issues = append(issues, IssueSynthetic)
		}
		if sig.DeltaMean < b.MinCycleMs {
			issues = append(issues, IssueDeltaImplausible)
		}
		if sig.WindowSize >= minUniformWindow && sig.JitterStddev < b.MinJitterStddev {
			issues = append(issues, IssueUniformJitter)
		}
		if sig.CoherenceMean < 50 {
			issues = append(issues, IssueCoherenceLow)
		}

		// Wall-clock span versus the duration the window implies. A forged
		// window compiled faster than real time, or padded to look longer,
		// lands outside the band.
		if implied := float64(sig.WindowSize) * b.NominalMs; implied > 0 && sig.FromWallMs > 0 && sig.ToWallMs > 0 {
			span := sig.ToWallMs - sig.FromWallMs
			switch {
			case span < 0.1*implied:
				issues = append(issues, IssueTimeCompression)
			case span > 5*implied:
				issues = append(issues, IssueTimeStretch)
			}
		}
	}

	if !sig.ChainCoherenceOK {
		issues = append(issues, IssueChainIncoherent)
	}

	res := VerifyResult{Issues: issues}
	switch {
	case len(issues) == 0:
		res.Verdict = VerdictAuthentic
	case len(issues) <= 2:
		res.Verdict = VerdictSuspicious
	default:
		res.Verdict = VerdictForged
	}
	res.Confidence = 100 - 15*float64(len(issues))
	if res.Confidence < 0 {
		res.Confidence = 0
	}
	return res
}
