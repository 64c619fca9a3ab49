package chain

import "fmt"

// Failure kinds reported by Verify. Each names one class of structural
// violation and the position where it was observed.
const (
	FailEmptyChain       = "EMPTY_CHAIN"
	FailHashMismatch     = "HASH_MISMATCH"
	FailMonotonicRegress = "MONOTONIC_REGRESSION"
	FailWallClockRegress = "WALL_CLOCK_REGRESSION"
	FailSequenceGap      = "SEQUENCE_GAP"
	FailSessionMismatch  = "SESSION_MISMATCH"
	FailEntropyReuse     = "ENTROPY_REUSE"
	FailSyntheticEntropy = "SYNTHETIC_ENTROPY"
)

// Failure is one structural violation found while walking a chain.
type Failure struct {
	Kind   string `json:"kind"`
	At     int64  `json:"at"`
	Detail string `json:"detail,omitempty"`
}

// Result summarizes a verification walk.
type Result struct {
	Valid    bool      `json:"valid"`
	Failures []Failure `json:"failures,omitempty"`
	Checks   int       `json:"checks"`
}

// Verify walks the chain once from the oldest trusted link to the newest.
// Per link it re-derives the hash from the stored fields; per pair it checks
// linkage, strict increase of both clocks and index contiguity; across the
// whole chain it checks entropy-commitment uniqueness and the absence of
// synthetic-entropy flags. The oldest link is the trust anchor: its
// previous-hash is not judged, so a truncated chain verifies from its new
// oldest link. A session nonce change is an observation, not a violation;
// only a nonce that reverts to one seen earlier in the chain is reported,
// since a legitimate resumption never returns to a spent session.
func Verify(links []Link) Result {
	res := Result{Valid: true}
	if len(links) == 0 {
		res.Valid = false
		res.Failures = append(res.Failures, Failure{Kind: FailEmptyChain, At: 0})
		return res
	}

	seenCommitments := make(map[string]int64, len(links))
	spentNonces := make(map[string]bool)
	currentNonce := links[0].SessionNonce
	spentNonces[currentNonce] = true

	fail := func(kind string, at int64, detail string) {
		res.Valid = false
		res.Failures = append(res.Failures, Failure{Kind: kind, At: at, Detail: detail})
	}

	for i := range links {
		l := &links[i]

		res.Checks++
		if LinkHash(*l) != l.Hash {
			fail(FailHashMismatch, l.Index, "stored hash does not match recomputed preimage hash")
		}

		if i > 0 {
			prev := &links[i-1]

			res.Checks++
			if l.PreviousHash != prev.Hash {
				fail(FailHashMismatch, l.Index, "previous_hash does not match predecessor")
			}
			res.Checks++
			if l.MonotonicMs <= prev.MonotonicMs {
				fail(FailMonotonicRegress, l.Index, "monotonic clock did not advance")
			}
			res.Checks++
			if l.WallClockMs <= prev.WallClockMs {
				fail(FailWallClockRegress, l.Index, "wall clock did not advance")
			}
			res.Checks++
			if l.Index != prev.Index+1 {
				fail(FailSequenceGap, l.Index, fmt.Sprintf("expected index %d", prev.Index+1))
			}
		}

		res.Checks++
		if l.SessionNonce != currentNonce {
			if spentNonces[l.SessionNonce] {
				fail(FailSessionMismatch, l.Index, "session nonce reverted to an earlier session")
			}
			spentNonces[l.SessionNonce] = true
			currentNonce = l.SessionNonce
		}

		res.Checks++
		if prior, dup := seenCommitments[l.EntropyCommitment]; dup {
			fail(FailEntropyReuse, l.Index, fmt.Sprintf("entropy commitment first seen at index %d", prior))
		} else {
			seenCommitments[l.EntropyCommitment] = l.Index
		}

		res.Checks++
		if l.EntropyQuality.Synthetic {
			fail(FailSyntheticEntropy, l.Index, "link carries a synthetic entropy flag")
		}
	}
	return res
}
