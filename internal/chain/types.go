// Package chain defines the hash-linked cycle record and the coherence
// verifier that audits a chain of them.
package chain

import (
	"strings"

	"proclock/internal/entropy"
	"proclock/internal/timing"
)

// GenesisHash is the previous-hash sentinel of the first link.
var GenesisHash = strings.Repeat("0", 64)

// Stored truncation widths. The hash commitments always cover the full
// values; only the stored copies are shortened.
const (
	StoredEntropyBytes = 16
	StoredNonceChars   = 16
)

// Link is one cycle of the process-integrity chain. Hash commits to the full
// entropy sample and every timing field; Entropy and SessionNonce are stored
// truncated.
type Link struct {
	Index             int64            `json:"index"`
	Hash              string           `json:"hash"`
	PreviousHash      string           `json:"previous_hash"`
	Entropy           string           `json:"entropy"`
	EntropyCommitment string           `json:"entropy_commitment"`
	DeltaMs           float64          `json:"delta_ms"`
	MonotonicMs       float64          `json:"monotonic_ms"`
	WallClockMs       float64          `json:"wall_clock_ms"`
	JitterMs          float64          `json:"jitter_ms"`
	EntropyQuality    entropy.Quality  `json:"entropy_quality"`
	TimingCoherence   timing.Coherence `json:"timing_coherence"`
	SessionNonce      string           `json:"session_nonce"`
}

// TruncateNonce shortens a session nonce to its stored prefix.
func TruncateNonce(nonce string) string {
	if len(nonce) > StoredNonceChars {
		return nonce[:StoredNonceChars]
	}
	return nonce
}
