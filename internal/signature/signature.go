// Package signature compiles trailing windows of the chain into compact
// statistical digests, and judges such digests without needing the chain
// that produced them.
package signature

import (
	"errors"
	"time"

	"proclock/internal/chain"
	"proclock/internal/timing"
)

// Signature summarizes a trailing window of links. ChainDigest is the only
// field that allows exact chain-identity comparison; everything else is
// statistics. Signatures are append-only once created.
type Signature struct {
	FromIndex        int64     `json:"from_index"`
	ToIndex          int64     `json:"to_index"`
	FromWallMs       float64   `json:"from_wall_ms"`
	ToWallMs         float64   `json:"to_wall_ms"`
	WindowSize       int       `json:"window_size"`
	ChainDigest      string    `json:"chain_digest"`
	EntropyMean      float64   `json:"entropy_mean"`
	EntropyStddev    float64   `json:"entropy_stddev"`
	JitterMean       float64   `json:"jitter_mean"`
	JitterStddev     float64   `json:"jitter_stddev"`
	DeltaMean        float64   `json:"delta_mean"`
	DeltaStddev      float64   `json:"delta_stddev"`
	CoherenceMean    float64   `json:"coherence_mean"`
	SyntheticCount   int       `json:"synthetic_count"`
	ChainCoherenceOK bool      `json:"chain_coherence_ok"`
	CreatedAt        time.Time `json:"created_at"`
	SignatureHash    string    `json:"signature_hash,omitempty"`
}

// Generate compiles the window into a Signature. The caller passes the
// outcome of a chain coherence walk over the same snapshot.
func Generate(window []chain.Link, coherenceOK bool, now time.Time) (Signature, error) {
	if len(window) == 0 {
		return Signature{}, errors.New("signature: empty window")
	}

	hashes := make([]byte, 0, len(window)*64)
	entropyScores := make([]float64, 0, len(window))
	jitters := make([]float64, 0, len(window))
	deltas := make([]float64, 0, len(window))
	coherences := make([]float64, 0, len(window))
	synthetic := 0
	for _, l := range window {
		hashes = append(hashes, l.Hash...)
		entropyScores = append(entropyScores, l.EntropyQuality.Score)
		jitters = append(jitters, l.JitterMs)
		deltas = append(deltas, l.DeltaMs)
		coherences = append(coherences, l.TimingCoherence.Score)
		if l.EntropyQuality.Synthetic {
			synthetic++
		}
	}

	sig := Signature{
		FromIndex:        window[0].Index,
		ToIndex:          window[len(window)-1].Index,
		FromWallMs:       window[0].WallClockMs,
		ToWallMs:         window[len(window)-1].WallClockMs,
		WindowSize:       len(window),
		ChainDigest:      chain.HashBytes(hashes),
		EntropyMean:      timing.Mean(entropyScores),
		EntropyStddev:    timing.Stddev(entropyScores),
		JitterMean:       timing.Mean(jitters),
		JitterStddev:     timing.Stddev(jitters),
		DeltaMean:        timing.Mean(deltas),
		DeltaStddev:      timing.Stddev(deltas),
		CoherenceMean:    timing.Mean(coherences),
		SyntheticCount:   synthetic,
		ChainCoherenceOK: coherenceOK,
		CreatedAt:        now,
	}

	canonical, err := chain.CanonicalJSON(sig)
	if err != nil {
		return Signature{}, err
	}
	sig.SignatureHash = chain.HashBytes(canonical)
	return sig, nil
}
