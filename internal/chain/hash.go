package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// HashBytes is the chain's hash function: SHA-256 over the concatenated
// parts, hex encoded.
func HashBytes(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Commit returns the entropy commitment: a hash over the entire sample, so a
// truncated stored copy cannot be swapped for a colliding prefix.
func Commit(sample []byte) string {
	sum := sha256.Sum256(sample)
	return hex.EncodeToString(sum[:])
}

// Preimage serializes the fields a link's hash commits to. The full entropy
// sample enters through its commitment, which keeps every stored field
// re-derivable by a verifier that never saw the raw sample. Floats are
// rendered at fixed precision so the serialization is deterministic across
// platforms.
func Preimage(l Link) []byte {
	fields := []string{
		l.PreviousHash,
		l.EntropyCommitment,
		l.Entropy,
		fixed(l.DeltaMs),
		fixed(l.MonotonicMs),
		fixed(l.WallClockMs),
		fixed(l.JitterMs),
		strconv.FormatInt(l.Index, 10),
		l.SessionNonce,
	}
	return []byte(strings.Join(fields, "|"))
}

// LinkHash computes the hash a link should carry.
func LinkHash(l Link) string {
	return HashBytes(Preimage(l))
}

func fixed(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
