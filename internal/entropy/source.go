// Package entropy produces the per-cycle random material and grades it.
//
// The assessor never rejects a sample; it annotates the link so that a
// degenerate or synthetic generator leaves statistical evidence in the chain.
package entropy

import (
	"crypto/rand"
	"fmt"
)

// Source yields one fixed-size random sample per cycle. Implementations other
// than CryptoSource exist only for tests.
type Source interface {
	Sample(n int) ([]byte, error)
}

// CryptoSource reads from the operating system CSPRNG.
type CryptoSource struct{}

func (CryptoSource) Sample(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("entropy sample: %w", err)
	}
	return buf, nil
}

// FixedSource replays the same bytes every cycle. Test helper for the
// synthetic-entropy detection path.
type FixedSource struct {
	Bytes []byte
}

func (s FixedSource) Sample(n int) ([]byte, error) {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = s.Bytes[i%len(s.Bytes)]
	}
	return buf, nil
}
