package chain

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"math"
	"testing"
	"testing/quick"
	"time"

	"proclock/internal/entropy"
	"proclock/internal/timing"
)

const testNonce = "deadbeefcafef00d"

// buildChain produces a structurally valid chain of n links with a plausible
// 5s cadence.
func buildChain(t *testing.T, n int) []Link {
	t.Helper()
	links := make([]Link, 0, n)
	prev := GenesisHash
	const wallBase = 1.7e12
	for i := 0; i < n; i++ {
		sample := make([]byte, 32)
		if _, err := rand.Read(sample); err != nil {
			t.Fatalf("rand: %v", err)
		}
		delta := 5000.0 + float64(i%7)*11
		jitter := math.Abs(delta - 5000)
		if i == 0 {
			delta, jitter = 0, 0
		}
		l := Link{
			Index:             int64(i),
			PreviousHash:      prev,
			Entropy:           hex.EncodeToString(sample[:StoredEntropyBytes]),
			EntropyCommitment: Commit(sample),
			DeltaMs:           delta,
			MonotonicMs:       float64(i) * 5000,
			WallClockMs:       wallBase + float64(i)*5000,
			JitterMs:          jitter,
			EntropyQuality:    entropy.Quality{Score: 85, Verdict: entropy.VerdictGood},
			TimingCoherence:   timing.Coherence{Score: 100, Coherent: true},
			SessionNonce:      testNonce,
		}
		l.Hash = LinkHash(l)
		links = append(links, l)
		prev = l.Hash
	}
	return links
}

func TestVerifyValidChain(t *testing.T) {
	res := Verify(buildChain(t, 10))
	if !res.Valid {
		t.Fatalf("valid chain rejected: %+v", res.Failures)
	}
	if res.Checks == 0 {
		t.Fatal("no checks recorded")
	}
}

func TestVerifyEmptyChain(t *testing.T) {
	res := Verify(nil)
	if res.Valid || len(res.Failures) != 1 || res.Failures[0].Kind != FailEmptyChain {
		t.Fatalf("empty chain not reported: %+v", res)
	}
}

func TestTamperDetection(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Link)
	}{
		{"entropy", func(l *Link) { l.Entropy = "ffffffffffffffffffffffffffffffff" }},
		{"entropy commitment", func(l *Link) { l.EntropyCommitment = Commit([]byte("forged")) }},
		{"delta", func(l *Link) { l.DeltaMs += 250 }},
		{"monotonic time", func(l *Link) { l.MonotonicMs += 1 }},
		{"wall clock", func(l *Link) { l.WallClockMs += 1 }},
		{"jitter", func(l *Link) { l.JitterMs += 3 }},
		{"hash", func(l *Link) { l.Hash = Commit([]byte("forged")) }},
		{"previous hash", func(l *Link) { l.PreviousHash = Commit([]byte("forged")) }},
		{"session nonce", func(l *Link) { l.SessionNonce = "ffffffffffffffff" }},
	}
	for _, tc := range cases {
		links := buildChain(t, 4)
		tc.mutate(&links[1])
		res := Verify(links)
		if res.Valid {
			t.Fatalf("%s tamper not detected", tc.name)
		}
		found := false
		for _, f := range res.Failures {
			if f.At == 1 || f.At == 2 {
				found = true
			}
		}
		if !found {
			t.Fatalf("%s tamper reported away from tampered link: %+v", tc.name, res.Failures)
		}
	}
}

func TestEntropyReuseDetected(t *testing.T) {
	links := buildChain(t, 5)
	links[3].Entropy = links[1].Entropy
	links[3].EntropyCommitment = links[1].EntropyCommitment
	links[3].Hash = LinkHash(links[3])
	links[4].PreviousHash = links[3].Hash
	links[4].Hash = LinkHash(links[4])

	res := Verify(links)
	if res.Valid {
		t.Fatal("entropy reuse not detected")
	}
	found := false
	for _, f := range res.Failures {
		if f.Kind == FailEntropyReuse && f.At == 3 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ENTROPY_REUSE at 3: %+v", res.Failures)
	}
}

func TestSyntheticFlagDetected(t *testing.T) {
	links := buildChain(t, 4)
	// The quality annotation is not part of the preimage; flipping it must
	// still fail the walk.
	links[2].EntropyQuality.Synthetic = true
	res := Verify(links)
	found := false
	for _, f := range res.Failures {
		if f.Kind == FailSyntheticEntropy && f.At == 2 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected SYNTHETIC_ENTROPY at 2: %+v", res.Failures)
	}
}

// reseal rewrites hashes from position i onward after a structural edit.
func reseal(links []Link, from int) {
	for i := from; i < len(links); i++ {
		if i > 0 {
			links[i].PreviousHash = links[i-1].Hash
		}
		links[i].Hash = LinkHash(links[i])
	}
}

func TestSessionChangeIsObservation(t *testing.T) {
	links := buildChain(t, 6)
	for i := 3; i < 6; i++ {
		links[i].SessionNonce = "0123456789abcdef"
	}
	reseal(links, 3)
	if res := Verify(links); !res.Valid {
		t.Fatalf("clean session handover rejected: %+v", res.Failures)
	}

	// Reverting to a spent session is a forgery indicator.
	links[5].SessionNonce = testNonce
	reseal(links, 5)
	res := Verify(links)
	found := false
	for _, f := range res.Failures {
		if f.Kind == FailSessionMismatch && f.At == 5 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected SESSION_MISMATCH at 5: %+v", res.Failures)
	}
}

func TestTruncatedChainKeepsVerifying(t *testing.T) {
	links := buildChain(t, 8)
	// Eviction makes link 3 the new trust anchor.
	if res := Verify(links[3:]); !res.Valid {
		t.Fatalf("truncated chain rejected: %+v", res.Failures)
	}
}

func TestVerifyProperty(t *testing.T) {
	f := func(n uint8) bool {
		links := buildChain(t, int(n%30)+1)
		return Verify(links).Valid
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatalf("property check failed: %v", err)
	}
}

func TestAnchorRoundTrip(t *testing.T) {
	links := buildChain(t, 9)
	anchor, err := BuildAnchor(links[2:7], time.Now().UTC())
	if err != nil {
		t.Fatalf("build anchor: %v", err)
	}
	if err := VerifyAnchor(anchor, links); err != nil {
		t.Fatalf("verify anchor: %v", err)
	}

	tampered := make([]Link, len(links))
	copy(tampered, links)
	tampered[4].Hash = Commit([]byte("forged"))
	if err := VerifyAnchor(anchor, tampered); err == nil {
		t.Fatal("tampered segment passed anchor verification")
	}

	if err := VerifyAnchor(anchor, links[:4]); err == nil {
		t.Fatal("missing segment passed anchor verification")
	}
}

func TestCanonicalJSONDeterministic(t *testing.T) {
	v := map[string]interface{}{
		"zulu":  1.5,
		"alpha": "x",
		"mid":   map[string]interface{}{"b": 2, "a": 1},
	}
	first, err := CanonicalJSON(v)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	for i := 0; i < 16; i++ {
		again, err := CanonicalJSON(v)
		if err != nil {
			t.Fatalf("canonical: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("canonical encoding unstable:\n%s\n%s", first, again)
		}
	}
}
