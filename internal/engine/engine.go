// Package engine owns the process-integrity chain: it executes cycles,
// seals persisted state with an HMAC, compiles process signatures and
// surfaces typed events to external collaborators.
package engine

import (
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"proclock/internal/chain"
	"proclock/internal/config"
	"proclock/internal/entropy"
	"proclock/internal/signature"
	"proclock/internal/store"
	"proclock/internal/timing"
)

// Storage keys within the engine's namespace.
const (
	keyChain      = "chain"
	keyChainHMAC  = "chain_hmac"
	keyHMACKey    = "hmac_key"
	keySession    = "session"
	keySignatures = "signatures"
	keyAnchors    = "anchors"
)

// Engine is one instance of the integrity engine. The chain, session nonce
// and HMAC key are exclusively owned here; external components read through
// accessors or subscribe to events. Multiple instances may coexist as long
// as they use distinct store namespaces.
type Engine struct {
	cfg           config.Config
	kv            store.KV
	clock         timing.Clock
	source        entropy.Source
	entropyAssess entropy.Assessor
	timingAssess  timing.Assessor

	mu              sync.Mutex
	links           []chain.Link
	sigs            []signature.Signature
	anchors         []chain.Anchor
	sessionNonce    string
	hmacKey         []byte
	cycleCount      int64
	running         bool
	timer           *time.Timer
	storageDegraded bool
	pending         []Event

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// Option adjusts an Engine at construction; used by tests to pin the clock
// and the entropy source.
type Option func(*Engine)

func WithClock(c timing.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithSource(s entropy.Source) Option {
	return func(e *Engine) { e.source = s }
}

// New builds an engine: generates the session nonce, loads or creates the
// HMAC key, authenticates and restores any persisted chain, and synthesizes
// a genesis link when none survives. Events raised during startup are
// buffered and delivered on Start.
func New(cfg config.Config, kv store.KV, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:    cfg,
		kv:     kv,
		source: entropy.CryptoSource{},
		entropyAssess: entropy.Assessor{
			SerialCorrCeiling: cfg.SerialCorrCeiling,
			SyntheticChiFloor: cfg.SyntheticChiFloor,
		},
		timingAssess: timing.Assessor{
			NominalMs:       float64(cfg.NominalInterval.Milliseconds()),
			MinCycleMs:      float64(cfg.MinCycleTime.Milliseconds()),
			DriftCeilingMs:  float64(cfg.DriftCeiling.Milliseconds()),
			MinJitterStddev: cfg.MinJitterStddev,
		},
		subs: make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(e)
	}

	u := uuid.New()
	e.sessionNonce = hex.EncodeToString(u[:])

	if err := e.loadOrCreateKey(); err != nil {
		return nil, err
	}
	e.loadSession()
	restored := e.loadChain()

	if e.clock == nil {
		base := 0.0
		if restored {
			base = e.links[len(e.links)-1].MonotonicMs
		}
		e.clock = timing.NewSystemClock(base)
	}

	if !restored {
		if err := e.appendGenesis(); err != nil {
			return nil, err
		}
	}
	e.loadSignatures()
	e.loadAnchors()
	return e, nil
}

// Start arms the cycle loop. Events buffered during construction are
// delivered first.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	pending := e.pending
	e.pending = nil
	length := len(e.links)
	e.mu.Unlock()

	e.emit(StartEvent{SessionNonce: e.sessionNonce, ChainLength: length, At: time.Now().UTC()})
	for _, ev := range pending {
		e.emit(ev)
	}
	e.arm()
}

// Stop prevents the next cycle from being scheduled. An in-flight cycle is
// never cancelled.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	count := e.cycleCount
	e.mu.Unlock()

	e.emit(StopEvent{CycleCount: count, At: time.Now().UTC()})
}

// arm schedules the next cycle at the nominal interval plus bounded random
// jitter. It is only called after the previous cycle has fully completed,
// which keeps cycles strictly sequential.
func (e *Engine) arm() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	d := e.cfg.NominalInterval + time.Duration(mrand.Float64()*float64(e.cfg.ScheduleJitter))
	e.timer = time.AfterFunc(d, func() {
		if err := e.runCycle(); err != nil {
			e.emit(StorageWarningEvent{Stage: "cycle", Err: err.Error()})
		}
		e.arm()
	})
}

// runCycle executes one full cycle: timing, entropy, hashing, assessment,
// append, truncation, persistence and the periodic verification and
// signature steps. It never runs concurrently with itself.
func (e *Engine) runCycle() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sample, err := e.source.Sample(e.cfg.EntropyBytes)
	if err != nil {
		return fmt.Errorf("cycle entropy: %w", err)
	}

	mono := e.clock.Monotonic()
	wall := e.clock.Wall()
	prev := e.links[len(e.links)-1]
	delta := mono - prev.MonotonicMs
	nominal := e.timingAssess.NominalMs
	jitter := math.Abs(delta - nominal)

	link := chain.Link{
		Index:             prev.Index + 1,
		PreviousHash:      prev.Hash,
		Entropy:           hex.EncodeToString(sample[:chain.StoredEntropyBytes]),
		EntropyCommitment: chain.Commit(sample),
		DeltaMs:           delta,
		MonotonicMs:       mono,
		WallClockMs:       wall,
		JitterMs:          jitter,
		EntropyQuality:    e.entropyAssess.Assess(sample),
		SessionNonce:      chain.TruncateNonce(e.sessionNonce),
	}
	link.TimingCoherence = e.timingAssess.Assess(timing.Observation{
		DeltaMs:         delta,
		WallDeltaMs:     wall - prev.WallClockMs,
		MonotonicMs:     mono,
		PrevMonotonicMs: prev.MonotonicMs,
		TrailingJitter:  e.trailingJitter(jitter),
	})
	link.Hash = chain.LinkHash(link)

	e.links = append(e.links, link)
	e.cycleCount++
	if len(e.links) > e.cfg.MaxChainLength {
		// The evicted prefix is gone; the new oldest link becomes the trust
		// anchor for every later walk.
		trimmed := make([]chain.Link, e.cfg.MaxChainLength)
		copy(trimmed, e.links[len(e.links)-e.cfg.MaxChainLength:])
		e.links = trimmed
	}

	e.persistChain()

	if e.cfg.VerifyEveryN > 0 && e.cycleCount%e.cfg.VerifyEveryN == 0 {
		if res := chain.Verify(e.links); !res.Valid {
			e.emit(CoherenceBreakEvent{Result: res})
		}
	}
	if e.cfg.SignatureEveryN > 0 && e.cycleCount%e.cfg.SignatureEveryN == 0 {
		e.generateSignature()
	}
	if e.cfg.AnchorEveryN > 0 && e.cycleCount%e.cfg.AnchorEveryN == 0 {
		e.cutAnchor()
	}

	e.emit(CycleEvent{Link: link})
	return nil
}

// trailingJitter returns the jitter values of the trailing window including
// the current cycle's value.
func (e *Engine) trailingJitter(current float64) []float64 {
	depth := timing.UniformWindow - 1
	start := len(e.links) - depth
	if start < 0 {
		start = 0
	}
	out := make([]float64, 0, depth+1)
	for _, l := range e.links[start:] {
		out = append(out, l.JitterMs)
	}
	return append(out, current)
}

// generateSignature compiles the trailing window synchronously within the
// cycle, so the signature reflects an exact snapshot of the chain.
func (e *Engine) generateSignature() {
	window := e.links
	if len(window) > e.cfg.SignatureWindow {
		window = window[len(window)-e.cfg.SignatureWindow:]
	}
	coherenceOK := chain.Verify(window).Valid
	sig, err := signature.Generate(window, coherenceOK, time.Now().UTC())
	if err != nil {
		e.emit(StorageWarningEvent{Stage: "signature", Err: err.Error()})
		return
	}
	e.sigs = append(e.sigs, sig)
	if len(e.sigs) > e.cfg.MaxSignatures {
		e.sigs = e.sigs[len(e.sigs)-e.cfg.MaxSignatures:]
	}
	e.persistJSON(keySignatures, e.sigs)
	e.emit(SignatureEvent{Signature: sig})
}

// cutAnchor attests the whole current chain with a Merkle root that survives
// later truncation.
func (e *Engine) cutAnchor() {
	anchor, err := chain.BuildAnchor(e.links, time.Now().UTC())
	if err != nil {
		return
	}
	e.anchors = append(e.anchors, anchor)
	if len(e.anchors) > e.cfg.MaxAnchors {
		e.anchors = e.anchors[len(e.anchors)-e.cfg.MaxAnchors:]
	}
	e.persistJSON(keyAnchors, e.anchors)
}

// appendGenesis synthesizes the first link of a fresh chain and persists it.
func (e *Engine) appendGenesis() error {
	sample, err := e.source.Sample(e.cfg.EntropyBytes)
	if err != nil {
		return fmt.Errorf("genesis entropy: %w", err)
	}
	link := chain.Link{
		Index:             0,
		PreviousHash:      chain.GenesisHash,
		Entropy:           hex.EncodeToString(sample[:chain.StoredEntropyBytes]),
		EntropyCommitment: chain.Commit(sample),
		MonotonicMs:       e.clock.Monotonic(),
		WallClockMs:       e.clock.Wall(),
		EntropyQuality:    e.entropyAssess.Assess(sample),
		TimingCoherence:   e.timingAssess.Genesis(),
		SessionNonce:      chain.TruncateNonce(e.sessionNonce),
	}
	link.Hash = chain.LinkHash(link)
	e.links = []chain.Link{link}
	e.persistChain()
	return nil
}

// SessionNonce returns the full nonce of the current run.
func (e *Engine) SessionNonce() string { return e.sessionNonce }

// Links returns a copy of the current chain.
func (e *Engine) Links() []chain.Link {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]chain.Link, len(e.links))
	copy(out, e.links)
	return out
}

// Signatures returns a copy of the signature log.
func (e *Engine) Signatures() []signature.Signature {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]signature.Signature, len(e.sigs))
	copy(out, e.sigs)
	return out
}

// Anchors returns a copy of the anchor log.
func (e *Engine) Anchors() []chain.Anchor {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]chain.Anchor, len(e.anchors))
	copy(out, e.anchors)
	return out
}

// Stats summarizes the engine, including a fresh coherence walk.
type Stats struct {
	SessionNonce    string       `json:"session_nonce"`
	CycleCount      int64        `json:"cycle_count"`
	ChainLength     int          `json:"chain_length"`
	LatestHash      string       `json:"latest_hash,omitempty"`
	SignatureCount  int          `json:"signature_count"`
	AnchorCount     int          `json:"anchor_count"`
	StorageDegraded bool         `json:"storage_degraded"`
	Running         bool         `json:"running"`
	ChainIntegrity  chain.Result `json:"chain_integrity"`
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Stats{
		SessionNonce:    chain.TruncateNonce(e.sessionNonce),
		CycleCount:      e.cycleCount,
		ChainLength:     len(e.links),
		SignatureCount:  len(e.sigs),
		AnchorCount:     len(e.anchors),
		StorageDegraded: e.storageDegraded,
		Running:         e.running,
		ChainIntegrity:  chain.Verify(e.links),
	}
	if len(e.links) > 0 {
		s.LatestHash = e.links[len(e.links)-1].Hash
	}
	return s
}

// Bounds derives the signature plausibility bounds from the engine's
// configuration.
func (e *Engine) Bounds() signature.Bounds {
	return BoundsFromConfig(e.cfg)
}

func BoundsFromConfig(cfg config.Config) signature.Bounds {
	return signature.Bounds{
		NominalMs:       float64(cfg.NominalInterval.Milliseconds()),
		MinCycleMs:      float64(cfg.MinCycleTime.Milliseconds()),
		MinJitterStddev: cfg.MinJitterStddev,
	}
}

// loadOrCreateKey loads the long-lived HMAC key, generating and persisting
// it on first run. The key always exists in memory even when persistence is
// degraded.
func (e *Engine) loadOrCreateKey() error {
	raw, err := e.kv.Get(keyHMACKey)
	if err == nil && len(raw) >= 16 {
		e.hmacKey = raw
		return nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		e.queue(StorageWarningEvent{Stage: "hmac-key", Err: err.Error()})
	}
	key := make([]byte, 32)
	if _, err := crand.Read(key); err != nil {
		return fmt.Errorf("hmac key: %w", err)
	}
	e.hmacKey = key
	if err := e.kv.Set(keyHMACKey, key); err != nil {
		e.storageDegraded = true
		e.queue(StorageWarningEvent{Stage: "hmac-key", Err: err.Error()})
	}
	return nil
}

// loadSession compares the stored session nonce against the current one and
// records the handover as an observation.
func (e *Engine) loadSession() {
	raw, err := e.kv.Get(keySession)
	if err == nil && len(raw) > 0 && string(raw) != e.sessionNonce {
		e.queue(SessionChangeEvent{
			Previous: chain.TruncateNonce(string(raw)),
			Current:  chain.TruncateNonce(e.sessionNonce),
		})
	}
	if err := e.kv.Set(keySession, []byte(e.sessionNonce)); err != nil {
		e.queue(StorageWarningEvent{Stage: "session", Err: err.Error()})
	}
}

// loadChain restores the persisted chain if and only if it authenticates
// against the stored HMAC. A chain that authenticates but fails the
// structural walk is kept; the violation is surfaced for a forensic
// decision. Reports whether a chain was restored.
func (e *Engine) loadChain() bool {
	raw, err := e.kv.Get(keyChain)
	if errors.Is(err, store.ErrNotFound) {
		return false
	}
	if err != nil {
		e.queue(StorageWarningEvent{Stage: "chain-load", Err: err.Error()})
		return false
	}

	mac, macErr := e.kv.Get(keyChainHMAC)
	if macErr != nil || !e.verifyChainHMAC(raw, string(mac)) {
		e.discardStored("stored chain failed HMAC authentication")
		return false
	}

	var links []chain.Link
	if err := json.Unmarshal(raw, &links); err != nil || len(links) == 0 {
		e.discardStored("stored chain bytes are corrupt")
		return false
	}

	if res := chain.Verify(links); !res.Valid {
		e.queue(IntegrityViolationEvent{
			Reason: "restored chain failed coherence verification",
			Result: &res,
		})
	}
	e.links = links
	return true
}

// discardStored drops compromised persisted state and surfaces the
// violation. A fresh genesis follows.
func (e *Engine) discardStored(reason string) {
	_ = e.kv.Delete(keyChain)
	_ = e.kv.Delete(keyChainHMAC)
	e.queue(IntegrityViolationEvent{Reason: reason, Discarded: true})
}

func (e *Engine) loadSignatures() {
	raw, err := e.kv.Get(keySignatures)
	if err != nil {
		return
	}
	var sigs []signature.Signature
	if err := json.Unmarshal(raw, &sigs); err != nil {
		e.queue(StorageWarningEvent{Stage: "signatures-load", Err: err.Error()})
		return
	}
	e.sigs = sigs
}

func (e *Engine) loadAnchors() {
	raw, err := e.kv.Get(keyAnchors)
	if err != nil {
		return
	}
	var anchors []chain.Anchor
	if err := json.Unmarshal(raw, &anchors); err != nil {
		e.queue(StorageWarningEvent{Stage: "anchors-load", Err: err.Error()})
		return
	}
	e.anchors = anchors
}

// queue buffers an event raised before Start so no startup observation is
// lost to the absence of subscribers.
func (e *Engine) queue(ev Event) {
	e.pending = append(e.pending, ev)
}
