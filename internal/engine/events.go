package engine

import (
	"time"

	"proclock/internal/chain"
	"proclock/internal/signature"
)

// Event is the tagged union consumed by external collaborators. The engine
// never requires a subscriber; a full subscriber buffer drops events rather
// than stalling a cycle.
type Event interface {
	Kind() string
}

// StartEvent fires once when the cycle loop is armed.
type StartEvent struct {
	SessionNonce string    `json:"session_nonce"`
	ChainLength  int       `json:"chain_length"`
	At           time.Time `json:"at"`
}

// StopEvent fires when the next cycle is disarmed; an in-flight cycle still
// completes.
type StopEvent struct {
	CycleCount int64     `json:"cycle_count"`
	At         time.Time `json:"at"`
}

// CycleEvent carries the link appended by a completed cycle.
type CycleEvent struct {
	Link chain.Link `json:"link"`
}

// SignatureEvent carries a freshly compiled process signature.
type SignatureEvent struct {
	Signature signature.Signature `json:"signature"`
}

// CoherenceBreakEvent reports a failed periodic chain walk.
type CoherenceBreakEvent struct {
	Result chain.Result `json:"result"`
}

// StorageWarningEvent reports degraded persistence; the chain keeps
// advancing in memory.
type StorageWarningEvent struct {
	Stage string `json:"stage"`
	Err   string `json:"error"`
	Final bool   `json:"final"`
}

// IntegrityViolationEvent reports cryptographic or structural tamper
// evidence. Whether to keep the chain is a forensic decision surfaced to the
// consumer, not made here.
type IntegrityViolationEvent struct {
	Reason    string        `json:"reason"`
	Discarded bool          `json:"discarded"`
	Result    *chain.Result `json:"result,omitempty"`
}

// SessionChangeEvent reports that the stored session differs from the
// current one. Informational: resumption is not tampering.
type SessionChangeEvent struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

func (StartEvent) Kind() string              { return "start" }
func (StopEvent) Kind() string               { return "stop" }
func (CycleEvent) Kind() string              { return "cycle" }
func (SignatureEvent) Kind() string          { return "signature" }
func (CoherenceBreakEvent) Kind() string     { return "coherence-break" }
func (StorageWarningEvent) Kind() string     { return "storage-warning" }
func (IntegrityViolationEvent) Kind() string { return "integrity-violation" }
func (SessionChangeEvent) Kind() string      { return "session-change" }

// Subscribe registers a listener. The returned cancel function detaches it;
// the channel is closed on detach.
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subMu.Unlock()

	cancel := func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if _, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (e *Engine) emit(ev Event) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			// Slow consumer; the cycle must not wait.
		}
	}
}
