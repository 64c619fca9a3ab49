package engine

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	"proclock/internal/chain"
	"proclock/internal/store"
)

// persistChain serializes the chain, seals it with the HMAC key and writes
// both values. On a quota failure the in-memory chain is halved and the
// write retried once; a second failure leaves the engine cycling in memory
// only. Storage trouble degrades, it never stops the loop.
func (e *Engine) persistChain() {
	data, err := json.Marshal(e.links)
	if err != nil {
		e.emitOrQueue(StorageWarningEvent{Stage: "chain-encode", Err: err.Error()})
		return
	}

	err = e.writeSealed(data)
	if err == nil {
		e.storageDegraded = false
		return
	}

	if errors.Is(err, store.ErrQuotaExceeded) && len(e.links) > 1 {
		e.emitOrQueue(StorageWarningEvent{Stage: "chain-persist", Err: err.Error()})
		half := len(e.links) / 2
		trimmed := make([]chain.Link, len(e.links)-half)
		copy(trimmed, e.links[half:])
		e.links = trimmed

		if data, err = json.Marshal(e.links); err == nil {
			if err = e.writeSealed(data); err == nil {
				e.storageDegraded = false
				return
			}
		}
	}

	e.storageDegraded = true
	e.emitOrQueue(StorageWarningEvent{Stage: "chain-persist", Err: err.Error(), Final: true})
}

// writeSealed writes the chain bytes and their HMAC as a pair.
func (e *Engine) writeSealed(data []byte) error {
	if err := e.kv.Set(keyChain, data); err != nil {
		return err
	}
	return e.kv.Set(keyChainHMAC, []byte(e.sealChain(data)))
}

// sealChain computes the hex HMAC over the exact serialized chain bytes.
func (e *Engine) sealChain(data []byte) string {
	h := hmac.New(sha256.New, e.hmacKey)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func (e *Engine) verifyChainHMAC(data []byte, mac string) bool {
	if mac == "" {
		return false
	}
	return hmac.Equal([]byte(e.sealChain(data)), []byte(mac))
}

// persistJSON writes an auxiliary record (signatures, anchors); failures
// warn and move on.
func (e *Engine) persistJSON(key string, v interface{}) {
	data, err := json.Marshal(v)
	if err == nil {
		err = e.kv.Set(key, data)
	}
	if err != nil {
		e.emitOrQueue(StorageWarningEvent{Stage: key, Err: err.Error()})
	}
}

// emitOrQueue delivers immediately once the engine is running; before Start
// the event is buffered so startup observations reach the first subscriber.
func (e *Engine) emitOrQueue(ev Event) {
	if e.running {
		e.emit(ev)
		return
	}
	e.queue(ev)
}
