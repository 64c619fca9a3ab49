package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"proclock/internal/chain"
	"proclock/internal/engine"
	"proclock/internal/signature"
)

type Handler struct {
	Engine       *engine.Engine
	SharedSecret string
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok": true,
	})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"status": h.Engine.Stats(),
	})
}

func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	links := h.Engine.Links()
	if len(links) > limit {
		links = links[len(links)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "items": links})
}

func (h *Handler) ExportChain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.ExportChain())
}

func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	res := chain.Verify(h.Engine.Links())
	status := http.StatusOK
	if !res.Valid {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]interface{}{"ok": res.Valid, "report": res})
}

func (h *Handler) ListSignatures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":    true,
		"items": h.Engine.Signatures(),
	})
}

func (h *Handler) ListAnchors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":    true,
		"items": h.Engine.Anchors(),
	})
}

// VerifyExport re-verifies a previously exported chain submitted by an
// external auditor against this instance's plausibility bounds.
func (h *Handler) VerifyExport(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readSigned(w, r)
	if !ok {
		return
	}
	var exp engine.Export
	if err := json.Unmarshal(body, &exp); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload("invalid json"))
		return
	}
	if exp.Version != engine.ExportVersion {
		writeJSON(w, http.StatusBadRequest, errorPayload("unsupported export version"))
		return
	}
	report := engine.VerifyExport(exp, h.Engine.Bounds())
	status := http.StatusOK
	if !report.Valid {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]interface{}{"ok": report.Valid, "report": report})
}

// CompareSignatures judges convergence between two process signatures, e.g.
// one local and one from a peer instance.
func (h *Handler) CompareSignatures(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readSigned(w, r)
	if !ok {
		return
	}
	var input struct {
		A signature.Signature `json:"a"`
		B signature.Signature `json:"b"`
	}
	if err := json.Unmarshal(body, &input); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload("invalid json"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":         true,
		"comparison": signature.Compare(input.A, input.B),
	})
}

// readSigned reads a bounded body and, when a shared secret is configured,
// rejects requests whose HMAC header does not match it.
func (h *Handler) readSigned(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload("invalid body"))
		return nil, false
	}
	if h.SharedSecret != "" {
		if !verifySignature(body, r.Header.Get("X-Proclock-Signature"), h.SharedSecret) {
			writeJSON(w, http.StatusUnauthorized, errorPayload("invalid signature"))
			return nil, false
		}
	}
	return body, true
}

func verifySignature(body []byte, header string, secret string) bool {
	if header == "" || secret == "" {
		return false
	}
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	provided := header[len(prefix):]
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	expected := hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(provided))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func errorPayload(msg string) map[string]interface{} {
	return map[string]interface{}{"ok": false, "error": msg}
}
