package server

import (
	"log"
	"net/http"
)

func New(handler *Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handler.Health)
	mux.HandleFunc("/status", handler.Status)
	mux.HandleFunc("/chain", handler.ListLinks)
	mux.HandleFunc("/chain/export", handler.ExportChain)
	mux.HandleFunc("/chain/verify", handler.VerifyChain)
	mux.HandleFunc("/signatures", handler.ListSignatures)
	mux.HandleFunc("/signatures/compare", handler.CompareSignatures)
	mux.HandleFunc("/anchors", handler.ListAnchors)
	mux.HandleFunc("/verify/export", handler.VerifyExport)

	return logging(mux)
}

func logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
