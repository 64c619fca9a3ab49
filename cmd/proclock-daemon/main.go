package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"proclock/internal/config"
	"proclock/internal/engine"
	"proclock/internal/server"
	"proclock/internal/store"
)

func main() {
	cfg := config.Load()

	kv := openStore(cfg)
	defer kv.Close()

	eng, err := engine.New(cfg, kv)
	if err != nil {
		log.Fatalf("engine init failed: %v", err)
	}

	events, cancel := eng.Subscribe(256)
	defer cancel()
	go logEvents(events)

	eng.Start()
	defer eng.Stop()

	handler := &server.Handler{
		Engine:       eng,
		SharedSecret: cfg.SharedSecret,
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.New(handler),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		log.Printf("proclock daemon listening on %s (session %s)", addr, eng.SessionNonce()[:16])
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server stopped: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("shutting down")
	eng.Stop()
	_ = srv.Close()
}

// openStore opens the SQLite backend; when that fails the daemon still runs,
// cycling against an in-memory store with no durability.
func openStore(cfg config.Config) store.KV {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Printf("data dir unavailable, chain will not survive restarts: %v", err)
		return store.NewMemory()
	}
	path := filepath.Join(cfg.DataDir, "proclock.db")
	kv, err := store.OpenSQLite(path, cfg.Namespace)
	if err != nil {
		log.Printf("sqlite unavailable, chain will not survive restarts: %v", err)
		return store.NewMemory()
	}
	return kv
}

func logEvents(events <-chan engine.Event) {
	for ev := range events {
		switch v := ev.(type) {
		case engine.CycleEvent:
			log.Printf("cycle %d hash=%s entropy=%s coherence=%.0f",
				v.Link.Index, v.Link.Hash[:16], v.Link.EntropyQuality.Verdict, v.Link.TimingCoherence.Score)
		case engine.SignatureEvent:
			log.Printf("signature window=%d digest=%s", v.Signature.WindowSize, v.Signature.ChainDigest[:16])
		case engine.CoherenceBreakEvent:
			log.Printf("coherence break: %d failures", len(v.Result.Failures))
		case engine.IntegrityViolationEvent:
			log.Printf("integrity violation: %s (discarded=%v)", v.Reason, v.Discarded)
		case engine.StorageWarningEvent:
			log.Printf("storage warning at %s: %s", v.Stage, v.Err)
		case engine.SessionChangeEvent:
			log.Printf("session change %s -> %s", v.Previous, v.Current)
		default:
			log.Printf("event %s", ev.Kind())
		}
	}
}
