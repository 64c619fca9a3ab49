package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config carries every tunable of the integrity engine. The statistical
// thresholds are empirical constants; they are surfaced here instead of being
// hard-coded at call sites so deployments can recalibrate them.
type Config struct {
	Port         int
	DataDir      string
	Namespace    string
	SharedSecret string
	WriteTimeout time.Duration
	ReadTimeout  time.Duration

	// Cycle scheduling.
	NominalInterval time.Duration
	ScheduleJitter  time.Duration

	// Chain shape.
	EntropyBytes    int
	MaxChainLength  int
	VerifyEveryN    int64
	SignatureEveryN int64
	SignatureWindow int
	MaxSignatures   int
	AnchorEveryN    int64
	MaxAnchors      int

	// Timing coherence thresholds.
	MinCycleTime    time.Duration
	DriftCeiling    time.Duration
	MinJitterStddev float64 // milliseconds

	// Entropy quality thresholds.
	SerialCorrCeiling float64
	SyntheticChiFloor float64
}

func Load() Config {
	getInt := func(key string, def int) int {
		val := os.Getenv(key)
		if val == "" {
			return def
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s=%q", key, val)
		}
		return n
	}
	getFloat := func(key string, def float64) float64 {
		val := os.Getenv(key)
		if val == "" {
			return def
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s=%q", key, val)
		}
		return f
	}
	getDuration := func(key string, def time.Duration) time.Duration {
		val := os.Getenv(key)
		if val == "" {
			return def
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Fatalf("invalid %s=%q", key, val)
		}
		return d
	}

	cfg := Config{
		Port:         getInt("PLOCK_PORT", 9120),
		DataDir:      os.Getenv("PLOCK_DATA_DIR"),
		Namespace:    os.Getenv("PLOCK_NAMESPACE"),
		SharedSecret: os.Getenv("PLOCK_SHARED_SECRET"),
		WriteTimeout: getDuration("PLOCK_WRITE_TIMEOUT", 5*time.Second),
		ReadTimeout:  getDuration("PLOCK_READ_TIMEOUT", 5*time.Second),

		NominalInterval: getDuration("PLOCK_INTERVAL", 5*time.Second),
		ScheduleJitter:  getDuration("PLOCK_SCHEDULE_JITTER", 400*time.Millisecond),

		EntropyBytes:    getInt("PLOCK_ENTROPY_BYTES", 32),
		MaxChainLength:  getInt("PLOCK_MAX_CHAIN", 512),
		VerifyEveryN:    int64(getInt("PLOCK_VERIFY_EVERY", 10)),
		SignatureEveryN: int64(getInt("PLOCK_SIGNATURE_EVERY", 25)),
		SignatureWindow: getInt("PLOCK_SIGNATURE_WINDOW", 25),
		MaxSignatures:   getInt("PLOCK_MAX_SIGNATURES", 50),
		AnchorEveryN:    int64(getInt("PLOCK_ANCHOR_EVERY", 100)),
		MaxAnchors:      getInt("PLOCK_MAX_ANCHORS", 20),

		MinCycleTime:    getDuration("PLOCK_MIN_CYCLE_TIME", 50*time.Millisecond),
		DriftCeiling:    getDuration("PLOCK_DRIFT_CEILING", 1500*time.Millisecond),
		MinJitterStddev: getFloat("PLOCK_MIN_JITTER_STDDEV", 1.5),

		SerialCorrCeiling: getFloat("PLOCK_SERIAL_CORR_CEILING", 0.35),
		SyntheticChiFloor: getFloat("PLOCK_SYNTHETIC_CHI_FLOOR", 4.0),
	}

	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "proclock"
	}
	if cfg.EntropyBytes < 32 {
		cfg.EntropyBytes = 32
	}
	if cfg.MaxChainLength < 8 {
		cfg.MaxChainLength = 8
	}
	if cfg.SignatureWindow < 3 {
		cfg.SignatureWindow = 3
	}
	if cfg.NominalInterval <= 0 {
		cfg.NominalInterval = 5 * time.Second
	}
	return cfg
}
