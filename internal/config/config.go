// Package config loads engine configuration from the environment with
// documented defaults. Score steps and thresholds are deliberate knobs, not
// hidden constants.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable of the engine.
type Config struct {
	// DBPath is the SQLite database file path.
	DBPath string

	// ListenAddr is the address the operational HTTP server (metrics,
	// health) binds to.
	ListenAddr string

	// SweepSchedule is the cron expression driving the scheduler.
	// The default matches the reference system's hourly sweep.
	SweepSchedule string

	// SweepWorkers bounds how many groups a sweep processes concurrently.
	SweepWorkers int

	// GroupSweepTimeout bounds per-group processing within a sweep; a
	// timed-out group is skipped and retried next tick.
	GroupSweepTimeout time.Duration

	// ReliabilityReward is added to a member's reliability score on each
	// timely settlement, capped at 100.
	ReliabilityReward int

	// ReliabilityPenalty is subtracted on each penalty, floored at 0.
	ReliabilityPenalty int

	// BanThreshold is the penalty count at which a member is banned from
	// rotation and new obligations.
	BanThreshold int

	// EligibilityMaxOutstanding is the highest outstanding-contribution
	// count a user may carry and still join or create groups.
	EligibilityMaxOutstanding int

	// DefaultGraceIntervals is how many full contribution intervals past
	// the due date a round may stay unsettled before it is marked
	// defaulted.
	DefaultGraceIntervals int

	// PayoutCurrency is the ISO currency code used for gateway transfers.
	PayoutCurrency string
}

// Load reads configuration from the environment, falling back to defaults.
func Load() Config {
	return Config{
		DBPath:                    getEnv("DB_PATH", "./data/tontine.db"),
		ListenAddr:                getEnv("LISTEN_ADDR", ":8080"),
		SweepSchedule:             getEnv("SWEEP_SCHEDULE", "0 * * * *"),
		SweepWorkers:              getEnvInt("SWEEP_WORKERS", 4),
		GroupSweepTimeout:         getEnvDuration("GROUP_SWEEP_TIMEOUT", 30*time.Second),
		ReliabilityReward:         getEnvInt("RELIABILITY_REWARD", 5),
		ReliabilityPenalty:        getEnvInt("RELIABILITY_PENALTY", 10),
		BanThreshold:              getEnvInt("BAN_THRESHOLD", 3),
		EligibilityMaxOutstanding: getEnvInt("ELIGIBILITY_MAX_OUTSTANDING", 2),
		DefaultGraceIntervals:     getEnvInt("DEFAULT_GRACE_INTERVALS", 1),
		PayoutCurrency:            getEnv("PAYOUT_CURRENCY", "usd"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
