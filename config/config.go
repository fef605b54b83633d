/*
Logic:       Orchestrator-wide configuration: server, Redis cache backend,
             per-principal-tier rate/budget limits, graph engine timeouts,
             resident-set budget, and bandit safety rails.
Root Cause:  The orchestrator needs a single typed config surface covering
             every knob enumerated in spec §6 instead of scattered getenv
             calls across components.
Context:     Generalizes the gateway's provider-proxy config to the
             orchestration substrate's configuration surface.
*/

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// QualityTier biases worker selection toward cheaper/faster or larger/better
// workers (§4.3, GLOSSARY).
type QualityTier string

const (
	QualityMinimal  QualityTier = "minimal"
	QualityBalanced QualityTier = "balanced"
	QualityHigh     QualityTier = "high"
	QualityPremium  QualityTier = "premium"
)

// TierLimits holds the per-principal-tier rate and budget defaults (§6:
// rate_limit.<tier>.rpm, budget.<tier>.monetary).
type TierLimits struct {
	RateLimitRPM   int
	BudgetMonetary float64
	BudgetWindow   time.Duration
}

// Config holds all orchestrator configuration values.
type Config struct {
	// Server
	Addr            string
	Env             string
	GracefulTimeout time.Duration

	// Cache backend (C1)
	RedisURL          string
	CacheFallbackSize int

	// Graph engine (C4)
	PerNodeTimeout         time.Duration
	RequestDeadlineDefault time.Duration
	CancelGrace            time.Duration

	// Model manager (C3)
	ResidentBudgetBytes int64
	RetryBudget         int

	// Adaptive router (C6)
	ShadowRate               float64
	ShadowBudgetPerWindow    float64
	BanditCheckpointInterval time.Duration
	BanditMinSuccess         float64
	BanditQuarantineWindow   int

	// Per-principal-tier limits, keyed by tier name (e.g. "free", "pro").
	Tiers map[string]TierLimits

	// Auth
	APIKeyHeader string

	// Body limits
	MaxBodyBytes int64

	LogLevel string
}

// Load reads configuration from environment variables and optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("ORCH_GRACEFUL_TIMEOUT_SEC", 15)
	requestDeadlineMs := getEnvInt("ORCH_REQUEST_DEADLINE_DEFAULT_MS", 30000)
	perNodeMs := getEnvInt("ORCH_PER_NODE_TIMEOUT_MS", 30000)

	cfg := &Config{
		Addr:            getEnv("ORCH_ADDR", ":8080"),
		Env:             getEnv("ENV", "development"),
		GracefulTimeout: time.Duration(gracefulSec) * time.Second,

		RedisURL:          getEnv("REDIS_URL", "redis://redis:6379"),
		CacheFallbackSize: getEnvInt("CACHE_FALLBACK_SIZE", 10000),

		PerNodeTimeout:         time.Duration(perNodeMs) * time.Millisecond,
		RequestDeadlineDefault: time.Duration(requestDeadlineMs) * time.Millisecond,
		CancelGrace:            time.Duration(getEnvInt("ORCH_CANCEL_GRACE_MS", 2000)) * time.Millisecond,

		ResidentBudgetBytes: int64(getEnvInt("ORCH_RESIDENT_BUDGET_BYTES", 10*1024*1024*1024)),
		RetryBudget:         getEnvInt("ORCH_RETRY_BUDGET", 3),

		ShadowRate:               getEnvFloat("ORCH_SHADOW_RATE", 0.3),
		ShadowBudgetPerWindow:    getEnvFloat("ORCH_SHADOW_BUDGET_PER_WINDOW", 5.0),
		BanditCheckpointInterval: time.Duration(getEnvInt("BANDIT_CHECKPOINT_INTERVAL_MS", 60000)) * time.Millisecond,
		BanditMinSuccess:         getEnvFloat("BANDIT_MIN_SUCCESS", 0.3),
		BanditQuarantineWindow:   getEnvInt("BANDIT_QUARANTINE_WINDOW", 100),

		APIKeyHeader: getEnv("API_KEY_HEADER", "Authorization"),
		MaxBodyBytes: int64(getEnvInt("ORCH_MAX_BODY_BYTES", 1*1024*1024)),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		Tiers: map[string]TierLimits{
			"free": {
				RateLimitRPM:   getEnvInt("RATE_LIMIT_FREE_RPM", 20),
				BudgetMonetary: getEnvFloat("BUDGET_FREE_MONETARY", 1.0),
				BudgetWindow:   24 * time.Hour,
			},
			"pro": {
				RateLimitRPM:   getEnvInt("RATE_LIMIT_PRO_RPM", 120),
				BudgetMonetary: getEnvFloat("BUDGET_PRO_MONETARY", 25.0),
				BudgetWindow:   24 * time.Hour,
			},
			"enterprise": {
				RateLimitRPM:   getEnvInt("RATE_LIMIT_ENTERPRISE_RPM", 600),
				BudgetMonetary: getEnvFloat("BUDGET_ENTERPRISE_MONETARY", 500.0),
				BudgetWindow:   24 * time.Hour,
			},
		},
	}
	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TierLimitsFor returns the rate/budget limits for a principal tier,
// falling back to "free" if the tier is not recognized.
func (c *Config) TierLimitsFor(tier string) TierLimits {
	if l, ok := c.Tiers[tier]; ok {
		return l
	}
	return c.Tiers["free"]
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
