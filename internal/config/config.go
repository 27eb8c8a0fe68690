// Package config loads process configuration from the environment. There
// is no configuration file format and no external config library: every
// recognized key is read directly via os.Getenv, with a small
// envDefault/envIntDefault/envFloatDefault/envCSV helper family.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-driven knob the ingest server, the
// materialization worker, and the one-shot jobs share. A given process
// only reads the subset relevant to it.
type Config struct {
	HTTPAddr    string
	DatabaseURL string
	LogLevel    string

	EvalAPIKeys []string

	PGPoolMax          int
	PGConnectTimeoutMs int
	PGIdleTimeoutMs    int
	PGSSL              string

	MaxBodyBytes int64

	RateLimitRedisURL string

	// Job knobs (spec §6).
	LookbackHours      int
	MinHistory         int
	PerGroupLimit      int
	WindowHours        int
	SignificanceMetric string
	Alpha              float64
	BaselineHours      int
	CurrentHours       int
	Horizon            string
	DatasetVersion     string
	CostBps            float64
	CodeVersion        string
	TenantID           string

	// Materialization worker knobs.
	BatchSize   int
	MaxAttempts int
	PollDelay   time.Duration

	// SLO job thresholds (C10). Absent a dedicated per-workflow config
	// store, every workflow is evaluated against this single
	// environment-configured baseline.
	SLOMaxLatencyP95Ms   float64
	SLOMinFaithfulnessP05 float64
	SLOMinQualityP05     float64
	SLOMaxAnomalyRate    float64
}

func FromEnv() Config {
	addr := os.Getenv("PORT")
	host := envDefault("HOST", "0.0.0.0")
	if addr == "" {
		addr = "8080"
	}
	return Config{
		HTTPAddr:    host + ":" + addr,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogLevel:    envDefault("LOG_LEVEL", "info"),

		EvalAPIKeys: envCSV("EVAL_API_KEYS"),

		PGPoolMax:          envIntDefault("PG_POOL_MAX", 10),
		PGConnectTimeoutMs: envIntDefault("PG_CONNECT_TIMEOUT_MS", 10000),
		PGIdleTimeoutMs:    envIntDefault("PG_IDLE_TIMEOUT_MS", 300000),
		PGSSL:              envDefault("PG_SSL", "disable"),

		MaxBodyBytes: int64(envIntDefault("MAX_BODY_BYTES", 5*1024*1024)),

		RateLimitRedisURL: os.Getenv("RATE_LIMIT_REDIS_URL"),

		LookbackHours:      envIntDefault("LOOKBACK_HOURS", 24),
		MinHistory:         envIntDefault("MIN_HISTORY", 20),
		PerGroupLimit:      envIntDefault("PER_GROUP_LIMIT", 500),
		WindowHours:        envIntDefault("WINDOW_HOURS", 1),
		SignificanceMetric: envDefault("SIGNIFICANCE_METRIC", "faithfulness"),
		Alpha:              envFloatDefault("ALPHA", 0.05),
		BaselineHours:      envIntDefault("BASELINE_HOURS", 168),
		CurrentHours:       envIntDefault("CURRENT_HOURS", 24),
		Horizon:            envDefault("HORIZON", "1d"),
		DatasetVersion:     os.Getenv("DATASET_VERSION"),
		CostBps:            envFloatDefault("COST_BPS", 5),
		CodeVersion:        envDefault("CODE_VERSION", "dev"),
		TenantID:           os.Getenv("TENANT_ID"),

		BatchSize:   envIntDefault("MATERIALIZE_BATCH_SIZE", 100),
		MaxAttempts: envIntDefault("MATERIALIZE_MAX_ATTEMPTS", 5),
		PollDelay:   time.Duration(envIntDefault("MATERIALIZE_POLL_DELAY_MS", 500)) * time.Millisecond,

		SLOMaxLatencyP95Ms:    envFloatDefault("SLO_MAX_LATENCY_P95_MS", 10000),
		SLOMinFaithfulnessP05: envFloatDefault("SLO_MIN_FAITHFULNESS_P05", 0.5),
		SLOMinQualityP05:      envFloatDefault("SLO_MIN_QUALITY_P05", 0.4),
		SLOMaxAnomalyRate:     envFloatDefault("SLO_MAX_ANOMALY_RATE", 0.1),
	}
}

// AuthEnabled reports whether EVAL_API_KEYS was non-empty.
func (c Config) AuthEnabled() bool {
	return len(c.EvalAPIKeys) > 0
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func envFloatDefault(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return parsed
}

func envCSV(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
