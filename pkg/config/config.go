// Package config loads ambient, environment-variable-based configuration
// for the governance core's embedding process: where the ledger file
// lives, whether evaluation caching uses Redis, and the default
// access/enforcement posture.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the governance core's environment-derived settings.
type Config struct {
	LedgerPath              string
	RedisAddr               string // empty disables the Redis cache backend
	EnableEvaluationCache   bool
	EvaluationCacheTTL      time.Duration
	DefaultAccessWhenNoTags bool
	EnforceAll              bool
	VerifyChainOnStartup    bool
	ThrowOnViolation        bool
	ReturnNullOnTTLExpired  bool
}

// Load reads Config from the process environment; an unset or unparsable
// variable falls back to the default given beside it below.
func Load() *Config {
	return &Config{
		LedgerPath:              getEnv("ACORNDB_POLICYGOV_LEDGER_PATH", "policygov.jsonl"),
		RedisAddr:               os.Getenv("ACORNDB_POLICYGOV_REDIS_ADDR"),
		EnableEvaluationCache:   getEnvBool("ACORNDB_POLICYGOV_ENABLE_EVAL_CACHE", true),
		EvaluationCacheTTL:      getEnvDuration("ACORNDB_POLICYGOV_EVAL_CACHE_TTL", 5*time.Minute),
		DefaultAccessWhenNoTags: getEnvBool("ACORNDB_POLICYGOV_DEFAULT_ACCESS_NO_TAGS", true),
		EnforceAll:              getEnvBool("ACORNDB_POLICYGOV_ENFORCE_ALL", false),
		VerifyChainOnStartup:    getEnvBool("ACORNDB_POLICYGOV_VERIFY_ON_STARTUP", true),
		ThrowOnViolation:        getEnvBool("ACORNDB_POLICYGOV_THROW_ON_VIOLATION", false),
		ReturnNullOnTTLExpired:  getEnvBool("ACORNDB_POLICYGOV_RETURN_NULL_ON_TTL_EXPIRED", true),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
