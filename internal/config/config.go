// Package config reads service settings from the environment, optionally
// seeded from a .env file during development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration shared by the api and enforcer
// processes.
type Config struct {
	HTTPAddr string

	// AppDSN points at the accounts/policy database, RadiusDSN at the
	// authentication store's database.
	AppDSN    string
	RadiusDSN string

	AuthSecret string

	NASURL   string
	NASToken string
	NASRPS   float64

	DefaultGroup string
	MaxRetries   int
	SweepWorkers int
	CallTimeout  time.Duration

	SweepCron     string
	RetryCron     string
	ReconcileCron string
	SweepDryRun   bool
}

// Load reads the environment, after merging in the .env file when present. A
// missing .env is not an error; variables already exported win over file
// values either way.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:      getString("RADGATE_HTTP_ADDR", ":8080"),
		AppDSN:        os.Getenv("RADGATE_PG_DSN"),
		RadiusDSN:     os.Getenv("RADGATE_RADIUS_DSN"),
		AuthSecret:    os.Getenv("RADGATE_AUTH_SECRET"),
		NASURL:        os.Getenv("RADGATE_NAS_URL"),
		NASToken:      os.Getenv("RADGATE_NAS_TOKEN"),
		DefaultGroup:  getString("RADGATE_DEFAULT_GROUP", "default"),
		SweepCron:     getString("RADGATE_SWEEP_CRON", "*/10 * * * *"),
		RetryCron:     getString("RADGATE_RETRY_CRON", "*/2 * * * *"),
		ReconcileCron: getString("RADGATE_RECONCILE_CRON", "15 4 * * *"),
	}

	var err error
	if cfg.NASRPS, err = getFloat("RADGATE_NAS_RPS", 10); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = getInt("RADGATE_MAX_RETRIES", 5); err != nil {
		return cfg, err
	}
	if cfg.SweepWorkers, err = getInt("RADGATE_SWEEP_WORKERS", 4); err != nil {
		return cfg, err
	}
	if cfg.CallTimeout, err = getDuration("RADGATE_CALL_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.SweepDryRun, err = getBool("RADGATE_SWEEP_DRY_RUN", false); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	return v, nil
}

func getFloat(key string, def float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a number: %w", key, err)
	}
	return v, nil
}

func getBool(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("config: %s must be a boolean: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a duration like 10s: %w", key, err)
	}
	return v, nil
}
