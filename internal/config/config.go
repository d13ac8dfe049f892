package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	HTTPAddr string

	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	JWTSecret string
	// APIKeyHash is a bcrypt hash of the operator key. APIKey is the
	// plain-text fallback for local development.
	APIKeyHash string
	APIKey     string

	OffenceAPIURL string

	WorkerID         string
	BatchSize        int
	TimeBudget       time.Duration
	MaxAttempts      int
	BaseBackoff      time.Duration
	StuckTimeout     time.Duration
	ReleaseUnstarted bool

	BatchCron      string
	CycleResetCron string
	SeedCron       string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:                  getenv("APP_ENV", "development"),
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:          mustGetenv("DATABASE_URL"),
		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", "false") == "true",

		JWTSecret:  mustGetenv("JWT_SECRET"),
		APIKeyHash: getenv("API_KEY_HASH", ""),
		APIKey:     getenv("API_KEY", ""),

		OffenceAPIURL: getenv("OFFENCE_API_URL", "https://tms.tpf.go.tz/api/OffenceCheck"),

		WorkerID:         getenv("WORKER_ID", defaultWorkerID()),
		BatchSize:        getenvInt("BATCH_SIZE", 5),
		TimeBudget:       time.Duration(getenvInt("TIME_BUDGET_SEC", 50)) * time.Second,
		MaxAttempts:      getenvInt("MAX_ATTEMPTS", 8),
		BaseBackoff:      time.Duration(getenvInt("BASE_BACKOFF_SEC", 300)) * time.Second,
		StuckTimeout:     time.Duration(getenvInt("STUCK_TIMEOUT_MIN", 10)) * time.Minute,
		ReleaseUnstarted: getenv("RELEASE_UNSTARTED", "true") == "true",

		BatchCron:      getenv("BATCH_CRON", "*/5 * * * *"),
		CycleResetCron: getenv("CYCLE_RESET_CRON", "*/15 * * * *"),
		SeedCron:       getenv("SEED_CRON", "30 2 * * *"),
	}

	if cfg.APIKeyHash == "" && cfg.APIKey == "" {
		return cfg, fmt.Errorf("config: one of API_KEY_HASH or API_KEY is required")
	}

	origins := strings.Split(getenv("CORS_ALLOWED_ORIGINS", ""), ",")
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	return cfg, nil
}

// defaultWorkerID makes concurrent deployments distinguishable in the
// claimed_by column without any shared configuration.
func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "finesync"
	}
	return host + "-" + uuid.NewString()[:8]
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustGetenv(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		panic("missing env: " + key)
	}
	return v
}
