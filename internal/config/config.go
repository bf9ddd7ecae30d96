package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds everything the process needs from the environment. Every
// required name missing at startup is a fatal ConfigError; tuning knobs fall
// back to defaults.
type Config struct {
	DatabaseURL string
	RedisURL    string
	BlobRoot    string

	// Shopify app credentials.
	ShopifyClientID     string
	ShopifyClientSecret string
	ShopifyScopes       []string

	AppBaseURL string
	CronSecret string

	// Optional knobs.
	APIPort        string
	SchedulesFile  string
	IdentitySecret string
	SoftMatchOAuth bool

	IngestConcurrency    int
	NormalizeConcurrency int
	MetricsConcurrency   int
	FeedConcurrency      int
}

// required environment names, per the external-interface contract.
var required = []string{
	"DATABASE_URL",
	"REDIS_URL",
	"BLOB_ROOT",
	"SHOPIFY_CLIENT_ID",
	"SHOPIFY_CLIENT_SECRET",
	"SHOPIFY_SCOPES",
	"APP_BASE_URL",
	"CRON_SECRET",
}

// Load reads the environment. It returns an error naming every missing
// required variable so operators can fix them in one pass.
func Load() (*Config, error) {
	var missing []string
	for _, name := range required {
		if strings.TrimSpace(os.Getenv(name)) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment: %s", strings.Join(missing, ", "))
	}

	cfg := &Config{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		BlobRoot:            os.Getenv("BLOB_ROOT"),
		ShopifyClientID:     os.Getenv("SHOPIFY_CLIENT_ID"),
		ShopifyClientSecret: os.Getenv("SHOPIFY_CLIENT_SECRET"),
		ShopifyScopes:       splitCSV(os.Getenv("SHOPIFY_SCOPES")),
		AppBaseURL:          strings.TrimRight(os.Getenv("APP_BASE_URL"), "/"),
		CronSecret:          os.Getenv("CRON_SECRET"),

		APIPort:        getEnvDefault("PORT", "8080"),
		SchedulesFile:  getEnvDefault("SCHEDULES_FILE", "schedules.yaml"),
		IdentitySecret: os.Getenv("IDENTITY_JWT_SECRET"),
		SoftMatchOAuth: os.Getenv("OAUTH_SOFT_MATCH") == "true",

		IngestConcurrency:    getEnvInt("INGEST_CONCURRENCY", 2),
		NormalizeConcurrency: getEnvInt("NORMALIZE_CONCURRENCY", 4),
		MetricsConcurrency:   getEnvInt("METRICS_CONCURRENCY", 2),
		FeedConcurrency:      getEnvInt("FEED_CONCURRENCY", 2),
	}
	return cfg, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
