package config

import (
	"os"
	"strings"
	"time"
)

type Config struct {
	// Database
	DatabaseURL string

	// Paddle webhook verification. Multiple secrets may be valid at
	// once so secrets can be rotated without dropping deliveries.
	WebhookSecrets        []string
	RejectStaleSignatures bool
	SignatureMaxSkew      time.Duration

	// Server
	Port        string
	CORSOrigins string

	// Error tracking
	SentryDSN   string
	Environment string
}

func Load() *Config {
	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", getEnv("SUPABASE_DB_URL", "")),

		WebhookSecrets:        loadWebhookSecrets(),
		RejectStaleSignatures: getEnv("PADDLE_REJECT_STALE_SIGNATURES", "false") == "true",
		SignatureMaxSkew:      parseDuration(getEnv("PADDLE_SIGNATURE_MAX_SKEW", "5m")),

		Port:        getEnv("PORT", "8080"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),

		SentryDSN:   getEnv("SENTRY_DSN", ""),
		Environment: getEnv("APP_ENV", ""),
	}
}

// loadWebhookSecrets collects the primary secret, the alternate rotation
// secret, and any comma-separated extras, deduplicated in order.
func loadWebhookSecrets() []string {
	var secrets []string
	seen := make(map[string]bool)

	add := func(raw string) {
		s := sanitize(raw)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		secrets = append(secrets, s)
	}

	add(os.Getenv("PADDLE_WEBHOOK_SECRET"))
	add(os.Getenv("PADDLE_WEBHOOK_SECRET_ALT"))
	for _, s := range strings.Split(os.Getenv("PADDLE_WEBHOOK_SECRETS"), ",") {
		add(s)
	}
	return secrets
}

// sanitize trims whitespace and strips surrounding quotes, which show up
// when secrets are pasted into env files verbatim.
func sanitize(v string) string {
	v = strings.TrimSpace(v)
	for len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if first == last && (first == '"' || first == '\'') {
			v = strings.TrimSpace(v[1 : len(v)-1])
			continue
		}
		break
	}
	return v
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}
