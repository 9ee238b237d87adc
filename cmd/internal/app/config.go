package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// RedisURL enables the durable store, the friend store, and the pub/sub
	// relay. Empty means in-memory mode (dev/test only: single process, no
	// persistence).
	RedisURL string

	// If true:
	// - /readyz returns 503 unless Redis is configured and reachable.
	ReadinessRequireRedis bool

	// SessionHeader carries the authenticated user id, injected by the
	// fronting auth proxy. Session issuance does not live here.
	SessionHeader string

	// Mistral-compatible chat-completions API. Empty key disables the
	// suggestion endpoints.
	MistralAPIKey  string
	MistralAPIBase string

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("RIPPLE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("RIPPLE_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("RIPPLE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("RIPPLE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("RIPPLE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("RIPPLE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("RIPPLE_HTTP_MAX_HEADER_BYTES", 1<<20),

		RedisURL: EnvString("RIPPLE_REDIS_URL", ""),

		ReadinessRequireRedis: EnvBool("RIPPLE_READINESS_REQUIRE_REDIS", false),

		SessionHeader: EnvString("RIPPLE_SESSION_HEADER", "X-User-ID"),

		MistralAPIKey:  EnvString("RIPPLE_MISTRAL_API_KEY", ""),
		MistralAPIBase: EnvString("RIPPLE_MISTRAL_API_BASE", ""),

		CORSAllowedOrigins:   EnvCSV("RIPPLE_CORS_ALLOWED_ORIGINS", ""),
		CORSAllowCredentials: EnvBool("RIPPLE_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("RIPPLE_CORS_MAX_AGE_SECONDS", 600),
	}
}
