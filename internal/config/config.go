// Package config loads csvload settings from environment variables with
// defaults, and validates them on startup so misconfiguration fails fast.
package config

import (
	"strconv"
	"time"
	"unicode/utf8"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Import    ImportConfig
	Rate      RateLimitConfig
	Security  SecurityConfig
	Logging   LoggingConfig
	Telemetry TelemetryConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout stays 0 so progress streams are not cut off.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout bounds non-streaming requests.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig selects the target database and sizes its pool.
type DatabaseConfig struct {
	// Driver is one of monetdb, postgres, pgx or duckdb.
	Driver string `env:"DB_DRIVER" default:"monetdb"`

	// URL is the DSN. For duckdb it is a database file path or ":memory:".
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// ConnectRetries is how many times a failed startup ping is retried.
	ConnectRetries int `env:"DB_CONNECT_RETRIES" default:"3"`
}

// ImportConfig holds the defaults for import runs.
type ImportConfig struct {
	// SampleSize is the number of bytes sniffed; 0 sniffs the whole file.
	SampleSize int64 `env:"IMPORT_SAMPLE_SIZE" default:"0"`

	Locked       bool   `env:"IMPORT_LOCKED" default:"true"`
	NullString   string `env:"IMPORT_NULL_STRING"`
	BestEffort   bool   `env:"IMPORT_BEST_EFFORT" default:"false"`
	RejectsLimit int    `env:"IMPORT_REJECTS_LIMIT" default:"100"`

	// Schema overrides the driver's default schema.
	Schema string `env:"IMPORT_SCHEMA"`

	// Delimiters are the sniffer's candidate delimiters, comma-separated.
	// The names "tab" and "comma" (or "\t") stand for those characters.
	Delimiters []string `env:"IMPORT_DELIMITERS"`

	Timeout       time.Duration `env:"IMPORT_TIMEOUT" default:"30m"`
	VerifyTimeout time.Duration `env:"IMPORT_VERIFY_TIMEOUT" default:"30s"`
	MaxConcurrent int           `env:"IMPORT_MAX_CONCURRENT" default:"4"`
	MaxWaitTime   time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`
	ResultTTL     time.Duration `env:"IMPORT_RESULT_TTL" default:"5m"`

	// UploadDir receives uploaded files; empty means the OS temp dir.
	// MonetDB reads files server-side, so it must be visible to the server.
	UploadDir   string `env:"IMPORT_UPLOAD_DIR"`
	MaxFileSize int64  `env:"IMPORT_MAX_FILE_SIZE" default:"1073741824"`

	// LogSQL sends every executed statement to the debug log.
	LogSQL bool `env:"IMPORT_LOG_SQL" default:"true"`
}

// RateLimitConfig holds per-IP rate limits.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ImportLimit applies to endpoints that start imports or accept files.
	ImportLimit int `env:"RATE_LIMIT_IMPORT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	RequireAPIKey bool     `env:"REQUIRE_API_KEY" default:"false"`
	APIKeys       []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is text or json.
	Format string `env:"LOG_FORMAT" default:"text"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool   `env:"OTEL_ENABLED" default:"false"`
	ServiceName string `env:"OTEL_SERVICE_NAME" default:"csvload"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// DelimiterRunes returns the configured candidate delimiters. Other than
// the names "tab" and "comma", each entry contributes its first rune.
func (c *ImportConfig) DelimiterRunes() []rune {
	var out []rune
	for _, d := range c.Delimiters {
		switch d {
		case `\t`, "tab":
			out = append(out, '\t')
		case "comma":
			out = append(out, ',')
		default:
			if r, _ := utf8.DecodeRuneInString(d); r != utf8.RuneError {
				out = append(out, r)
			}
		}
	}
	return out
}
