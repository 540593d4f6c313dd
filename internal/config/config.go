// Package config provides centralized configuration management for the
// ingestion service. Settings come from environment variables with defaults
// and are validated on startup to fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ledger   LedgerConfig
	Upload   UploadConfig
	Cache    CacheConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading the request (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing the response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of pooled connections (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before close (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// ConnectRetryTime bounds the startup connect retry loop (default: 30s)
	ConnectRetryTime time.Duration `env:"DB_CONNECT_RETRY_TIME" default:"30s"`
}

// LedgerConfig holds upload-ledger store settings.
type LedgerConfig struct {
	// Path is the directory for the embedded ledger store (default: data/ledger)
	Path string `env:"LEDGER_PATH" default:"data/ledger"`

	// InMemory keeps the ledger in process memory only (default: false)
	InMemory bool `env:"LEDGER_IN_MEMORY" default:"false"`
}

// UploadConfig holds CSV ingestion settings.
type UploadConfig struct {
	// Dir is where uploaded files are stored (default: storage/uploads)
	Dir string `env:"UPLOAD_DIR" default:"storage/uploads"`

	// MaxFileSize is the maximum allowed file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`

	// BatchSize is the number of rows per bulk-insert chunk (default: 500)
	BatchSize int `env:"UPLOAD_BATCH_SIZE" default:"500"`

	// MaxConcurrent caps simultaneous ingestions (default: 5)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"5"`

	// MaxWait is how long an upload waits for an ingestion slot (default: 30s)
	MaxWait time.Duration `env:"UPLOAD_MAX_WAIT" default:"30s"`

	// RejectDuplicates refuses files whose hash is already recorded
	// (default: false, hashes are recorded but not checked)
	RejectDuplicates bool `env:"UPLOAD_REJECT_DUPLICATES" default:"false"`
}

// CacheConfig holds the history cache settings.
type CacheConfig struct {
	// HistoryKey is the fixed cache key for history lookups. It does not
	// vary by filter values; keep that in mind when changing it.
	HistoryKey string `env:"CACHE_HISTORY_KEY" default:"upload-history"`

	// HistoryTTL is how long a cached history result is served (default: 600s)
	HistoryTTL time.Duration `env:"CACHE_HISTORY_TTL" default:"600s"`

	// Size is the maximum number of cached entries (default: 16)
	Size int `env:"CACHE_SIZE" default:"16"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
