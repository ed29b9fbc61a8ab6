// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Sensible defaults are provided for development.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string

	// Port is the HTTP listen port (default: 8080).
	Port int

	// BaseURL is the public-facing URL used for links and redirects.
	BaseURL string

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	// Empty means debug in development and info otherwise.
	LogLevel string

	// Database holds MariaDB connection settings.
	Database DatabaseConfig

	// Redis holds Redis connection settings.
	Redis RedisConfig

	// Auth holds authentication-related settings.
	Auth AuthConfig

	// Zoraxy holds the remote firewall API settings.
	Zoraxy ZoraxyConfig

	// Whitelist tunes the grant lifecycle.
	Whitelist WhitelistConfig

	// TrustedProxies lists the CIDRs whose X-Real-IP / X-Forwarded-For
	// headers are believed.
	TrustedProxies []string

	// MigrationsPath is the directory holding the SQL migration files.
	MigrationsPath string

	// MetricsEnabled exposes Prometheus metrics on /metrics.
	MetricsEnabled bool
}

// DatabaseConfig holds MariaDB connection parameters. Individual fields
// (Host, User, Password, Name) are read from separate env vars so
// container orchestrators can manage each independently.
// If DATABASE_URL is set, it takes precedence over the individual fields.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format (default: "localhost:3306").
	// If no port is specified, 3306 is appended automatically.
	Host string

	// User is the MariaDB username (default: "loginfirewall").
	User string

	// Password is the MariaDB password (default: "loginfirewall").
	Password string

	// Name is the database name (default: "loginfirewall").
	Name string

	// dsnOverride is set when DATABASE_URL is provided, bypassing individual fields.
	dsnOverride string

	// MaxOpenConns is the maximum number of open connections in the pool.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections in the pool.
	MaxIdleConns int

	// ConnMaxLifetime is how long a connection can be reused.
	ConnMaxLifetime time.Duration

	// ConnectAttempts is how many pings startup makes before giving up
	// (default: 10).
	ConnectAttempts int
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set, it is returned as-is. Otherwise the DSN is built from the individual
// Host/User/Password/Name fields using the driver's Config.FormatDSN()
// to safely handle special characters in passwords.
func (d DatabaseConfig) DSN() string {
	if d.dsnOverride != "" {
		return d.dsnOverride
	}
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
// Allows users to set DB_HOST=mydb (gets :3306) or DB_HOST=mydb:3307 (as-is).
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	URL string

	// ConnectAttempts is how many pings startup makes before giving up
	// (default: 5).
	ConnectAttempts int
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// SessionTTL is how long sessions last before expiring.
	SessionTTL time.Duration
}

// ZoraxyConfig holds the remote firewall API settings. The whitelist
// feature is disabled unless URL, Username and Password are all set.
type ZoraxyConfig struct {
	URL      string
	Username string
	Password string

	// Timeout bounds every remote call, the login handshake included.
	Timeout time.Duration
}

// Configured reports whether every required Zoraxy setting is present.
func (z ZoraxyConfig) Configured() bool {
	return z.URL != "" && z.Username != "" && z.Password != ""
}

// WhitelistConfig tunes the grant lifecycle.
type WhitelistConfig struct {
	// TTL is how long a grant lasts after the latest login.
	TTL time.Duration

	// Comment is stored with each remote entry.
	Comment string

	// SweepInterval is how often expired grants are removed.
	SweepInterval time.Duration

	// Concurrency bounds parallel remote calls per operation.
	Concurrency int
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		BaseURL:  getEnv("BASE_URL", "http://localhost:8080"),
		LogLevel: getEnv("LOG_LEVEL", ""),

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost:3306"),
			User:            getEnv("DB_USER", "loginfirewall"),
			Password:        getEnv("DB_PASSWORD", "loginfirewall"),
			Name:            getEnv("DB_NAME", "loginfirewall"),
			dsnOverride:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnectAttempts: getEnvInt("DB_CONNECT_ATTEMPTS", 10),
		},

		Redis: RedisConfig{
			URL:             getEnv("REDIS_URL", "redis://localhost:6379"),
			ConnectAttempts: getEnvInt("REDIS_CONNECT_ATTEMPTS", 5),
		},

		Auth: AuthConfig{
			SessionTTL: getEnvDuration("SESSION_TTL", 24*time.Hour),
		},

		Zoraxy: ZoraxyConfig{
			URL:      strings.TrimRight(getEnv("ZORAXY_API_URL", ""), "/"),
			Username: getEnv("ZORAXY_USERNAME", ""),
			Password: getEnv("ZORAXY_PASSWORD", ""),
			Timeout:  getEnvDuration("ZORAXY_TIMEOUT", 10*time.Second),
		},

		Whitelist: WhitelistConfig{
			TTL:           getEnvDuration("WHITELIST_TTL", 24*time.Hour),
			Comment:       getEnv("ZORAXY_COMMENT", "Added via LoginFirewall - 24h access"),
			SweepInterval: getEnvDuration("WHITELIST_SWEEP_INTERVAL", time.Hour),
			Concurrency:   getEnvInt("WHITELIST_CONCURRENCY", 4),
		},

		TrustedProxies: getEnvList("TRUSTED_PROXIES", []string{
			"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "::1/128", "fd00::/8",
		}),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "db/migrations"),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
	}

	if cfg.Auth.SessionTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be positive")
	}
	if cfg.Whitelist.TTL <= 0 {
		return nil, fmt.Errorf("WHITELIST_TTL must be positive")
	}
	if cfg.Whitelist.SweepInterval <= 0 {
		return nil, fmt.Errorf("WHITELIST_SWEEP_INTERVAL must be positive")
	}
	if cfg.Zoraxy.URL != "" {
		u, err := url.Parse(cfg.Zoraxy.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("ZORAXY_API_URL must be an absolute http(s) URL")
		}
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// --- Helper functions for reading environment variables ---

// getEnv reads a string env var or returns the default.
func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer env var or returns the default.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool reads a boolean env var ("true", "1", "false", ...) or returns
// the default.
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvList reads a comma-separated env var, dropping blank items.
func getEnvList(key string, defaultVal []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvDuration reads a duration env var (e.g., "720h") or returns the default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
