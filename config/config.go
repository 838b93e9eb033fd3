/*
Package config loads server configuration from flags and environment.

PRECEDENCE:
  flag > environment variable > default

SETTINGS:
  Flag           Env            Default
  -port          PORT           8080
  -db-driver     DB_DRIVER      sqlite        (sqlite | postgres)
  -db            DB_PATH        ledger.db     SQLite path, ":memory:" allowed
  -database-url  DATABASE_URL                 Required for postgres
  -log-level     LOG_LEVEL      info
  -jwt-secret    JWT_SECRET                   Required, HS256 key
  -audit-buffer  AUDIT_BUFFER   1024
  -cors-origins  CORS_ORIGINS   http://localhost:5173,http://localhost:8080

  Validation problems are returned as one joined error.
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/warp/spend-ledger/logging"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds everything cmd/server needs to start.
type Config struct {
	Port            int
	DBDriver        string
	DBPath          string
	DatabaseURL     string
	LogLevel        string
	JWTSecret       string
	AuditBuffer     int
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// Load parses args (without the program name) with env fallbacks from getenv.
// Pass os.Getenv in production.
func Load(args []string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	env := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}

	fs := flag.NewFlagSet("spend-ledger", flag.ContinueOnError)
	var (
		port        = fs.String("port", env("PORT", "8080"), "HTTP server port")
		driver      = fs.String("db-driver", env("DB_DRIVER", DriverSQLite), "database driver: sqlite or postgres")
		dbPath      = fs.String("db", env("DB_PATH", "ledger.db"), "SQLite database path")
		databaseURL = fs.String("database-url", env("DATABASE_URL", ""), "PostgreSQL connection string")
		logLevel    = fs.String("log-level", env("LOG_LEVEL", "info"), "debug, info, warn or error")
		jwtSecret   = fs.String("jwt-secret", env("JWT_SECRET", ""), "HS256 secret for bearer tokens")
		auditBuffer = fs.String("audit-buffer", env("AUDIT_BUFFER", "1024"), "pending audit entries before dropping")
		cors        = fs.String("cors-origins", env("CORS_ORIGINS", "http://localhost:5173,http://localhost:8080"), "comma-separated allowed origins")
		shutdown    = fs.Duration("shutdown-timeout", 30*time.Second, "graceful shutdown deadline")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{
		DBDriver:        strings.ToLower(*driver),
		DBPath:          *dbPath,
		DatabaseURL:     *databaseURL,
		LogLevel:        *logLevel,
		JWTSecret:       *jwtSecret,
		CORSOrigins:     splitList(*cors),
		ShutdownTimeout: *shutdown,
	}

	var errs []error
	var err error
	if cfg.Port, err = strconv.Atoi(*port); err != nil || cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %q", *port))
	}
	if cfg.AuditBuffer, err = strconv.Atoi(*auditBuffer); err != nil || cfg.AuditBuffer < 1 {
		errs = append(errs, fmt.Errorf("invalid audit buffer %q", *auditBuffer))
	}
	switch cfg.DBDriver {
	case DriverSQLite:
		if cfg.DBPath == "" {
			errs = append(errs, errors.New("db path is required for sqlite"))
		}
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown db driver %q", cfg.DBDriver))
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if cfg.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Addr is the listen address.
func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
