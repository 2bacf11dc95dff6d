// Package postgres implements the Postgres-backed stores shared by the
// zlogger daemons: chalklines, live positions, telemetry, chat, rider
// profiles and upstream events.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Each daemon owns a single loop, so the pools stay small. Overridable via:
//   - ZLOGGER_DB_MAX_CONNS: maximum connections in the pool (default 4)
//   - ZLOGGER_DB_MAX_CONN_LIFETIME: maximum connection lifetime (default 1h)
//   - ZLOGGER_DB_HEALTH_CHECK_PERIOD: idle health-check interval (default 1m)
const (
	defaultMaxConns          = 4
	defaultMaxConnLifetime   = 1 * time.Hour
	defaultHealthCheckPeriod = 1 * time.Minute
)

// Credentials are the database connection settings taken from the
// -D/-H/-U/-P flags every zlogger command carries.
type Credentials struct {
	Database string
	Host     string
	User     string
	Password string
}

// URL renders the credentials as a postgres connection URL. An explicit
// ZLOGGER_DATABASE_URL wins over flag-assembled credentials.
func (c Credentials) URL() string {
	if u := os.Getenv("ZLOGGER_DATABASE_URL"); u != "" {
		return u
	}
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   host,
		Path:   "/" + c.Database,
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	return u.String()
}

// NewPool creates a pgxpool.Pool for the given connection URL and verifies
// connectivity with a ping.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	config.MaxConns = int32(envInt("ZLOGGER_DB_MAX_CONNS", defaultMaxConns))
	config.MaxConnLifetime = envDuration("ZLOGGER_DB_MAX_CONN_LIFETIME", defaultMaxConnLifetime)
	config.HealthCheckPeriod = envDuration("ZLOGGER_DB_HEALTH_CHECK_PERIOD", defaultHealthCheckPeriod)

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.Info("database pool ready", "max_conns", config.MaxConns)
	return pool, nil
}

// envInt reads an integer from an environment variable, returning defaultVal if unset or invalid.
func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", defaultVal)
		return defaultVal
	}
	return n
}

// envDuration reads a Go duration from an environment variable, returning defaultVal if unset or invalid.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", defaultVal)
		return defaultVal
	}
	return d
}
