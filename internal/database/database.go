// Package database opens SQL connections for the database source and sink.
//
// Three drivers are linked in: PostgreSQL through pgx, MySQL through
// go-sql-driver and SQLite through the pure Go modernc driver. The driver is
// taken from configuration or detected from the connection string.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported drivers, as written in configuration.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

const defaultConnectTimeout = 10 * time.Second

// ErrMissingConnectionString is returned when neither a connection string nor
// a resolvable reference is configured.
var ErrMissingConnectionString = errors.New("connection string is required")

// Config describes a connection.
type Config struct {
	ConnectionString string
	// ConnectionStringRef names an environment variable holding the
	// connection string, written "${NAME}" or "NAME".
	ConnectionStringRef string
	Driver              string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// Open opens and pings a connection. It returns the normalized driver name
// used by FormatPlaceholder and ClassifyDatabaseError.
func Open(cfg Config) (*sql.DB, string, error) {
	dsn, err := resolveConnectionString(cfg)
	if err != nil {
		return nil, "", err
	}

	driver := strings.ToLower(cfg.Driver)
	if driver == "" {
		driver = DetectDriver(dsn)
	}
	driver, sqlDriver, dsn, err := driverDSN(driver, dsn)
	if err != nil {
		return nil, "", err
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, "", NewConnectionError("opening "+driver+" connection", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if driver == DriverSQLite {
		// one writer at a time
		db.SetMaxOpenConns(1)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, "", ClassifyDatabaseError(err, driver, "connect", "", 0)
	}

	return db, driver, nil
}

func resolveConnectionString(cfg Config) (string, error) {
	if cfg.ConnectionString != "" {
		return os.ExpandEnv(cfg.ConnectionString), nil
	}
	ref := strings.TrimSpace(cfg.ConnectionStringRef)
	if ref == "" {
		return "", ErrMissingConnectionString
	}
	name := strings.TrimSuffix(strings.TrimPrefix(ref, "${"), "}")
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: environment variable %s is not set", ErrMissingConnectionString, name)
	}
	return v, nil
}

// DetectDriver guesses the driver from a connection string.
func DetectDriver(dsn string) string {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DriverPostgres
	case strings.HasPrefix(lower, "mysql://"), strings.Contains(lower, "@tcp("):
		return DriverMySQL
	default:
		return DriverSQLite
	}
}

// driverDSN normalizes a configured driver, maps it to its database/sql name
// and strips URL schemes the driver does not understand.
func driverDSN(driver, dsn string) (name, sqlDriver, out string, err error) {
	switch driver {
	case DriverPostgres, "postgresql", "pgx":
		return DriverPostgres, "pgx", dsn, nil
	case DriverMySQL:
		return DriverMySQL, "mysql", strings.TrimPrefix(dsn, "mysql://"), nil
	case DriverSQLite, "sqlite3":
		return DriverSQLite, "sqlite", strings.TrimPrefix(dsn, "sqlite://"), nil
	}
	return "", "", "", fmt.Errorf("unsupported database driver %q (want %s, %s or %s)", driver, DriverPostgres, DriverMySQL, DriverSQLite)
}

// FormatPlaceholder returns the n-th (1-based) bind placeholder for driver.
func FormatPlaceholder(driver string, n int) string {
	if driver == DriverPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}
