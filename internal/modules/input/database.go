package input

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/canectors/normalizer/internal/database"
	"github.com/canectors/normalizer/internal/errhandling"
	"github.com/canectors/normalizer/internal/logger"
	"github.com/canectors/normalizer/internal/modules/filter"
	"github.com/canectors/normalizer/internal/pathutil"
	"github.com/canectors/normalizer/pkg/record"
)

// Error types for the database source
var (
	ErrDatabaseMissingQuery   = errors.New("query or queryFile is required for database source")
	ErrDatabaseMissingConnStr = errors.New("connectionString or connectionStringRef is required for database source")
)

// DatabaseConfig holds configuration for the database source.
type DatabaseConfig struct {
	ConnectionString    string `json:"connectionString"`
	ConnectionStringRef string `json:"connectionStringRef"`
	Driver              string `json:"driver"`

	Query      string                 `json:"query"`
	QueryFile  string                 `json:"queryFile"`
	Parameters map[string]interface{} `json:"parameters"`

	TimeoutMs int `json:"timeoutMs"`
}

// DatabaseSource streams the rows of one query. The query runs on the first
// Process call; each call then scans one row. SQL NULLs and empty strings are
// unset, other values are kept as text.
type DatabaseSource struct {
	config  DatabaseConfig
	db      *sql.DB
	driver  string
	timeout time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	rows    *sql.Rows
	columns []record.Column
	count   int
	done    bool
}

// NewDatabaseFromConfig opens the connection for a database source.
func NewDatabaseFromConfig(config DatabaseConfig) (*DatabaseSource, error) {
	if config.QueryFile != "" && config.Query == "" {
		if err := pathutil.ValidateFilePath(config.QueryFile); err != nil {
			return nil, errhandling.NewConfigError("database source", "invalid queryFile", err)
		}
		data, err := os.ReadFile(config.QueryFile)
		if err != nil {
			return nil, errhandling.NewConfigError("database source", "reading query file "+config.QueryFile, err)
		}
		config.Query = string(data)
	}
	if strings.TrimSpace(config.Query) == "" {
		return nil, errhandling.NewConfigError("database source", "invalid configuration", ErrDatabaseMissingQuery)
	}
	if config.ConnectionString == "" && config.ConnectionStringRef == "" {
		return nil, errhandling.NewConfigError("database source", "invalid configuration", ErrDatabaseMissingConnStr)
	}

	timeout := 30 * time.Second
	if config.TimeoutMs > 0 {
		timeout = time.Duration(config.TimeoutMs) * time.Millisecond
	}

	db, driver, err := database.Open(database.Config{
		ConnectionString:    config.ConnectionString,
		ConnectionStringRef: config.ConnectionStringRef,
		Driver:              config.Driver,
		ConnectTimeout:      timeout,
	})
	if err != nil {
		return nil, errhandling.NewConfigError("database source", "opening connection", err)
	}

	logger.Debug("database source created", slog.String("driver", driver))

	return &DatabaseSource{config: config, db: db, driver: driver, timeout: timeout}, nil
}

// ParseDatabaseConfig parses a raw configuration map into DatabaseConfig.
func ParseDatabaseConfig(cfg map[string]interface{}) DatabaseConfig {
	var config DatabaseConfig
	if v, ok := cfg["connectionString"].(string); ok {
		config.ConnectionString = v
	}
	if v, ok := cfg["connectionStringRef"].(string); ok {
		config.ConnectionStringRef = v
	}
	if v, ok := cfg["driver"].(string); ok {
		config.Driver = v
	}
	if v, ok := cfg["query"].(string); ok {
		config.Query = v
	}
	if v, ok := cfg["queryFile"].(string); ok {
		config.QueryFile = v
	}
	if v, ok := cfg["parameters"].(map[string]interface{}); ok {
		config.Parameters = v
	}
	switch v := cfg["timeoutMs"].(type) {
	case float64:
		config.TimeoutMs = int(v)
	case int:
		config.TimeoutMs = v
	}
	return config
}

// buildQuery replaces ":name" tokens with bind placeholders, in query order.
func (d *DatabaseSource) buildQuery() (string, []interface{}) {
	query := d.config.Query
	var args []interface{}
	for _, name := range extractParameterOrder(query) {
		value, ok := d.config.Parameters[name]
		if !ok {
			continue
		}
		query = strings.ReplaceAll(query, ":"+name, database.FormatPlaceholder(d.driver, len(args)+1))
		args = append(args, value)
	}
	return query, args
}

// extractParameterOrder lists ":name" tokens from left to right, once each.
func extractParameterOrder(query string) []string {
	var order []string
	seen := make(map[string]bool)
	for i := 0; i < len(query); i++ {
		if query[i] != ':' {
			continue
		}
		end := i + 1
		for end < len(query) && isIdentByte(query[end]) {
			end++
		}
		if name := query[i+1 : end]; name != "" && !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
		i = end - 1
	}
	return order
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func (d *DatabaseSource) start() error {
	query, args := d.buildQuery()
	d.ctx, d.cancel = context.WithCancel(context.Background())

	startCtx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()
	if err := d.db.PingContext(startCtx); err != nil {
		return database.ClassifyDatabaseError(err, d.driver, "connect", "", 0)
	}

	rows, err := d.db.QueryContext(d.ctx, query, args...)
	if err != nil {
		return database.ClassifyDatabaseError(err, d.driver, "select", query, len(args))
	}
	names, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return fmt.Errorf("getting column names: %w", err)
	}
	d.rows = rows
	for _, n := range names {
		d.columns = append(d.columns, record.Column(n))
	}

	logger.Info("database source query started",
		slog.String("driver", d.driver),
		slog.Int("columns", len(names)),
		slog.Int("params", len(args)))
	return nil
}

// Process scans the next row.
func (d *DatabaseSource) Process(_ record.Record) (filter.Result, error) {
	if d.done {
		return filter.Absent(), nil
	}
	if d.rows == nil {
		if err := d.start(); err != nil {
			d.done = true
			return filter.Result{}, err
		}
	}

	if !d.rows.Next() {
		d.done = true
		err := d.rows.Err()
		_ = d.rows.Close()
		if err != nil {
			return filter.Result{}, database.ClassifyDatabaseError(err, d.driver, "select", d.config.Query, 0)
		}
		logger.Debug("database source exhausted", slog.Int("rows", d.count))
		return filter.Absent(), nil
	}

	values := make([]interface{}, len(d.columns))
	ptrs := make([]interface{}, len(d.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := d.rows.Scan(ptrs...); err != nil {
		return filter.Result{}, fmt.Errorf("scanning row %d: %w", d.count+1, err)
	}
	d.count++

	rec := make(record.Record, len(d.columns))
	for i, col := range d.columns {
		if text := databaseText(values[i]); text != "" {
			rec[col] = record.Scalar(text)
		}
	}
	if len(rec) == 0 {
		return filter.Skip(fmt.Sprintf("empty row %d", d.count)), nil
	}
	return filter.Continue(rec), nil
}

// databaseText renders a scanned value the way a CSV export would.
func databaseText(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return ""
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	}
	return record.Text(val)
}

// Close releases the result set and the connection.
func (d *DatabaseSource) Close() error {
	d.done = true
	var errs []error
	if d.rows != nil {
		errs = append(errs, d.rows.Close())
		d.rows = nil
	}
	if d.cancel != nil {
		d.cancel()
	}
	if d.db != nil {
		errs = append(errs, d.db.Close())
		d.db = nil
	}
	return errors.Join(errs...)
}

// Abort releases the result set and the connection.
func (d *DatabaseSource) Abort() error {
	return d.Close()
}

var (
	_ Source         = (*DatabaseSource)(nil)
	_ filter.Aborter = (*DatabaseSource)(nil)
)
