package output

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

const defaultDatabaseOutputTimeout = 30 * time.Second

// On-error policies of the database sink.
const (
	OnErrorFail = "fail"
	OnErrorSkip = "skip"
)

// Error types for the database sink
var (
	ErrDatabaseOutputMissingConnStr = errors.New("connectionString or connectionStringRef is required for database sink")
	ErrDatabaseOutputMissingQuery   = errors.New("query, queryFile or table is required for database sink")
)

// DatabaseConfig holds configuration for the database sink.
type DatabaseConfig struct {
	ConnectionString    string `json:"connectionString"`
	ConnectionStringRef string `json:"connectionStringRef"`
	Driver              string `json:"driver"`

	// Query is an SQL statement with {{column}} placeholders, bound as
	// parameters. Table is a shortcut that inserts Columns into a table.
	Query     string   `json:"query"`
	QueryFile string   `json:"queryFile"`
	Table     string   `json:"table"`
	Columns   []string `json:"columns"`

	// Transaction wraps the whole run in one transaction, committed on Close.
	Transaction bool `json:"transaction"`
	// OnError is "fail" (default) or "skip".
	OnError string `json:"onError"`

	TimeoutMs int `json:"timeoutMs"`
}

// DatabaseSink executes one statement per record.
type DatabaseSink struct {
	config  DatabaseConfig
	db      *sql.DB
	tx      *sql.Tx
	driver  string
	timeout time.Duration

	query   string
	params  []record.Column
	written int
	closed  bool
}

// NewDatabaseFromConfig opens the connection for a database sink. columns is
// the pipeline vocabulary, used by the table shortcut when the sink names no
// columns itself.
func NewDatabaseFromConfig(config DatabaseConfig, columns []record.Column) (*DatabaseSink, error) {
	if config.ConnectionString == "" && config.ConnectionStringRef == "" {
		return nil, errhandling.NewConfigError("database sink", "invalid configuration", ErrDatabaseOutputMissingConnStr)
	}
	if config.QueryFile != "" && config.Query == "" {
		if err := pathutil.ValidateFilePath(config.QueryFile); err != nil {
			return nil, errhandling.NewConfigError("database sink", "invalid queryFile", err)
		}
		data, err := os.ReadFile(config.QueryFile)
		if err != nil {
			return nil, errhandling.NewConfigError("database sink", "reading query file "+config.QueryFile, err)
		}
		config.Query = string(data)
	}
	if config.Query == "" && config.Table == "" {
		return nil, errhandling.NewConfigError("database sink", "invalid configuration", ErrDatabaseOutputMissingQuery)
	}
	if config.OnError == "" {
		config.OnError = OnErrorFail
	}
	if config.OnError != OnErrorFail && config.OnError != OnErrorSkip {
		return nil, errhandling.NewConfigError("database sink", fmt.Sprintf("unknown onError %q", config.OnError), nil)
	}
	if config.Query == "" && len(config.Columns) == 0 {
		for _, c := range columns {
			config.Columns = append(config.Columns, string(c))
		}
		if len(config.Columns) == 0 {
			return nil, errhandling.NewConfigError("database sink", "'table' requires 'columns' or pipeline columns", nil)
		}
	}

	timeout := defaultDatabaseOutputTimeout
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
		return nil, errhandling.NewConfigError("database sink", "opening connection", err)
	}

	s := &DatabaseSink{config: config, db: db, driver: driver, timeout: timeout}
	template := config.Query
	if template == "" {
		template = insertTemplate(config.Table, config.Columns)
	}
	s.query, s.params, err = bindTemplate(template, driver)
	if err != nil {
		_ = db.Close()
		return nil, errhandling.NewConfigError("database sink", "invalid query", err)
	}

	logger.Debug("database sink created",
		slog.String("driver", driver),
		slog.Int("params", len(s.params)),
		slog.Bool("transaction", config.Transaction),
		slog.String("on_error", config.OnError))

	return s, nil
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
	if v, ok := cfg["table"].(string); ok {
		config.Table = v
	}
	if raw, ok := cfg["columns"].([]interface{}); ok {
		for _, item := range raw {
			if s, ok := item.(string); ok && s != "" {
				config.Columns = append(config.Columns, s)
			}
		}
	}
	if v, ok := cfg["transaction"].(bool); ok {
		config.Transaction = v
	}
	if v, ok := cfg["onError"].(string); ok {
		config.OnError = v
	}
	switch v := cfg["timeoutMs"].(type) {
	case float64:
		config.TimeoutMs = int(v)
	case int:
		config.TimeoutMs = v
	}
	return config
}

// insertTemplate builds "INSERT INTO table (a, b) VALUES ({{a}}, {{b}})".
func insertTemplate(table string, columns []string) string {
	values := make([]string, len(columns))
	for i, c := range columns {
		values[i] = "{{" + c + "}}"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), strings.Join(values, ", "))
}

// bindTemplate replaces {{column}} placeholders with bind parameters and
// returns the columns in parameter order. Leftover braces are rejected so
// that no record text can reach the SQL string.
func bindTemplate(template, driver string) (string, []record.Column, error) {
	var sb strings.Builder
	var params []record.Column
	rest := template
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			return "", nil, errors.New("unmatched template placeholder in query: missing closing }}")
		}
		end += start
		name := strings.TrimSpace(rest[start+2 : end])
		name = strings.TrimPrefix(name, "record.")
		if name == "" {
			return "", nil, errors.New("empty template placeholder in query")
		}
		params = append(params, record.Column(name))
		sb.WriteString(rest[:start])
		sb.WriteString(database.FormatPlaceholder(driver, len(params)))
		rest = rest[end+2:]
	}
	sb.WriteString(rest)
	query := sb.String()
	if strings.Contains(query, "}}") {
		return "", nil, errors.New("unmatched template placeholders remain in query")
	}
	return query, params, nil
}

// bindValue renders a cell as a parameter: unset is NULL, sequences are
// joined with newlines as in CSV output.
func bindValue(c record.Cell) any {
	if c.IsUnset() {
		return nil
	}
	if !c.IsSequence() {
		if f, ok := c.Value().(float64); ok {
			return f
		}
	}
	return c.String()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Process executes the statement for rec and passes it through. With
// onError "skip" a failing record is reported as skipped instead.
func (s *DatabaseSink) Process(rec record.Record) (filter.Result, error) {
	if s.closed {
		return filter.Result{}, ErrClosed
	}

	var target execer = s.db
	if s.config.Transaction {
		if s.tx == nil {
			tx, err := s.db.BeginTx(context.Background(), nil)
			if err != nil {
				return filter.Result{}, database.ClassifyDatabaseError(err, s.driver, "begin", "", 0)
			}
			s.tx = tx
		}
		target = s.tx
	}

	args := make([]any, len(s.params))
	for i, col := range s.params {
		args[i] = bindValue(rec.Get(col))
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := target.ExecContext(ctx, s.query, args...); err != nil {
		dbErr := database.ClassifyDatabaseError(err, s.driver, "exec", s.query, len(args))
		if s.config.OnError == OnErrorSkip {
			logger.Warn("database sink rejected record", slog.String("error", dbErr.Error()))
			return filter.Skip(dbErr.Message), nil
		}
		return filter.Result{}, dbErr
	}
	s.written++
	return filter.Continue(rec), nil
}

// Close commits the run transaction, if any, and closes the connection.
func (s *DatabaseSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	if s.tx != nil {
		if err := s.tx.Commit(); err != nil {
			errs = append(errs, database.ClassifyDatabaseError(err, s.driver, "commit", "", 0))
		}
		s.tx = nil
	}
	errs = append(errs, s.db.Close())
	if err := errors.Join(errs...); err != nil {
		return err
	}
	logger.Info("database output saved", slog.String("driver", s.driver), slog.Int("records", s.written))
	return nil
}

// Abort rolls back the run transaction, if any, and closes the connection.
func (s *DatabaseSink) Abort() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	if s.tx != nil {
		if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, err)
		}
		s.tx = nil
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

var (
	_ Sink           = (*DatabaseSink)(nil)
	_ filter.Aborter = (*DatabaseSink)(nil)
)
