package database

import (
	"errors"
	"fmt"
	"strings"
)

// Error categories for database operations
const (
	CategoryConnection = "connection"
	CategoryQuery      = "query"
	CategoryConstraint = "constraint"
	CategoryTimeout    = "timeout"
)

// maxQueryLength caps the query text kept in errors and logs.
const maxQueryLength = 500

// DatabaseError represents a categorized database error with context.
//
//nolint:revive // DatabaseError is a clear, descriptive name that doesn't stutter in practice
type DatabaseError struct {
	Category    string // connection, query, constraint, timeout
	Operation   string // connect, select, exec, commit...
	Message     string
	Query       string // truncated, never carries bound values
	ParamCount  int
	OriginalErr error
}

func (e *DatabaseError) Error() string {
	msg := fmt.Sprintf("database %s error in %s: %s", e.Category, e.Operation, e.Message)
	if e.OriginalErr != nil {
		msg += fmt.Sprintf(" (original: %v)", e.OriginalErr)
	}
	return msg
}

func (e *DatabaseError) Unwrap() error {
	return e.OriginalErr
}

// NewConnectionError creates a connection error.
func NewConnectionError(message string, originalErr error) *DatabaseError {
	return &DatabaseError{Category: CategoryConnection, Operation: "connect", Message: message, OriginalErr: originalErr}
}

// NewQueryError creates a query error.
func NewQueryError(operation, message, query string, paramCount int, originalErr error) *DatabaseError {
	return &DatabaseError{
		Category:    CategoryQuery,
		Operation:   operation,
		Message:     message,
		Query:       truncateQuery(query),
		ParamCount:  paramCount,
		OriginalErr: originalErr,
	}
}

// ClassifyDatabaseError classifies a raw driver error into a DatabaseError
// by inspecting its message and the driver's error codes.
func ClassifyDatabaseError(err error, driver, operation, query string, paramCount int) *DatabaseError {
	if err == nil {
		return nil
	}
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return dbErr
	}

	msg := strings.ToLower(err.Error())
	classified := NewQueryError(operation, err.Error(), query, paramCount, err)

	switch {
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		classified.Category = CategoryTimeout
		classified.Message = "operation timed out"
	case containsAny(msg, "connection refused", "connection reset", "no such host",
		"broken pipe", "bad connection", "dial tcp", "unable to open database file", "out of memory (14)"):
		classified.Category = CategoryConnection
		classified.Message = "connection failed or lost"
	case isConstraintError(msg, driver):
		classified.Category = CategoryConstraint
		classified.Message = constraintMessage(msg)
	case isSyntaxError(msg, driver):
		classified.Message = "SQL syntax error"
	}
	return classified
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func isConstraintError(msg, driver string) bool {
	if containsAny(msg,
		"unique constraint",
		"duplicate key",
		"duplicate entry",
		"violates unique",
		"foreign key constraint",
		"violates check constraint",
		"violates not-null",
		"not null constraint",
		"cannot be null",
		"constraint failed",
	) {
		return true
	}
	switch driver {
	case DriverPostgres:
		return containsAny(msg, "23502", "23503", "23505", "23514")
	case DriverMySQL:
		return containsAny(msg, "1062", "1216", "1217", "1451", "1452")
	}
	return false
}

func isSyntaxError(msg, driver string) bool {
	if containsAny(msg, "syntax error", "parse error", "at or near") {
		return true
	}
	switch driver {
	case DriverPostgres:
		return strings.Contains(msg, "42601")
	case DriverMySQL:
		return strings.Contains(msg, "1064")
	}
	return false
}

func constraintMessage(msg string) string {
	switch {
	case containsAny(msg, "unique", "duplicate"):
		return "unique constraint violation: duplicate value exists"
	case strings.Contains(msg, "foreign key"):
		return "foreign key constraint violation"
	case containsAny(msg, "not-null", "not null", "cannot be null"):
		return "not-null constraint violation: required column is empty"
	case strings.Contains(msg, "check constraint"):
		return "check constraint violation"
	}
	return "constraint violation"
}

func truncateQuery(query string) string {
	if len(query) > maxQueryLength {
		return query[:maxQueryLength] + "... (truncated)"
	}
	return query
}

// GetDatabaseError extracts the DatabaseError from an error chain.
func GetDatabaseError(err error) *DatabaseError {
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return dbErr
	}
	return nil
}
