package db

import (
	"database/sql"

	"github.com/sessiongraph/sessiongraph/config"
)

// QueryParam represents a parameter for database queries
type QueryParam interface{}

// Querier is satisfied by both *sql.DB and *sql.Tx
type Querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
	Exec(query string, args ...any) (sql.Result, error)
}

// RowScanner is satisfied by both *sql.Row and *sql.Rows, so one scanner
// function can serve single- and multi-row queries
type RowScanner interface {
	Scan(dest ...any) error
}

var shouldLogQueries bool

func init() {
	cfg := config.Get()
	shouldLogQueries = cfg.DBLogQueries
}

func logQuery(kind string, sql string, params []QueryParam) {
	if !shouldLogQueries {
		return
	}
	logger.Debug().
		Str("kind", kind).
		Str("sql", sql).
		Interface("params", params).
		Msg("db query")
}

// Select runs a SELECT query returning multiple rows
// The scanner function is called for each row to map results
func Select[T any](q Querier, query string, params []QueryParam, scanner func(RowScanner) (T, error)) ([]T, error) {
	logQuery("select", query, params)

	args := make([]any, len(params))
	for i, p := range params {
		args[i] = p
	}

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []T
	for rows.Next() {
		item, err := scanner(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// SelectOne runs a SELECT query returning a single row (or nil if not found)
func SelectOne[T any](q Querier, query string, params []QueryParam, scanner func(RowScanner) (T, error)) (*T, error) {
	logQuery("get", query, params)

	args := make([]any, len(params))
	for i, p := range params {
		args[i] = p
	}

	row := q.QueryRow(query, args...)
	result, err := scanner(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// Run executes an INSERT/UPDATE/DELETE query
func Run(q Querier, query string, params ...QueryParam) (sql.Result, error) {
	logQuery("run", query, params)

	args := make([]any, len(params))
	for i, p := range params {
		args[i] = p
	}

	return q.Exec(query, args...)
}

// Exists checks if a row exists matching the query
func Exists(q Querier, query string, params ...QueryParam) (bool, error) {
	logQuery("exists", query, params)

	args := make([]any, len(params))
	for i, p := range params {
		args[i] = p
	}

	var exists bool
	err := q.QueryRow("SELECT EXISTS("+query+")", args...).Scan(&exists)
	if err != nil {
		return false, err
	}

	return exists, nil
}

// Count returns the count of rows matching the query
func Count(q Querier, query string, params ...QueryParam) (int64, error) {
	logQuery("count", query, params)

	args := make([]any, len(params))
	for i, p := range params {
		args[i] = p
	}

	var count int64
	err := q.QueryRow(query, args...).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}
