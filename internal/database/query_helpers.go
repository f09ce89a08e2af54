package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Logger is the subset of utils.LogsManager the query helpers use
type Logger interface {
	Error(msg, category string)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// QueryRowSingle runs a single-row query. It returns nil and no error when
// nothing matches.
func QueryRowSingle[T any](
	ctx context.Context,
	db *sql.DB,
	query string,
	scanFunc func(rowScanner) (*T, error),
	logger Logger,
	logContext string,
	args ...interface{},
) (*T, error) {
	result, err := scanFunc(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to query row: %v", err), logContext)
		return nil, err
	}

	return result, nil
}

// QueryRows runs a multi-row query. Any scan failure fails the whole query.
func QueryRows[T any](
	ctx context.Context,
	db *sql.DB,
	query string,
	scanFunc func(rowScanner) (*T, error),
	logger Logger,
	logContext string,
	args ...interface{},
) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to query rows: %v", err), logContext)
		return nil, err
	}
	defer rows.Close()

	var results []*T
	for rows.Next() {
		result, err := scanFunc(rows)
		if err != nil {
			logger.Error(fmt.Sprintf("Failed to scan row: %v", err), logContext)
			return nil, err
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		logger.Error(fmt.Sprintf("Error iterating rows: %v", err), logContext)
		return nil, err
	}

	return results, nil
}

// ExecAffectedRows runs an UPDATE or DELETE and returns how many rows it touched
func ExecAffectedRows(
	ctx context.Context,
	db *sql.DB,
	query string,
	logger Logger,
	logContext string,
	args ...interface{},
) (int64, error) {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to execute query: %v", err), logContext)
		return 0, err
	}

	return result.RowsAffected()
}

// ScanNullableString converts sql.NullString to string.
// Returns empty string if null.
func ScanNullableString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
