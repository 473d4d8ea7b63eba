// Package wiper drops all user tables in a target database before a clean
// restore.
package wiper

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgkeeper/pgkeeper/internal/models"
	"github.com/rs/zerolog"
)

// WipeError wraps whatever failed during a schema wipe. When it is returned,
// the transaction was rolled back and nothing was dropped.
type WipeError struct {
	Cause error
}

func (e *WipeError) Error() string {
	return fmt.Sprintf("schema wipe failed: %v", e.Cause)
}

func (e *WipeError) Unwrap() error {
	return e.Cause
}

// Service defines the interface for the pre-restore schema wipe.
type Service interface {
	WipeAllTables(ctx context.Context, conn models.ConnectionConfig) error
}

// OpenFunc opens a database handle for the given DSN. Swappable in tests.
type OpenFunc func(dsn string) (*sql.DB, error)

// Impl implements the wiper Service using lib/pq.
type Impl struct {
	open   OpenFunc
	logger zerolog.Logger
}

// New creates a new wiper service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		open: func(dsn string) (*sql.DB, error) {
			return sql.Open("postgres", dsn)
		},
		logger: logger,
	}
}

// NewWithOpen creates a new wiper service with a custom open function (for
// testing).
func NewWithOpen(logger zerolog.Logger, open OpenFunc) *Impl {
	return &Impl{open: open, logger: logger}
}

// listTablesQuery enumerates user tables in every non-system schema. The
// original tool only looked at public, but a custom-format dump can carry
// other schemas and restoring it over their surviving tables would defeat
// the clean step.
const listTablesQuery = `
SELECT schemaname, tablename
FROM pg_tables
WHERE schemaname NOT IN ('pg_catalog', 'information_schema')
ORDER BY schemaname, tablename`

// WipeAllTables drops every user table with CASCADE inside a single
// transaction. All-or-nothing: any failure rolls the whole wipe back, so a
// subsequent restore never runs against a half-wiped database.
func (s *Impl) WipeAllTables(ctx context.Context, conn models.ConnectionConfig) error {
	db, err := s.open(connectionDSN(conn))
	if err != nil {
		return &WipeError{Cause: fmt.Errorf("opening connection: %w", err)}
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return &WipeError{Cause: fmt.Errorf("connecting to %s:%d/%s: %w", conn.Host, conn.Port, conn.DBName, err)}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &WipeError{Cause: fmt.Errorf("beginning transaction: %w", err)}
	}

	tables, err := listTables(ctx, tx)
	if err != nil {
		_ = tx.Rollback()
		return &WipeError{Cause: err}
	}

	s.logger.Info().
		Str("connection", conn.Name).
		Int("tables", len(tables)).
		Msg("dropping all user tables")

	for _, t := range tables {
		if _, err := tx.ExecContext(ctx, dropStatement(t.schema, t.name)); err != nil {
			_ = tx.Rollback()
			return &WipeError{Cause: fmt.Errorf("dropping %s.%s: %w", t.schema, t.name, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &WipeError{Cause: fmt.Errorf("committing wipe: %w", err)}
	}

	s.logger.Info().
		Str("connection", conn.Name).
		Int("tables", len(tables)).
		Msg("schema wipe committed")

	return nil
}

type table struct {
	schema string
	name   string
}

func listTables(ctx context.Context, tx *sql.Tx) ([]table, error) {
	rows, err := tx.QueryContext(ctx, listTablesQuery)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []table
	for rows.Next() {
		var t table
		if err := rows.Scan(&t.schema, &t.name); err != nil {
			return nil, fmt.Errorf("scanning table row: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tables: %w", err)
	}
	return tables, nil
}

// dropStatement builds the CASCADE drop for one table with quoted
// identifiers.
func dropStatement(schema, name string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s.%s CASCADE",
		pq.QuoteIdentifier(schema), pq.QuoteIdentifier(name))
}

// connectionDSN builds the lib/pq key/value DSN for a connection.
func connectionDSN(conn models.ConnectionConfig) string {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s sslmode=disable",
		conn.Host, conn.Port, conn.DBName, conn.User)
	if conn.Password != "" {
		dsn += fmt.Sprintf(" password=%s", conn.Password)
	}
	return dsn
}
