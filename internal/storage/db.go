package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between the supported drivers.
type Dialect struct {
	Name string
	// AutoID is the column definition of an auto-incrementing integer key.
	AutoID string
	// Numbered placeholders ($1, $2) instead of '?'.
	Numbered bool
}

var (
	SQLite   = Dialect{Name: "sqlite", AutoID: "INTEGER PRIMARY KEY AUTOINCREMENT"}
	Postgres = Dialect{Name: "postgres", AutoID: "BIGSERIAL PRIMARY KEY", Numbered: true}
)

// Rebind rewrites '?' placeholders for dialects that number them.
// Question marks inside single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DB is a database handle plus the dialect queries must be written for.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open connects to the configured store and bootstraps its schema.
// For sqlite target is a file path; for postgres it is a DSN.
func Open(ctx context.Context, driver, target string) (*DB, error) {
	switch driver {
	case "", SQLite.Name:
		db, err := OpenSQLite(ctx, target)
		if err != nil {
			return nil, err
		}
		return &DB{DB: db, Dialect: SQLite}, nil
	case Postgres.Name:
		db, err := OpenPostgres(ctx, target)
		if err != nil {
			return nil, err
		}
		return &DB{DB: db, Dialect: Postgres}, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

// ExecContext runs a '?'-style statement after rebinding it for the dialect.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.DB.ExecContext(ctx, db.Dialect.Rebind(query), args...)
}

// QueryContext runs a '?'-style query after rebinding it for the dialect.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.DB.QueryContext(ctx, db.Dialect.Rebind(query), args...)
}

// QueryRowContext runs a '?'-style single-row query after rebinding it.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.DB.QueryRowContext(ctx, db.Dialect.Rebind(query), args...)
}
