package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DB is the connection pool shared by every repository, plus the dialect
// details the repositories need to build portable SQL.
type DB struct {
	*sql.DB
	driver string
	now    func() time.Time
}

type Option func(*DB)

// WithClock overrides the timestamp source used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(d *DB) { d.now = now }
}

// Open connects to url with the given driver and verifies the connection.
func Open(ctx context.Context, driver, url string, opts ...Option) (*DB, error) {
	sqlDriver := driver
	switch driver {
	case DriverPostgres:
	case DriverSQLite:
		sqlDriver = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// SQLite allows a single writer; an in-memory database also only
		// exists on the connection that created it.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(db, driver, opts...), nil
}

func New(db *sql.DB, driver string, opts ...Option) *DB {
	d := &DB{DB: db, driver: driver, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *DB) Driver() string { return d.driver }

func (d *DB) timestamp() time.Time {
	return d.now().UTC()
}

// rebind rewrites PostgreSQL style $N placeholders into SQLite's ?N form.
func (d *DB) rebind(query string) string {
	if d.driver != DriverSQLite {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

// timeLayouts are the text encodings a timestamp may come back in when the
// driver does not hand us a time.Time (SQLite RETURNING, aggregates).
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

type timeScanner struct {
	dst *time.Time
}

// scanTime adapts a *time.Time for Scan so both dialects decode to UTC.
func scanTime(dst *time.Time) sql.Scanner {
	return timeScanner{dst: dst}
}

func (s timeScanner) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s.dst = time.Time{}
		return nil
	case time.Time:
		*s.dst = v.UTC()
		return nil
	case []byte:
		return s.parse(string(v))
	case string:
		return s.parse(v)
	}
	return fmt.Errorf("cannot scan %T into time.Time", src)
}

func (s timeScanner) parse(raw string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			*s.dst = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", raw)
}

func nullableString(s *string) interface{} {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return *s
}
