// Package sqlite implements the datastore contracts over a single-file
// SQLite database in WAL mode, tuned for one writer and many readers.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"runtime"
	"time"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/sqlite3" // register the sqlite3 dialect
	"github.com/quay/zlog"
	"github.com/remind101/migrate"
	_ "modernc.org/sqlite" // register the sqlite driver

	"github.com/edusentry/edusentry/datastore"
	"github.com/edusentry/edusentry/datastore/sqlite/migrations"
)

var _ datastore.Store = (*Store)(nil)

var dialect = goqu.Dialect("sqlite3")

// Store is a handle to the incident database.
//
// A Store must not cross goroutines; every task that needs the database
// opens a handle of its own.
type Store struct {
	db       *sql.DB
	readonly bool
}

type openOpts struct {
	readonly    bool
	busyTimeout time.Duration
}

// Option adjusts how Open sets up the handle.
type Option func(*openOpts)

// ReadOnly opens a handle that never takes write locks and uses the shorter
// reader busy-timeout. Read-only handles skip schema migrations.
func ReadOnly() Option {
	return func(o *openOpts) { o.readonly = true }
}

// WithBusyTimeout overrides the default busy-timeout: 30 seconds for
// writers, 5 seconds for readers.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *openOpts) { o.busyTimeout = d }
}

// Open opens the SQLite database at path.
//
// Writer handles run schema migrations on open. The returned Store must have
// its Close method called, or the process may panic.
func Open(ctx context.Context, path string, opt ...Option) (*Store, error) {
	var o openOpts
	for _, f := range opt {
		f(&o)
	}
	if o.busyTimeout == 0 {
		o.busyTimeout = 30 * time.Second
		if o.readonly {
			o.busyTimeout = 5 * time.Second
		}
	}
	pragmas := []string{
		"journal_mode(WAL)",
		"foreign_keys(1)",
		fmt.Sprintf("busy_timeout(%d)", o.busyTimeout.Milliseconds()),
	}
	if o.readonly {
		pragmas = append(pragmas, "query_only(1)")
	}
	u := url.URL{
		Scheme: `file`,
		Opaque: path,
		RawQuery: url.Values{
			"_pragma": pragmas,
		}.Encode(),
	}
	db, err := sql.Open(`sqlite`, u.String())
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if !o.readonly {
		migrator := migrate.NewMigrator(db)
		migrator.Table = migrations.MigrationTable
		if err := migrator.Exec(migrate.Up, migrations.Migrations...); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to perform migrations: %w", err)
		}
	}
	s := Store{db: db, readonly: o.readonly}
	_, file, line, _ := runtime.Caller(1)
	runtime.SetFinalizer(&s, func(s *Store) {
		panic(fmt.Sprintf("%s:%d: store not closed", file, line))
	})
	zlog.Debug(ctx).
		Str("path", path).
		Bool("readonly", o.readonly).
		Msg("opened incident database")
	return &s, nil
}

// DB exposes the underlying handle for read-only traversals that live
// outside the datastore contracts, such as CSV export. Callers must not
// write through it.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases held resources.
func (s *Store) Close() error {
	runtime.SetFinalizer(s, nil)
	return s.db.Close()
}

// Initialized reports whether the schema is present.
func (s *Store) Initialized(ctx context.Context) (bool, error) {
	const query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'incidents';`
	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Timestamps are stored as RFC 3339 UTC text; the zero time is stored as the
// empty string.

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func decodeTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// String sets and other structured fields ride in TEXT columns as JSON.

func encodeStrings(vs []string) (string, error) {
	if len(vs) == 0 {
		return `[]`, nil
	}
	b, err := json.Marshal(vs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeStrings(s string) ([]string, error) {
	if s == "" || s == `[]` {
		return nil, nil
	}
	var vs []string
	if err := json.Unmarshal([]byte(s), &vs); err != nil {
		return nil, err
	}
	return vs, nil
}
