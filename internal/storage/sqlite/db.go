// Package sqlite implements the storage interfaces on SQLite via
// modernc.org/sqlite (pure Go, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"runtime"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store backs the gateway with two pools over one database file.
//
// All mutations go through write, which is capped at a single connection.
// That single connection is the serialization domain for the token ledger:
// two turns debiting the same balance queue on it instead of fighting over
// the file lock, and the turn transaction holds it from user-message insert
// through commit. Reads run on the read pool and, under WAL, never block on
// the writer.
type Store struct {
	write *sql.DB
	read  *sql.DB
}

// New opens the database at dsn, applies embedded migrations, and returns a
// ready Store.
func New(dsn string) (*Store, error) {
	uri := connURI(dsn)

	write, err := open(uri, 1)
	if err != nil {
		return nil, fmt.Errorf("open write pool: %w", err)
	}
	read, err := open(uri, max(4, runtime.NumCPU()))
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read pool: %w", err)
	}

	if err := migrate(write); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return &Store{write: write, read: read}, nil
}

// connURI builds the connection string. busy_timeout matters even with the
// single-writer cap: goose takes its own lock during migration, and the read
// pool's schema loads can briefly collide with checkpoints.
func connURI(dsn string) string {
	const pragmas = "_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)"
	if dsn == ":memory:" {
		// shared cache so both pools see the same in-memory database
		return "file::memory:?mode=memory&cache=shared&" + pragmas
	}
	return "file:" + dsn + "?" + pragmas
}

func open(uri string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConns)
	return db, nil
}

// migrate applies the embedded goose migrations on the write pool. fs.Sub
// strips the migrations/ prefix so goose sees the files at the FS root.
func migrate(db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("sub fs: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	_, err = p.Up(context.Background())
	return err
}

// Ping reports whether the database answers on the read pool.
func (s *Store) Ping(ctx context.Context) error {
	return s.read.PingContext(ctx)
}

// Close releases both pools.
func (s *Store) Close() error {
	return errors.Join(s.write.Close(), s.read.Close())
}
