// Package sysroot stores and resolves core-library MIR bodies. A
// sysroot is a SQLite database of CBOR-encoded bodies keyed by symbol
// name; the interpreter resolves calls into the core library against
// it lazily, one body at a time.
package sysroot

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/sable-lang/sable/interp"
	"github.com/sable-lang/sable/mir"
)

// ErrNotFound indicates the requested symbol has no body in the store.
var ErrNotFound = errors.New("sysroot: body not found")

// Store resolves MIR bodies from a sysroot database. Decoded bodies
// are cached; a body is decoded at most once per store.
type Store struct {
	db   *sql.DB
	path string

	mu    sync.Mutex
	cache map[string]*mir.Body

	log commonlog.Logger
}

// Open opens a sysroot database for resolution.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sysroot: opening %s: %w", path, err)
	}
	// Fail now, not at the first Resolve, if the file is not a store.
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM bodies`).Scan(&n); err != nil {
		db.Close()
		return nil, fmt.Errorf("sysroot: %s is not a sysroot store: %w", path, err)
	}
	s := &Store{
		db:    db,
		path:  path,
		cache: make(map[string]*mir.Body),
		log:   commonlog.GetLogger("sable.sysroot"),
	}
	s.log.Debugf("opened %s with %d bodies", path, n)
	return s, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Resolve returns the body for the named symbol, decoding and caching
// it on first use. Unknown symbols return ErrNotFound.
func (s *Store) Resolve(name string) (*mir.Body, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.cache[name]; ok {
		return b, nil
	}

	var blob []byte
	err := s.db.QueryRow(`SELECT data FROM bodies WHERE name = ?`, name).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("sysroot: querying %q: %w", name, err)
	}
	body, err := mir.DecodeBody(blob)
	if err != nil {
		return nil, fmt.Errorf("sysroot: body %q: %w", name, err)
	}
	s.cache[name] = body
	return body, nil
}

// Resolver adapts the store to the interpreter's resolver interface,
// translating ErrNotFound into the sentinel the machine checks for.
func (s *Store) Resolver() interp.BodyResolver {
	return resolver{s}
}

type resolver struct {
	store *Store
}

func (r resolver) Resolve(name string) (*mir.Body, error) {
	b, err := r.store.Resolve(name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, interp.ErrBodyNotFound
		}
		return nil, err
	}
	return b, nil
}

// Build writes a sysroot store containing the given bodies, replacing
// any existing file contents. The toolchain and the test suites both
// produce stores through it.
func Build(path string, bodies []*mir.Body) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("sysroot: creating %s: %w", path, err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS bodies (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`); err != nil {
		return fmt.Errorf("sysroot: creating schema: %w", err)
	}
	if _, err := db.Exec(`DELETE FROM bodies`); err != nil {
		return fmt.Errorf("sysroot: clearing store: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("sysroot: begin: %w", err)
	}
	for _, b := range bodies {
		blob, err := mir.EncodeBody(b)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sysroot: encoding %q: %w", b.Name, err)
		}
		if _, err := tx.Exec(`INSERT INTO bodies (name, data) VALUES (?, ?)`, b.Name, blob); err != nil {
			tx.Rollback()
			return fmt.Errorf("sysroot: inserting %q: %w", b.Name, err)
		}
	}
	return tx.Commit()
}
