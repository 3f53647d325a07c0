// Package store persists the Snapshot Store and Workspace Index in a single
// sqlite database under the workspace state directory.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/utils"
	_ "modernc.org/sqlite"
)

const schemaVersion = "1"

type DB struct {
	db   *sql.DB
	path string
}

// Path returns the database location for the workspace rooted at root.
func Path(root string) string {
	return filepath.Join(root, utils.StateDirName, utils.StateDBName)
}

// Open opens or creates the database at path. An unreadable or damaged
// database is a store corruption error.
func Open(ctx context.Context, path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, wserrors.LocalIO("open store", path, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wserrors.StoreCorruption("open store", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	instance := &DB{db: db, path: path}
	if err := instance.check(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := instance.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, wserrors.StoreCorruption("migrate store", err)
	}
	if err := instance.checkVersion(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return instance, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schemaSQL); err != nil {
		return err
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO workspace_meta (key, value) VALUES (?, ?)`, metaSchemaVersion, schemaVersion)
	return err
}

func (d *DB) check(ctx context.Context) error {
	var result string
	if err := d.db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&result); err != nil {
		return wserrors.StoreCorruption("integrity check", err)
	}
	if result != "ok" {
		return wserrors.StoreCorruption("integrity check", fmt.Errorf("%s", result))
	}
	return nil
}

func (d *DB) checkVersion(ctx context.Context) error {
	var v string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM workspace_meta WHERE key = ?`, metaSchemaVersion).Scan(&v)
	if err != nil {
		return wserrors.StoreCorruption("schema version", err)
	}
	if v != schemaVersion {
		return wserrors.StoreCorruption("schema version", fmt.Errorf("unsupported schema version %q", v))
	}
	return nil
}

// Remove deletes the database at path along with any sqlite side files.
func Remove(path string) error {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return wserrors.LocalIO("reset", p, err)
		}
	}
	return nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS workspace_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS remote_entries (
	path TEXT PRIMARY KEY,
	size INTEGER NOT NULL,
	modified_time INTEGER NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	is_dir INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS local_entries (
	path TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	local_mtime INTEGER NOT NULL,
	local_size INTEGER NOT NULL,
	local_hash TEXT NOT NULL DEFAULT '',
	base_remote_hash TEXT NOT NULL DEFAULT '',
	base_local_hash TEXT NOT NULL DEFAULT '',
	explicit INTEGER NOT NULL DEFAULT 0,
	conflict_remote_hash TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_local_state ON local_entries(state);
`
