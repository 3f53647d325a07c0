package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/workspace/index"
	"github.com/dl-alexandre/drivews/internal/workspace/snapshot"
)

const (
	metaSchemaVersion  = "schema_version"
	metaLastSyncTime   = "last_sync_time"
	metaTrackedFolders = "tracked_folders"
	metaRemoteBackend  = "remote_backend"
)

// Meta is workspace-wide bookkeeping.
type Meta struct {
	LastSyncTime   time.Time
	TrackedFolders []string
	RemoteBackend  string
}

// State is everything a command loads at start and flushes at the end.
type State struct {
	Remote []snapshot.RemoteEntry
	Local  []index.LocalEntry
	Meta   Meta
}

// Load reads both stores and the workspace metadata.
func (d *DB) Load(ctx context.Context) (*State, error) {
	remote, err := d.listRemote(ctx)
	if err != nil {
		return nil, wserrors.StoreCorruption("load snapshot", err)
	}
	local, err := d.listLocal(ctx)
	if err != nil {
		return nil, wserrors.StoreCorruption("load index", err)
	}
	meta, err := d.loadMeta(ctx)
	if err != nil {
		return nil, wserrors.StoreCorruption("load metadata", err)
	}
	return &State{Remote: remote, Local: local, Meta: meta}, nil
}

// Save replaces both stores and the metadata in one transaction. An
// interrupted save leaves the previous committed state.
func (d *DB) Save(ctx context.Context, st *State) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return wserrors.LocalIO("save store", d.path, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			err = wserrors.LocalIO("save store", d.path, err)
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM remote_entries`); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM local_entries`); err != nil {
		return err
	}

	remoteStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO remote_entries (path, size, modified_time, content_hash, is_dir)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer remoteStmt.Close()
	for _, e := range st.Remote {
		if _, err = remoteStmt.ExecContext(ctx, e.Path, e.Size, unixNano(e.ModifiedTime), e.ContentHash, boolToInt(e.IsDir)); err != nil {
			return err
		}
	}

	localStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO local_entries (
			path, state, local_mtime, local_size, local_hash, base_remote_hash, base_local_hash,
			explicit, conflict_remote_hash, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer localStmt.Close()
	for _, e := range st.Local {
		if _, err = localStmt.ExecContext(ctx, e.Path, e.State.String(), unixNano(e.LocalModTime), e.LocalSize, e.LocalHash,
			e.BaseRemoteHash, e.BaseLocalHash, boolToInt(e.Explicit), e.ConflictRemoteHash, unixNano(e.UpdatedAt)); err != nil {
			return err
		}
	}

	folders, err := json.Marshal(st.Meta.TrackedFolders)
	if err != nil {
		return err
	}
	meta := map[string]string{
		metaLastSyncTime:   strconv.FormatInt(unixNano(st.Meta.LastSyncTime), 10),
		metaTrackedFolders: string(folders),
		metaRemoteBackend:  st.Meta.RemoteBackend,
	}
	for k, v := range meta {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO workspace_meta (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value=excluded.value
		`, k, v); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d *DB) listRemote(ctx context.Context) (entries []snapshot.RemoteEntry, err error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT path, size, modified_time, content_hash, is_dir FROM remote_entries ORDER BY path
	`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		var e snapshot.RemoteEntry
		var mtime int64
		var isDir int
		if err := rows.Scan(&e.Path, &e.Size, &mtime, &e.ContentHash, &isDir); err != nil {
			return nil, err
		}
		e.ModifiedTime = fromUnixNano(mtime)
		e.IsDir = isDir != 0
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (d *DB) listLocal(ctx context.Context) (entries []index.LocalEntry, err error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT path, state, local_mtime, local_size, local_hash, base_remote_hash, base_local_hash,
		       explicit, conflict_remote_hash, updated_at
		FROM local_entries ORDER BY path
	`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		entry, err := scanLocal(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanLocal(scanner interface {
	Scan(dest ...interface{}) error
}) (index.LocalEntry, error) {
	var e index.LocalEntry
	var state string
	var mtime, updated int64
	var explicit int
	err := scanner.Scan(&e.Path, &state, &mtime, &e.LocalSize, &e.LocalHash, &e.BaseRemoteHash, &e.BaseLocalHash,
		&explicit, &e.ConflictRemoteHash, &updated)
	if err != nil {
		return index.LocalEntry{}, err
	}
	if e.State, err = index.ParseState(state); err != nil {
		return index.LocalEntry{}, err
	}
	e.LocalModTime = fromUnixNano(mtime)
	e.UpdatedAt = fromUnixNano(updated)
	e.Explicit = explicit != 0
	return e, nil
}

func (d *DB) loadMeta(ctx context.Context) (meta Meta, err error) {
	rows, err := d.db.QueryContext(ctx, `SELECT key, value FROM workspace_meta`)
	if err != nil {
		return Meta{}, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Meta{}, err
		}
		switch k {
		case metaLastSyncTime:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return Meta{}, err
			}
			meta.LastSyncTime = fromUnixNano(n)
		case metaTrackedFolders:
			if err := json.Unmarshal([]byte(v), &meta.TrackedFolders); err != nil {
				return Meta{}, err
			}
		case metaRemoteBackend:
			meta.RemoteBackend = v
		}
	}
	return meta, rows.Err()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
