// Package snapshot holds the last known state of every tracked remote path.
package snapshot

import (
	"fmt"
	"sort"
	"time"

	"github.com/dl-alexandre/drivews/internal/remote"
)

// RemoteEntry is what the remote last reported for one path.
type RemoteEntry struct {
	Path         string
	Size         int64
	ModifiedTime time.Time
	ContentHash  string
	IsDir        bool
}

// Version identifies the remote content. It is the content hash when the
// remote exposes one, otherwise a size and modification-time fingerprint.
func (e RemoteEntry) Version() string {
	if e.ContentHash != "" {
		return e.ContentHash
	}
	return Fingerprint(e.Size, e.ModifiedTime)
}

// Hashed reports whether Version is a real content hash.
func (e RemoteEntry) Hashed() bool {
	return e.ContentHash != ""
}

// Fingerprint is the version of content the remote reports no hash for.
func Fingerprint(size int64, modTime time.Time) string {
	return fmt.Sprintf("size=%d;mtime=%d", size, modTime.Unix())
}

// FromListing converts a listing item.
func FromListing(e remote.Entry) RemoteEntry {
	return RemoteEntry{
		Path:         e.Path,
		Size:         e.Size,
		ModifiedTime: e.ModifiedTime.UTC(),
		ContentHash:  e.ContentHash,
		IsDir:        e.IsDir,
	}
}

// FromUpload builds the entry the remote holds after a successful upload.
func FromUpload(p string, res remote.UploadResult) RemoteEntry {
	return RemoteEntry{
		Path:         p,
		Size:         res.Size,
		ModifiedTime: res.ModifiedTime.UTC(),
		ContentHash:  res.ContentHash,
	}
}

// Store is the in-memory Snapshot Store. It is not safe for concurrent use;
// only the coordinating goroutine touches it.
type Store struct {
	entries map[string]RemoteEntry
	dirty   bool
}

// New returns a store holding entries.
func New(entries ...RemoteEntry) *Store {
	s := &Store{entries: make(map[string]RemoteEntry, len(entries))}
	for _, e := range entries {
		s.entries[e.Path] = e
	}
	return s
}

func (s *Store) Get(p string) (RemoteEntry, bool) {
	e, ok := s.entries[p]
	return e, ok
}

func (s *Store) Put(e RemoteEntry) {
	s.entries[e.Path] = e
	s.dirty = true
}

func (s *Store) Delete(p string) {
	if _, ok := s.entries[p]; ok {
		delete(s.entries, p)
		s.dirty = true
	}
}

// ReplaceUnder records a fresh listing of dir. Entries previously known
// under dir within maxDepth (0 = unlimited) and absent from listing are
// dropped; deeper entries were not observed and are kept.
func (s *Store) ReplaceUnder(dir string, maxDepth int, listing []RemoteEntry) {
	for p := range s.entries {
		depth := remote.Depth(dir, p)
		if depth < 0 || (maxDepth > 0 && depth > maxDepth) {
			continue
		}
		delete(s.entries, p)
	}
	for _, e := range listing {
		s.entries[e.Path] = e
	}
	s.dirty = true
}

// Entries returns all entries sorted by path.
func (s *Store) Entries() []RemoteEntry {
	out := make([]RemoteEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (s *Store) Len() int { return len(s.entries) }

// Dirty reports whether the store changed since it was loaded.
func (s *Store) Dirty() bool { return s.dirty }
