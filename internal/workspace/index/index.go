// Package index is the Workspace Index: per-path local state and the
// Unopened/Opened/Conflicted state machine.
package index

import (
	"fmt"
	"sort"
	"time"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
)

// State is the lifecycle state of a tracked path.
type State int

const (
	Unopened State = iota
	Opened
	Conflicted
)

func (s State) String() string {
	switch s {
	case Unopened:
		return "unopened"
	case Opened:
		return "opened"
	case Conflicted:
		return "conflicted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, error) {
	switch s {
	case "unopened":
		return Unopened, nil
	case "opened":
		return Opened, nil
	case "conflicted":
		return Conflicted, nil
	}
	return 0, fmt.Errorf("unknown state %q", s)
}

// LocalEntry is the Workspace Index record for one path.
type LocalEntry struct {
	Path         string    `json:"path"`
	State        State     `json:"state"`
	LocalModTime time.Time `json:"localModTime"`
	LocalSize    int64     `json:"localSize"`
	// LocalHash is the md5 of the bytes last observed on disk.
	LocalHash string `json:"localHash,omitempty"`
	// BaseRemoteHash is the remote version the local copy derives from.
	BaseRemoteHash string `json:"baseRemoteHash,omitempty"`
	// BaseLocalHash is the local md5 when the baseline was taken.
	BaseLocalHash string `json:"baseLocalHash,omitempty"`
	// Explicit marks a path opened by the user rather than by detection.
	Explicit bool `json:"explicit"`
	// ConflictRemoteHash is the remote version seen when the conflict was
	// detected.
	ConflictRemoteHash string    `json:"conflictRemoteHash,omitempty"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// HasBaseline reports whether local and remote were ever known to agree.
func (e LocalEntry) HasBaseline() bool {
	return e.BaseRemoteHash != ""
}

// Observation is the state of a file on disk.
type Observation struct {
	Hash    string
	Size    int64
	ModTime time.Time
}

// Baseline is a point at which local and remote content agreed.
type Baseline struct {
	RemoteVersion string
	Local         Observation
}

// Index is the in-memory Workspace Index. Every mutation goes through a
// transition method so the state machine cannot be bypassed. It is not
// safe for concurrent use.
type Index struct {
	entries map[string]*LocalEntry
	now     func() time.Time
	dirty   bool
}

// New returns an index holding entries.
func New(entries ...LocalEntry) *Index {
	idx := &Index{entries: make(map[string]*LocalEntry, len(entries)), now: time.Now}
	for i := range entries {
		e := entries[i]
		idx.entries[e.Path] = &e
	}
	return idx
}

// SetClock replaces the clock used for UpdatedAt.
func (idx *Index) SetClock(now func() time.Time) { idx.now = now }

func (idx *Index) Get(p string) (LocalEntry, bool) {
	e, ok := idx.entries[p]
	if !ok {
		return LocalEntry{}, false
	}
	return *e, true
}

// Entries returns all entries sorted by path.
func (idx *Index) Entries() []LocalEntry {
	out := make([]LocalEntry, 0, len(idx.entries))
	for _, e := range idx.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// InState returns the sorted paths currently in state s.
func (idx *Index) InState(s State) []string {
	var out []string
	for p, e := range idx.entries {
		if e.State == s {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (idx *Index) Len() int    { return len(idx.entries) }
func (idx *Index) Dirty() bool { return idx.dirty }

// Open moves a path to Opened. Without explicit, the observed content must
// differ from the baseline. A Conflicted path cannot be opened.
func (idx *Index) Open(p string, obs Observation, explicit bool) error {
	e := idx.entries[p]
	if e == nil {
		e = &LocalEntry{Path: p}
	} else if e.State == Conflicted {
		return wserrors.Conflict("open", p, "path is conflicted; resolve it first")
	}
	if !explicit && !e.Explicit && e.HasBaseline() && obs.Hash == e.BaseLocalHash {
		return fmt.Errorf("open %s: content matches the baseline", p)
	}

	e.State = Opened
	e.Explicit = e.Explicit || explicit
	e.observe(obs)
	idx.put(e)
	return nil
}

// MarkConflicted moves a path to Conflicted from any state. The baseline is
// kept as evidence and the remote version that diverged is recorded.
func (idx *Index) MarkConflicted(p string, obs Observation, remoteVersion string) {
	e := idx.entries[p]
	if e == nil {
		e = &LocalEntry{Path: p}
	}
	if e.State == Conflicted && e.ConflictRemoteHash == remoteVersion && e.LocalHash == obs.Hash {
		return
	}
	e.State = Conflicted
	e.ConflictRemoteHash = remoteVersion
	if obs.Hash != "" {
		e.observe(obs)
	}
	idx.put(e)
}

// Resolve leaves Conflicted with a refreshed baseline.
func (idx *Index) Resolve(p string, base Baseline) error {
	e := idx.entries[p]
	if e == nil || e.State != Conflicted {
		return fmt.Errorf("resolve %s: path is not conflicted", p)
	}
	e.setBaseline(base)
	idx.put(e)
	return nil
}

// CompleteSubmit leaves Opened after a successful upload.
func (idx *Index) CompleteSubmit(p string, base Baseline) error {
	e := idx.entries[p]
	if e == nil || e.State != Opened {
		state := "untracked"
		if e != nil {
			state = e.State.String()
		}
		return fmt.Errorf("submit %s: path is %s, not opened", p, state)
	}
	e.setBaseline(base)
	idx.put(e)
	return nil
}

// SetBaseline records that local and remote agree for an Unopened or
// untracked path, e.g. after a download.
func (idx *Index) SetBaseline(p string, base Baseline) error {
	e := idx.entries[p]
	switch {
	case e == nil:
		e = &LocalEntry{Path: p}
	case e.State == Conflicted:
		return wserrors.Conflict("baseline", p, "path is conflicted; resolve it first")
	case e.State == Opened:
		return fmt.Errorf("baseline %s: path is opened", p)
	}
	e.setBaseline(base)
	idx.put(e)
	return nil
}

// Observe records fresh disk metadata without changing state.
func (idx *Index) Observe(p string, obs Observation) {
	e := idx.entries[p]
	if e == nil || (e.LocalHash == obs.Hash && e.LocalSize == obs.Size && e.LocalModTime.Equal(obs.ModTime)) {
		return
	}
	e.observe(obs)
	idx.put(e)
}

// Revert returns an Opened path to Unopened. Entries without a baseline are
// dropped. Conflicted paths must go through Resolve.
func (idx *Index) Revert(p string) error {
	e := idx.entries[p]
	if e == nil {
		return nil
	}
	if e.State == Conflicted {
		return wserrors.Conflict("revert", p, "path is conflicted; use resolve")
	}
	if !e.HasBaseline() {
		delete(idx.entries, p)
		idx.dirty = true
		return nil
	}
	if e.State == Unopened {
		return nil
	}
	e.State = Unopened
	e.Explicit = false
	idx.put(e)
	return nil
}

// Forget drops an Unopened entry whose file is gone on both sides.
func (idx *Index) Forget(p string) error {
	e := idx.entries[p]
	if e == nil {
		return nil
	}
	if e.State != Unopened {
		return fmt.Errorf("forget %s: path is %s", p, e.State)
	}
	delete(idx.entries, p)
	idx.dirty = true
	return nil
}

func (idx *Index) put(e *LocalEntry) {
	e.UpdatedAt = idx.now().UTC()
	idx.entries[e.Path] = e
	idx.dirty = true
}

func (e *LocalEntry) observe(obs Observation) {
	e.LocalHash = obs.Hash
	e.LocalSize = obs.Size
	e.LocalModTime = obs.ModTime.UTC()
}

func (e *LocalEntry) setBaseline(base Baseline) {
	e.State = Unopened
	e.Explicit = false
	e.ConflictRemoteHash = ""
	e.BaseRemoteHash = base.RemoteVersion
	e.BaseLocalHash = base.Local.Hash
	e.observe(base.Local)
}
