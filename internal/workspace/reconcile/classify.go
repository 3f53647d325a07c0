// Package reconcile classifies every workspace path against the Workspace
// Index and the Snapshot Store and proposes a plan. It never touches the
// filesystem beyond reading it, and never the remote.
package reconcile

import (
	"fmt"

	"github.com/dl-alexandre/drivews/internal/utils"
	"github.com/dl-alexandre/drivews/internal/workspace/index"
	"github.com/dl-alexandre/drivews/internal/workspace/scanner"
	"github.com/dl-alexandre/drivews/internal/workspace/snapshot"
)

// Kind is the outcome of classifying one path.
type Kind int

const (
	Unmodified Kind = iota
	LocallyModified
	RemotelyUpdated
	Conflicted
	NewLocal
	NewRemote
)

func (k Kind) String() string {
	switch k {
	case Unmodified:
		return "unmodified"
	case LocallyModified:
		return "locally-modified"
	case RemotelyUpdated:
		return "remotely-updated"
	case Conflicted:
		return "conflicted"
	case NewLocal:
		return "new-local"
	case NewRemote:
		return "new-remote"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Evidence is what a classification was decided on.
type Evidence struct {
	LocalHash      string `json:"localHash,omitempty"`
	RemoteVersion  string `json:"remoteVersion,omitempty"`
	BaseRemoteHash string `json:"baseRemoteHash,omitempty"`
	BaseLocalHash  string `json:"baseLocalHash,omitempty"`
}

// Classification is the verdict for one path.
type Classification struct {
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
	Evidence
	// NoBaseline is set when both sides exist but were never recorded as
	// agreeing.
	NoBaseline bool `json:"noBaseline,omitempty"`
}

// Classify decides the Kind of one path from the file on disk, its index
// entry and its snapshot entry; nil means absent. At least one of local and
// remote must be present.
//
// Remote change is detected by comparing the remote version (content hash,
// or size+mtime fingerprint when the remote has no hash) with the recorded
// baseline. Local change is always byte-precise: the md5 of the file on
// disk against the md5 recorded with the baseline.
func Classify(local *scanner.LocalFile, entry *index.LocalEntry, remote *snapshot.RemoteEntry) Classification {
	c := Classification{}
	if local != nil {
		c.Path = local.Path
		c.LocalHash = local.Hash
	}
	if remote != nil {
		c.Path = remote.Path
		c.RemoteVersion = remote.Version()
	}
	if entry != nil {
		c.Path = entry.Path
		c.BaseRemoteHash = entry.BaseRemoteHash
		c.BaseLocalHash = entry.BaseLocalHash
	}

	if entry != nil && entry.State == index.Conflicted {
		c.Kind = Conflicted
		return c
	}

	switch {
	case remote == nil:
		c.Kind = NewLocal
		return c
	case local == nil:
		c.Kind = NewRemote
		return c
	}

	explicit := entry != nil && entry.State == index.Opened && entry.Explicit

	if entry == nil || !entry.HasBaseline() {
		c.NoBaseline = true
		switch {
		case !sameContent(*local, *remote):
			c.Kind = Conflicted
		case explicit:
			c.Kind = LocallyModified
		default:
			c.Kind = Unmodified
		}
		return c
	}

	localChanged := local.Hash != entry.BaseLocalHash
	remoteChanged := remote.Version() != entry.BaseRemoteHash

	switch {
	case localChanged && remoteChanged:
		c.Kind = Conflicted
	case remoteChanged && explicit:
		c.Kind = Conflicted
	case remoteChanged:
		c.Kind = RemotelyUpdated
	case localChanged || explicit:
		c.Kind = LocallyModified
	default:
		c.Kind = Unmodified
	}
	return c
}

// sameContent decides whether a local file and a remote entry with no
// recorded baseline hold the same bytes. With a remote hash this is exact.
// Without one, equal size and a local copy at least as new as the remote
// (within the mtime tolerance) count as the same; anything else cannot be
// proven identical.
func sameContent(local scanner.LocalFile, remote snapshot.RemoteEntry) bool {
	if remote.Hashed() {
		return local.Hash == remote.ContentHash
	}
	if local.Size != remote.Size {
		return false
	}
	return !local.ModTime.Before(remote.ModifiedTime.Add(-utils.ModTimeTolerance))
}
