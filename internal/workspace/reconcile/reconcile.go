package reconcile

import (
	"context"
	"sort"

	"github.com/dl-alexandre/drivews/internal/workspace/index"
	"github.com/dl-alexandre/drivews/internal/workspace/scanner"
	"github.com/dl-alexandre/drivews/internal/workspace/snapshot"
	"github.com/spf13/afero"
)

// Plan is what a reconciliation proposes. Every list is sorted.
type Plan struct {
	// Download holds RemotelyUpdated and NewRemote paths.
	Download []string `json:"download"`
	// Open holds paths detected as locally modified that are not Opened yet.
	Open []string `json:"open"`
	// Conflict holds paths newly found Conflicted.
	Conflict []string `json:"conflict"`
	// Adopt holds paths present on both sides with identical content but no
	// baseline; the current versions become the baseline.
	Adopt []string `json:"adopt"`
	// Unopen holds paths opened by detection whose content is back to the
	// baseline.
	Unopen []string `json:"unopen"`
	// Forget holds index entries whose file is gone on both sides.
	Forget []string `json:"forget"`
}

// Empty reports whether the plan proposes nothing.
func (p *Plan) Empty() bool {
	return len(p.Download) == 0 && len(p.Open) == 0 && len(p.Conflict) == 0 &&
		len(p.Adopt) == 0 && len(p.Unopen) == 0 && len(p.Forget) == 0
}

// Result is a classification report and the plan derived from it.
type Result struct {
	Items []Classification `json:"items"`
	Plan  Plan             `json:"plan"`
	// Local is what the walk observed, keyed by path.
	Local map[string]scanner.LocalFile `json:"-"`
}

// Of returns the sorted paths classified as k.
func (r *Result) Of(k Kind) []string {
	var out []string
	for _, c := range r.Items {
		if c.Kind == k {
			out = append(out, c.Path)
		}
	}
	return out
}

// Get returns the classification of p.
func (r *Result) Get(p string) (Classification, bool) {
	i := sort.Search(len(r.Items), func(i int) bool { return r.Items[i].Path >= p })
	if i < len(r.Items) && r.Items[i].Path == p {
		return r.Items[i], true
	}
	return Classification{}, false
}

// Reconcile walks the scope on fs and classifies it against idx and snap.
// Neither store is modified.
func Reconcile(ctx context.Context, fs afero.Fs, scope scanner.Scope, idx *index.Index, snap *snapshot.Store) (*Result, error) {
	local, err := scanner.Scan(ctx, fs, scope, idx.Get)
	if err != nil {
		return nil, err
	}
	return Build(local, idx.Entries(), snap.Entries(), scope), nil
}

// Build classifies the union of paths from the three inputs that fall inside
// scope. local is assumed to be already limited to scope. The result depends
// on nothing else.
//
// Exclude patterns never filter the remote listing itself: the Snapshot
// Store keeps excluded remote entries. They are filtered here instead, so a
// remote file under an excluded name (node_modules/, .git/) is not
// classified and therefore never downloaded.
func Build(local map[string]scanner.LocalFile, entries []index.LocalEntry, remote []snapshot.RemoteEntry, scope scanner.Scope) *Result {
	byEntry := make(map[string]*index.LocalEntry, len(entries))
	byRemote := make(map[string]*snapshot.RemoteEntry, len(remote))
	paths := make(map[string]struct{}, len(local))

	for p := range local {
		paths[p] = struct{}{}
	}
	for i := range entries {
		if scope.Contains(entries[i].Path) {
			byEntry[entries[i].Path] = &entries[i]
			paths[entries[i].Path] = struct{}{}
		}
	}
	for i := range remote {
		if remote[i].IsDir || !scope.Contains(remote[i].Path) {
			continue
		}
		byRemote[remote[i].Path] = &remote[i]
		paths[remote[i].Path] = struct{}{}
	}

	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	res := &Result{Local: local, Items: make([]Classification, 0, len(sorted))}
	plan := &res.Plan
	for _, p := range sorted {
		entry := byEntry[p]
		rem := byRemote[p]
		var file *scanner.LocalFile
		if f, ok := local[p]; ok {
			file = &f
		}

		if file == nil && rem == nil {
			if entry.State != index.Conflicted {
				plan.Forget = append(plan.Forget, p)
			}
			continue
		}

		c := Classify(file, entry, rem)
		res.Items = append(res.Items, c)

		state := index.Unopened
		explicit := false
		if entry != nil {
			state = entry.State
			explicit = entry.Explicit
		}

		switch c.Kind {
		case RemotelyUpdated, NewRemote:
			plan.Download = append(plan.Download, p)
			if state == index.Opened {
				plan.Unopen = append(plan.Unopen, p)
			}
		case LocallyModified:
			if state != index.Opened {
				plan.Open = append(plan.Open, p)
			}
		case Conflicted:
			if state != index.Conflicted {
				plan.Conflict = append(plan.Conflict, p)
			}
		case Unmodified:
			if state == index.Opened && !explicit {
				plan.Unopen = append(plan.Unopen, p)
			}
			if c.NoBaseline {
				plan.Adopt = append(plan.Adopt, p)
			}
		}
	}
	return res
}
