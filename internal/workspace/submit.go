package workspace

import (
	"context"
	"sort"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/logging"
	"github.com/dl-alexandre/drivews/internal/remote"
	"github.com/dl-alexandre/drivews/internal/workspace/index"
	"github.com/dl-alexandre/drivews/internal/workspace/reconcile"
	"github.com/dl-alexandre/drivews/internal/workspace/scanner"
	"github.com/dl-alexandre/drivews/internal/workspace/snapshot"
	"github.com/dl-alexandre/drivews/internal/workspace/transfer"
)

type SubmitOptions struct {
	Paths []string
	// All submits every Opened path under Folder, after a local
	// reconciliation picks up unopened edits.
	All     bool
	Folder  string
	Workers int
}

type SubmitReport struct {
	Transfers *transfer.Report `json:"transfers"`
	// Skipped paths had nothing to submit.
	Skipped []string `json:"skipped"`
}

// Submit uploads local edits. Each path is checked against a fresh listing
// of its folder first: a conflicted path, or one the remote changed since
// its baseline, is refused and left for sync or resolve. A named path that
// changed without being opened is opened on the way.
func (c *Context) Submit(ctx context.Context, opts SubmitOptions) (*SubmitReport, error) {
	paths, err := c.submitCandidates(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := &SubmitReport{Transfers: &transfer.Report{}, Skipped: []string{}}
	if len(paths) == 0 {
		return out, nil
	}
	c.logger.Info("Starting submit", logging.F("count", len(paths)))

	pre := &transfer.Report{}
	failed := make(map[string]bool)
	for _, dir := range parentDirs(paths) {
		if err := c.refresh(ctx, dir, false, 1); err != nil {
			if wserrors.IsFatal(err) {
				return out, err
			}
			for _, p := range paths {
				if parentDir(p) == dir {
					pre.Fail(p, err)
					failed[p] = true
				}
			}
		}
	}

	var uploads []string
	for _, p := range paths {
		if failed[p] {
			continue
		}
		ok, err := c.prepareUpload(p)
		switch {
		case err != nil:
			pre.Fail(p, err)
		case ok:
			uploads = append(uploads, p)
		default:
			out.Skipped = append(out.Skipped, p)
		}
	}

	report := c.scheduler(opts.Workers).Upload(ctx, uploads, func(res transfer.Result) {
		if res.Err != nil {
			return
		}
		c.snap.Put(res.Remote)
		c.markCompleted(res.Path)
		c.warnIf("submit", res.Path, c.idx.CompleteSubmit(res.Path, index.Baseline{
			RemoteVersion: res.Remote.Version(),
			Local:         res.Local.Observation(),
		}))
	})
	report.Merge(pre)
	out.Transfers = report

	c.logger.Info("Submit finished",
		logging.F("submitted", len(report.Succeeded)),
		logging.F("failed", len(report.Failed)),
		logging.F("skipped", len(out.Skipped)),
	)
	return out, report.Err()
}

func (c *Context) submitCandidates(ctx context.Context, opts SubmitOptions) ([]string, error) {
	if opts.All {
		scope, err := ScopeOptions{Folder: opts.Folder}.scope()
		if err != nil {
			return nil, err
		}
		if _, err := c.reconcile(ctx, scope); err != nil {
			return nil, err
		}
		return inFolder(c.idx.InState(index.Opened), scope.Prefix), nil
	}

	seen := make(map[string]bool, len(opts.Paths))
	var paths []string
	for _, arg := range opts.Paths {
		p, err := remote.CleanPath(arg)
		if err != nil || p == "" {
			return nil, invalidArgument("invalid path " + arg)
		}
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// prepareUpload classifies p against the freshly listed remote and puts it
// in the Opened state when it should be uploaded. It reports false for a
// path with nothing to submit.
func (c *Context) prepareUpload(p string) (bool, error) {
	local, err := scanner.Stat(c.fs, p)
	if err != nil {
		return false, wserrors.LocalIO("submit", p, err)
	}

	var entry *index.LocalEntry
	if e, ok := c.idx.Get(p); ok {
		entry = &e
	}
	var rem *snapshot.RemoteEntry
	if e, ok := c.snap.Get(p); ok && !e.IsDir {
		rem = &e
	}

	cl := reconcile.Classify(&local, entry, rem)
	switch cl.Kind {
	case reconcile.Conflicted:
		c.idx.MarkConflicted(p, local.Observation(), cl.RemoteVersion)
		return false, wserrors.Conflict("submit", p, "path is conflicted; run resolve")
	case reconcile.RemotelyUpdated:
		return false, wserrors.Conflict("submit", p, "remote changed since the last sync; run sync first")
	case reconcile.Unmodified:
		if entry != nil && entry.State == index.Opened {
			c.warnIf("submit", p, c.idx.Revert(p))
		}
		return false, nil
	}

	if entry == nil || entry.State != index.Opened {
		if err := c.idx.Open(p, local.Observation(), cl.Kind == reconcile.NewLocal); err != nil {
			return false, err
		}
	}
	return true, nil
}

func parentDirs(paths []string) []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, p := range paths {
		d := parentDir(p)
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	sort.Strings(dirs)
	return dirs
}
