package workspace

import (
	"context"
	"path"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/logging"
	"github.com/dl-alexandre/drivews/internal/remote"
	"github.com/dl-alexandre/drivews/internal/workspace/index"
	"github.com/dl-alexandre/drivews/internal/workspace/reconcile"
	"github.com/dl-alexandre/drivews/internal/workspace/scanner"
	"github.com/dl-alexandre/drivews/internal/workspace/snapshot"
	"github.com/dl-alexandre/drivews/internal/workspace/transfer"
)

type SyncOptions struct {
	ScopeOptions
	Workers int
}

// SyncReport is the outcome of a sync. Opened and Conflicted list what the
// pass left for the user; Transfers covers the downloads.
type SyncReport struct {
	Folder     string                     `json:"folder"`
	Plan       reconcile.Plan             `json:"plan"`
	Transfers  *transfer.Report           `json:"transfers"`
	Opened     []string                   `json:"opened"`
	Conflicted []string                   `json:"conflicted"`
	Items      []reconcile.Classification `json:"items,omitempty"`
}

// Sync refreshes the remote listing of the folder, reconciles it and
// downloads everything that changed remotely. Local edits are never
// overwritten: they are opened or, when the remote moved too, conflicted.
func (c *Context) Sync(ctx context.Context, opts SyncOptions) (*SyncReport, error) {
	scope, err := opts.scope()
	if err != nil {
		return nil, err
	}
	c.logger.Info("Starting sync", logging.F("folder", scope.Prefix), logging.F("maxDepth", scope.MaxDepth))

	if err := c.refresh(ctx, scope.Prefix, true, scope.MaxDepth); err != nil {
		return nil, err
	}
	res, err := c.reconcile(ctx, scope)
	if err != nil {
		return nil, err
	}

	downloads := make([]snapshot.RemoteEntry, 0, len(res.Plan.Download))
	for _, p := range res.Plan.Download {
		if e, ok := c.snap.Get(p); ok {
			downloads = append(downloads, e)
		}
	}
	report := c.scheduler(opts.Workers).Download(ctx, downloads, c.recordDownload)

	if report.Err() == nil || len(report.Succeeded) > 0 {
		c.meta.LastSyncTime = c.opts.Clock().UTC()
	}
	c.track(scope.Prefix)

	out := &SyncReport{
		Folder:     scope.Prefix,
		Plan:       res.Plan,
		Transfers:  report,
		Opened:     nonNil(inFolder(c.idx.InState(index.Opened), scope.Prefix)),
		Conflicted: nonNil(inFolder(c.idx.InState(index.Conflicted), scope.Prefix)),
		Items:      res.Items,
	}
	c.logger.Info("Sync finished",
		logging.F("folder", scope.Prefix),
		logging.F("downloaded", len(report.Succeeded)),
		logging.F("failed", len(report.Failed)),
		logging.F("conflicted", len(out.Conflicted)),
	)
	return out, report.Err()
}

// recordDownload moves a downloaded path onto its new baseline.
func (c *Context) recordDownload(res transfer.Result) {
	if res.Err != nil {
		return
	}
	c.snap.Put(res.Remote)
	c.markCompleted(res.Path)
	c.warnIf("download", res.Path, c.idx.SetBaseline(res.Path, index.Baseline{
		RemoteVersion: res.Remote.Version(),
		Local:         res.Local.Observation(),
	}))
}

func (c *Context) track(folder string) {
	for _, f := range c.meta.TrackedFolders {
		if f == folder {
			return
		}
	}
	c.meta.TrackedFolders = append(c.meta.TrackedFolders, folder)
}

// Fetch downloads individual remote files into the workspace. A path with
// local edits, opened or conflicted is refused rather than overwritten.
func (c *Context) Fetch(ctx context.Context, paths []string, workers int) (*transfer.Report, error) {
	report := &transfer.Report{}
	var downloads []snapshot.RemoteEntry
	listed := make(map[string]bool)

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		dir := parentDir(p)
		if !listed[dir] {
			if err := c.refresh(ctx, dir, false, 1); err != nil {
				if wserrors.IsFatal(err) {
					return report, err
				}
				report.Fail(p, err)
				continue
			}
			listed[dir] = true
		}

		e, ok := c.snap.Get(p)
		if !ok || e.IsDir {
			report.Fail(p, wserrors.Network("download", p, false, remote.ErrNotFound))
			continue
		}
		if err := c.checkOverwrite(p); err != nil {
			report.Fail(p, err)
			continue
		}
		downloads = append(downloads, e)
	}

	report.Merge(c.scheduler(workers).Download(ctx, downloads, c.recordDownload))
	return report, report.Err()
}

func (c *Context) checkOverwrite(p string) error {
	entry, tracked := c.idx.Get(p)
	if tracked && entry.State != index.Unopened {
		return wserrors.Conflict("download", p, "path is %s; submit, revert or resolve it first", entry.State)
	}
	local, err := scanner.Stat(c.fs, p)
	if err != nil {
		return nil
	}
	if !tracked || local.Hash != entry.BaseLocalHash {
		if remoteEntry, ok := c.snap.Get(p); ok && remoteEntry.Hashed() && remoteEntry.ContentHash == local.Hash {
			return nil
		}
		return wserrors.Conflict("download", p, "local copy has changes that would be overwritten")
	}
	return nil
}

func parentDir(p string) string {
	dir := path.Dir(p)
	if dir == "." {
		return ""
	}
	return dir
}

func inFolder(paths []string, folder string) []string {
	if folder == "" {
		return paths
	}
	var out []string
	for _, p := range paths {
		if remote.Depth(folder, p) > 0 {
			out = append(out, p)
		}
	}
	return out
}
