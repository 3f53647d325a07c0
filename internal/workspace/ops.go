package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/logging"
	"github.com/dl-alexandre/drivews/internal/remote"
	"github.com/dl-alexandre/drivews/internal/utils"
	"github.com/dl-alexandre/drivews/internal/workspace/exclude"
	"github.com/dl-alexandre/drivews/internal/workspace/index"
	"github.com/dl-alexandre/drivews/internal/workspace/reconcile"
	"github.com/dl-alexandre/drivews/internal/workspace/resolve"
	"github.com/dl-alexandre/drivews/internal/workspace/scanner"
	"github.com/dl-alexandre/drivews/internal/workspace/snapshot"
)

// ScopeOptions selects the part of the workspace a pass covers.
type ScopeOptions struct {
	// Folder is the remote folder, "" for the whole workspace.
	Folder string
	// MaxDepth counts levels below Folder; 0 is unlimited.
	MaxDepth          int
	Exclude           []string
	NoDefaultExcludes bool
}

func (o ScopeOptions) scope() (scanner.Scope, error) {
	folder, err := remote.CleanPath(o.Folder)
	if err != nil {
		return scanner.Scope{}, invalidArgument(err.Error())
	}
	if o.MaxDepth < 0 {
		return scanner.Scope{}, invalidArgument("max depth must not be negative")
	}
	return scanner.Scope{
		Prefix:   folder,
		MaxDepth: o.MaxDepth,
		Matcher:  exclude.New(o.Exclude, !o.NoDefaultExcludes),
	}, nil
}

type ReconcileOptions struct {
	ScopeOptions
	// Refresh lists the remote folder first instead of trusting the
	// Snapshot Store.
	Refresh bool
}

// Reconcile classifies every path in scope and applies the index side of
// the plan: detected edits are opened, conflicts recorded and stale entries
// dropped. Nothing is transferred.
func (c *Context) Reconcile(ctx context.Context, opts ReconcileOptions) (*reconcile.Result, error) {
	scope, err := opts.scope()
	if err != nil {
		return nil, err
	}
	if opts.Refresh {
		if err := c.refresh(ctx, scope.Prefix, true, scope.MaxDepth); err != nil {
			return nil, err
		}
	}
	return c.reconcile(ctx, scope)
}

func (c *Context) reconcile(ctx context.Context, scope scanner.Scope) (*reconcile.Result, error) {
	res, err := reconcile.Reconcile(ctx, c.fs, scope, c.idx, c.snap)
	if err != nil {
		return nil, err
	}
	c.apply(res)
	c.logger.Info("Reconciled workspace",
		logging.F("folder", scope.Prefix),
		logging.F("paths", len(res.Items)),
		logging.F("download", len(res.Plan.Download)),
		logging.F("opened", len(res.Plan.Open)),
		logging.F("conflicts", len(res.Plan.Conflict)),
	)
	return res, nil
}

// refresh replaces what the Snapshot Store knows under dir with a fresh
// listing. A folder the remote does not hold lists as empty.
func (c *Context) refresh(ctx context.Context, dir string, recursive bool, maxDepth int) error {
	listing, err := c.remote.ListDirectory(ctx, dir, recursive, maxDepth)
	if err != nil {
		if !remote.IsNotFound(err) {
			return err
		}
		listing = nil
	}
	entries := make([]snapshot.RemoteEntry, 0, len(listing))
	for _, e := range listing {
		entries = append(entries, snapshot.FromListing(e))
	}
	if !recursive {
		maxDepth = 1
	}
	c.snap.ReplaceUnder(dir, maxDepth, entries)
	c.logger.Debug("Remote listing refreshed", logging.F("folder", dir), logging.F("entries", len(entries)))
	return nil
}

// apply carries out the index side of a plan. Downloads are left to Sync.
func (c *Context) apply(res *reconcile.Result) {
	plan := res.Plan
	for _, p := range plan.Unopen {
		c.warnIf("unopen", p, c.idx.Revert(p))
	}
	for _, p := range plan.Forget {
		c.warnIf("forget", p, c.idx.Revert(p))
		c.warnIf("forget", p, c.idx.Forget(p))
	}
	for _, p := range plan.Adopt {
		cl, _ := res.Get(p)
		if e, ok := c.idx.Get(p); ok && e.State != index.Unopened {
			continue
		}
		c.warnIf("adopt", p, c.idx.SetBaseline(p, index.Baseline{
			RemoteVersion: cl.RemoteVersion,
			Local:         res.Local[p].Observation(),
		}))
	}
	for _, p := range plan.Open {
		c.warnIf("open", p, c.idx.Open(p, res.Local[p].Observation(), false))
	}
	for _, p := range plan.Conflict {
		cl, _ := res.Get(p)
		var obs index.Observation
		if f, ok := res.Local[p]; ok {
			obs = f.Observation()
		}
		c.idx.MarkConflicted(p, obs, cl.RemoteVersion)
	}
	for p, f := range res.Local {
		c.idx.Observe(p, f.Observation())
	}
}

func (c *Context) warnIf(op, p string, err error) {
	if err != nil {
		c.logger.Warn("Index update skipped", logging.F("op", op), logging.F("path", p), logging.F("error", err.Error()))
	}
}

// Add opens paths explicitly. A directory opens every file below it. Each
// path is handled independently; the failures are joined.
func (c *Context) Add(ctx context.Context, paths []string) ([]index.LocalEntry, error) {
	var opened []string
	var errs []error
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return c.entries(opened), err
		}
		got, err := c.add(ctx, p)
		opened = append(opened, got...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	c.logger.Info("Opened paths", logging.F("count", len(opened)), logging.F("failed", len(errs)))
	return c.entries(opened), errors.Join(errs...)
}

func (c *Context) add(ctx context.Context, p string) ([]string, error) {
	if p == "" || scanner.IsInternal(p) {
		return nil, invalidArgument(fmt.Sprintf("cannot open %q", p))
	}
	info, err := c.fs.Stat("/" + p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wserrors.LocalIO("add", p, fmt.Errorf("no such file"))
		}
		return nil, wserrors.LocalIO("add", p, err)
	}

	if !info.IsDir() {
		f, err := scanner.Stat(c.fs, p)
		if err != nil {
			return nil, wserrors.LocalIO("add", p, err)
		}
		if err := c.idx.Open(p, f.Observation(), true); err != nil {
			return nil, err
		}
		return []string{p}, nil
	}

	files, err := scanner.Scan(ctx, c.fs, scanner.Scope{Prefix: p, Matcher: exclude.New(nil, true)}, c.idx.Get)
	if err != nil {
		return nil, err
	}
	var opened []string
	var errs []error
	for _, fp := range sortedKeys(files) {
		if err := c.idx.Open(fp, files[fp].Observation(), true); err != nil {
			errs = append(errs, err)
			continue
		}
		opened = append(opened, fp)
	}
	return opened, errors.Join(errs...)
}

// Revert returns Opened paths to Unopened, or every Opened path when all is
// set. Local content is left as it is. Conflicted paths must be resolved.
func (c *Context) Revert(ctx context.Context, paths []string, all bool) ([]index.LocalEntry, error) {
	if all {
		paths = c.idx.InState(index.Opened)
	}
	var reverted []string
	var errs []error
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return c.entries(reverted), err
		}
		if _, ok := c.idx.Get(p); !ok {
			errs = append(errs, invalidArgument(fmt.Sprintf("%s is not tracked", p)))
			continue
		}
		if err := c.idx.Revert(p); err != nil {
			errs = append(errs, err)
			continue
		}
		reverted = append(reverted, p)
	}
	c.logger.Info("Reverted paths", logging.F("count", len(reverted)), logging.F("failed", len(errs)))
	return c.entries(reverted), errors.Join(errs...)
}

// Resolve settles a Conflicted path.
func (c *Context) Resolve(ctx context.Context, p, choice string) (index.LocalEntry, error) {
	ch, err := resolve.ParseChoice(choice)
	if err != nil {
		return index.LocalEntry{}, err
	}
	entry, err := c.resolver().Resolve(ctx, p, ch)
	if err == nil && ch != resolve.ChoiceDefer {
		c.markCompleted(p)
	}
	return entry, err
}

type Info struct {
	Root           string     `json:"root"`
	Backend        string     `json:"backend,omitempty"`
	Opened         []string   `json:"opened"`
	Conflicted     []string   `json:"conflicted"`
	LastSyncTime   *time.Time `json:"lastSyncTime,omitempty"`
	TrackedFolders []string   `json:"trackedFolders"`
	TrackedFiles   int        `json:"trackedFiles"`
	RemoteEntries  int        `json:"remoteEntries"`
}

func (c *Context) Info() Info {
	info := Info{
		Root:           c.root,
		Backend:        c.meta.RemoteBackend,
		Opened:         nonNil(c.idx.InState(index.Opened)),
		Conflicted:     nonNil(c.idx.InState(index.Conflicted)),
		TrackedFolders: nonNil(c.TrackedFolders()),
		TrackedFiles:   c.idx.Len(),
		RemoteEntries:  c.snap.Len(),
	}
	if !c.meta.LastSyncTime.IsZero() {
		t := c.meta.LastSyncTime
		info.LastSyncTime = &t
	}
	return info
}

// Rel maps a command-line path onto a workspace path. Relative arguments
// are taken from cwd when cwd is inside the workspace and from the root
// otherwise.
func (c *Context) Rel(cwd, arg string) (string, error) {
	return RelPath(c.root, cwd, arg)
}

func RelPath(root, cwd, arg string) (string, error) {
	abs := arg
	if !filepath.IsAbs(arg) {
		base := root
		if cwd != "" {
			if rel, err := filepath.Rel(root, cwd); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				base = cwd
			}
		}
		abs = filepath.Join(base, arg)
	}
	rel, err := filepath.Rel(root, filepath.Clean(abs))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", invalidArgument(fmt.Sprintf("%s is outside the workspace %s", arg, root))
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

func (c *Context) entries(paths []string) []index.LocalEntry {
	out := make([]index.LocalEntry, 0, len(paths))
	for _, p := range paths {
		if e, ok := c.idx.Get(p); ok {
			out = append(out, e)
		}
	}
	return out
}

func invalidArgument(msg string) error {
	return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, msg).Build())
}

func sortedKeys(m map[string]scanner.LocalFile) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
