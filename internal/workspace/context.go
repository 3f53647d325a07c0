// Package workspace is the explicit context every command runs against: the
// Snapshot Store and Workspace Index loaded from disk at start, the remote,
// and the local tree. Operations mutate the in-memory stores on the calling
// goroutine; Flush commits them in one transaction.
package workspace

import (
	"context"
	"path/filepath"
	"time"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/logging"
	"github.com/dl-alexandre/drivews/internal/remote"
	"github.com/dl-alexandre/drivews/internal/retry"
	"github.com/dl-alexandre/drivews/internal/utils"
	"github.com/dl-alexandre/drivews/internal/workspace/index"
	"github.com/dl-alexandre/drivews/internal/workspace/resolve"
	"github.com/dl-alexandre/drivews/internal/workspace/snapshot"
	"github.com/dl-alexandre/drivews/internal/workspace/store"
	"github.com/dl-alexandre/drivews/internal/workspace/transfer"
	"github.com/spf13/afero"
)

type Options struct {
	// Root is the local directory mirroring the remote root.
	Root string
	// Fs is the local tree; defaults to the OS filesystem under Root.
	Fs      afero.Fs
	Remote  remote.Remote
	Workers int
	Policy  retry.Policy
	Logger  logging.Logger
	// Backend names the remote kind, recorded in the workspace metadata.
	Backend string
	// TrackedFolders seeds the metadata of a new workspace.
	TrackedFolders []string
	Clock          func() time.Time
}

type Context struct {
	root   string
	fs     afero.Fs
	db     *store.DB
	remote remote.Remote
	idx    *index.Index
	snap   *snapshot.Store
	meta   store.Meta
	opts   Options
	logger logging.Logger

	// completed holds the paths whose transfer finished in this process.
	completed map[string]struct{}
}

// Open loads the workspace rooted at opts.Root. A damaged store is a fatal
// store corruption error.
func Open(ctx context.Context, opts Options) (*Context, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewBasePathFs(afero.NewOsFs(), root)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	if opts.Workers <= 0 {
		opts.Workers = utils.DefaultWorkers
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	db, err := store.Open(ctx, store.Path(root))
	if err != nil {
		return nil, err
	}
	st, err := db.Load(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	c := &Context{
		root:   root,
		fs:     opts.Fs,
		db:     db,
		remote: opts.Remote,
		idx:    index.New(st.Local...),
		snap:   snapshot.New(st.Remote...),
		meta:   st.Meta,
		opts:   opts,
		logger: opts.Logger,

		completed: make(map[string]struct{}),
	}
	c.idx.SetClock(opts.Clock)
	if len(c.meta.TrackedFolders) == 0 {
		c.meta.TrackedFolders = append([]string(nil), opts.TrackedFolders...)
	}
	if opts.Backend != "" {
		c.meta.RemoteBackend = opts.Backend
	}
	c.logger.Debug("Workspace opened",
		logging.F("root", root),
		logging.F("tracked", c.idx.Len()),
		logging.F("remoteEntries", c.snap.Len()),
	)
	return c, nil
}

// Flush commits both stores and the metadata atomically.
func (c *Context) Flush(ctx context.Context) error {
	err := c.db.Save(ctx, &store.State{
		Remote: c.snap.Entries(),
		Local:  c.idx.Entries(),
		Meta:   c.meta,
	})
	if err != nil {
		return err
	}
	c.logger.Debug("Workspace flushed", logging.F("tracked", c.idx.Len()), logging.F("remoteEntries", c.snap.Len()))
	return nil
}

// FlushCompleted commits only the entries of paths whose transfer finished,
// on top of the state last committed. Index marks, refreshed listings and
// metadata from the rest of the run are dropped.
func (c *Context) FlushCompleted(ctx context.Context) error {
	st, err := c.db.Load(ctx)
	if err != nil {
		return err
	}

	local := make([]index.LocalEntry, 0, len(st.Local)+len(c.completed))
	for _, e := range st.Local {
		if _, done := c.completed[e.Path]; !done {
			local = append(local, e)
		}
	}
	remoteEntries := make([]snapshot.RemoteEntry, 0, len(st.Remote)+len(c.completed))
	for _, e := range st.Remote {
		if _, done := c.completed[e.Path]; !done {
			remoteEntries = append(remoteEntries, e)
		}
	}
	for p := range c.completed {
		if e, ok := c.idx.Get(p); ok {
			local = append(local, e)
		}
		if e, ok := c.snap.Get(p); ok {
			remoteEntries = append(remoteEntries, e)
		}
	}

	if err := c.db.Save(ctx, &store.State{Remote: remoteEntries, Local: local, Meta: st.Meta}); err != nil {
		return err
	}
	c.logger.Debug("Workspace flushed completed transfers only", logging.F("paths", len(c.completed)))
	return nil
}

// Commit persists the outcome of a run that ended with runErr. A corrupt
// store is left untouched. After an authentication failure only completed
// transfers are kept; any other outcome commits everything, since every
// transfer that finished was atomic.
func (c *Context) Commit(ctx context.Context, runErr error) error {
	switch wserrors.KindOf(runErr) {
	case wserrors.KindStoreCorruption:
		return nil
	case wserrors.KindAuth:
		return c.FlushCompleted(ctx)
	}
	return c.Flush(ctx)
}

func (c *Context) markCompleted(p string) {
	c.completed[p] = struct{}{}
}

func (c *Context) Close() error {
	return c.db.Close()
}

func (c *Context) Root() string { return c.root }
func (c *Context) Remote() remote.Remote { return c.remote }
func (c *Context) Index() *index.Index { return c.idx }
func (c *Context) Snapshot() *snapshot.Store { return c.snap }

// TrackedFolders returns the folders sync covers by default.
func (c *Context) TrackedFolders() []string {
	return append([]string(nil), c.meta.TrackedFolders...)
}

func (c *Context) scheduler(workers int) *transfer.Scheduler {
	if workers <= 0 {
		workers = c.opts.Workers
	}
	return transfer.New(c.remote, c.fs, transfer.Options{Workers: workers, Policy: c.opts.Policy, Logger: c.logger})
}

func (c *Context) resolver() *resolve.Resolver {
	return resolve.New(c.scheduler(0), c.fs, c.idx, c.snap, c.logger)
}

// Reset deletes the persisted state of the workspace rooted at root. It does
// not need a readable store.
func Reset(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	return store.Remove(store.Path(abs))
}
