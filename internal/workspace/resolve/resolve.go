// Package resolve settles Conflicted paths.
package resolve

import (
	"context"
	"fmt"
	"os"
	"strings"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/logging"
	"github.com/dl-alexandre/drivews/internal/utils"
	"github.com/dl-alexandre/drivews/internal/workspace/index"
	"github.com/dl-alexandre/drivews/internal/workspace/snapshot"
	"github.com/dl-alexandre/drivews/internal/workspace/transfer"
	"github.com/spf13/afero"
)

// Choice is how a conflict is settled.
type Choice string

const (
	// ChoiceLocal uploads the local copy over the remote.
	ChoiceLocal Choice = "local"
	// ChoiceRemote downloads the remote copy over the local one, keeping the
	// local bytes in a .backup file.
	ChoiceRemote Choice = "remote"
	// ChoiceDefer leaves the path Conflicted.
	ChoiceDefer Choice = "defer"
)

// ParseChoice accepts local, remote, defer and auto (an alias of local).
func ParseChoice(s string) (Choice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local", "auto":
		return ChoiceLocal, nil
	case "remote":
		return ChoiceRemote, nil
	case "defer":
		return ChoiceDefer, nil
	case "merge":
		return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"merge is not supported; choose local, remote or defer").Build())
	}
	return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
		fmt.Sprintf("unknown resolution %q; choose local, remote or defer", s)).Build())
}

// Resolver applies choices against the stores it was given. Like the stores,
// it must only be used from the coordinating goroutine.
type Resolver struct {
	sched  *transfer.Scheduler
	fs     afero.Fs
	idx    *index.Index
	snap   *snapshot.Store
	logger logging.Logger
}

func New(sched *transfer.Scheduler, fs afero.Fs, idx *index.Index, snap *snapshot.Store, logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Resolver{sched: sched, fs: fs, idx: idx, snap: snap, logger: logger}
}

// Resolve settles p with choice and returns the resulting entry. A path
// that is already Unopened is reported as is, so repeating a resolution is
// a no-op. On failure the path stays Conflicted.
func (r *Resolver) Resolve(ctx context.Context, p string, choice Choice) (index.LocalEntry, error) {
	entry, ok := r.idx.Get(p)
	if !ok {
		return index.LocalEntry{}, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"path is not tracked").WithPath(p).Build())
	}
	switch entry.State {
	case index.Unopened:
		return entry, nil
	case index.Opened:
		return entry, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"path is opened, not conflicted; use submit or revert").WithPath(p).Build())
	}

	r.logger.Info("Resolving conflict", logging.F("path", p), logging.F("choice", string(choice)))
	switch choice {
	case ChoiceDefer:
		return entry, nil
	case ChoiceLocal:
		return r.acceptLocal(ctx, p)
	case ChoiceRemote:
		return r.acceptRemote(ctx, p)
	}
	return entry, fmt.Errorf("unknown resolution %q", choice)
}

func (r *Resolver) acceptLocal(ctx context.Context, p string) (index.LocalEntry, error) {
	report := r.sched.Upload(ctx, []string{p}, func(res transfer.Result) {
		if res.Err != nil {
			return
		}
		r.snap.Put(res.Remote)
		_ = r.idx.Resolve(p, index.Baseline{RemoteVersion: res.Remote.Version(), Local: res.Local.Observation()})
	})
	entry, _ := r.idx.Get(p)
	return entry, report.Err()
}

func (r *Resolver) acceptRemote(ctx context.Context, p string) (index.LocalEntry, error) {
	remoteEntry, ok := r.snap.Get(p)
	if !ok || remoteEntry.IsDir {
		entry, _ := r.idx.Get(p)
		return entry, wserrors.Conflict("resolve", p, "remote copy no longer exists; resolve with local")
	}
	if err := r.backup(p); err != nil {
		entry, _ := r.idx.Get(p)
		return entry, err
	}

	report := r.sched.Download(ctx, []snapshot.RemoteEntry{remoteEntry}, func(res transfer.Result) {
		if res.Err != nil {
			return
		}
		r.snap.Put(res.Remote)
		_ = r.idx.Resolve(p, index.Baseline{RemoteVersion: res.Remote.Version(), Local: res.Local.Observation()})
	})
	entry, _ := r.idx.Get(p)
	return entry, report.Err()
}

// backup copies the local file to <path>.backup, replacing an older backup.
func (r *Resolver) backup(p string) error {
	src, err := r.fs.Open("/" + p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return wserrors.LocalIO("backup", p, err)
	}
	defer src.Close()

	dest := "/" + p + utils.BackupFileSuffix
	if err := afero.WriteReader(r.fs, dest, src); err != nil {
		return wserrors.LocalIO("backup", p, err)
	}
	r.logger.Debug("Local copy preserved", logging.F("path", p), logging.F("backup", p+utils.BackupFileSuffix))
	return nil
}
