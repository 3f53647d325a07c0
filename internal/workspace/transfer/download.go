package transfer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"path"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/retry"
	"github.com/dl-alexandre/drivews/internal/utils"
	"github.com/dl-alexandre/drivews/internal/workspace/scanner"
	"github.com/dl-alexandre/drivews/internal/workspace/snapshot"
	"github.com/spf13/afero"
)

func (s *Scheduler) download(ctx context.Context, entry snapshot.RemoteEntry) Result {
	res := Result{Path: entry.Path}
	local, err := retry.Do(ctx, s.opts.Policy, s.opts.Logger, "download "+entry.Path, func() (scanner.LocalFile, error) {
		return s.fetch(ctx, entry)
	})
	if err != nil {
		res.Err = err
		return res
	}

	res.Local = local
	res.Remote = entry
	if entry.Hashed() {
		res.Remote.ContentHash = local.Hash
	}
	return res
}

// fetch streams one remote file into a temp file next to its destination
// and renames it into place once the whole body has arrived. The temp file
// is removed on every failure, so the destination is either untouched or
// complete.
func (s *Scheduler) fetch(ctx context.Context, entry snapshot.RemoteEntry) (local scanner.LocalFile, err error) {
	dest := "/" + entry.Path
	dir := path.Dir(dest)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return local, wserrors.LocalIO("download", entry.Path, err)
	}

	body, err := s.remote.DownloadFile(ctx, entry.Path)
	if err != nil {
		return local, err
	}
	defer body.Close()

	tmp, err := afero.TempFile(s.fs, dir, utils.TempFilePrefix+"*"+utils.TempFileSuffix)
	if err != nil {
		return local, wserrors.LocalIO("download", entry.Path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = s.fs.Remove(tmpName)
		}
	}()

	h := md5.New()
	src := &remoteReader{ctx: ctx, r: body, path: entry.Path}
	n, err := io.Copy(io.MultiWriter(tmp, h), src)
	if err != nil {
		if src.err != nil {
			return local, src.err
		}
		return local, wserrors.LocalIO("download", entry.Path, err)
	}
	if err = tmp.Close(); err != nil {
		return local, wserrors.LocalIO("download", entry.Path, err)
	}
	if !entry.ModifiedTime.IsZero() {
		if err = s.fs.Chtimes(tmpName, entry.ModifiedTime, entry.ModifiedTime); err != nil {
			return local, wserrors.LocalIO("download", entry.Path, err)
		}
	}
	if err = ctx.Err(); err != nil {
		return local, err
	}
	if err = s.fs.Rename(tmpName, dest); err != nil {
		return local, wserrors.LocalIO("download", entry.Path, err)
	}

	info, err := s.fs.Stat(dest)
	if err != nil {
		return local, wserrors.LocalIO("download", entry.Path, err)
	}
	return scanner.LocalFile{
		Path:    entry.Path,
		Size:    n,
		ModTime: info.ModTime().UTC(),
		Hash:    hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// remoteReader stops on cancellation and tags read failures as network
// errors so they are not mistaken for local write failures.
type remoteReader struct {
	ctx  context.Context
	r    io.Reader
	path string
	err  error
}

func (r *remoteReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		r.err = err
		return 0, err
	}
	n, err := r.r.Read(p)
	if err != nil && err != io.EOF {
		if ctxErr := r.ctx.Err(); ctxErr != nil {
			r.err = ctxErr
		} else {
			r.err = wserrors.Network("download", r.path, true, err)
		}
		return n, r.err
	}
	return n, err
}
