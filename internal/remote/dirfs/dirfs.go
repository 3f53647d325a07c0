// Package dirfs serves a directory tree as the remote drive. Production uses
// an OS-backed filesystem rooted at the configured directory; tests use an
// in-memory one.
package dirfs

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/logging"
	"github.com/dl-alexandre/drivews/internal/remote"
	"github.com/dl-alexandre/drivews/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Options configures a directory remote.
type Options struct {
	// Hashless omits content hashes from listings and uploads, like a
	// remote that only reports size and modification time.
	Hashless bool
	Account  string
	Logger   logging.Logger
}

// Remote is a remote.Remote over an afero filesystem.
type Remote struct {
	fs     afero.Fs
	opts   Options
	logger logging.Logger
}

var _ remote.Remote = (*Remote)(nil)

// New returns a remote serving fs.
func New(fs afero.Fs, opts Options) *Remote {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if opts.Account == "" {
		opts.Account = "local"
	}
	return &Remote{fs: fs, opts: opts, logger: logger}
}

// NewOS returns a remote rooted at dir on the local disk.
func NewOS(dir string, opts Options) *Remote {
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir), opts)
}

func (r *Remote) Authenticate(ctx context.Context) (remote.Session, error) {
	if err := ctx.Err(); err != nil {
		return remote.Session{}, err
	}
	info, err := r.fs.Stat("/")
	if err != nil {
		return remote.Session{}, wserrors.Auth("authenticate", fmt.Errorf("remote directory unavailable: %w", err))
	}
	if !info.IsDir() {
		return remote.Session{}, wserrors.Auth("authenticate", fmt.Errorf("remote root is not a directory"))
	}
	return remote.Session{Account: r.opts.Account, Token: uuid.NewString()}, nil
}

func (r *Remote) ListDirectory(ctx context.Context, dir string, recursive bool, maxDepth int) ([]remote.Entry, error) {
	dir, err := remote.CleanPath(dir)
	if err != nil {
		return nil, wserrors.Network("list", dir, false, err)
	}

	info, err := r.fs.Stat(fsPath(dir))
	if err != nil {
		return nil, r.classify("list", dir, err)
	}
	if !info.IsDir() {
		return nil, wserrors.Network("list", dir, false, fmt.Errorf("not a directory"))
	}

	limit := maxDepth
	if !recursive {
		limit = 1
	}

	var entries []remote.Entry
	err = afero.Walk(r.fs, fsPath(dir), func(current string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel := strings.TrimPrefix(filepath.ToSlash(current), "/")
		if rel == dir {
			return nil
		}
		depth := remote.Depth(dir, rel)
		if limit > 0 && depth > limit {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !fi.IsDir() && isTempName(fi.Name()) {
			return nil
		}

		entry := remote.Entry{
			Path:         rel,
			ModifiedTime: fi.ModTime().UTC(),
			IsDir:        fi.IsDir(),
		}
		if !fi.IsDir() {
			entry.Size = fi.Size()
			if !r.opts.Hashless {
				hash, hashErr := r.hashFile(current)
				if hashErr != nil {
					return hashErr
				}
				entry.ContentHash = hash
			}
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, r.classify("list", dir, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	r.logger.Debug("Listed remote directory",
		logging.F("dir", dir),
		logging.F("entries", len(entries)),
		logging.F("recursive", recursive),
	)
	return entries, nil
}

func (r *Remote) DownloadFile(ctx context.Context, remotePath string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := remote.CleanPath(remotePath)
	if err != nil || p == "" {
		return nil, wserrors.Network("download", remotePath, false, fmt.Errorf("invalid remote path"))
	}
	f, err := r.fs.Open(fsPath(p))
	if err != nil {
		return nil, r.classify("download", p, err)
	}
	if info, statErr := f.Stat(); statErr == nil && info.IsDir() {
		f.Close()
		return nil, wserrors.Network("download", p, false, fmt.Errorf("is a directory"))
	}
	return f, nil
}

func (r *Remote) UploadFile(ctx context.Context, remotePath string, content io.Reader) (remote.UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return remote.UploadResult{}, err
	}
	p, err := remote.CleanPath(remotePath)
	if err != nil || p == "" {
		return remote.UploadResult{}, wserrors.Network("upload", remotePath, false, fmt.Errorf("invalid remote path"))
	}

	parent := fsPath(path.Dir(p))
	if err := r.fs.MkdirAll(parent, 0755); err != nil {
		return remote.UploadResult{}, r.classify("upload", p, err)
	}

	tmp, err := afero.TempFile(r.fs, parent, utils.TempFilePrefix+"*"+utils.TempFileSuffix)
	if err != nil {
		return remote.UploadResult{}, r.classify("upload", p, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = r.fs.Remove(tmpName)
		}
	}()

	h := md5.New()
	size, copyErr := io.Copy(io.MultiWriter(tmp, h), &ctxReader{ctx: ctx, r: content})
	closeErr := tmp.Close()
	if copyErr != nil {
		if ctx.Err() != nil {
			return remote.UploadResult{}, ctx.Err()
		}
		return remote.UploadResult{}, wserrors.Network("upload", p, true, copyErr)
	}
	if closeErr != nil {
		return remote.UploadResult{}, r.classify("upload", p, closeErr)
	}

	if err := r.fs.Rename(tmpName, fsPath(p)); err != nil {
		return remote.UploadResult{}, r.classify("upload", p, err)
	}
	committed = true

	info, err := r.fs.Stat(fsPath(p))
	if err != nil {
		return remote.UploadResult{}, r.classify("upload", p, err)
	}
	result := remote.UploadResult{Size: size, ModifiedTime: info.ModTime().UTC()}
	if !r.opts.Hashless {
		result.ContentHash = hex.EncodeToString(h.Sum(nil))
	}
	r.logger.Debug("Uploaded file", logging.F("path", p), logging.F("size", size))
	return result, nil
}

func (r *Remote) hashFile(name string) (hash string, err error) {
	f, err := r.fs.Open(name)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// classify maps filesystem failures onto remote error kinds. Missing and
// forbidden objects are permanent; anything else is treated as transient.
func (r *Remote) classify(op, p string, err error) error {
	switch {
	case os.IsNotExist(err), os.IsPermission(err):
		return wserrors.Network(op, p, false, err)
	default:
		return wserrors.Network(op, p, true, err)
	}
}

func fsPath(p string) string {
	return "/" + p
}

func isTempName(name string) bool {
	return strings.HasPrefix(name, utils.TempFilePrefix) && strings.HasSuffix(name, utils.TempFileSuffix)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
