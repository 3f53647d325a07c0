// Package scanner walks the local workspace and observes file content.
package scanner

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/remote"
	"github.com/dl-alexandre/drivews/internal/utils"
	"github.com/dl-alexandre/drivews/internal/workspace/exclude"
	"github.com/dl-alexandre/drivews/internal/workspace/index"
	"github.com/spf13/afero"
)

// LocalFile is one regular file found on disk.
type LocalFile struct {
	Path    string
	Size    int64
	ModTime time.Time
	Hash    string
}

// Observation converts f for the Workspace Index.
func (f LocalFile) Observation() index.Observation {
	return index.Observation{Hash: f.Hash, Size: f.Size, ModTime: f.ModTime}
}

// Scope limits a reconciliation pass to a folder, a depth below it and a
// set of exclusions.
type Scope struct {
	// Prefix is the folder the pass covers; "" is the workspace root.
	Prefix string
	// MaxDepth counts levels below Prefix; 0 is unlimited.
	MaxDepth int
	Matcher  *exclude.Matcher
}

// Contains reports whether the file at p is inside the scope.
func (s Scope) Contains(p string) bool {
	depth := remote.Depth(s.Prefix, p)
	if depth < 0 {
		return false
	}
	if s.MaxDepth > 0 && depth > s.MaxDepth {
		return false
	}
	if IsInternal(p) {
		return false
	}
	return !s.Matcher.IsExcluded(relTo(s.Prefix, p), false)
}

// IsInternal reports paths that belong to drivews itself: the state
// directory and in-flight temp files.
func IsInternal(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == utils.StateDirName {
			return true
		}
	}
	base := path.Base(p)
	return strings.HasPrefix(base, utils.TempFilePrefix) && strings.HasSuffix(base, utils.TempFileSuffix)
}

// Previous looks up what the index last recorded for a path.
type Previous func(p string) (index.LocalEntry, bool)

// Scan walks the scope on fs and returns every regular file keyed by
// workspace path. Symlinks are skipped. A file whose size and modification
// time match prev reuses the recorded hash instead of being read again.
func Scan(ctx context.Context, fs afero.Fs, scope Scope, prev Previous) (map[string]LocalFile, error) {
	files := make(map[string]LocalFile)
	start := "/" + scope.Prefix

	if _, err := fs.Stat(start); err != nil {
		if os.IsNotExist(err) {
			return files, nil
		}
		return nil, wserrors.LocalIO("scan", scope.Prefix, err)
	}

	err := afero.Walk(fs, start, func(current string, info os.FileInfo, walkErr error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel := strings.TrimPrefix(filepath.ToSlash(current), "/")
		if walkErr != nil {
			return wserrors.LocalIO("scan", rel, walkErr)
		}
		if rel == scope.Prefix {
			return nil
		}

		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}

		depth := remote.Depth(scope.Prefix, rel)
		if info.IsDir() {
			if IsInternal(rel) || scope.Matcher.IsExcluded(relTo(scope.Prefix, rel), true) {
				return filepath.SkipDir
			}
			if scope.MaxDepth > 0 && depth >= scope.MaxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() || !scope.Contains(rel) {
			return nil
		}

		file := LocalFile{Path: rel, Size: info.Size(), ModTime: info.ModTime().UTC()}
		if prev != nil {
			if e, ok := prev(rel); ok && e.LocalHash != "" && e.LocalSize == file.Size && e.LocalModTime.Equal(file.ModTime) {
				file.Hash = e.LocalHash
			}
		}
		if file.Hash == "" {
			hash, err := HashFile(fs, rel)
			if err != nil {
				return err
			}
			file.Hash = hash
		}
		files[rel] = file
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Stat observes a single file. The error is os.ErrNotExist-compatible when
// the file is missing.
func Stat(fs afero.Fs, p string) (LocalFile, error) {
	info, err := fs.Stat("/" + p)
	if err != nil {
		return LocalFile{}, err
	}
	if !info.Mode().IsRegular() {
		return LocalFile{}, wserrors.LocalIO("stat", p, os.ErrInvalid)
	}
	hash, err := HashFile(fs, p)
	if err != nil {
		return LocalFile{}, err
	}
	return LocalFile{Path: p, Size: info.Size(), ModTime: info.ModTime().UTC(), Hash: hash}, nil
}

// HashFile returns the md5 hex digest of the file at workspace path p.
func HashFile(fs afero.Fs, p string) (hash string, err error) {
	f, err := fs.Open("/" + p)
	if err != nil {
		return "", wserrors.LocalIO("hash", p, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = wserrors.LocalIO("hash", p, closeErr)
		}
	}()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", wserrors.LocalIO("hash", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func relTo(prefix, p string) string {
	if prefix == "" {
		return p
	}
	return strings.TrimPrefix(p, prefix+"/")
}
