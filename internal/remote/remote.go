// Package remote defines the collaborator the workspace engine uses to reach
// the cloud drive.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"
)

// ErrNotFound is wrapped by failures on paths the remote does not hold.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err means the remote path does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

// Entry is one item reported by a directory listing. Path is '/'-delimited
// and relative to the remote root.
type Entry struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	ModifiedTime time.Time `json:"modifiedTime"`
	IsDir        bool      `json:"isDir"`
	// ContentHash is empty when the remote exposes no hash for the item.
	ContentHash string `json:"contentHash,omitempty"`
}

// UploadResult is what the remote reports after accepting new content.
type UploadResult struct {
	Size         int64
	ModifiedTime time.Time
	ContentHash  string
}

// Session is an authenticated handle. Token is opaque to callers.
type Session struct {
	Account   string
	Token     string
	ExpiresAt time.Time
}

// Remote is the narrow interface to the cloud drive. Failures are
// *errors.Error values: KindAuth from Authenticate and KindNetwork for
// per-path listing and transfer failures.
type Remote interface {
	Authenticate(ctx context.Context) (Session, error)
	// ListDirectory lists dir. maxDepth counts levels below dir; 0 means
	// unlimited and is ignored unless recursive is set.
	ListDirectory(ctx context.Context, dir string, recursive bool, maxDepth int) ([]Entry, error)
	DownloadFile(ctx context.Context, remotePath string) (io.ReadCloser, error)
	UploadFile(ctx context.Context, remotePath string, content io.Reader) (UploadResult, error)
}

// CleanPath normalizes a remote path: forward slashes, no leading or
// trailing slash, no "." or ".." segments. The root is "".
func CleanPath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return "", nil
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("path escapes the remote root: %s", p)
		}
	}
	return strings.TrimPrefix(cleaned, "/"), nil
}

// Depth returns how many levels p sits below dir, or -1 when p is not
// inside dir. A direct child has depth 1.
func Depth(dir, p string) int {
	if dir != "" {
		if !strings.HasPrefix(p, dir+"/") {
			return -1
		}
		p = strings.TrimPrefix(p, dir+"/")
	}
	if p == "" {
		return -1
	}
	return strings.Count(p, "/") + 1
}
