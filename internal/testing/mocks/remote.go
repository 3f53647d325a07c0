package mocks

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/remote"
)

// Remote is an in-memory remote.Remote. Each method runs its Func field
// when set and otherwise serves the in-memory tree.
type Remote struct {
	AuthenticateFunc  func(ctx context.Context) (remote.Session, error)
	ListDirectoryFunc func(ctx context.Context, dir string, recursive bool, maxDepth int) ([]remote.Entry, error)
	DownloadFileFunc  func(ctx context.Context, p string) (io.ReadCloser, error)
	UploadFileFunc    func(ctx context.Context, p string, content io.Reader) (remote.UploadResult, error)

	// Hashless makes the tree report no content hashes.
	Hashless bool

	mu    sync.Mutex
	files map[string]mockFile
	clock time.Time
	calls []string
}

type mockFile struct {
	data    []byte
	modTime time.Time
}

// NewRemote creates an empty mock remote
func NewRemote() *Remote {
	return &Remote{
		files: make(map[string]mockFile),
		clock: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Put stores content at p as if another client had written it.
func (m *Remote) Put(p, content string, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[p] = mockFile{data: []byte(content), modTime: modTime.UTC()}
}

// Content returns what the remote holds at p.
func (m *Remote) Content(p string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[p]
	return string(f.data), ok
}

// Calls returns the recorded operations, e.g. "upload Documents/a.md".
func (m *Remote) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CountCalls returns how many recorded operations start with prefix.
func (m *Remote) CountCalls(prefix string) int {
	n := 0
	for _, c := range m.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (m *Remote) record(op, p string) {
	m.mu.Lock()
	m.calls = append(m.calls, op+" "+p)
	m.mu.Unlock()
}

// Authenticate mocks opening a session
func (m *Remote) Authenticate(ctx context.Context) (remote.Session, error) {
	m.record("authenticate", "")
	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx)
	}
	return remote.Session{Account: "mock@example.com", Token: "mock-token"}, nil
}

// ListDirectory mocks listing a directory
func (m *Remote) ListDirectory(ctx context.Context, dir string, recursive bool, maxDepth int) ([]remote.Entry, error) {
	m.record("list", dir)
	if m.ListDirectoryFunc != nil {
		return m.ListDirectoryFunc(ctx, dir, recursive, maxDepth)
	}
	if !recursive {
		maxDepth = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]remote.Entry)
	for p, f := range m.files {
		depth := remote.Depth(dir, p)
		if depth < 0 {
			continue
		}
		for parent := path.Dir(p); parent != "." && remote.Depth(dir, parent) > 0; parent = path.Dir(parent) {
			if maxDepth == 0 || remote.Depth(dir, parent) <= maxDepth {
				seen[parent] = remote.Entry{Path: parent, IsDir: true}
			}
		}
		if maxDepth > 0 && depth > maxDepth {
			continue
		}
		e := remote.Entry{Path: p, Size: int64(len(f.data)), ModifiedTime: f.modTime}
		if !m.Hashless {
			e.ContentHash = digest(f.data)
		}
		seen[p] = e
	}

	out := make([]remote.Entry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// DownloadFile mocks fetching file content
func (m *Remote) DownloadFile(ctx context.Context, p string) (io.ReadCloser, error) {
	m.record("download", p)
	if m.DownloadFileFunc != nil {
		return m.DownloadFileFunc(ctx, p)
	}
	m.mu.Lock()
	f, ok := m.files[p]
	m.mu.Unlock()
	if !ok {
		return nil, wserrors.Network("download", p, false, os.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

// UploadFile mocks replacing file content
func (m *Remote) UploadFile(ctx context.Context, p string, content io.Reader) (remote.UploadResult, error) {
	m.record("upload", p)
	if m.UploadFileFunc != nil {
		return m.UploadFileFunc(ctx, p, content)
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return remote.UploadResult{}, fmt.Errorf("read upload body: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return remote.UploadResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = m.clock.Add(time.Minute)
	m.files[p] = mockFile{data: data, modTime: m.clock}
	res := remote.UploadResult{Size: int64(len(data)), ModifiedTime: m.clock}
	if !m.Hashless {
		res.ContentHash = digest(data)
	}
	return res, nil
}

func digest(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

var _ remote.Remote = (*Remote)(nil)
