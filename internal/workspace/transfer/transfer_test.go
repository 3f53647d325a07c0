package transfer

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/remote"
	"github.com/dl-alexandre/drivews/internal/retry"
	testhelpers "github.com/dl-alexandre/drivews/internal/testing"
	"github.com/dl-alexandre/drivews/internal/testing/mocks"
	"github.com/dl-alexandre/drivews/internal/utils"
	"github.com/dl-alexandre/drivews/internal/workspace/snapshot"
	"github.com/spf13/afero"
)

var fastPolicy = retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func entryFor(p, content string) snapshot.RemoteEntry {
	return snapshot.RemoteEntry{
		Path: p, Size: int64(len(content)), ModifiedTime: testhelpers.FixedTime, ContentHash: testhelpers.MD5(content),
	}
}

func tempFiles(t *testing.T, fs afero.Fs, dir string) []string {
	t.Helper()
	infos, err := afero.ReadDir(fs, dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	var out []string
	for _, info := range infos {
		if strings.HasPrefix(info.Name(), utils.TempFilePrefix) {
			out = append(out, info.Name())
		}
	}
	return out
}

func TestDownload_PartialFailure(t *testing.T) {
	rem := mocks.NewRemote()
	rem.Put("Documents/a.md", "alpha", testhelpers.FixedTime)
	rem.Put("Documents/sub/b.md", "beta", testhelpers.FixedTime)
	fs := afero.NewMemMapFs()

	s := New(rem, fs, Options{Workers: 2, Policy: fastPolicy})
	var results []Result
	report := s.Download(context.Background(), []snapshot.RemoteEntry{
		entryFor("Documents/a.md", "alpha"),
		entryFor("Documents/sub/b.md", "beta"),
		entryFor("Documents/missing.md", "gone"),
	}, func(r Result) { results = append(results, r) })

	if len(results) != 3 {
		t.Fatalf("onResult called %d times", len(results))
	}
	if got := strings.Join(report.Succeeded, ","); got != "Documents/a.md,Documents/sub/b.md" {
		t.Errorf("Succeeded = %s", got)
	}
	if len(report.Failed) != 1 || report.Failed[0].Path != "Documents/missing.md" || report.Failed[0].Kind != "NetworkError" {
		t.Errorf("Failed = %+v", report.Failed)
	}

	var appErr *utils.AppError
	if err := report.Err(); !errors.As(err, &appErr) || appErr.CLIError.Code != utils.ErrCodeBatchPartialFailure {
		t.Fatalf("Err() = %v, want partial failure", err)
	}

	testhelpers.AssertEqual(t, testhelpers.ReadFile(t, fs, "Documents/sub/b.md"), "beta", "downloaded content")
	info, err := fs.Stat("/Documents/a.md")
	testhelpers.AssertNoError(t, err)
	if !info.ModTime().Equal(testhelpers.FixedTime) {
		t.Errorf("mtime = %v, want remote mtime", info.ModTime())
	}
	for _, r := range results {
		if r.Path == "Documents/a.md" && (r.Local.Hash != testhelpers.MD5("alpha") || r.Remote.ContentHash != testhelpers.MD5("alpha")) {
			t.Errorf("result = %+v", r)
		}
	}
	if left := tempFiles(t, fs, "/Documents"); len(left) != 0 {
		t.Errorf("temp files left behind: %v", left)
	}
}

func TestDownload_AllFailed(t *testing.T) {
	s := New(mocks.NewRemote(), afero.NewMemMapFs(), Options{Policy: fastPolicy})
	report := s.Download(context.Background(), []snapshot.RemoteEntry{entryFor("x", "1"), entryFor("y", "2")}, nil)

	err := report.Err()
	if wserrors.KindOf(err) != wserrors.KindNetwork {
		t.Fatalf("Err() = %v, want network error", err)
	}
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		t.Error("all-failed batch must not be a partial success")
	}
}

// stallingBody yields a first chunk, then cancels the transfer and blocks
// until the context is done.
type stallingBody struct {
	ctx    context.Context
	cancel context.CancelFunc
	sent   bool
}

func (b *stallingBody) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true
		return copy(p, "partial content"), nil
	}
	b.cancel()
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}

func (b *stallingBody) Close() error { return nil }

func TestDownload_InterruptedLeavesNoFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	testhelpers.WriteFile(t, fs, "Documents/notes.md", "H1 content", testhelpers.FixedTime)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rem := mocks.NewRemote()
	rem.DownloadFileFunc = func(ctx context.Context, p string) (io.ReadCloser, error) {
		return &stallingBody{ctx: ctx, cancel: cancel}, nil
	}

	snap := snapshot.New(entryFor("Documents/notes.md", "H1 content"))
	incoming := entryFor("Documents/notes.md", "H2 content")
	incoming.ModifiedTime = testhelpers.FixedTime.Add(time.Hour)

	s := New(rem, fs, Options{Workers: 1, Policy: fastPolicy})
	report := s.Download(ctx, []snapshot.RemoteEntry{incoming}, func(r Result) {
		if r.Err == nil {
			snap.Put(r.Remote)
		}
	})

	if len(report.Failed) != 1 || !errors.Is(report.Failed[0].err, context.Canceled) {
		t.Fatalf("Failed = %+v", report.Failed)
	}
	testhelpers.AssertEqual(t, testhelpers.ReadFile(t, fs, "Documents/notes.md"), "H1 content", "destination")
	if left := tempFiles(t, fs, "/Documents"); len(left) != 0 {
		t.Errorf("temp files left behind: %v", left)
	}
	got, _ := snap.Get("Documents/notes.md")
	if got.ContentHash != testhelpers.MD5("H1 content") || snap.Dirty() {
		t.Errorf("snapshot changed: %+v", got)
	}
}

func TestDownload_InterruptedNewFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rem := mocks.NewRemote()
	rem.DownloadFileFunc = func(ctx context.Context, p string) (io.ReadCloser, error) {
		return &stallingBody{ctx: ctx, cancel: cancel}, nil
	}

	s := New(rem, fs, Options{Workers: 1, Policy: fastPolicy})
	s.Download(ctx, []snapshot.RemoteEntry{entryFor("Documents/new.md", "content")}, nil)

	if _, err := fs.Stat("/Documents/new.md"); !os.IsNotExist(err) {
		t.Errorf("destination exists after interrupted download: %v", err)
	}
	if left := tempFiles(t, fs, "/Documents"); len(left) != 0 {
		t.Errorf("temp files left behind: %v", left)
	}
}

func TestDownload_RetriesTransientFailures(t *testing.T) {
	rem := mocks.NewRemote()
	rem.Put("a.md", "alpha", testhelpers.FixedTime)
	var attempts int32
	rem.DownloadFileFunc = func(ctx context.Context, p string) (io.ReadCloser, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return nil, wserrors.Network("download", p, true, errors.New("503"))
		}
		return io.NopCloser(strings.NewReader("alpha")), nil
	}

	s := New(rem, afero.NewMemMapFs(), Options{Policy: fastPolicy})
	report := s.Download(context.Background(), []snapshot.RemoteEntry{entryFor("a.md", "alpha")}, nil)
	testhelpers.AssertNoError(t, report.Err(), "download with retries")
	testhelpers.AssertEqual(t, atomic.LoadInt32(&attempts), int32(3), "attempts")
}

func TestDownload_BoundedWorkers(t *testing.T) {
	rem := mocks.NewRemote()
	var active, peak int32
	var mu sync.Mutex
	rem.DownloadFileFunc = func(ctx context.Context, p string) (io.ReadCloser, error) {
		n := atomic.AddInt32(&active, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return io.NopCloser(strings.NewReader("x")), nil
	}

	var entries []snapshot.RemoteEntry
	for _, p := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		entries = append(entries, entryFor(p, "x"))
	}
	s := New(rem, afero.NewMemMapFs(), Options{Workers: 3, Policy: fastPolicy})
	report := s.Download(context.Background(), entries, nil)
	testhelpers.AssertNoError(t, report.Err())
	if peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak)
	}
}

func TestUpload(t *testing.T) {
	fs := afero.NewMemMapFs()
	testhelpers.WriteFile(t, fs, "Documents/notes.md", "H3 content", testhelpers.FixedTime)
	rem := mocks.NewRemote()

	s := New(rem, fs, Options{Policy: fastPolicy})
	var results []Result
	report := s.Upload(context.Background(), []string{"Documents/notes.md", "Documents/gone.md"}, func(r Result) {
		results = append(results, r)
	})

	if len(report.Succeeded) != 1 || len(report.Failed) != 1 {
		t.Fatalf("report = %+v", report)
	}
	if report.Failed[0].Kind != "LocalIOError" {
		t.Errorf("missing file failure kind = %s", report.Failed[0].Kind)
	}
	testhelpers.AssertEqual(t, rem.CountCalls("upload Documents/gone.md"), 0, "missing file must not reach the remote")

	got, _ := rem.Content("Documents/notes.md")
	testhelpers.AssertEqual(t, got, "H3 content", "remote content")
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		testhelpers.AssertEqual(t, r.Local.Hash, testhelpers.MD5("H3 content"), "local hash")
		testhelpers.AssertEqual(t, r.Remote.ContentHash, testhelpers.MD5("H3 content"), "remote hash")
		testhelpers.AssertEqual(t, r.Remote.Size, int64(10), "remote size")
	}
}

func TestUpload_FatalErrorStopsBatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	var paths []string
	for _, p := range []string{"a", "b", "c", "d", "e", "f"} {
		testhelpers.WriteFile(t, fs, p, p, time.Time{})
		paths = append(paths, p)
	}
	rem := mocks.NewRemote()
	rem.UploadFileFunc = func(ctx context.Context, p string, content io.Reader) (remote.UploadResult, error) {
		return remote.UploadResult{}, wserrors.Auth("upload", errors.New("token revoked"))
	}

	s := New(rem, fs, Options{Workers: 1, Policy: fastPolicy})
	report := s.Upload(context.Background(), paths, nil)

	if len(report.Succeeded) != 0 || len(report.Failed) != len(paths) {
		t.Fatalf("report = %+v", report)
	}
	if wserrors.KindOf(report.Err()) != wserrors.KindAuth {
		t.Errorf("Err() = %v, want auth error", report.Err())
	}
	testhelpers.AssertEqual(t, rem.CountCalls("upload "), 1, "uploads attempted after a fatal error")
}

func TestUpload_BoundedWorkers(t *testing.T) {
	fs := afero.NewMemMapFs()
	var paths []string
	for _, p := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"} {
		testhelpers.WriteFile(t, fs, p, p, time.Time{})
		paths = append(paths, p)
	}
	var active, peak int32
	var mu sync.Mutex
	rem := mocks.NewRemote()
	rem.UploadFileFunc = func(ctx context.Context, p string, content io.Reader) (remote.UploadResult, error) {
		n := atomic.AddInt32(&active, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		_, _ = io.Copy(io.Discard, content)
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return remote.UploadResult{ModifiedTime: testhelpers.FixedTime}, nil
	}

	s := New(rem, fs, Options{Workers: 8, Policy: fastPolicy})
	testhelpers.AssertNoError(t, s.Upload(context.Background(), paths, nil).Err())
	if peak > utils.MaxUploadWorkers {
		t.Errorf("peak upload concurrency = %d, want <= %d", peak, utils.MaxUploadWorkers)
	}
}

func TestReport_Merge(t *testing.T) {
	a := &Report{Succeeded: []string{"b"}}
	b := &Report{Succeeded: []string{"a"}}
	b.Fail("c", wserrors.Network("download", "c", true, errors.New("x")))
	a.Merge(b)
	a.Merge(nil)

	testhelpers.AssertEqual(t, strings.Join(a.Succeeded, ","), "a,b", "succeeded")
	testhelpers.AssertEqual(t, a.Total(), 3, "total")
	var appErr *utils.AppError
	if !errors.As(a.Err(), &appErr) || !appErr.CLIError.Retryable {
		t.Errorf("Err() = %v, want retryable partial failure", a.Err())
	}
}
