package workspace

import (
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/retry"
	testhelpers "github.com/dl-alexandre/drivews/internal/testing"
	"github.com/dl-alexandre/drivews/internal/testing/mocks"
	"github.com/dl-alexandre/drivews/internal/workspace/index"
	"github.com/dl-alexandre/drivews/internal/workspace/reconcile"
	"github.com/dl-alexandre/drivews/internal/workspace/store"
	"github.com/spf13/afero"
)

const notes = "Documents/notes.md"

var (
	t0 = testhelpers.FixedTime.Add(-24 * time.Hour)
	t1 = testhelpers.FixedTime.Add(-time.Hour)
)

type env struct {
	root string
	fs   afero.Fs
	rem  *mocks.Remote
	ws   *Context
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{root: t.TempDir(), fs: afero.NewMemMapFs(), rem: mocks.NewRemote()}
	e.ws = e.open(t)
	return e
}

func (e *env) open(t *testing.T) *Context {
	t.Helper()
	ws, err := Open(testhelpers.TestContext(), Options{
		Root:    e.root,
		Fs:      e.fs,
		Remote:  e.rem,
		Backend: "mock",
		Policy:  retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Clock:   func() time.Time { return testhelpers.FixedTime },
	})
	testhelpers.AssertNoError(t, err, "open workspace")
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func (e *env) sync(t *testing.T) *SyncReport {
	t.Helper()
	report, err := e.ws.Sync(testhelpers.TestContext(), SyncOptions{ScopeOptions: ScopeOptions{Folder: "Documents"}})
	testhelpers.AssertNoError(t, err, "sync")
	return report
}

// seed puts content on the remote and syncs it down, leaving notes.md
// Unopened with a baseline.
func (e *env) seed(t *testing.T, content string) {
	t.Helper()
	e.rem.Put(notes, content, t0)
	e.sync(t)
	if got := testhelpers.ReadFile(t, e.fs, notes); got != content {
		t.Fatalf("seeded local = %q, want %q", got, content)
	}
}

// seedReport is seed returning the sync report.
func (e *env) seedReport(t *testing.T, content string) *SyncReport {
	t.Helper()
	e.rem.Put(notes, content, t0)
	return e.sync(t)
}

func (e *env) entry(t *testing.T, p string) index.LocalEntry {
	t.Helper()
	entry, ok := e.ws.Index().Get(p)
	if !ok {
		t.Fatalf("%s is not tracked", p)
	}
	return entry
}

func assertKind(t *testing.T, err error, want wserrors.Kind) {
	t.Helper()
	if got := wserrors.KindOf(err); got != want {
		t.Fatalf("error kind = %s, want %s (err: %v)", got, want, err)
	}
}

func TestSync_DownloadsRemoteUpdate(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "H1")

	e.rem.Put(notes, "H2", t1)
	report := e.sync(t)

	testhelpers.AssertEqual(t, report.Transfers.Succeeded, []string{notes})
	testhelpers.AssertEqual(t, testhelpers.ReadFile(t, e.fs, notes), "H2")

	entry := e.entry(t, notes)
	testhelpers.AssertEqual(t, entry.State, index.Unopened)
	testhelpers.AssertEqual(t, entry.BaseRemoteHash, testhelpers.MD5("H2"))
	testhelpers.AssertEqual(t, entry.BaseLocalHash, testhelpers.MD5("H2"))

	info, _ := e.fs.Stat("/" + notes)
	if !info.ModTime().Equal(t1) {
		t.Errorf("local mtime = %v, want the remote mtime %v", info.ModTime(), t1)
	}
}

func TestSubmit_UploadsLocalEdit(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "H1")
	testhelpers.WriteFile(t, e.fs, notes, "H3", t1)

	report, err := e.ws.Submit(testhelpers.TestContext(), SubmitOptions{Paths: []string{notes}})
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, report.Transfers.Succeeded, []string{notes})

	content, _ := e.rem.Content(notes)
	testhelpers.AssertEqual(t, content, "H3")

	entry := e.entry(t, notes)
	testhelpers.AssertEqual(t, entry.State, index.Unopened)
	testhelpers.AssertEqual(t, entry.BaseRemoteHash, testhelpers.MD5("H3"))
	testhelpers.AssertEqual(t, entry.Explicit, false)
}

func TestSubmitAll_PicksUpUnopenedEdits(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "H1")
	testhelpers.WriteFile(t, e.fs, notes, "H3", t1)

	report, err := e.ws.Submit(testhelpers.TestContext(), SubmitOptions{All: true})
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, report.Transfers.Succeeded, []string{notes})
	testhelpers.AssertEqual(t, len(e.ws.Index().InState(index.Opened)), 0)
}

func TestSubmit_SkipsUnchangedPath(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "H1")

	report, err := e.ws.Submit(testhelpers.TestContext(), SubmitOptions{Paths: []string{notes}})
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, report.Skipped, []string{notes})
	testhelpers.AssertEqual(t, e.rem.CountCalls("upload"), 0)
}

func TestSubmit_RefusesStaleBaseline(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "H1")
	e.rem.Put(notes, "H2", t1)

	_, err := e.ws.Submit(testhelpers.TestContext(), SubmitOptions{Paths: []string{notes}})
	assertKind(t, err, wserrors.KindConflict)
	testhelpers.AssertEqual(t, e.rem.CountCalls("upload"), 0)
}

func TestSubmit_MissingLocalFile(t *testing.T) {
	e := newEnv(t)

	_, err := e.ws.Submit(testhelpers.TestContext(), SubmitOptions{Paths: []string{"Documents/gone.md"}})
	assertKind(t, err, wserrors.KindLocalIO)
}

func TestConflict_NeitherSideOverwritten(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "H1")
	testhelpers.WriteFile(t, e.fs, notes, "H3", t1)
	e.rem.Put(notes, "H2", t1)

	report := e.sync(t)
	testhelpers.AssertEqual(t, report.Conflicted, []string{notes})
	testhelpers.AssertEqual(t, len(report.Transfers.Succeeded), 0)
	testhelpers.AssertEqual(t, testhelpers.ReadFile(t, e.fs, notes), "H3")
	testhelpers.AssertEqual(t, e.entry(t, notes).State, index.Conflicted)

	_, err := e.ws.Submit(testhelpers.TestContext(), SubmitOptions{Paths: []string{notes}})
	assertKind(t, err, wserrors.KindConflict)
	content, _ := e.rem.Content(notes)
	testhelpers.AssertEqual(t, content, "H2")

	// a later sync keeps it conflicted
	report = e.sync(t)
	testhelpers.AssertEqual(t, report.Conflicted, []string{notes})
	testhelpers.AssertEqual(t, testhelpers.ReadFile(t, e.fs, notes), "H3")
}

func TestResolve_AcceptRemoteKeepsBackup(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "H1")
	testhelpers.WriteFile(t, e.fs, notes, "H3", t1)
	e.rem.Put(notes, "H2", t1)
	e.sync(t)

	entry, err := e.ws.Resolve(testhelpers.TestContext(), notes, "remote")
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, entry.State, index.Unopened)
	testhelpers.AssertEqual(t, testhelpers.ReadFile(t, e.fs, notes), "H2")
	testhelpers.AssertEqual(t, testhelpers.ReadFile(t, e.fs, notes+".backup"), "H3")
}

func TestResolve_AcceptLocalTwice(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "H1")
	testhelpers.WriteFile(t, e.fs, notes, "H3", t1)
	e.rem.Put(notes, "H2", t1)
	e.sync(t)

	first, err := e.ws.Resolve(testhelpers.TestContext(), notes, "auto")
	testhelpers.AssertNoError(t, err)
	second, err := e.ws.Resolve(testhelpers.TestContext(), notes, "local")
	testhelpers.AssertNoError(t, err)

	testhelpers.AssertEqual(t, second, first)
	testhelpers.AssertEqual(t, e.rem.CountCalls("upload"), 1)
	content, _ := e.rem.Content(notes)
	testhelpers.AssertEqual(t, content, "H3")
}

func TestResolve_RejectsMerge(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "H1")

	_, err := e.ws.Resolve(testhelpers.TestContext(), notes, "merge")
	testhelpers.AssertError(t, err)
}

func TestReconcile_NoOpWhenInSync(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "H1")

	for i := 0; i < 2; i++ {
		res, err := e.ws.Reconcile(testhelpers.TestContext(), ReconcileOptions{
			ScopeOptions: ScopeOptions{Folder: "Documents"},
			Refresh:      true,
		})
		testhelpers.AssertNoError(t, err)
		if !res.Plan.Empty() {
			t.Fatalf("pass %d: plan = %+v, want empty", i, res.Plan)
		}
		testhelpers.AssertEqual(t, res.Of(reconcile.Unmodified), []string{notes})
	}
}

func TestReconcile_OpensDetectedEdit(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "H1")
	testhelpers.WriteFile(t, e.fs, notes, "H3", t1)

	res, err := e.ws.Reconcile(testhelpers.TestContext(), ReconcileOptions{ScopeOptions: ScopeOptions{Folder: "Documents"}})
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, res.Plan.Open, []string{notes})

	entry := e.entry(t, notes)
	testhelpers.AssertEqual(t, entry.State, index.Opened)
	testhelpers.AssertEqual(t, entry.Explicit, false)

	// restoring the content unopens it again
	testhelpers.WriteFile(t, e.fs, notes, "H1", t1.Add(time.Minute))
	res, err = e.ws.Reconcile(testhelpers.TestContext(), ReconcileOptions{ScopeOptions: ScopeOptions{Folder: "Documents"}})
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, res.Plan.Unopen, []string{notes})
	testhelpers.AssertEqual(t, e.entry(t, notes).State, index.Unopened)
}

func TestAdd_StaysOpenedUntilSubmit(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "H1")

	entries, err := e.ws.Add(testhelpers.TestContext(), []string{notes})
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, len(entries), 1)
	testhelpers.AssertEqual(t, entries[0].State, index.Opened)

	res, err := e.ws.Reconcile(testhelpers.TestContext(), ReconcileOptions{ScopeOptions: ScopeOptions{Folder: "Documents"}})
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, res.Of(reconcile.LocallyModified), []string{notes})
	testhelpers.AssertEqual(t, e.entry(t, notes).State, index.Opened)

	_, err = e.ws.Submit(testhelpers.TestContext(), SubmitOptions{Paths: []string{notes}})
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, e.entry(t, notes).State, index.Unopened)
}

func TestAdd_DirectoryAndMissingPath(t *testing.T) {
	e := newEnv(t)
	testhelpers.WriteFile(t, e.fs, "Documents/a.md", "a", t0)
	testhelpers.WriteFile(t, e.fs, "Documents/sub/b.md", "b", t0)
	testhelpers.WriteFile(t, e.fs, "Documents/.git/HEAD", "ref", t0)

	entries, err := e.ws.Add(testhelpers.TestContext(), []string{"Documents", "Documents/missing.md"})
	assertKind(t, err, wserrors.KindLocalIO)
	testhelpers.AssertEqual(t, len(entries), 2)
	testhelpers.AssertEqual(t, e.ws.Index().InState(index.Opened), []string{"Documents/a.md", "Documents/sub/b.md"})
}

func TestRevert_All(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "H1")
	testhelpers.WriteFile(t, e.fs, "Documents/new.md", "new", t0)
	_, err := e.ws.Add(testhelpers.TestContext(), []string{notes, "Documents/new.md"})
	testhelpers.AssertNoError(t, err)

	_, err = e.ws.Revert(testhelpers.TestContext(), nil, true)
	testhelpers.AssertNoError(t, err)

	testhelpers.AssertEqual(t, e.entry(t, notes).State, index.Unopened)
	if _, ok := e.ws.Index().Get("Documents/new.md"); ok {
		t.Error("a reverted file with no baseline should be untracked")
	}
	testhelpers.AssertEqual(t, testhelpers.ReadFile(t, e.fs, "Documents/new.md"), "new")
}

func TestRevert_Conflicted(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "H1")
	testhelpers.WriteFile(t, e.fs, notes, "H3", t1)
	e.rem.Put(notes, "H2", t1)
	e.sync(t)

	_, err := e.ws.Revert(testhelpers.TestContext(), []string{notes}, false)
	assertKind(t, err, wserrors.KindConflict)
	testhelpers.AssertEqual(t, e.entry(t, notes).State, index.Conflicted)
}

func TestHashlessRemote_AdoptsMatchingFile(t *testing.T) {
	e := newEnv(t)
	e.rem.Hashless = true
	e.rem.Put(notes, "H1", t0)
	testhelpers.WriteFile(t, e.fs, notes, "H1", t1)

	report := e.sync(t)
	testhelpers.AssertEqual(t, report.Plan.Adopt, []string{notes})
	testhelpers.AssertEqual(t, e.rem.CountCalls("download"), 0)

	entry := e.entry(t, notes)
	testhelpers.AssertEqual(t, entry.State, index.Unopened)
	testhelpers.AssertEqual(t, entry.BaseRemoteHash, "size=2;mtime="+itoa(t0.Unix()))
}

func TestHashlessRemote_UnprovenFileConflicts(t *testing.T) {
	e := newEnv(t)
	e.rem.Hashless = true
	e.rem.Put(notes, "H2", t1)
	testhelpers.WriteFile(t, e.fs, notes, "H1", t0)

	report := e.sync(t)
	testhelpers.AssertEqual(t, report.Conflicted, []string{notes})
	testhelpers.AssertEqual(t, testhelpers.ReadFile(t, e.fs, notes), "H1")
}

func TestFetch_RefusesLocalEdits(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "H1")
	testhelpers.WriteFile(t, e.fs, notes, "H3", t1)
	e.rem.Put(notes, "H2", t1)

	_, err := e.ws.Fetch(testhelpers.TestContext(), []string{notes}, 0)
	assertKind(t, err, wserrors.KindConflict)
	testhelpers.AssertEqual(t, testhelpers.ReadFile(t, e.fs, notes), "H3")
}

func TestFetch_DownloadsUntrackedFile(t *testing.T) {
	e := newEnv(t)
	e.rem.Put("Photos/cat.jpg", "meow", t0)

	report, err := e.ws.Fetch(testhelpers.TestContext(), []string{"Photos/cat.jpg"}, 0)
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, report.Succeeded, []string{"Photos/cat.jpg"})
	testhelpers.AssertEqual(t, testhelpers.ReadFile(t, e.fs, "Photos/cat.jpg"), "meow")
	testhelpers.AssertEqual(t, e.entry(t, "Photos/cat.jpg").State, index.Unopened)

	_, err = e.ws.Fetch(testhelpers.TestContext(), []string{"Photos/dog.jpg"}, 0)
	assertKind(t, err, wserrors.KindNetwork)
}

func TestFlush_PersistsAcrossOpen(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "H1")
	testhelpers.AssertNoError(t, e.ws.Flush(testhelpers.TestContext()))
	testhelpers.AssertNoError(t, e.ws.Close())

	ws := e.open(t)
	info := ws.Info()
	testhelpers.AssertEqual(t, info.TrackedFolders, []string{"Documents"})
	testhelpers.AssertEqual(t, info.Backend, "mock")
	testhelpers.AssertEqual(t, info.TrackedFiles, 1)
	if info.LastSyncTime == nil || !info.LastSyncTime.Equal(testhelpers.FixedTime) {
		t.Errorf("last sync = %v, want %v", info.LastSyncTime, testhelpers.FixedTime)
	}
	entry, ok := ws.Index().Get(notes)
	if !ok || entry.BaseRemoteHash != testhelpers.MD5("H1") {
		t.Errorf("entry after reopen = %+v", entry)
	}
}

func TestSync_ExcludedRemoteListedNotDownloaded(t *testing.T) {
	const excluded = "Documents/node_modules/x.js"
	e := newEnv(t)
	e.rem.Put(excluded, "x", t0)
	report := e.seedReport(t, "H1")

	testhelpers.AssertEqual(t, report.Transfers.Succeeded, []string{notes})
	if _, ok := e.ws.Snapshot().Get(excluded); !ok {
		t.Error("excluded remote entry missing from the snapshot")
	}
	if _, ok := e.ws.Index().Get(excluded); ok {
		t.Error("excluded remote entry was tracked")
	}
	if exists, _ := afero.Exists(e.fs, "/"+excluded); exists {
		t.Error("excluded remote entry was downloaded")
	}
}

func TestCommit(t *testing.T) {
	const other = "Documents/other.md"
	tests := []struct {
		name         string
		runErr       error
		wantBase     string
		wantOtherSet index.State
	}{
		{"success keeps everything", nil, "H2", index.Opened},
		{"partial failure keeps everything", wserrors.Network("download", "x", true, errors.New("reset")), "H2", index.Opened},
		{"auth failure keeps completed transfers only", wserrors.Auth("list", errors.New("token revoked")), "H2", index.Unopened},
		{"store corruption keeps nothing", wserrors.StoreCorruption("load", errors.New("bad page")), "H1", index.Unopened},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.rem.Put(other, "O1", t0)
			e.seed(t, "H1")
			testhelpers.AssertNoError(t, e.ws.Flush(testhelpers.TestContext()), "initial flush")

			e.rem.Put(notes, "H2", t1)
			testhelpers.WriteFile(t, e.fs, other, "O2", t1.Add(time.Minute))
			report := e.sync(t)
			testhelpers.AssertEqual(t, report.Transfers.Succeeded, []string{notes})
			testhelpers.AssertEqual(t, report.Opened, []string{other})

			testhelpers.AssertNoError(t, e.ws.Commit(testhelpers.TestContext(), tt.runErr), "commit")
			testhelpers.AssertNoError(t, e.ws.Close())

			ws := e.open(t)
			entry, ok := ws.Index().Get(notes)
			if !ok || entry.BaseRemoteHash != testhelpers.MD5(tt.wantBase) {
				t.Errorf("notes.md after reopen = %+v, want baseline %s", entry, tt.wantBase)
			}
			snap, ok := ws.Snapshot().Get(notes)
			if !ok || snap.ContentHash != testhelpers.MD5(tt.wantBase) {
				t.Errorf("snapshot after reopen = %+v, want %s", snap, tt.wantBase)
			}
			otherEntry, ok := ws.Index().Get(other)
			if !ok || otherEntry.State != tt.wantOtherSet {
				t.Errorf("other.md after reopen = %+v, want state %s", otherEntry, tt.wantOtherSet)
			}
		})
	}
}

func TestReset_RemovesState(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "H1")
	testhelpers.AssertNoError(t, e.ws.Flush(testhelpers.TestContext()))
	testhelpers.AssertNoError(t, e.ws.Close())

	testhelpers.AssertNoError(t, Reset(e.root))
	if _, err := os.Stat(store.Path(e.root)); !os.IsNotExist(err) {
		t.Fatalf("store still present: %v", err)
	}

	ws := e.open(t)
	testhelpers.AssertEqual(t, ws.Index().Len(), 0)
}

func TestRelPath(t *testing.T) {
	tests := []struct {
		name    string
		cwd     string
		arg     string
		want    string
		wantErr bool
	}{
		{"relative inside workspace", "/ws/Documents", "notes.md", "Documents/notes.md", false},
		{"relative outside workspace", "/elsewhere", "Documents/notes.md", "Documents/notes.md", false},
		{"absolute", "/elsewhere", "/ws/Documents/a.md", "Documents/a.md", false},
		{"root", "/ws", ".", "", false},
		{"escapes root", "/ws", "../x", "", true},
		{"absolute outside", "/ws", "/tmp/x", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RelPath("/ws", tt.cwd, tt.arg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RelPath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("RelPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
