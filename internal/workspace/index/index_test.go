package index

import (
	"testing"
	"time"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
)

var (
	t0   = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	obsA = Observation{Hash: "aaa", Size: 3, ModTime: t0}
	obsB = Observation{Hash: "bbb", Size: 3, ModTime: t0.Add(time.Minute)}
)

func baselined(p string) *Index {
	idx := New()
	idx.SetClock(func() time.Time { return t0 })
	_ = idx.SetBaseline(p, Baseline{RemoteVersion: "r1", Local: obsA})
	return idx
}

func TestParseState(t *testing.T) {
	for _, s := range []State{Unopened, Opened, Conflicted} {
		got, err := ParseState(s.String())
		if err != nil || got != s {
			t.Errorf("ParseState(%s) = %v, %v", s, got, err)
		}
	}
	if _, err := ParseState("merged"); err == nil {
		t.Error("expected error for unknown state")
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*Index)
		obs      Observation
		explicit bool
		wantErr  bool
		conflict bool
	}{
		{name: "detected change", obs: obsB},
		{name: "explicit without change", obs: obsA, explicit: true},
		{name: "detected without change", obs: obsA, wantErr: true},
		{
			name:     "conflicted cannot open",
			setup:    func(idx *Index) { idx.MarkConflicted("a", obsB, "r2") },
			obs:      obsB,
			explicit: true,
			wantErr:  true,
			conflict: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := baselined("a")
			if tt.setup != nil {
				tt.setup(idx)
			}
			err := idx.Open("a", tt.obs, tt.explicit)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.conflict && wserrors.KindOf(err) != wserrors.KindConflict {
				t.Errorf("err kind = %v, want conflict", wserrors.KindOf(err))
			}
			if err == nil {
				e, _ := idx.Get("a")
				if e.State != Opened || e.Explicit != tt.explicit || e.LocalHash != tt.obs.Hash {
					t.Errorf("entry = %+v", e)
				}
				if e.BaseRemoteHash != "r1" {
					t.Error("Open must keep the baseline")
				}
			}
		})
	}
}

func TestOpen_UntrackedPath(t *testing.T) {
	idx := New()
	if err := idx.Open("new.md", obsA, true); err != nil {
		t.Fatal(err)
	}
	e, ok := idx.Get("new.md")
	if !ok || e.State != Opened || e.HasBaseline() {
		t.Errorf("entry = %+v", e)
	}
}

func TestConflictLifecycle(t *testing.T) {
	idx := baselined("a")
	_ = idx.Open("a", obsB, false)
	idx.MarkConflicted("a", obsB, "r2")

	e, _ := idx.Get("a")
	if e.State != Conflicted || e.BaseRemoteHash != "r1" || e.ConflictRemoteHash != "r2" {
		t.Fatalf("entry = %+v", e)
	}

	if err := idx.CompleteSubmit("a", Baseline{RemoteVersion: "r3", Local: obsB}); err == nil {
		t.Error("CompleteSubmit must not leave Conflicted")
	}
	if err := idx.SetBaseline("a", Baseline{RemoteVersion: "r2", Local: obsB}); wserrors.KindOf(err) != wserrors.KindConflict {
		t.Errorf("SetBaseline on conflicted = %v", err)
	}
	if err := idx.Revert("a"); wserrors.KindOf(err) != wserrors.KindConflict {
		t.Errorf("Revert on conflicted = %v", err)
	}
	if err := idx.Forget("a"); err == nil {
		t.Error("Forget must not drop a conflicted entry")
	}

	if err := idx.Resolve("a", Baseline{RemoteVersion: "r3", Local: obsB}); err != nil {
		t.Fatalf("Resolve() = %v", err)
	}
	e, _ = idx.Get("a")
	if e.State != Unopened || e.BaseRemoteHash != "r3" || e.BaseLocalHash != "bbb" || e.ConflictRemoteHash != "" {
		t.Errorf("resolved entry = %+v", e)
	}
	if err := idx.Resolve("a", Baseline{}); err == nil {
		t.Error("Resolve on unopened should fail")
	}
}

func TestCompleteSubmit(t *testing.T) {
	idx := baselined("a")
	if err := idx.CompleteSubmit("a", Baseline{}); err == nil {
		t.Error("CompleteSubmit on unopened should fail")
	}
	_ = idx.Open("a", obsB, true)
	if err := idx.CompleteSubmit("a", Baseline{RemoteVersion: "r2", Local: obsB}); err != nil {
		t.Fatal(err)
	}
	e, _ := idx.Get("a")
	if e.State != Unopened || e.Explicit || e.BaseRemoteHash != "r2" || e.BaseLocalHash != "bbb" {
		t.Errorf("entry = %+v", e)
	}
}

func TestRevert(t *testing.T) {
	idx := baselined("a")
	_ = idx.Open("a", obsB, true)
	_ = idx.Open("new", obsA, true)

	if err := idx.Revert("a"); err != nil {
		t.Fatal(err)
	}
	e, _ := idx.Get("a")
	if e.State != Unopened || e.Explicit || e.BaseRemoteHash != "r1" {
		t.Errorf("reverted entry = %+v", e)
	}

	if err := idx.Revert("new"); err != nil {
		t.Fatal(err)
	}
	if _, ok := idx.Get("new"); ok {
		t.Error("entry without baseline should be dropped on revert")
	}
	if err := idx.Revert("never-seen"); err != nil {
		t.Errorf("Revert of untracked path = %v", err)
	}
}

func TestInStateAndObserve(t *testing.T) {
	idx := New()
	_ = idx.SetBaseline("c", Baseline{RemoteVersion: "r", Local: obsA})
	_ = idx.Open("b", obsA, true)
	_ = idx.Open("a", obsA, true)
	idx.MarkConflicted("d", Observation{}, "r9")

	if got := idx.InState(Opened); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("InState(Opened) = %v", got)
	}
	if got := idx.InState(Conflicted); len(got) != 1 || got[0] != "d" {
		t.Errorf("InState(Conflicted) = %v", got)
	}

	idx.Observe("c", obsB)
	e, _ := idx.Get("c")
	if e.State != Unopened || e.LocalHash != "bbb" || e.BaseLocalHash != "aaa" {
		t.Errorf("Observe changed more than disk metadata: %+v", e)
	}
}
