package cli

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/dl-alexandre/drivews/internal/config"
	"github.com/dl-alexandre/drivews/internal/remote"
	"github.com/dl-alexandre/drivews/internal/workspace"
	"github.com/dl-alexandre/drivews/internal/workspace/reconcile"
	"github.com/dl-alexandre/drivews/internal/workspace/transfer"
)

func TestReconcileView_Actions(t *testing.T) {
	view := &reconcileView{}
	view.add(&reconcile.Result{
		Items: []reconcile.Classification{
			{Path: "Documents/a.md", Kind: reconcile.LocallyModified},
			{Path: "Documents/b.md", Kind: reconcile.RemotelyUpdated},
			{Path: "Documents/c.md", Kind: reconcile.Unmodified},
		},
		Plan: reconcile.Plan{
			Open:     []string{"Documents/a.md"},
			Download: []string{"Documents/b.md"},
		},
	})

	want := [][]string{
		{"Documents/a.md", "locally-modified", "opened"},
		{"Documents/b.md", "remotely-updated", "download on sync"},
		{"Documents/c.md", "unmodified", ""},
	}
	if got := view.AsTableRenderer().Rows(); !reflect.DeepEqual(got, want) {
		t.Errorf("rows = %v, want %v", got, want)
	}
}

func TestSyncView_Rows(t *testing.T) {
	view := &syncView{Reports: []*workspace.SyncReport{{
		Folder: "",
		Transfers: &transfer.Report{
			Succeeded: []string{"a.md"},
		},
		Conflicted: []string{"b.md"},
	}}}

	want := [][]string{
		{"/", "a.md", "downloaded"},
		{"/", "b.md", "CONFLICT"},
	}
	if got := view.AsTableRenderer().Rows(); !reflect.DeepEqual(got, want) {
		t.Errorf("rows = %v, want %v", got, want)
	}
}

func TestSubmitView_SkippedRows(t *testing.T) {
	view := &submitView{
		Transfers: &transfer.Report{Succeeded: []string{"Documents/a.md"}},
		Skipped:   []string{"Documents/b.md"},
	}
	want := [][]string{
		{"Documents/a.md", "submitted"},
		{"Documents/b.md", "unchanged"},
	}
	if got := view.AsTableRenderer().Rows(); !reflect.DeepEqual(got, want) {
		t.Errorf("rows = %v, want %v", got, want)
	}
}

func TestOpenedView_JSON(t *testing.T) {
	data, err := json.Marshal(openedView(nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"opened":[]}` {
		t.Errorf("json = %s", data)
	}
}

func TestListView_Rows(t *testing.T) {
	view := listView{
		{Path: "Documents", IsDir: true},
		{Path: "Documents/a.md", Size: 2048, ContentHash: "0123456789abcdef"},
	}
	rows := view.AsTableRenderer().Rows()
	if len(rows) != 2 {
		t.Fatalf("rows = %v", rows)
	}
	if rows[0][1] != "folder" || rows[0][2] != "-" || rows[0][4] != "-" {
		t.Errorf("folder row = %v", rows[0])
	}
	if rows[1][1] != "file" || rows[1][2] != "2.0 KB" || rows[1][4] != "012345678..." {
		t.Errorf("file row = %v", rows[1])
	}
}

func TestConfigView_Rows(t *testing.T) {
	cfg := config.DefaultConfig()
	rows := configView{cfg}.AsTableRenderer().Rows()

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row[0]] = row[1]
	}
	if values["remoteBackend"] != string(config.RemoteBackendDrive) {
		t.Errorf("remoteBackend = %q", values["remoteBackend"])
	}
	if _, ok := values["trackedFolders"]; !ok {
		t.Errorf("trackedFolders missing from %v", values)
	}
}

func TestFindEntry(t *testing.T) {
	listing := []remote.Entry{
		{Path: "Documents/sub", IsDir: true},
		{Path: "Documents/a.md", Size: 1},
	}
	if _, ok := findEntry(listing, "Documents/sub"); ok {
		t.Error("directories must not be downloadable")
	}
	if e, ok := findEntry(listing, "Documents/a.md"); !ok || e.Size != 1 {
		t.Errorf("findEntry = %+v, %v", e, ok)
	}
}
