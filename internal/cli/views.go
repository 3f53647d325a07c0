package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dl-alexandre/drivews/internal/remote"
	"github.com/dl-alexandre/drivews/internal/types"
	"github.com/dl-alexandre/drivews/internal/workspace"
	"github.com/dl-alexandre/drivews/internal/workspace/index"
	"github.com/dl-alexandre/drivews/internal/workspace/reconcile"
	"github.com/dl-alexandre/drivews/internal/workspace/transfer"
)

// table is a ready-made types.TableRenderer.
type table struct {
	headers []string
	rows    [][]string
	empty   string
}

func (t *table) Headers() []string { return t.headers }
func (t *table) Rows() [][]string { return t.rows }
func (t *table) EmptyMessage() string { return t.empty }

type reconcileView struct {
	Items []reconcile.Classification `json:"items"`
	Plans []reconcile.Plan           `json:"plans"`
}

func (v *reconcileView) add(res *reconcile.Result) {
	v.Items = append(v.Items, res.Items...)
	v.Plans = append(v.Plans, res.Plan)
}

func (v *reconcileView) AsTableRenderer() types.TableRenderer {
	actions := make(map[string]string)
	for _, plan := range v.Plans {
		mark(actions, plan.Download, "download on sync")
		mark(actions, plan.Open, "opened")
		mark(actions, plan.Conflict, "conflict recorded")
		mark(actions, plan.Adopt, "baseline recorded")
		mark(actions, plan.Unopen, "unopened")
	}
	t := &table{headers: []string{"Path", "Status", "Action"}, empty: "Nothing to reconcile"}
	for _, c := range v.Items {
		t.rows = append(t.rows, []string{c.Path, c.Kind.String(), actions[c.Path]})
	}
	return t
}

func mark(actions map[string]string, paths []string, action string) {
	for _, p := range paths {
		actions[p] = action
	}
}

type entriesView []index.LocalEntry

func (v entriesView) AsTableRenderer() types.TableRenderer {
	t := &table{headers: []string{"Path", "State", "Explicit", "Size", "Updated"}, empty: "No files changed"}
	for _, e := range v {
		t.rows = append(t.rows, []string{
			e.Path,
			e.State.String(),
			strconv.FormatBool(e.Explicit),
			formatSize(e.LocalSize),
			formatTime(e.UpdatedAt),
		})
	}
	return t
}

type syncView struct {
	Reports []*workspace.SyncReport `json:"reports"`
}

func (v *syncView) AsTableRenderer() types.TableRenderer {
	t := &table{headers: []string{"Folder", "Path", "Result"}, empty: "Everything is up to date"}
	for _, r := range v.Reports {
		folder := r.Folder
		if folder == "" {
			folder = "/"
		}
		t.rows = append(t.rows, transferRows(folder, r.Transfers, "downloaded")...)
		for _, p := range r.Opened {
			t.rows = append(t.rows, []string{folder, p, "opened"})
		}
		for _, p := range r.Conflicted {
			t.rows = append(t.rows, []string{folder, p, "CONFLICT"})
		}
	}
	return t
}

type submitView workspace.SubmitReport

func (v *submitView) AsTableRenderer() types.TableRenderer {
	t := &table{headers: []string{"Path", "Result"}, empty: "Nothing to submit"}
	for _, row := range transferRows("", v.Transfers, "submitted") {
		t.rows = append(t.rows, row[1:])
	}
	for _, p := range v.Skipped {
		t.rows = append(t.rows, []string{p, "unchanged"})
	}
	return t
}

type reportView struct {
	*transfer.Report
}

func (v reportView) AsTableRenderer() types.TableRenderer {
	t := &table{headers: []string{"Path", "Result"}, empty: "Nothing transferred"}
	for _, row := range transferRows("", v.Report, "downloaded") {
		t.rows = append(t.rows, row[1:])
	}
	return t
}

func transferRows(folder string, r *transfer.Report, verb string) [][]string {
	if r == nil {
		return nil
	}
	var rows [][]string
	for _, p := range r.Succeeded {
		rows = append(rows, []string{folder, p, verb})
	}
	for _, f := range r.Failed {
		rows = append(rows, []string{folder, f.Path, fmt.Sprintf("failed (%s): %s", f.Kind, truncate(f.Error, 60))})
	}
	return rows
}

type openedView []string

func (v openedView) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string][]string{"opened": nonNil(v)})
}

func (v openedView) AsTableRenderer() types.TableRenderer {
	t := &table{headers: []string{"Opened"}, empty: "No opened files"}
	for _, p := range v {
		t.rows = append(t.rows, []string{p})
	}
	return t
}

type infoView struct {
	workspace.Info
	Profile string `json:"profile"`
	Auth    string `json:"auth"`
}

func (v *infoView) AsTableRenderer() types.TableRenderer {
	lastSync := "never"
	if v.LastSyncTime != nil {
		lastSync = formatTime(*v.LastSyncTime)
	}
	t := &table{headers: []string{"Field", "Value"}}
	t.rows = [][]string{
		{"Root", v.Root},
		{"Backend", v.Backend},
		{"Profile", v.Profile},
		{"Auth", v.Auth},
		{"Last sync", lastSync},
		{"Tracked folders", joinOrDash(v.TrackedFolders)},
		{"Tracked files", strconv.Itoa(v.TrackedFiles)},
		{"Opened", joinOrDash(v.Opened)},
		{"Conflicted", joinOrDash(v.Conflicted)},
	}
	return t
}

type listView []remote.Entry

func (v listView) AsTableRenderer() types.TableRenderer {
	t := &table{headers: []string{"Path", "Type", "Size", "Modified", "Hash"}, empty: "Folder is empty"}
	for _, e := range v {
		kind, size := "file", formatSize(e.Size)
		if e.IsDir {
			kind, size = "folder", "-"
		}
		hash := e.ContentHash
		if hash == "" {
			hash = "-"
		}
		t.rows = append(t.rows, []string{truncate(e.Path, 60), kind, size, formatTime(e.ModifiedTime), truncate(hash, 12)})
	}
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func joinOrDash(s []string) string {
	if len(s) == 0 {
		return "-"
	}
	return strings.Join(s, ", ")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
