package testing

import (
	"fmt"
	"testing"
)

// recordingTB captures Fatalf instead of stopping the test.
type recordingTB struct {
	testing.TB
	failed  bool
	message string
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Fatalf(format string, args ...interface{}) {
	r.failed = true
	r.message = fmt.Sprintf(format, args...)
}

func TestAssertEqual(t *testing.T) {
	tests := []struct {
		name     string
		got      interface{}
		want     interface{}
		wantFail bool
	}{
		{"equal strings", "H2", "H2", false},
		{"different strings", "H2", "H3", true},
		{"equal slices", []string{"Documents/notes.md"}, []string{"Documents/notes.md"}, false},
		{"different slices", []string{"a.md"}, []string{"b.md"}, true},
		{"nil vs one element", []string(nil), []string{"a.md"}, true},
		{"equal maps", map[string]int{"a": 1}, map[string]int{"a": 1}, false},
		{"different types", 1, int64(1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingTB{TB: t}
			AssertEqual(rec, tt.got, tt.want, "value")
			if rec.failed != tt.wantFail {
				t.Errorf("failed = %v, want %v (%s)", rec.failed, tt.wantFail, rec.message)
			}
		})
	}
}
