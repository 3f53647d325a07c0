package exclude

import "testing"

func TestIsExcluded(t *testing.T) {
	m := New([]string{"build/", "*.bak", "secrets.txt", "docs/draft"}, true)

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{".git", true, true},
		{".git/config", false, true},
		{"src/.git/HEAD", false, true},
		{"web/node_modules", true, true},
		{"web/node_modules/react/index.js", false, true},
		{"pkg/__pycache__/mod.pyc", false, true},
		{".DS_Store", false, true},
		{"photos/._IMG_0001.jpg", false, true},
		{"scratch.tmp", false, true},
		{"build", true, true},
		{"app/build/out.bin", false, true},
		{"old/report.bak", false, true},
		{"nested/secrets.txt", false, true},
		{"docs/draft", true, true},
		{"docs/draft/ch1.md", false, true},
		{"docs/drafts/ch1.md", false, false},
		{"notes.md", false, false},
		{"node_modules.md", false, false},
		{"git/readme", false, false},
		{"build", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := m.IsExcluded(tt.path, tt.isDir); got != tt.want {
				t.Errorf("IsExcluded(%q, %v) = %v, want %v", tt.path, tt.isDir, got, tt.want)
			}
		})
	}
}

func TestNew_WithoutDefaults(t *testing.T) {
	m := New([]string{" ", "*.bak"}, false)
	if got := m.Patterns(); len(got) != 1 || got[0] != "*.bak" {
		t.Fatalf("Patterns() = %v", got)
	}
	if m.IsExcluded(".git/config", false) {
		t.Error("defaults should be off")
	}
	if !m.IsExcluded("a.bak", false) {
		t.Error("custom pattern should apply")
	}
}

func TestNilMatcher(t *testing.T) {
	var m *Matcher
	if m.IsExcluded(".git", true) {
		t.Error("nil matcher must not exclude")
	}
	if m.Patterns() != nil {
		t.Error("nil matcher has no patterns")
	}
}
