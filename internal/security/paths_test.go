package security

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveOutput(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain file", "score.mid", filepath.Join(root, "score.mid"), false},
		{"nested", "frames/run1", filepath.Join(root, "frames", "run1"), false},
		{"dot segments inside", "a/../b.png", filepath.Join(root, "b.png"), false},
		{"absolute inside", filepath.Join(root, "plots"), filepath.Join(root, "plots"), false},
		{"traversal", "../escape.mid", "", true},
		{"deep traversal", "frames/../../escape", "", true},
		{"absolute outside", "/etc/passwd", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveOutput(root, tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ResolveOutput(%q) = %q, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveOutput(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ResolveOutput(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestWithin_SymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "evil")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	err := Within(root, filepath.Join(link, "new.png"))
	if !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("expected ErrOutsideRoot through a symlinked dir, got %v", err)
	}
	if err := Within(root, filepath.Join(root, "missing", "deeper", "f.png")); err != nil {
		t.Errorf("non-existent path inside root rejected: %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"snapshot-01.png", "snapshot-01.png"},
		{"my frame #3", "my_frame_3"},
		{"../../etc/passwd", "etc_passwd"},
		{"..", "untitled"},
		{"", "untitled"},
		{"ünïcode", "n_code"},
		{"a///b", "a_b"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := SanitizeFilename(strings.Repeat("x", 200))
	if len(long) != 64 {
		t.Errorf("long name length = %d, want 64", len(long))
	}
}
