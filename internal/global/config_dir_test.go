package global

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfigDir_UsesOverride(t *testing.T) {
	t.Setenv(ConfigDirEnv, "/tmp/nbisland-config-test/")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	got, err := DefaultConfigDir()
	if err != nil {
		t.Fatalf("DefaultConfigDir returned error: %v", err)
	}
	if got != "/tmp/nbisland-config-test" {
		t.Fatalf("expected override path, got %q", got)
	}
}

func TestDefaultConfigDir_FallsBackToXDG(t *testing.T) {
	t.Setenv(ConfigDirEnv, "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	got, err := DefaultConfigDir()
	if err != nil {
		t.Fatalf("DefaultConfigDir returned error: %v", err)
	}
	if got != filepath.Join("/tmp/xdg", "nbisland") {
		t.Fatalf("expected xdg path, got %q", got)
	}
}

func TestDefaultConfigDir_IgnoresRelativeXDG(t *testing.T) {
	home := t.TempDir()
	t.Setenv(ConfigDirEnv, "")
	t.Setenv("XDG_CONFIG_HOME", "relative/dir")
	t.Setenv("HOME", home)
	got, err := DefaultConfigDir()
	if err != nil {
		t.Fatalf("DefaultConfigDir returned error: %v", err)
	}
	if got != filepath.Join(home, ".config", "nbisland") {
		t.Fatalf("expected home config path, got %q", got)
	}
}

func TestJournalPath(t *testing.T) {
	if got := JournalPath("/cfg"); got != filepath.Join("/cfg", "journal.db") {
		t.Fatalf("unexpected journal path %q", got)
	}
	if got := JournalPath(" "); got != "" {
		t.Fatalf("empty dir should give empty path, got %q", got)
	}
}
