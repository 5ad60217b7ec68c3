package global

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const (
	ConfigDirEnv = "NBISLAND_CONFIG_DIR"
	appDirName   = "nbisland"
)

// DefaultConfigDir resolves where config.toml, the journal and the
// recent apps list live: $NBISLAND_CONFIG_DIR, then
// $XDG_CONFIG_HOME/nbisland, then ~/.config/nbisland.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv(ConfigDirEnv)); override != "" {
		return filepath.Clean(override), nil
	}
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); filepath.IsAbs(xdg) {
		return filepath.Join(xdg, appDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if home == "" {
		return "", errors.New("cannot resolve config dir: home directory is empty")
	}
	return filepath.Join(home, ".config", appDirName), nil
}

// JournalPath is the default journal database inside dir.
func JournalPath(dir string) string {
	if strings.TrimSpace(dir) == "" {
		return ""
	}
	return filepath.Join(dir, defaultJournalFile)
}
