package config

import (
	"os"
	"path/filepath"
)

// xdgDir returns $env, or $HOME/fallback when env is unset. The second result
// is false when neither is available.
func xdgDir(env, fallback string) (string, bool) {
	if dir := os.Getenv(env); dir != "" {
		return dir, true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(home, fallback), true
}

// defaultBaseDir is where the updater installs its script and settings file.
func defaultBaseDir() string {
	if dir, ok := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")); ok {
		return filepath.Join(dir, "applications", "bambu-control")
	}
	return "bambu-control"
}

func defaultDataDir() string {
	if dir, ok := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")); ok {
		return filepath.Join(dir, "bambu-control")
	}
	return "bambu-control-data"
}

// FilePath is the location of the JSON config file read by Load.
func FilePath() string {
	dir, ok := xdgDir("XDG_CONFIG_HOME", ".config")
	if !ok {
		dir = "."
	}
	return filepath.Join(dir, "bambu-control", "config.json")
}
