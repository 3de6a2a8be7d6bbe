package config

import (
	"path/filepath"
)

type Config struct {
	Paths      PathsConfig
	Commands   CommandsConfig
	Extensions ExtensionsConfig
	Storage    StorageConfig
	Server     ServerConfig
	Log        LogConfig
	Updates    UpdatesConfig
	Panel      PanelConfig
}

// PathsConfig locates the files shared with the update tooling.
type PathsConfig struct {
	BaseDir      string
	SettingsFile string
	UpdateScript string
}

type CommandsConfig struct {
	Shell         string
	Interpreter   string
	ExtensionsCLI string
}

type ExtensionsConfig struct {
	PanelID string
	DockID  string
}

type StorageConfig struct {
	DataDir string
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type LogConfig struct {
	Level string
	File  string
}

type UpdatesConfig struct {
	Buffer int
}

type PanelConfig struct {
	Theme string
}

func defaults() Config {
	baseDir := defaultBaseDir()
	dataDir := defaultDataDir()
	return Config{
		Paths: PathsConfig{
			BaseDir: baseDir,
		},
		Commands: CommandsConfig{
			Shell:         "sh",
			Interpreter:   "bash",
			ExtensionsCLI: "gnome-extensions",
		},
		Extensions: ExtensionsConfig{
			PanelID: "dash-to-panel@jderose9.github.com",
			DockID:  "dash-to-dock@micxgx.gmail.com",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Server: ServerConfig{
			Port: 4780,
		},
		Log: LogConfig{
			Level: "info",
		},
		Updates: UpdatesConfig{
			Buffer: 64,
		},
		Panel: PanelConfig{
			Theme: "adwaita",
		},
	}
}

// Load reads configuration from the JSON file backend and environment
// variables.
//
// The backend is a flat JSON object of dotted keys at
// $XDG_CONFIG_HOME/bambu-control/config.json.
//
// Environment variables (BAMBU_*) override backend values. Paths left empty
// are derived from the base and data directories after all sources are applied.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	cfg.fillDerived()

	return cfg, nil
}

// fillDerived resolves paths that default relative to other settings, so that
// overriding paths.base_dir alone moves the settings file and script with it.
func (c *Config) fillDerived() {
	if c.Paths.SettingsFile == "" {
		c.Paths.SettingsFile = filepath.Join(c.Paths.BaseDir, "update_config.conf")
	}
	if c.Paths.UpdateScript == "" {
		c.Paths.UpdateScript = filepath.Join(c.Paths.BaseDir, "update_script.sh")
	}
	if c.Log.File == "" {
		c.Log.File = filepath.Join(c.Storage.DataDir, "bambuctl.log")
	}
	if c.Updates.Buffer <= 0 {
		c.Updates.Buffer = 64
	}
}
