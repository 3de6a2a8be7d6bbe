package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key      string
	typ      keyType
	env      string
	secret   bool
	validate func(raw string) error
	apply    func(cfg *Config, v any)
	extract  func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "paths.base_dir", typ: kString, env: "BAMBU_BASE_DIR",
		apply:   func(cfg *Config, v any) { cfg.Paths.BaseDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Paths.BaseDir },
	},
	{
		key: "paths.settings_file", typ: kString, env: "BAMBU_SETTINGS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Paths.SettingsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Paths.SettingsFile },
	},
	{
		key: "paths.update_script", typ: kString, env: "BAMBU_UPDATE_SCRIPT",
		apply:   func(cfg *Config, v any) { cfg.Paths.UpdateScript = v.(string) },
		extract: func(cfg Config) any { return cfg.Paths.UpdateScript },
	},
	{
		key: "commands.shell", typ: kString, env: "BAMBU_SHELL",
		apply:   func(cfg *Config, v any) { cfg.Commands.Shell = v.(string) },
		extract: func(cfg Config) any { return cfg.Commands.Shell },
	},
	{
		key: "commands.interpreter", typ: kString, env: "BAMBU_INTERPRETER",
		apply:   func(cfg *Config, v any) { cfg.Commands.Interpreter = v.(string) },
		extract: func(cfg Config) any { return cfg.Commands.Interpreter },
	},
	{
		key: "commands.extensions_cli", typ: kString, env: "BAMBU_EXTENSIONS_CLI",
		apply:   func(cfg *Config, v any) { cfg.Commands.ExtensionsCLI = v.(string) },
		extract: func(cfg Config) any { return cfg.Commands.ExtensionsCLI },
	},
	{
		key: "extensions.panel_id", typ: kString, env: "BAMBU_PANEL_EXTENSION",
		apply:   func(cfg *Config, v any) { cfg.Extensions.PanelID = v.(string) },
		extract: func(cfg Config) any { return cfg.Extensions.PanelID },
	},
	{
		key: "extensions.dock_id", typ: kString, env: "BAMBU_DOCK_EXTENSION",
		apply:   func(cfg *Config, v any) { cfg.Extensions.DockID = v.(string) },
		extract: func(cfg Config) any { return cfg.Extensions.DockID },
	},
	{
		key: "storage.data_dir", typ: kString, env: "BAMBU_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "server.port", typ: kInt, env: "BAMBU_SERVER_PORT",
		validate: intBetween(1, 65535),
		apply:    func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract:  func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "BAMBU_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "log.level", typ: kString, env: "BAMBU_LOG_LEVEL",
		validate: oneOf("trace", "debug", "info", "warn", "warning", "error"),
		apply:    func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract:  func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "BAMBU_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
	{
		key: "updates.buffer", typ: kInt, env: "BAMBU_UPDATES_BUFFER",
		validate: intBetween(1, 4096),
		apply:    func(cfg *Config, v any) { cfg.Updates.Buffer = v.(int) },
		extract:  func(cfg Config) any { return cfg.Updates.Buffer },
	},
	{
		key: "panel.theme", typ: kString, env: "BAMBU_THEME",
		apply:   func(cfg *Config, v any) { cfg.Panel.Theme = v.(string) },
		extract: func(cfg Config) any { return cfg.Panel.Theme },
	},
}

func intBetween(lo, hi int) func(string) error {
	return func(raw string) error {
		i, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		if i < lo || i > hi {
			return fmt.Errorf("%d is outside %d..%d", i, lo, hi)
		}
		return nil
	}
}

func oneOf(allowed ...string) func(string) error {
	return func(raw string) error {
		if slices.Contains(allowed, raw) {
			return nil
		}
		return fmt.Errorf("%q is not one of %s", raw, strings.Join(allowed, ", "))
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
