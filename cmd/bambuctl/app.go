package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bambu-os/bambu-control/internal/api"
	"github.com/bambu-os/bambu-control/internal/config"
	"github.com/bambu-os/bambu-control/internal/extensions"
	"github.com/bambu-os/bambu-control/internal/history"
	"github.com/bambu-os/bambu-control/internal/logging"
	"github.com/bambu-os/bambu-control/internal/panel"
	"github.com/bambu-os/bambu-control/internal/runner"
	"github.com/bambu-os/bambu-control/internal/settings"
	"github.com/bambu-os/bambu-control/internal/updates"
)

// app holds the services shared by every subcommand.
type app struct {
	cfg      config.Config
	logger   *zerolog.Logger
	settings *settings.Store
	runner   *runner.Runner
	layouts  *extensions.Manager
	updates  *updates.Service

	// history is nil when the database could not be opened; update runs
	// still work, they are just not recorded.
	history *history.Store
}

type appOptions struct {
	// quiet sends logs to the log file only.
	quiet bool
	// recover marks runs left "running" by a previous process as failed.
	// Only long-lived owners of the update service set it.
	recover bool
}

func newApp(opts appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	logger := logging.NewLogger(logging.Config{
		Level:   level,
		LogFile: cfg.Log.File,
		NoColor: noColor,
		Quiet:   opts.quiet,
	})

	r := runner.New(runner.Options{
		Shell:       cfg.Commands.Shell,
		Interpreter: cfg.Commands.Interpreter,
		Logger:      logger,
	})

	a := &app{
		cfg:      cfg,
		logger:   logger,
		settings: settings.NewStore(cfg.Paths.SettingsFile, logger),
		runner:   r,
		layouts: extensions.NewManager(r, extensions.Options{
			CLI:     cfg.Commands.ExtensionsCLI,
			PanelID: cfg.Extensions.PanelID,
			DockID:  cfg.Extensions.DockID,
		}, logger),
	}

	var recorder updates.Recorder
	if hist, err := history.Open(cfg.Storage.DataDir); err != nil {
		logger.Warn().Err(err).Str("data_dir", cfg.Storage.DataDir).Msg("update history unavailable")
	} else {
		a.history = hist
		recorder = hist
		if opts.recover {
			if n, err := hist.MarkInterrupted(time.Now()); err != nil {
				logger.Warn().Err(err).Msg("could not recover interrupted update runs")
			} else if n > 0 {
				logger.Warn().Int64("runs", n).Msg("marked interrupted update runs as failed")
			}
		}
	}

	a.updates = updates.NewService(r, recorder, cfg.Paths.UpdateScript, cfg.Updates.Buffer, logger)
	return a, nil
}

func (a *app) Close() {
	if a.history == nil {
		return
	}
	if err := a.history.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("closing update history")
	}
}

func (a *app) panelDeps() panel.Deps {
	return panel.Deps{
		Settings: a.settings,
		Layouts:  a.layouts,
		Updates:  a.updates,
		Logger:   a.logger,
	}
}

func (a *app) apiDeps(token string) api.Deps {
	deps := api.Deps{
		Settings: a.settings,
		Layouts:  a.layouts,
		Updates:  a.updates,
		Token:    token,
		Version:  version,
		Logger:   a.logger,
	}
	if a.history != nil {
		deps.History = a.history
	}
	return deps
}

// requireHistory returns the history store or an error explaining why
// history commands cannot run.
func (a *app) requireHistory() (*history.Store, error) {
	if a.history == nil {
		return nil, fmt.Errorf("update history is not available (see log at %s)", a.cfg.Log.File)
	}
	return a.history, nil
}
