package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bambu-os/bambu-control/internal/config"
	"github.com/bambu-os/bambu-control/internal/extensions"
	"github.com/bambu-os/bambu-control/internal/history"
	"github.com/bambu-os/bambu-control/internal/panel"
	"github.com/bambu-os/bambu-control/internal/settings"
	"github.com/bambu-os/bambu-control/internal/updates"
)

// --- panel ---

var panelCmd = &cobra.Command{
	Use:   "panel",
	Short: "Open the interactive control panel",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPanel(cmd.Context())
	},
}

func runPanel(ctx context.Context) error {
	a, err := newApp(appOptions{quiet: true, recover: true})
	if err != nil {
		return err
	}
	defer a.Close()

	return panel.Run(ctx, a.panelDeps(), panel.Options{
		Theme:   a.cfg.Panel.Theme,
		Version: version,
	})
}

// --- settings ---

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the update settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the update settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		rec := a.settings.Read()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}

		out := cmd.OutOrStdout()
		printField(out, "Automatic updates", "%s", onOff(rec.AutoUpdatesEnabled))
		printField(out, "Check frequency", "%s", rec.CheckFrequency)
		printField(out, "Extensions", "%s", onOff(rec.ExtensionsEnabled))
		printField(out, "File", "%s", a.settings.Path())
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one update setting",
	Long: `Set one update setting. Keys may be given as they appear in the file or in
lower case:

  AUTO_UPDATES_ENABLED     true | false
  CHECK_FREQUENCY          daily | weekly | monthly
  EXTENSIONES_HABILITADAS  true | false

Only the named line is rewritten; the rest of the file is left as is.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := settings.ParseAssignment(args[0], args[1])
		if err != nil {
			return err
		}

		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.settings.Write(patch); err != nil {
			return err
		}
		printSuccess("Set %s = %s", strings.ToUpper(args[0]), strings.TrimSpace(args[1]))
		return nil
	},
}

// --- layout ---

var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Show or switch the desktop layout",
}

var layoutStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which layout extensions are enabled",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		st := a.layouts.Status(cmd.Context())
		out := cmd.OutOrStdout()
		printField(out, "Layout", "%s", st.Layout)
		printField(out, "Panel extension", "%s", onOff(st.PanelEnabled))
		printField(out, "Dock extension", "%s", onOff(st.DockEnabled))
		var offered []string
		for _, l := range []extensions.Layout{extensions.Traditional, extensions.Modern} {
			if st.CanSwitchTo(l) {
				offered = append(offered, string(l))
			}
		}
		printField(out, "Can switch to", "%s", strings.Join(offered, ", "))
		return nil
	},
}

func newLayoutSwitchCmd(l extensions.Layout, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(l),
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			force, _ := cmd.Flags().GetBool("force")
			if !force && !a.layouts.Status(cmd.Context()).CanSwitchTo(l) {
				printWarning("The %s layout is already active", l)
				return nil
			}

			printStep("Switching to the %s layout", l)
			if err := a.layouts.Apply(cmd.Context(), l); err != nil {
				return fmt.Errorf("switching layout: %w", err)
			}
			printSuccess("Layout set to %s", l)
			return nil
		},
	}
}

// --- update ---

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Run the update script now and stream its output",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		run, err := a.updates.Start(cmd.Context())
		if errors.Is(err, updates.ErrInProgress) {
			return err
		}
		if err != nil {
			return fmt.Errorf("starting update: %w", err)
		}

		printStep("Running %s (run %s)", a.cfg.Paths.UpdateScript, run.ID)
		out := cmd.OutOrStdout()
		final, finished := updates.Drain(run, func(ev updates.Event) {
			fmt.Fprintln(out, ev.Line)
		})

		if !finished {
			return fmt.Errorf("run %s: %w (see bambuctl history show %s)", run.ID, updates.ErrDetached, shortID(run.ID))
		}
		if final.Err != nil {
			return final.Err
		}
		if final.ExitCode != 0 {
			return &exitCodeError{
				code: final.ExitCode,
				msg:  fmt.Sprintf("update script exited with status %d", final.ExitCode),
			}
		}
		printSuccess("Update complete")
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect past update runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent update runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		hist, err := a.requireHistory()
		if err != nil {
			return err
		}
		runs, err := hist.ListRuns(limit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(out, "No update runs found.")
			return nil
		}
		for _, r := range runs {
			exit := "-"
			if r.ExitCode != nil {
				exit = fmt.Sprintf("%d", *r.ExitCode)
			}
			fmt.Fprintf(out, "%s  %s  %-9s  exit %-3s  %d lines\n",
				colorize(colorCyan, shortID(r.ID)),
				r.StartedAt.Local().Format(time.DateTime),
				runStatusLabel(r.Status),
				exit,
				r.LineCount,
			)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one update run and its output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		hist, err := a.requireHistory()
		if err != nil {
			return err
		}
		id, err := resolveRunID(hist, args[0])
		if err != nil {
			return err
		}
		run, err := hist.GetRun(id)
		if err != nil {
			return err
		}
		lines, err := hist.Lines(id)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		printField(out, "Run", "%s", run.ID)
		printField(out, "Started", "%s", run.StartedAt.Local().Format(time.DateTime))
		if run.FinishedAt != nil {
			printField(out, "Finished", "%s", run.FinishedAt.Local().Format(time.DateTime))
		}
		printField(out, "Status", "%s", runStatusLabel(run.Status))
		if run.ExitCode != nil {
			printField(out, "Exit code", "%d", *run.ExitCode)
		}
		if run.Error != "" {
			printField(out, "Error", "%s", run.Error)
		}
		fmt.Fprintln(out)
		for _, l := range lines {
			fmt.Fprintln(out, l.Text)
		}
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolveRunID accepts a full run ID or a unique prefix of a recent one.
func resolveRunID(hist *history.Store, arg string) (string, error) {
	_, err := hist.GetRun(arg)
	if err == nil {
		return arg, nil
	}
	if !errors.Is(err, history.ErrNotFound) {
		return "", err
	}

	runs, err := hist.ListRuns(100)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, r := range runs {
		if strings.HasPrefix(r.ID, arg) {
			matches = append(matches, r.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("update run %q not found", arg)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("run ID prefix %q is ambiguous (%d matches)", arg, len(matches))
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage bambuctl configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, kv := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "%-24s = %-40s %-8s (%s)\n",
				colorize(colorCyan, kv.Key),
				kv.Value,
				kv.Source,
				kv.EnvVar,
			)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a value from the config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.FilePath())
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List valid configuration keys",
	Run: func(cmd *cobra.Command, args []string) {
		for _, k := range config.ValidKeys() {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
	},
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the bambuctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "bambuctl version %s\n", version)
	},
}

func init() {
	settingsShowCmd.Flags().Bool("json", false, "print as JSON")
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	layoutCmd.AddCommand(layoutStatusCmd)
	for _, sw := range []*cobra.Command{
		newLayoutSwitchCmd(extensions.Traditional, "Switch to the single bottom panel"),
		newLayoutSwitchCmd(extensions.Modern, "Switch to the floating dock"),
	} {
		sw.Flags().Bool("force", false, "re-apply even if the layout is already active")
		layoutCmd.AddCommand(sw)
	}

	historyListCmd.Flags().Int("limit", 20, "maximum number of runs")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configKeysCmd)

	rootCmd.AddCommand(panelCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(layoutCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
