package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bambu-os/bambu-control/internal/api"
	"github.com/bambu-os/bambu-control/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the control API on loopback (foreground)",
	Long: `Serve the control API on 127.0.0.1. With --mcp the same operations are also
offered as MCP tools over stdin/stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(cmd.Context(), withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, layout and update status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "bambuctl.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer(ctx context.Context, withMCP bool) error {
	fmt.Fprintf(os.Stderr, "bambuctl version %s\n", version)

	a, err := newApp(appOptions{recover: true})
	if err != nil {
		return err
	}
	defer a.Close()

	token, err := config.APIToken(a.cfg)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	client, err := newAPIClient(a.cfg)
	if err != nil {
		return err
	}
	pidPath := pidFilePath(a.cfg.Storage.DataDir)
	if client.healthy(ctx) {
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", a.cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	deps := a.apiDeps(token)
	g, gctx := errgroup.WithContext(ctx)

	addr := fmt.Sprintf("127.0.0.1:%d", a.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return gctx
		},
	}

	g.Go(func() error {
		a.logger.Info().Str("addr", addr).Msg("control API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if withMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps))
		g.Go(func() error {
			a.logger.Info().Msg("MCP server started (stdio transport)")
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("MCP stdio server: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("server is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidPath)
		return fmt.Errorf("could not stop server (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to bambuctl (PID %d)", pid)
	return nil
}

// showStatus prefers the running server's view, since only it knows about an
// update run in flight, and falls back to querying the host directly.
func showStatus(cmd *cobra.Command) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	var st api.StatusResponse
	client, err := newAPIClient(a.cfg)
	if err == nil && client.healthy(ctx) {
		printField(out, "Server", "running on port %d", a.cfg.Server.Port)
		resp, err := client.get(ctx, "/status")
		if err == nil {
			err = decodeJSON(resp, &st)
		}
		if err != nil {
			return err
		}
	} else {
		printField(out, "Server", "stopped")
		ls := a.layouts.Status(ctx)
		st = api.StatusResponse{
			Layout:       ls.Layout,
			PanelEnabled: ls.PanelEnabled,
			DockEnabled:  ls.DockEnabled,
			Settings:     a.settings.Read(),
		}
	}

	printField(out, "Layout", "%s", st.Layout)
	printField(out, "Automatic updates", "%s", onOff(st.Settings.AutoUpdatesEnabled))
	printField(out, "Check frequency", "%s", st.Settings.CheckFrequency)
	printField(out, "Extensions", "%s", onOff(st.Settings.ExtensionsEnabled))
	printField(out, "Update running", "%s", onOff(st.UpdateRunning))

	if a.history != nil {
		if runs, err := a.history.ListRuns(1); err == nil && len(runs) > 0 {
			last := runs[0]
			printField(out, "Last update", "%s (%s)",
				last.StartedAt.Local().Format(time.DateTime), runStatusLabel(last.Status))
		}
	}
	printField(out, "Data dir", "%s", a.cfg.Storage.DataDir)
	return nil
}
