package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bambu-os/bambu-control/internal/history"
	"github.com/bambu-os/bambu-control/internal/settings"
	"github.com/bambu-os/bambu-control/internal/updates"
)

const (
	panelID = "dash-to-panel@jderose9.github.com"
	dockID  = "dash-to-dock@micxgx.gmail.com"
)

type testEnv struct {
	baseDir  string
	dataDir  string
	cliLog   string
	settings string
	script   string
}

// setupEnv points every path bambuctl touches into a temp dir and installs a
// fake extensions CLI that reports the given extensions as enabled and logs
// every invocation.
func setupEnv(t *testing.T, enabled ...string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		baseDir: filepath.Join(dir, "base"),
		dataDir: filepath.Join(dir, "data"),
		cliLog:  filepath.Join(dir, "cli.log"),
	}
	env.settings = filepath.Join(env.baseDir, "update_config.conf")
	env.script = filepath.Join(env.baseDir, "update_script.sh")
	if err := os.MkdirAll(env.baseDir, 0o755); err != nil {
		t.Fatal(err)
	}

	cli := filepath.Join(dir, "fake-extensions")
	body := "#!/bin/sh\necho \"$@\" >> " + env.cliLog + "\n" +
		"if [ \"$1\" = list ]; then\n"
	for _, id := range enabled {
		body += "  echo " + id + "\n"
	}
	body += "fi\n"
	if err := os.WriteFile(cli, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("BAMBU_BASE_DIR", env.baseDir)
	t.Setenv("BAMBU_DATA_DIR", env.dataDir)
	t.Setenv("BAMBU_SETTINGS_FILE", "")
	t.Setenv("BAMBU_UPDATE_SCRIPT", "")
	t.Setenv("BAMBU_LOG_FILE", "")
	t.Setenv("BAMBU_LOG_LEVEL", "error")
	t.Setenv("BAMBU_SHELL", "sh")
	t.Setenv("BAMBU_INTERPRETER", "sh")
	t.Setenv("BAMBU_EXTENSIONS_CLI", cli)
	t.Setenv("BAMBU_PANEL_EXTENSION", "")
	t.Setenv("BAMBU_DOCK_EXTENSION", "")

	old := noColor
	noColor = true
	t.Cleanup(func() { noColor = old })
	return env
}

// execute runs bambuctl with args and returns what it wrote to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeContext(t, context.Background(), args...)
}

func executeContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	}()
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

func (e *testEnv) writeScript(t *testing.T, body string) {
	t.Helper()
	if err := os.WriteFile(e.script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) cliCalls(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(e.cliLog)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatal(err)
	}
	return string(data)
}

func TestSettingsSet_RewritesOnlyThatLine(t *testing.T) {
	env := setupEnv(t)
	orig := "AUTO_UPDATES_ENABLED=true\n# managed by bambu\nCHECK_FREQUENCY=daily\nEXTENSIONES_HABILITADAS=false\n"
	if err := os.WriteFile(env.settings, []byte(orig), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, "settings", "set", "check_frequency", "weekly"); err != nil {
		t.Fatalf("settings set: %v", err)
	}

	got, err := os.ReadFile(env.settings)
	if err != nil {
		t.Fatal(err)
	}
	want := strings.Replace(orig, "CHECK_FREQUENCY=daily", "CHECK_FREQUENCY=weekly", 1)
	if string(got) != want {
		t.Errorf("file =\n%s\nwant\n%s", got, want)
	}
}

func TestSettingsSet_InvalidValue(t *testing.T) {
	env := setupEnv(t)

	_, err := execute(t, "settings", "set", "CHECK_FREQUENCY", "hourly")
	if err == nil || !strings.Contains(err.Error(), "invalid check frequency") {
		t.Fatalf("err = %v, want invalid check frequency", err)
	}
	if _, statErr := os.Stat(env.settings); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("settings file created for a rejected value")
	}
}

func TestSettingsSet_MissingArgs(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "settings", "set", "CHECK_FREQUENCY")
	if err == nil {
		t.Fatal("expected error for missing value")
	}
	if !strings.Contains(err.Error(), "accepts 2 arg(s)") {
		t.Errorf("error = %q", err)
	}
}

func TestSettingsShow_JSONDefaults(t *testing.T) {
	env := setupEnv(t)

	out, err := execute(t, "settings", "show", "--json")
	if err != nil {
		t.Fatalf("settings show: %v", err)
	}
	var rec settings.Record
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if rec != settings.Defaults() {
		t.Errorf("record = %+v, want defaults", rec)
	}
	if _, err := os.Stat(env.settings); !errors.Is(err, os.ErrNotExist) {
		t.Error("reading settings created the file")
	}
}

func TestUpdate_StreamsAndRecords(t *testing.T) {
	env := setupEnv(t)
	env.writeScript(t, "echo checking\necho \"args: $*\"\necho warn >&2\n")

	out, err := execute(t, "update")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	want := "checking\nargs: --once\nwarn\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}

	list, err := execute(t, "history", "list")
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	if !strings.Contains(list, "completed") || !strings.Contains(list, "3 lines") {
		t.Errorf("history list = %q", list)
	}
}

func TestUpdate_NonZeroExit(t *testing.T) {
	env := setupEnv(t)
	env.writeScript(t, "echo broken\nexit 3\n")

	out, err := execute(t, "update")
	var exitErr *exitCodeError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want exitCodeError", err)
	}
	if exitErr.code != 3 {
		t.Errorf("code = %d, want 3", exitErr.code)
	}
	if out != "broken\n" {
		t.Errorf("output = %q", out)
	}
}

// TestUpdate_InterruptedIsNotSuccess runs a failing script with the
// command's context already cancelled, as after Ctrl+C. Whether the final
// event arrives or the output detaches first, the command must fail.
func TestUpdate_InterruptedIsNotSuccess(t *testing.T) {
	env := setupEnv(t)
	env.writeScript(t, "echo interrupted\nsleep 0.1\nexit 130\n")

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := executeContext(t, ctx, "update")
		if err == nil {
			t.Fatalf("iteration %d: interrupted update reported success", i)
		}
		var exitErr *exitCodeError
		if !errors.Is(err, updates.ErrDetached) && !(errors.As(err, &exitErr) && exitErr.code == 130) {
			t.Errorf("iteration %d: err = %v, want detached or exit 130", i, err)
		}
	}
}

func TestLayoutStatus(t *testing.T) {
	setupEnv(t, panelID, "other@example.com")

	out, err := execute(t, "layout", "status")
	if err != nil {
		t.Fatalf("layout status: %v", err)
	}
	if !strings.Contains(out, "traditional") {
		t.Errorf("output missing layout: %q", out)
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "Can switch to") && !strings.HasSuffix(line, " modern") {
			t.Errorf("switch line = %q, want only modern", line)
		}
	}
}

func TestLayoutSwitch(t *testing.T) {
	env := setupEnv(t, panelID)

	if _, err := execute(t, "layout", "traditional"); err != nil {
		t.Fatalf("layout traditional: %v", err)
	}
	if calls := env.cliCalls(t); strings.Contains(calls, "enable "+panelID) {
		t.Errorf("active layout re-applied without --force: %q", calls)
	}

	if _, err := execute(t, "layout", "modern"); err != nil {
		t.Fatalf("layout modern: %v", err)
	}
	calls := env.cliCalls(t)
	if !strings.Contains(calls, "disable "+panelID+"\n") || !strings.Contains(calls, "enable "+dockID+"\n") {
		t.Errorf("cli calls = %q", calls)
	}
	if strings.Index(calls, "disable "+panelID) > strings.Index(calls, "enable "+dockID) {
		t.Errorf("enable ran before disable: %q", calls)
	}
}

func TestHistoryShow(t *testing.T) {
	env := setupEnv(t)

	store, err := history.Open(env.dataDir)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	for _, id := range []string{"abcdef12-0000-0000-0000-000000000001", "abcdef99-0000-0000-0000-000000000002"} {
		if err := store.BeginRun(id, now); err != nil {
			t.Fatal(err)
		}
		if err := store.AppendLine(id, 0, "line from "+id[:8]); err != nil {
			t.Fatal(err)
		}
		if err := store.FinishRun(id, 0, "", now.Add(time.Second)); err != nil {
			t.Fatal(err)
		}
	}
	store.Close()

	out, err := execute(t, "history", "show", "abcdef12")
	if err != nil {
		t.Fatalf("history show: %v", err)
	}
	if !strings.Contains(out, "line from abcdef12") || strings.Contains(out, "abcdef99") {
		t.Errorf("output = %q", out)
	}

	if _, err := execute(t, "history", "show", "abcdef"); err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Errorf("ambiguous prefix err = %v", err)
	}
	if _, err := execute(t, "history", "show", "zzz"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("unknown run err = %v", err)
	}
}

func TestConfigKeys(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "config", "keys")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "panel.theme\n") {
		t.Errorf("keys missing panel.theme: %q", out)
	}
	if strings.Contains(out, "server.api_token") {
		t.Error("keys list the secret token")
	}
}

func configLine(t *testing.T, key string) []string {
	t.Helper()
	out, err := execute(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, line := range strings.Split(out, "\n") {
		if fields := strings.Fields(line); len(fields) > 0 && fields[0] == key {
			return fields
		}
	}
	t.Fatalf("config show has no %s line: %q", key, out)
	return nil
}

func TestConfigSetShowUnset(t *testing.T) {
	setupEnv(t)
	t.Setenv("BAMBU_THEME", "")

	if _, err := execute(t, "config", "set", "panel.theme", "nord"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	if got := configLine(t, "panel.theme"); got[2] != "nord" || got[3] != "file" {
		t.Errorf("after set: %v", got)
	}
	if got := configLine(t, "paths.base_dir"); got[3] != "env" {
		t.Errorf("base_dir source = %v, want env", got)
	}

	if _, err := execute(t, "config", "unset", "panel.theme"); err != nil {
		t.Fatalf("config unset: %v", err)
	}
	if got := configLine(t, "panel.theme"); got[2] != "adwaita" || got[3] != "default" {
		t.Errorf("after unset: %v", got)
	}

	if _, err := execute(t, "config", "set", "log.level", "loud"); err == nil {
		t.Error("config set accepted an unknown log level")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if out != "bambuctl version "+version+"\n" {
		t.Errorf("output = %q", out)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestAPIClient(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Write([]byte(`{"status":"ok"}`))
		case "/status":
			gotAuth = r.Header.Get("Authorization")
			w.Write([]byte(`{"layout":"modern","update_running":true}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"unauthorized","type":"auth_error"}}`))
		}
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "my-secret-token", httpClient: ts.Client()}
	ctx := context.Background()

	if !client.healthy(ctx) {
		t.Fatal("healthy() = false")
	}

	resp, err := client.get(ctx, "/status")
	if err != nil {
		t.Fatal(err)
	}
	var st struct {
		Layout        string `json:"layout"`
		UpdateRunning bool   `json:"update_running"`
	}
	if err := decodeJSON(resp, &st); err != nil {
		t.Fatal(err)
	}
	if st.Layout != "modern" || !st.UpdateRunning {
		t.Errorf("status = %+v", st)
	}
	if gotAuth != "Bearer my-secret-token" {
		t.Errorf("auth = %q", gotAuth)
	}

	resp, err = client.get(ctx, "/settings")
	if err != nil {
		t.Fatal(err)
	}
	err = decodeJSON(resp, &st)
	if err == nil || !strings.Contains(err.Error(), "401: unauthorized") {
		t.Errorf("err = %v, want 401 with message", err)
	}
}

func TestAPIClient_Stopped(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "t", httpClient: ts.Client()}
	if client.healthy(context.Background()) {
		t.Error("healthy() = true for a closed server")
	}
	_, err := client.get(context.Background(), "/status")
	if err == nil || !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("err = %v, want not reachable", err)
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "nested"))
	if err := writePIDFile(path); err != nil {
		t.Fatal(err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("PID file still readable after remove")
	}
}
