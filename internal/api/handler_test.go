package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bambu-os/bambu-control/internal/extensions"
	"github.com/bambu-os/bambu-control/internal/settings"
	"github.com/bambu-os/bambu-control/internal/updates"
)

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorType(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body.Error.Type
}

func TestHealthNeedsNoAuth(t *testing.T) {
	env := newTestEnv(t)
	w := serve(NewHandler(env.deps), authReq("GET", "/health", "", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.deps)

	for _, tok := range []string{"", "wrong-token"} {
		w := serve(h, authReq("GET", "/settings", "", tok))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", tok, w.Code)
		}
		if typ := errorType(t, w); typ != "authentication_error" {
			t.Errorf("error type = %q", typ)
		}
	}
}

func TestEmptyTokenRejectsEverything(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Token = ""
	w := serve(NewHandler(env.deps), authReq("GET", "/settings", "", ""))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.deps)

	w := serve(h, authReq("PATCH", "/settings", `{"check_frequency":"weekly","extensions_enabled":true}`, testToken))
	if w.Code != http.StatusOK {
		t.Fatalf("PATCH status = %d: %s", w.Code, w.Body.String())
	}

	w = serve(h, authReq("GET", "/settings", "", testToken))
	var got settings.Record
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	want := settings.Record{AutoUpdatesEnabled: true, CheckFrequency: settings.Weekly, ExtensionsEnabled: true}
	if got != want {
		t.Errorf("settings = %+v, want %+v", got, want)
	}
}

func TestPatchSettingsRejects(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.deps)

	for _, body := range []string{
		`{"check_frequency":"hourly"}`,
		`{}`,
		`{"theme":"dark"}`,
		`not json`,
	} {
		w := serve(h, authReq("PATCH", "/settings", body, testToken))
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, w.Code)
		}
	}
	if env.settings.Read() != settings.Defaults() {
		t.Errorf("rejected patches modified settings: %+v", env.settings.Read())
	}
}

func TestPatchSettingsWriteFailure(t *testing.T) {
	env := newTestEnv(t)
	env.settings.err = errBoom
	w := serve(NewHandler(env.deps), authReq("PATCH", "/settings", `{"auto_updates_enabled":false}`, testToken))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	w := serve(NewHandler(env.deps), authReq("GET", "/status", "", testToken))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var st StatusResponse
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Layout != extensions.Traditional || st.CanTraditional || !st.CanModern {
		t.Errorf("status = %+v", st)
	}
}

func TestSetLayout(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.deps)

	w := serve(h, authReq("POST", "/layout/traditional", "", testToken))
	if w.Code != http.StatusConflict {
		t.Errorf("switching to the active layout: status = %d, want 409", w.Code)
	}

	w = serve(h, authReq("POST", "/layout/modern", "", testToken))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(env.layouts.applied) != 1 || env.layouts.applied[0] != extensions.Modern {
		t.Errorf("applied = %v", env.layouts.applied)
	}

	w = serve(h, authReq("POST", "/layout/sideways", "", testToken))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown layout: status = %d, want 404", w.Code)
	}
}

func TestStartUpdateStreams(t *testing.T) {
	env := newTestEnv(t)
	env.updater.exitCode = 2

	w := serve(NewHandler(env.deps), authReq("POST", "/updates", "", testToken))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Header().Get("X-Update-Run") != "run-1" {
		t.Errorf("X-Update-Run = %q", w.Header().Get("X-Update-Run"))
	}
	want := "Hit:1 http://archive.ubuntu.com\nDone\nexit: 2\n"
	if w.Body.String() != want {
		t.Errorf("body = %q, want %q", w.Body.String(), want)
	}
}

func TestStartUpdateDetached(t *testing.T) {
	env := newTestEnv(t)
	env.updater.detached = true

	w := serve(NewHandler(env.deps), authReq("POST", "/updates", "", testToken))
	body := w.Body.String()
	if strings.Contains(body, "exit:") {
		t.Errorf("detached run reported an exit code: %q", body)
	}
	if !strings.HasSuffix(body, "error: "+updates.ErrDetached.Error()+"\n") {
		t.Errorf("body = %q, want detached error trailer", body)
	}
}

func TestStartUpdateConflict(t *testing.T) {
	env := newTestEnv(t)
	env.updater.busy = true

	w := serve(NewHandler(env.deps), authReq("POST", "/updates", "", testToken))
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if typ := errorType(t, w); typ != "conflict" {
		t.Errorf("error type = %q", typ)
	}
}

func TestUpdateHistory(t *testing.T) {
	env := newTestEnv(t)
	seedRun(t, env.history, "run-a", "first", "second")
	h := NewHandler(env.deps)

	w := serve(h, authReq("GET", "/updates?limit=5", "", testToken))
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var runs []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0]["id"] != "run-a" {
		t.Errorf("runs = %v", runs)
	}

	w = serve(h, authReq("GET", "/updates/run-a", "", testToken))
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var detail RunDetail
	if err := json.NewDecoder(w.Body).Decode(&detail); err != nil {
		t.Fatal(err)
	}
	if detail.ID != "run-a" || len(detail.Lines) != 2 || detail.Lines[1] != "second" {
		t.Errorf("detail = %+v", detail)
	}

	w = serve(h, authReq("GET", "/updates/missing", "", testToken))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing run: status = %d, want 404", w.Code)
	}
}

func TestUpdateHistoryEmptyList(t *testing.T) {
	env := newTestEnv(t)
	w := serve(NewHandler(env.deps), authReq("GET", "/updates", "", testToken))
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", w.Body.String())
	}
}
