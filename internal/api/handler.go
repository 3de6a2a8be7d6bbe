// Package api exposes the control panel's operations over a loopback HTTP
// API and an MCP tool server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/bambu-os/bambu-control/internal/extensions"
	"github.com/bambu-os/bambu-control/internal/history"
	"github.com/bambu-os/bambu-control/internal/settings"
	"github.com/bambu-os/bambu-control/internal/updates"
)

const maxSettingsBodySize = 64 << 10

type SettingsStore interface {
	Read() settings.Record
	Write(p settings.Patch) error
}

type LayoutManager interface {
	Status(ctx context.Context) extensions.Status
	Apply(ctx context.Context, l extensions.Layout) error
}

type Updater interface {
	Start(ctx context.Context) (*updates.Run, error)
	Running() bool
}

// RunHistory is the read side of the update history.
type RunHistory interface {
	ListRuns(limit int) ([]history.Run, error)
	GetRun(id string) (history.Run, error)
	Lines(runID string) ([]history.Line, error)
}

// Deps holds what the HTTP and MCP surfaces need. History is optional.
type Deps struct {
	Settings SettingsStore
	Layouts  LayoutManager
	Updates  Updater
	History  RunHistory
	Token    string
	Version  string
	Logger   *zerolog.Logger
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Version        string            `json:"version"`
	Layout         extensions.Layout `json:"layout"`
	PanelEnabled   bool              `json:"panel_enabled"`
	DockEnabled    bool              `json:"dock_enabled"`
	CanTraditional bool              `json:"can_switch_traditional"`
	CanModern      bool              `json:"can_switch_modern"`
	UpdateRunning  bool              `json:"update_running"`
	Settings       settings.Record   `json:"settings"`
}

// RunDetail is a run with its output.
type RunDetail struct {
	history.Run
	Lines []string `json:"lines"`
}

func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		nop := zerolog.Nop()
		deps.Logger = &nop
	}

	r := chi.NewRouter()
	r.Use(requestLogger(deps.Logger))

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/status", handleStatus(deps))
		r.Get("/settings", handleGetSettings(deps))
		r.Patch("/settings", handlePatchSettings(deps))
		r.Post("/layout/{name}", handleSetLayout(deps))
		r.Post("/updates", handleStartUpdate(deps))
		r.Get("/updates", handleListRuns(deps))
		r.Get("/updates/{id}", handleGetRun(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok", "version": deps.Version})
	}
}

func buildStatus(ctx context.Context, deps Deps) StatusResponse {
	st := deps.Layouts.Status(ctx)
	return StatusResponse{
		Version:        deps.Version,
		Layout:         st.Layout,
		PanelEnabled:   st.PanelEnabled,
		DockEnabled:    st.DockEnabled,
		CanTraditional: st.CanSwitchTo(extensions.Traditional),
		CanModern:      st.CanSwitchTo(extensions.Modern),
		UpdateRunning:  deps.Updates.Running(),
		Settings:       deps.Settings.Read(),
	}
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, buildStatus(r.Context(), deps))
	}
}

func handleGetSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Settings.Read())
	}
}

func handlePatchSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSettingsBodySize)
		defer r.Body.Close()

		var p settings.Patch
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if p.Empty() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no settings supplied")
			return
		}
		if err := p.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err := deps.Settings.Write(p); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save settings: %v", err)
			return
		}
		writeJSON(w, deps.Settings.Read())
	}
}

func handleSetLayout(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, err := extensions.ParseLayout(chi.URLParam(r, "name"))
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
			return
		}
		if st := deps.Layouts.Status(r.Context()); !st.CanSwitchTo(l) {
			httpError(w, http.StatusConflict, "conflict", "layout %s is already active", l)
			return
		}
		if err := deps.Layouts.Apply(r.Context(), l); err != nil {
			httpError(w, http.StatusBadGateway, "command_error", "switching layout: %v", err)
			return
		}
		writeJSON(w, buildStatus(r.Context(), deps))
	}
}

// handleStartUpdate runs the update script and streams its output as plain
// text, one flushed line at a time, ending with "exit: N".
func handleStartUpdate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := deps.Updates.Start(r.Context())
		if errors.Is(err, updates.ErrInProgress) {
			httpError(w, http.StatusConflict, "conflict", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "starting update: %v", err)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Update-Run", run.ID)
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)

		finished := false
		for ev := range run.Events {
			if ev.Done {
				finished = true
				if ev.Err != nil {
					fmt.Fprintf(w, "error: %v\n", ev.Err)
				}
				fmt.Fprintf(w, "exit: %d\n", ev.ExitCode)
			} else {
				fmt.Fprintln(w, ev.Line)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if !finished {
			fmt.Fprintf(w, "error: %v\n", updates.ErrDetached)
		}
	}
}

func handleListRuns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "update history is not available")
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)
		runs, err := deps.History.ListRuns(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}
		if runs == nil {
			runs = []history.Run{}
		}
		writeJSON(w, runs)
	}
}

func handleGetRun(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "update history is not available")
			return
		}
		detail, err := loadRunDetail(deps.History, chi.URLParam(r, "id"))
		if errors.Is(err, history.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "update run not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get run: %v", err)
			return
		}
		writeJSON(w, detail)
	}
}

func loadRunDetail(h RunHistory, id string) (RunDetail, error) {
	run, err := h.GetRun(id)
	if err != nil {
		return RunDetail{}, err
	}
	lines, err := h.Lines(id)
	if err != nil {
		return RunDetail{}, err
	}
	detail := RunDetail{Run: run, Lines: make([]string, len(lines))}
	for i, l := range lines {
		detail.Lines[i] = l.Text
	}
	return detail, nil
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
