package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bambu-os/bambu-control/internal/extensions"
	"github.com/bambu-os/bambu-control/internal/history"
	"github.com/bambu-os/bambu-control/internal/logging"
	"github.com/bambu-os/bambu-control/internal/settings"
	"github.com/bambu-os/bambu-control/internal/updates"
)

const testToken = "test-token-12345"

type fakeSettings struct {
	mu  sync.Mutex
	rec settings.Record
	err error
}

func (f *fakeSettings) Read() settings.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rec
}

func (f *fakeSettings) Write(p settings.Patch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rec = p.Apply(f.rec)
	return nil
}

type fakeLayouts struct {
	mu      sync.Mutex
	status  extensions.Status
	applied []extensions.Layout
	err     error
}

func (f *fakeLayouts) Status(context.Context) extensions.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeLayouts) Apply(_ context.Context, l extensions.Layout) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, l)
	if f.err != nil {
		return f.err
	}
	f.status = extensions.Status{
		PanelEnabled: l == extensions.Traditional,
		DockEnabled:  l == extensions.Modern,
		Layout:       l,
	}
	return nil
}

// fakeUpdater hands out a pre-filled run, or ErrInProgress when busy. With
// detached set the channel closes without a final event, as it does once the
// consumer's context is cancelled.
type fakeUpdater struct {
	lines    []string
	exitCode int
	busy     bool
	detached bool
}

func (f *fakeUpdater) Start(context.Context) (*updates.Run, error) {
	if f.busy {
		return nil, updates.ErrInProgress
	}
	ch := make(chan updates.Event, len(f.lines)+1)
	for i, l := range f.lines {
		ch <- updates.Event{RunID: "run-1", Seq: i, Line: l}
	}
	if !f.detached {
		ch <- updates.Event{RunID: "run-1", Seq: len(f.lines), Done: true, ExitCode: f.exitCode}
	}
	close(ch)
	return &updates.Run{ID: "run-1", Events: ch}, nil
}

func (f *fakeUpdater) Running() bool { return f.busy }

type testEnv struct {
	deps     Deps
	settings *fakeSettings
	layouts  *fakeLayouts
	updater  *fakeUpdater
	history  *history.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := history.Open(":memory:")
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		settings: &fakeSettings{rec: settings.Defaults()},
		layouts:  &fakeLayouts{status: extensions.Status{PanelEnabled: true, Layout: extensions.Traditional}},
		updater:  &fakeUpdater{lines: []string{"Hit:1 http://archive.ubuntu.com", "Done"}, exitCode: 0},
		history:  store,
	}
	env.deps = Deps{
		Settings: env.settings,
		Layouts:  env.layouts,
		Updates:  env.updater,
		History:  store,
		Token:    testToken,
		Version:  "test",
		Logger:   logging.Nop(),
	}
	return env
}

func seedRun(t *testing.T, s *history.Store, id string, lines ...string) {
	t.Helper()
	now := time.Now()
	if err := s.BeginRun(id, now); err != nil {
		t.Fatal(err)
	}
	for i, l := range lines {
		if err := s.AppendLine(id, i, l); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.FinishRun(id, 0, "", now); err != nil {
		t.Fatal(err)
	}
}

var errBoom = errors.New("boom")
