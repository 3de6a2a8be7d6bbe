// Package panel is the interactive terminal control panel: layout buttons,
// update settings, and a live view of the update script's output.
package panel

import (
	"context"
	_ "embed"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog"

	"github.com/bambu-os/bambu-control/internal/extensions"
	"github.com/bambu-os/bambu-control/internal/settings"
	"github.com/bambu-os/bambu-control/internal/updates"
)

//go:embed help.md
var helpMarkdown string

// SettingsStore reads and patches the update configuration.
type SettingsStore interface {
	Read() settings.Record
	Write(p settings.Patch) error
}

// LayoutManager queries and switches the desktop layout.
type LayoutManager interface {
	Status(ctx context.Context) extensions.Status
	Apply(ctx context.Context, l extensions.Layout) error
}

// Updater starts update runs.
type Updater interface {
	Start(ctx context.Context) (*updates.Run, error)
	Running() bool
}

type Deps struct {
	Settings SettingsStore
	Layouts  LayoutManager
	Updates  Updater
	Logger   *zerolog.Logger
}

type Options struct {
	Theme   string
	Version string
}

type phase int

const (
	phaseIdle phase = iota
	phaseRunning
	phaseComplete
)

type control int

const (
	ctlTraditional control = iota
	ctlModern
	ctlAutoUpdates
	ctlFrequency
	ctlExtensions
	ctlUpdate
	numControls
)

func (c control) step(n int) control {
	next := (int(c) + n) % int(numControls)
	if next < 0 {
		next += int(numControls)
	}
	return control(next)
}

// updateEventMsg carries one event from the running update's channel.
type updateEventMsg updates.Event

// runClosedMsg reports that the run channel closed.
type runClosedMsg struct{}

type layoutAppliedMsg struct {
	status extensions.Status
	err    error
}

type model struct {
	ctx    context.Context
	deps   Deps
	logger *zerolog.Logger
	opts   Options

	record   settings.Record
	status   extensions.Status
	applying bool

	focus    control
	phase    phase
	events   <-chan updates.Event
	exitCode int
	runErr   error
	lines    []string

	spinner  spinner.Model
	log      viewport.Model
	showHelp bool
	helpText string
	notice   string

	themeName string
	styles    styles
	width     int
	height    int
}

func newModel(ctx context.Context, deps Deps, opts Options) model {
	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	themeName := opts.Theme
	if _, ok := palettes[themeName]; !ok {
		themeName = defaultTheme
	}

	m := model{
		ctx:       ctx,
		deps:      deps,
		logger:    logger,
		opts:      opts,
		record:    deps.Settings.Read(),
		status:    deps.Layouts.Status(ctx),
		focus:     ctlTraditional,
		phase:     phaseIdle,
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot)),
		log:       viewport.New(76, 10),
		themeName: themeName,
	}
	m.applyTheme()
	return m
}

func (m *model) applyTheme() {
	p := paletteFor(m.themeName)
	m.styles = newStyles(p)
	m.spinner.Style = m.styles.focused
}

// waitForEvent reads one event from the run channel. The model re-arms it
// after every line, so only the bubbletea loop touches model state.
func waitForEvent(ch <-chan updates.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return runClosedMsg{}
		}
		return updateEventMsg(ev)
	}
}

func applyLayout(ctx context.Context, lm LayoutManager, l extensions.Layout) tea.Cmd {
	return func() tea.Msg {
		err := lm.Apply(ctx, l)
		return layoutAppliedMsg{status: lm.Status(ctx), err: err}
	}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeLog()
		m.helpText = ""
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		if m.phase != phaseRunning {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case updateEventMsg:
		return m.handleEvent(updates.Event(msg))

	case runClosedMsg:
		if m.phase == phaseRunning {
			m.phase = phaseComplete
			m.runErr = updates.ErrDetached
		}
		m.events = nil
		return m, nil

	case layoutAppliedMsg:
		m.applying = false
		m.status = msg.status
		if msg.err != nil {
			m.notice = "Layout change failed"
		} else {
			m.notice = "Layout set to " + layoutTitle(m.status.Layout)
		}
		return m, nil
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	k := msg.String()
	if m.showHelp {
		switch k {
		case "ctrl+c":
			return m, tea.Quit
		case "?", "esc", "q":
			m.showHelp = false
		}
		return m, nil
	}

	switch k {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "?":
		m.showHelp = true
		if m.helpText == "" {
			m.helpText = m.renderHelp()
		}
	case "down", "j", "tab":
		m.focus = m.focus.step(1)
	case "up", "k", "shift+tab":
		m.focus = m.focus.step(-1)
	case "left", "h":
		if m.focus == ctlFrequency {
			m.save(settings.SetFrequency(m.record.CheckFrequency.Step(-1)))
		}
	case "right", "l":
		if m.focus == ctlFrequency {
			m.save(settings.SetFrequency(m.record.CheckFrequency.Step(1)))
		}
	case "enter", " ":
		return m.activate()
	case "t":
		m.themeName = nextThemeName(m.themeName, 1)
		m.applyTheme()
		m.notice = "Theme: " + m.themeName
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		return m, cmd
	case "home":
		m.log.GotoTop()
	case "end":
		m.log.GotoBottom()
	}
	return m, nil
}

func (m model) activate() (tea.Model, tea.Cmd) {
	switch m.focus {
	case ctlTraditional, ctlModern:
		l := extensions.Traditional
		if m.focus == ctlModern {
			l = extensions.Modern
		}
		if !m.layoutEnabled(l) {
			return m, nil
		}
		m.applying = true
		m.notice = "Switching to " + layoutTitle(l) + "..."
		return m, applyLayout(m.ctx, m.deps.Layouts, l)
	case ctlAutoUpdates:
		m.save(settings.SetAutoUpdates(!m.record.AutoUpdatesEnabled))
	case ctlFrequency:
		m.save(settings.SetFrequency(m.record.CheckFrequency.Step(1)))
	case ctlExtensions:
		m.save(settings.SetExtensions(!m.record.ExtensionsEnabled))
	case ctlUpdate:
		return m.startUpdate()
	}
	return m, nil
}

func (m model) layoutEnabled(l extensions.Layout) bool {
	return !m.applying && m.status.CanSwitchTo(l)
}

func (m model) updateEnabled() bool {
	return m.phase != phaseRunning
}

// save writes a single-field patch and re-reads the file so the controls
// show what is actually stored.
func (m *model) save(p settings.Patch) {
	if err := m.deps.Settings.Write(p); err != nil {
		m.notice = "Could not save settings"
		return
	}
	m.record = m.deps.Settings.Read()
	m.notice = "Saved"
}

func (m model) startUpdate() (tea.Model, tea.Cmd) {
	if !m.updateEnabled() {
		return m, nil
	}
	run, err := m.deps.Updates.Start(m.ctx)
	if err != nil {
		if errors.Is(err, updates.ErrInProgress) {
			m.notice = "An update is already running"
		} else {
			m.logger.Error().Err(err).Msg("starting update failed")
			m.notice = "Could not start the update"
		}
		return m, nil
	}

	m.phase = phaseRunning
	m.events = run.Events
	m.lines = nil
	m.exitCode = 0
	m.runErr = nil
	m.notice = ""
	m.log.SetContent("")
	m.log.GotoTop()
	return m, tea.Batch(m.spinner.Tick, waitForEvent(run.Events))
}

func (m model) handleEvent(ev updates.Event) (tea.Model, tea.Cmd) {
	if ev.Done {
		m.phase = phaseComplete
		m.exitCode = ev.ExitCode
		m.runErr = ev.Err
		m.events = nil
		return m, nil
	}
	m.lines = append(m.lines, ev.Line)
	m.log.SetContent(strings.Join(m.lines, "\n"))
	m.log.GotoBottom()
	if m.events == nil {
		return m, nil
	}
	return m, waitForEvent(m.events)
}

func (m *model) resizeLog() {
	w := m.width - 4
	if w < 20 {
		w = 20
	}
	// Rows used by the controls, borders and footer.
	h := m.height - 20
	if h < 3 {
		h = 3
	}
	m.log.Width = w
	m.log.Height = h
}

func (m model) renderHelp() string {
	width := m.width
	if width <= 0 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width-4))
	if err != nil {
		return helpMarkdown
	}
	out, err := renderer.Render(helpMarkdown)
	if err != nil {
		return helpMarkdown
	}
	return out
}

func layoutTitle(l extensions.Layout) string {
	switch l {
	case extensions.Traditional:
		return "Traditional"
	case extensions.Modern:
		return "Modern"
	}
	return "Unknown"
}
