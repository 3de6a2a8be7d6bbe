// Package extensions queries and switches the GNOME Shell extensions that
// make up the two desktop layouts.
package extensions

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bambu-os/bambu-control/internal/runner"
)

// Layout is one of the two desktop arrangements the panel can switch between.
type Layout string

const (
	// Traditional is a single bottom panel (dash-to-panel).
	Traditional Layout = "traditional"

	// Modern is a floating dock (dash-to-dock).
	Modern Layout = "modern"

	Unknown Layout = "unknown"
)

// ErrUnknownLayout is returned for a layout name other than traditional or modern.
var ErrUnknownLayout = errors.New("unknown layout")

// ParseLayout accepts a layout name in any case.
func ParseLayout(s string) (Layout, error) {
	switch l := Layout(strings.ToLower(strings.TrimSpace(s))); l {
	case Traditional, Modern:
		return l, nil
	}
	return "", fmt.Errorf("%w: %q (want traditional or modern)", ErrUnknownLayout, s)
}

// Commander is the part of the runner the manager needs.
type Commander interface {
	RunOnce(ctx context.Context, commandLine string) error
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Set is a set of extension UUIDs.
type Set map[string]struct{}

func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ParseEnabled reads the output of `gnome-extensions list --enabled`: one
// UUID per line. Surrounding whitespace and blank lines are dropped.
func ParseEnabled(out []byte) Set {
	set := make(Set)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if id := strings.TrimSpace(sc.Text()); id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

// Status is a snapshot of the layout extensions.
type Status struct {
	Enabled      Set    `json:"-"`
	PanelEnabled bool   `json:"panel_enabled"`
	DockEnabled  bool   `json:"dock_enabled"`
	Layout       Layout `json:"layout"`
}

// CanSwitchTo reports whether activating l makes sense from this state. With
// the panel active only Modern is offered, with the dock active only
// Traditional, and with neither both are.
func (s Status) CanSwitchTo(l Layout) bool {
	switch {
	case s.PanelEnabled:
		return l == Modern
	case s.DockEnabled:
		return l == Traditional
	default:
		return l == Traditional || l == Modern
	}
}

// Manager switches layouts through the extensions CLI.
type Manager struct {
	cmd     Commander
	cli     string
	panelID string
	dockID  string
	logger  *zerolog.Logger
}

// Options names the CLI and the two extension UUIDs.
type Options struct {
	CLI     string
	PanelID string
	DockID  string
}

// NewManager returns a Manager that runs opts.CLI through cmd.
func NewManager(cmd Commander, opts Options, logger *zerolog.Logger) *Manager {
	return &Manager{
		cmd:     cmd,
		cli:     opts.CLI,
		panelID: opts.PanelID,
		dockID:  opts.DockID,
		logger:  logger,
	}
}

// QueryEnabled lists the enabled extensions. Any failure is logged and
// yields an empty set.
func (m *Manager) QueryEnabled(ctx context.Context) Set {
	out, err := m.cmd.Output(ctx, m.cli, "list", "--enabled")
	if err != nil {
		m.logger.Warn().Err(err).Msg("listing enabled extensions failed")
		return make(Set)
	}
	return ParseEnabled(out)
}

// Status queries the host and derives the current layout.
func (m *Manager) Status(ctx context.Context) Status {
	enabled := m.QueryEnabled(ctx)
	st := Status{
		Enabled:      enabled,
		PanelEnabled: enabled.Has(m.panelID),
		DockEnabled:  enabled.Has(m.dockID),
		Layout:       Unknown,
	}
	switch {
	case st.PanelEnabled && !st.DockEnabled:
		st.Layout = Traditional
	case st.DockEnabled && !st.PanelEnabled:
		st.Layout = Modern
	}
	return st
}

// Apply disables the other layout's extension and then enables the one for l.
// Both commands are attempted; the first failure is returned.
func (m *Manager) Apply(ctx context.Context, l Layout) error {
	var off, on string
	switch l {
	case Traditional:
		off, on = m.dockID, m.panelID
	case Modern:
		off, on = m.panelID, m.dockID
	default:
		return fmt.Errorf("%w: %q", ErrUnknownLayout, l)
	}

	m.logger.Info().Str("layout", string(l)).Msg("switching layout")
	errOff := m.cmd.RunOnce(ctx, runner.Command(m.cli, "disable", off))
	errOn := m.cmd.RunOnce(ctx, runner.Command(m.cli, "enable", on))
	if errOff != nil {
		return fmt.Errorf("disabling %s: %w", off, errOff)
	}
	if errOn != nil {
		return fmt.Errorf("enabling %s: %w", on, errOn)
	}
	return nil
}
