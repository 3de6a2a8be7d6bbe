package panel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bambu-os/bambu-control/internal/extensions"
	"github.com/bambu-os/bambu-control/internal/settings"
	"github.com/bambu-os/bambu-control/internal/updates"
)

func (m model) View() string {
	if m.showHelp {
		return m.helpText + "\n" + m.styles.footer.Render("? or esc to close")
	}

	var b strings.Builder
	title := "Bambu Control"
	if m.opts.Version != "" {
		title += " " + m.opts.Version
	}
	b.WriteString(m.styles.title.Render(title) + "\n")

	b.WriteString(m.styles.section.Render("Desktop layout") + "\n")
	buttons := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderButton(ctlTraditional, "Traditional", m.layoutEnabled(extensions.Traditional)),
		"  ",
		m.renderButton(ctlModern, "Modern", m.layoutEnabled(extensions.Modern)),
	)
	b.WriteString("  " + buttons + "   " + m.styles.off.Render("current: "+layoutTitle(m.status.Layout)) + "\n")

	b.WriteString(m.styles.section.Render("Updates") + "\n")
	b.WriteString(m.renderRow(ctlAutoUpdates, "Automatic updates", m.renderSwitch(m.record.AutoUpdatesEnabled)))
	b.WriteString(m.renderRow(ctlFrequency, "Check frequency", m.renderFrequency()))
	b.WriteString(m.renderRow(ctlExtensions, "Extensions", m.renderSwitch(m.record.ExtensionsEnabled)))
	b.WriteString("  " + m.renderButton(ctlUpdate, "Update now", m.updateEnabled()) + "  " + m.renderProgress() + "\n\n")

	b.WriteString(m.styles.logBox.Render(m.log.View()) + "\n")

	if m.notice != "" {
		b.WriteString(m.styles.warning.Render(m.notice) + "\n")
	}
	b.WriteString(m.styles.footer.Render("↑/↓ move • enter select • ←/→ frequency • pgup/pgdn scroll • t theme • ? help • q quit"))
	return b.String()
}

func (m model) renderButton(c control, label string, enabled bool) string {
	text := "[ " + label + " ]"
	switch {
	case !enabled:
		return m.styles.disabled.Render(text)
	case m.focus == c:
		return m.styles.focused.Render(text)
	default:
		return m.styles.button.Render(text)
	}
}

func (m model) renderRow(c control, label, value string) string {
	cursor := "  "
	style := m.styles.label
	if m.focus == c {
		cursor = m.styles.focused.Render("> ")
		style = style.Inherit(m.styles.focused)
	}
	return cursor + style.Render(label) + value + "\n"
}

func (m model) renderSwitch(on bool) string {
	if on {
		return m.styles.on.Render("[on ]")
	}
	return m.styles.off.Render("[off]")
}

func (m model) renderFrequency() string {
	parts := make([]string, 0, 3)
	for _, f := range settings.Frequencies() {
		if f == m.record.CheckFrequency {
			parts = append(parts, m.styles.focused.Render(string(f)))
		} else {
			parts = append(parts, m.styles.off.Render(string(f)))
		}
	}
	return "‹ " + strings.Join(parts, " ") + " ›"
}

func (m model) renderProgress() string {
	switch m.phase {
	case phaseRunning:
		return m.spinner.View() + " Updating..."
	case phaseComplete:
		if errors.Is(m.runErr, updates.ErrDetached) {
			return m.styles.warning.Render("Stopped (output detached, see history)")
		}
		if m.runErr != nil {
			return m.styles.success.Render("✓ Complete") + " " + m.styles.warning.Render("(script could not run)")
		}
		return m.styles.success.Render("✓ Complete") + " " + m.styles.off.Render(fmt.Sprintf("(exit %d)", m.exitCode))
	}
	return ""
}
