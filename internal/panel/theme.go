package panel

import (
	"sort"

	"github.com/charmbracelet/lipgloss"
)

type palette struct {
	Text     lipgloss.Color
	Muted    lipgloss.Color
	Accent   lipgloss.Color
	Border   lipgloss.Color
	Success  lipgloss.Color
	Warning  lipgloss.Color
	Disabled lipgloss.Color
}

var palettes = map[string]palette{
	"adwaita": {
		Text:     lipgloss.Color("#deddda"),
		Muted:    lipgloss.Color("#9a9996"),
		Accent:   lipgloss.Color("#62a0ea"),
		Border:   lipgloss.Color("#5e5c64"),
		Success:  lipgloss.Color("#57e389"),
		Warning:  lipgloss.Color("#f8e45c"),
		Disabled: lipgloss.Color("#4f4d54"),
	},
	"nord": {
		Text:     lipgloss.Color("#eceff4"),
		Muted:    lipgloss.Color("#a3acbd"),
		Accent:   lipgloss.Color("#88c0d0"),
		Border:   lipgloss.Color("#4c566a"),
		Success:  lipgloss.Color("#a3be8c"),
		Warning:  lipgloss.Color("#ebcb8b"),
		Disabled: lipgloss.Color("#434c5e"),
	},
	"gruvbox": {
		Text:     lipgloss.Color("#ebdbb2"),
		Muted:    lipgloss.Color("#a89984"),
		Accent:   lipgloss.Color("#fabd2f"),
		Border:   lipgloss.Color("#665c54"),
		Success:  lipgloss.Color("#b8bb26"),
		Warning:  lipgloss.Color("#fe8019"),
		Disabled: lipgloss.Color("#504945"),
	},
}

const defaultTheme = "adwaita"

func paletteFor(name string) palette {
	if p, ok := palettes[name]; ok {
		return p
	}
	return palettes[defaultTheme]
}

func themeNames() []string {
	names := make([]string, 0, len(palettes))
	for k := range palettes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func nextThemeName(current string, step int) string {
	names := themeNames()
	idx := 0
	for i, name := range names {
		if name == current {
			idx = i
			break
		}
	}
	idx = (idx + step) % len(names)
	if idx < 0 {
		idx += len(names)
	}
	return names[idx]
}

type styles struct {
	title    lipgloss.Style
	section  lipgloss.Style
	label    lipgloss.Style
	focused  lipgloss.Style
	button   lipgloss.Style
	disabled lipgloss.Style
	on       lipgloss.Style
	off      lipgloss.Style
	success  lipgloss.Style
	warning  lipgloss.Style
	logBox   lipgloss.Style
	footer   lipgloss.Style
}

func newStyles(p palette) styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(p.Accent),
		section:  lipgloss.NewStyle().Bold(true).Foreground(p.Text).MarginTop(1),
		label:    lipgloss.NewStyle().Foreground(p.Text).Width(22),
		focused:  lipgloss.NewStyle().Bold(true).Foreground(p.Accent),
		button:   lipgloss.NewStyle().Foreground(p.Text),
		disabled: lipgloss.NewStyle().Foreground(p.Disabled),
		on:       lipgloss.NewStyle().Foreground(p.Success),
		off:      lipgloss.NewStyle().Foreground(p.Muted),
		success:  lipgloss.NewStyle().Foreground(p.Success),
		warning:  lipgloss.NewStyle().Foreground(p.Warning),
		logBox:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(p.Border).Padding(0, 1),
		footer:   lipgloss.NewStyle().Foreground(p.Muted),
	}
}
