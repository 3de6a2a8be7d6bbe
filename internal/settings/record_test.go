package settings

import (
	"testing"

	"github.com/bambu-os/bambu-control/internal/logging"
)

func TestFrequencyStep(t *testing.T) {
	tests := []struct {
		from Frequency
		n    int
		want Frequency
	}{
		{Daily, 1, Weekly},
		{Monthly, 1, Daily},
		{Daily, -1, Monthly},
		{Frequency("bogus"), 1, Weekly},
	}
	for _, tt := range tests {
		if got := tt.from.Step(tt.n); got != tt.want {
			t.Errorf("%q.Step(%d) = %q, want %q", tt.from, tt.n, got, tt.want)
		}
	}
}

func TestParseAssignment(t *testing.T) {
	p, err := ParseAssignment("CHECK_FREQUENCY", "Weekly")
	if err != nil {
		t.Fatalf("ParseAssignment: %v", err)
	}
	if p.CheckFrequency == nil || *p.CheckFrequency != Weekly {
		t.Errorf("CheckFrequency = %v", p.CheckFrequency)
	}
	if p.AutoUpdatesEnabled != nil || p.ExtensionsEnabled != nil {
		t.Errorf("unexpected extra fields: %+v", p)
	}

	p, err = ParseAssignment("extensions_enabled", "1")
	if err != nil {
		t.Fatalf("ParseAssignment: %v", err)
	}
	if p.ExtensionsEnabled == nil || !*p.ExtensionsEnabled {
		t.Errorf("ExtensionsEnabled = %v", p.ExtensionsEnabled)
	}

	for _, bad := range [][2]string{
		{"AUTO_UPDATES_ENABLED", "maybe"},
		{"CHECK_FREQUENCY", "hourly"},
		{"THEME", "dark"},
	} {
		if _, err := ParseAssignment(bad[0], bad[1]); err == nil {
			t.Errorf("ParseAssignment(%q, %q) succeeded, want error", bad[0], bad[1])
		}
	}
}

func TestPatchApply(t *testing.T) {
	got := SetFrequency(Monthly).Apply(Defaults())
	want := Record{AutoUpdatesEnabled: true, CheckFrequency: Monthly}
	if got != want {
		t.Errorf("Apply = %+v, want %+v", got, want)
	}
}

func TestRender(t *testing.T) {
	got := string(Render(Record{AutoUpdatesEnabled: false, CheckFrequency: Weekly, ExtensionsEnabled: true}))
	want := "AUTO_UPDATES_ENABLED=false\nCHECK_FREQUENCY=weekly\nEXTENSIONES_HABILITADAS=true\n"
	if got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}

func TestParse_EndToEnd(t *testing.T) {
	got := Parse([]byte("AUTO_UPDATES_ENABLED=false\nCHECK_FREQUENCY=weekly\n"), logging.Nop())
	want := Record{AutoUpdatesEnabled: false, CheckFrequency: Weekly, ExtensionsEnabled: false}
	if got != want {
		t.Errorf("Parse = %+v, want %+v", got, want)
	}
	if got := Parse(nil, logging.Nop()); got != Defaults() {
		t.Errorf("Parse(nil) = %+v, want defaults", got)
	}
}
