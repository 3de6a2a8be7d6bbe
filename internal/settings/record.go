// Package settings reads and patches the update configuration file shared
// with the update script: newline-delimited KEY=value pairs.
package settings

import (
	"fmt"
	"strconv"
	"strings"
)

// Keys as they appear in the file. The update script reads the same names.
const (
	KeyAutoUpdates = "AUTO_UPDATES_ENABLED"
	KeyFrequency   = "CHECK_FREQUENCY"
	KeyExtensions  = "EXTENSIONES_HABILITADAS"
)

// Frequency is how often the update script checks for updates.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

var frequencies = []Frequency{Daily, Weekly, Monthly}

// Frequencies returns the accepted values in display order.
func Frequencies() []Frequency {
	out := make([]Frequency, len(frequencies))
	copy(out, frequencies)
	return out
}

// Valid reports whether f is one of the frequencies the updater understands.
func (f Frequency) Valid() bool {
	for _, v := range frequencies {
		if f == v {
			return true
		}
	}
	return false
}

// Step moves n positions through Frequencies, wrapping around. An invalid
// frequency steps from Daily.
func (f Frequency) Step(n int) Frequency {
	idx := 0
	for i, v := range frequencies {
		if v == f {
			idx = i
			break
		}
	}
	idx = (idx + n) % len(frequencies)
	if idx < 0 {
		idx += len(frequencies)
	}
	return frequencies[idx]
}

// ParseFrequency accepts a frequency name in any case.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("invalid check frequency %q (want daily, weekly or monthly)", s)
	}
	return f, nil
}

// Record is the parsed update configuration.
type Record struct {
	AutoUpdatesEnabled bool      `json:"auto_updates_enabled"`
	CheckFrequency     Frequency `json:"check_frequency"`
	ExtensionsEnabled  bool      `json:"extensions_enabled"`
}

// Defaults returns the values used for keys missing from the file.
func Defaults() Record {
	return Record{
		AutoUpdatesEnabled: true,
		CheckFrequency:     Daily,
		ExtensionsEnabled:  false,
	}
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	AutoUpdatesEnabled *bool      `json:"auto_updates_enabled,omitempty"`
	CheckFrequency     *Frequency `json:"check_frequency,omitempty"`
	ExtensionsEnabled  *bool      `json:"extensions_enabled,omitempty"`
}

// Empty reports whether the patch sets no field.
func (p Patch) Empty() bool {
	return p.AutoUpdatesEnabled == nil && p.CheckFrequency == nil && p.ExtensionsEnabled == nil
}

// Validate rejects a patch carrying an unknown check frequency.
func (p Patch) Validate() error {
	if p.CheckFrequency != nil && !p.CheckFrequency.Valid() {
		return fmt.Errorf("invalid check frequency %q", *p.CheckFrequency)
	}
	return nil
}

// Apply returns r with the supplied fields replaced.
func (p Patch) Apply(r Record) Record {
	if p.AutoUpdatesEnabled != nil {
		r.AutoUpdatesEnabled = *p.AutoUpdatesEnabled
	}
	if p.CheckFrequency != nil {
		r.CheckFrequency = *p.CheckFrequency
	}
	if p.ExtensionsEnabled != nil {
		r.ExtensionsEnabled = *p.ExtensionsEnabled
	}
	return r
}

type assignment struct {
	key   string
	value string
}

// assignments renders the supplied fields in file key order.
func (p Patch) assignments() []assignment {
	var out []assignment
	if p.AutoUpdatesEnabled != nil {
		out = append(out, assignment{KeyAutoUpdates, formatBool(*p.AutoUpdatesEnabled)})
	}
	if p.CheckFrequency != nil {
		out = append(out, assignment{KeyFrequency, string(*p.CheckFrequency)})
	}
	if p.ExtensionsEnabled != nil {
		out = append(out, assignment{KeyExtensions, formatBool(*p.ExtensionsEnabled)})
	}
	return out
}

func (r Record) assignments() []assignment {
	return Patch{
		AutoUpdatesEnabled: &r.AutoUpdatesEnabled,
		CheckFrequency:     &r.CheckFrequency,
		ExtensionsEnabled:  &r.ExtensionsEnabled,
	}.assignments()
}

// SetAutoUpdates, SetFrequency and SetExtensions build single-field patches.
func SetAutoUpdates(v bool) Patch { return Patch{AutoUpdatesEnabled: &v} }
func SetFrequency(f Frequency) Patch { return Patch{CheckFrequency: &f} }
func SetExtensions(v bool) Patch { return Patch{ExtensionsEnabled: &v} }

// ParseAssignment builds a single-field patch from a key and a textual value.
// The key may be the file key (CHECK_FREQUENCY) or the JSON field name
// (check_frequency).
func ParseAssignment(key, value string) (Patch, error) {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "auto_updates_enabled":
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return Patch{}, fmt.Errorf("invalid boolean for %s: %q", KeyAutoUpdates, value)
		}
		return SetAutoUpdates(b), nil
	case "check_frequency":
		f, err := ParseFrequency(value)
		if err != nil {
			return Patch{}, err
		}
		return SetFrequency(f), nil
	case "extensiones_habilitadas", "extensions_enabled":
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return Patch{}, fmt.Errorf("invalid boolean for %s: %q", KeyExtensions, value)
		}
		return SetExtensions(b), nil
	}
	return Patch{}, fmt.Errorf("unknown settings key %q", key)
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
