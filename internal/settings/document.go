package settings

import (
	"strings"

	"github.com/rs/zerolog"
)

// document is the file as a list of raw lines. Lines that are not touched by
// a patch are written back unchanged, including ones Record skips.
type document struct {
	lines    []string
	trailing bool
}

func parseDocument(data []byte) *document {
	s := string(data)
	if s == "" {
		return &document{}
	}
	trailing := strings.HasSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\n")
	return &document{lines: strings.Split(s, "\n"), trailing: trailing}
}

// splitLine returns the trimmed key and value of a KEY=value line. ok is false
// for blank lines and lines without '='.
func splitLine(line string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	k, v, found := strings.Cut(trimmed, "=")
	if !found {
		return "", "", false
	}
	return strings.TrimSpace(k), strings.TrimSpace(v), true
}

// record folds the lines into a Record, starting from Defaults. Malformed
// lines and unrecognised frequencies are logged and skipped.
func (d *document) record(logger *zerolog.Logger) Record {
	rec := Defaults()
	for i, line := range d.lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := splitLine(line)
		if !ok {
			logger.Warn().Int("line", i+1).Str("content", line).Msg("malformed settings line skipped")
			continue
		}
		switch key {
		case KeyAutoUpdates:
			rec.AutoUpdatesEnabled = strings.EqualFold(value, "true")
		case KeyFrequency:
			f, err := ParseFrequency(value)
			if err != nil {
				logger.Warn().Int("line", i+1).Str("value", value).Msg("unknown check frequency, using default")
				continue
			}
			rec.CheckFrequency = f
		case KeyExtensions:
			rec.ExtensionsEnabled = strings.EqualFold(value, "true")
		}
	}
	return rec
}

// set rewrites every line carrying key as key=value. A key that is not in the
// document yet is appended.
func (d *document) set(key, value string) {
	replaced := false
	for i, line := range d.lines {
		if k, _, ok := splitLine(line); ok && k == key {
			d.lines[i] = key + "=" + value
			replaced = true
		}
	}
	if !replaced {
		d.lines = append(d.lines, key+"="+value)
		d.trailing = true
	}
}

func (d *document) bytes() []byte {
	if len(d.lines) == 0 {
		return nil
	}
	out := strings.Join(d.lines, "\n")
	if d.trailing {
		out += "\n"
	}
	return []byte(out)
}

// Parse reads a Record from raw file contents, logging skipped lines to
// logger. Empty input yields Defaults.
func Parse(data []byte, logger *zerolog.Logger) Record {
	return parseDocument(data).record(logger)
}

// Render serialises a full record in canonical key order.
func Render(r Record) []byte {
	d := &document{trailing: true}
	for _, a := range r.assignments() {
		d.lines = append(d.lines, a.key+"="+a.value)
	}
	return d.bytes()
}
