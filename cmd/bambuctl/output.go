package main

import (
	"fmt"
	"io"
	"os"

	"github.com/bambu-os/bambu-control/internal/history"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// printField writes an aligned "label: value" row.
func printField(w io.Writer, label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, fmt.Sprintf("%-20s", label+":"))
	fmt.Fprintf(w, "  %s %s\n", l, val)
}

func onOff(b bool) string {
	if b {
		return colorize(colorGreen, "on")
	}
	return colorize(colorDim, "off")
}

func runStatusLabel(s history.Status) string {
	switch s {
	case history.StatusCompleted:
		return colorize(colorGreen, string(s))
	case history.StatusFailed:
		return colorize(colorRed, string(s))
	default:
		return colorize(colorYellow, string(s))
	}
}
