package main

import (
	"fmt"
	"os"
)

// ANSI sequences for terminal feedback. Human-facing markers go to stderr
// so stdout stays parseable.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

// mark prints one marker-prefixed line to stderr.
func mark(color, marker, format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(color, marker+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { mark(colorGreen, "✓", format, args...) }

func printError(format string, args ...any) { mark(colorRed, "✗", format, args...) }

func printWarning(format string, args ...any) { mark(colorYellow, "⚠", format, args...) }

func printStep(format string, args ...any) { mark(colorCyan, "→", format, args...) }

// printStatus renders one indented "Label: value" line of a status report.
func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}
