// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package util

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// ANSI color codes used by the shell.
const (
	ColorRed    = "31"
	ColorGreen  = "32"
	ColorYellow = "33"
)

// supportsColor checks if the terminal supports ANSI color codes
func supportsColor() bool {
	// Check if stdout is a terminal
	if !term.IsTerminal(int(os.Stdout.Fd())) { // #nosec G115 - file descriptors are small integers
		return false
	}

	// Check TERM environment variable
	termEnv := os.Getenv("TERM")
	if termEnv == "" || termEnv == "dumb" {
		return false
	}

	return true
}

// Colorize wraps s in the given ANSI color when stdout supports it.
func Colorize(colorCode, s string) string {
	if colorCode == "" || !supportsColor() {
		return s
	}
	return fmt.Sprintf("\033[%sm%s\033[0m", colorCode, s)
}
