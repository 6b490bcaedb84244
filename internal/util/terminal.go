// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package util

import (
	"os"

	"golang.org/x/term"
)

// IsInteractive reports whether both stdin and stdout are terminals that can
// host a full-screen dialog.
func IsInteractive() bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) { // #nosec G115 - file descriptors are small integers
		return false
	}
	termEnv := os.Getenv("TERM")
	return termEnv != "" && termEnv != "dumb"
}

// TerminalSize returns the stdout terminal size, or 80x24 when unknown.
func TerminalSize() (width, height int) {
	w, h, err := term.GetSize(int(os.Stdout.Fd())) // #nosec G115 - file descriptors are small integers
	if err != nil || w <= 0 || h <= 0 {
		return 80, 24
	}
	return w, h
}
