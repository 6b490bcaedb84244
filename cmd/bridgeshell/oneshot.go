// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/aplane-algo/embedbridge/internal/bridge"
	"github.com/aplane-algo/embedbridge/internal/repl"
	"github.com/aplane-algo/embedbridge/internal/scripting"
)

// interruptible returns a context cancelled by Ctrl+C. Cancellation
// interrupts the running script.
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// runCode executes code and optionally prints a global variable.
func runCode(rt *bridge.Runtime, code, getVar string) int {
	ctx, stop := interruptible()
	defer stop()

	if getVar == "" {
		if err := rt.Run(ctx, code); err != nil {
			return failure(err)
		}
		return 0
	}

	text, err := rt.ExecAndGet(ctx, code, getVar)
	if err != nil {
		return failure(err)
	}
	fmt.Println(text)
	return 0
}

// runExpression evaluates input the way the console does and prints the result.
func runExpression(rt *bridge.Runtime, expr string) int {
	ctx, stop := interruptible()
	defer stop()

	rt.ClearException()
	fmt.Println(repl.NewSession(rt).Eval(ctx, expr))
	if rt.LastException() != nil {
		return 1
	}
	return 0
}

// runScriptFile executes a script file, or stdin when path is "-".
func runScriptFile(rt *bridge.Runtime, path string) int {
	var (
		content []byte
		err     error
		name    = path
	)
	if path == "-" {
		content, err = io.ReadAll(os.Stdin)
		name = "<stdin>"
	} else {
		content, err = os.ReadFile(path) // #nosec G304 - script path chosen by the user
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to read script: %v\n", err)
		return 1
	}

	ctx, stop := interruptible()
	defer stop()
	if err := rt.RunFile(ctx, name, string(content)); err != nil {
		return failure(err)
	}
	return 0
}

// failure reports err unless the runtime already printed its traceback.
func failure(err error) int {
	var se *scripting.ScriptError
	if !errors.As(err, &se) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return 1
}
