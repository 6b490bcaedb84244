// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/aplane-algo/embedbridge/internal/crashdialog"
	"github.com/aplane-algo/embedbridge/internal/traceback"
	"github.com/aplane-algo/embedbridge/internal/util"
)

// The process-wide runtime behind the C-style entry points.
var (
	processMu sync.Mutex
	process   *Runtime
)

// Process returns the process-wide runtime, or nil before StartRuntime.
func Process() *Runtime {
	processMu.Lock()
	defer processMu.Unlock()
	return process
}

// StartRuntime initializes the process-wide runtime. If it is already
// running the call does nothing; otherwise a new runtime is built from opts.
func StartRuntime(args []string, opts Options) int {
	processMu.Lock()
	defer processMu.Unlock()

	if process != nil && process.State() == StateInitialized {
		util.Debug("process runtime already initialized")
		return StatusOK
	}
	rt := New(opts)
	if err := rt.Start(args); err != nil {
		util.Logger.Error("failed to start runtime", "error", err)
		return StatusError
	}
	process = rt
	return StatusOK
}

// FinalizeRuntime finalizes the process-wide runtime. It does nothing when
// the runtime is not running.
func FinalizeRuntime() {
	rt := Process()
	if rt == nil {
		return
	}
	if err := rt.Finalize(); err != nil && !errors.Is(err, ErrNotInitialized) {
		util.Logger.Warn("finalize failed", "error", err)
	}
}

// RunSimpleString executes code and returns StatusOK or StatusError.
func RunSimpleString(code string) int {
	rt := Process()
	if rt == nil {
		util.Debug("run before runtime start")
		return StatusError
	}
	if err := rt.Run(context.Background(), code); err != nil {
		return StatusError
	}
	return StatusOK
}

// ExecAndGetString executes code and returns the text form of name. ok is
// false when the runtime is not running, the code failed or the variable
// is missing or has no text form.
func ExecAndGetString(code, name string) (text string, ok bool) {
	rt := Process()
	if rt == nil {
		return "", false
	}
	text, err := rt.ExecAndGet(context.Background(), code, name)
	if err != nil {
		return "", false
	}
	return text, true
}

// ExecAndGetStringAsync is the non-blocking form of ExecAndGetString.
func ExecAndGetStringAsync(code, name string, callback func(text string, ok bool)) {
	rt := Process()
	if rt == nil {
		go callback("", false)
		return
	}
	rt.ExecAndGetAsync(code, name, func(text string, err error) {
		callback(text, err == nil)
	})
}

// LastException returns the last exception of the process-wide runtime.
func LastException() *traceback.Exception {
	if rt := Process(); rt != nil {
		return rt.LastException()
	}
	return nil
}

// ClearException forgets the last exception of the process-wide runtime.
func ClearException() {
	if rt := Process(); rt != nil {
		rt.ClearException()
	}
}

// FormatTraceback renders an exception triple. Any component may be nil.
func FormatTraceback(typ *traceback.Type, value *traceback.Value, tb *traceback.Trace) string {
	return traceback.Format(typ, value, tb)
}

// CrashDialog presents details through the crash handler of the process-wide
// runtime, or the crash dialog when no runtime was started. The default
// handlers terminate the process.
func CrashDialog(details string) {
	if rt := Process(); rt != nil {
		rt.opts.Crash(details)
		return
	}
	crashdialog.Fatal(details)
}
