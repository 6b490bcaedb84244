// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aplane-algo/embedbridge/internal/scripting"
	"github.com/aplane-algo/embedbridge/internal/traceback"
	"github.com/aplane-algo/embedbridge/internal/util"
)

// EvalResult is the outcome of Eval.
type EvalResult struct {
	scripting.Result
	// Output is everything printed while evaluating.
	Output string
}

// Run executes code in the global scope. On a script error the traceback is
// written to stderr and kept as the last exception.
func (r *Runtime) Run(ctx context.Context, code string) error {
	err := r.do(ctx, func(eng scripting.Engine) error {
		return eng.Exec(code)
	})
	return r.report(err)
}

// RunFile is Run with tracebacks attributed to filename.
func (r *Runtime) RunFile(ctx context.Context, filename, code string) error {
	err := r.do(ctx, func(eng scripting.Engine) error {
		return eng.ExecFile(filename, code)
	})
	return r.report(err)
}

// ExecAndGet executes code and returns the text form of the global name.
func (r *Runtime) ExecAndGet(ctx context.Context, code, name string) (string, error) {
	var text string
	err := r.do(ctx, execAndGet(code, name, &text))
	if err != nil {
		return "", r.report(err)
	}
	return text, nil
}

// ExecAndGetAsync queues ExecAndGet and returns immediately. callback runs on
// a separate goroutine; callbacks of one runtime run one at a time in the
// order their calls were made.
func (r *Runtime) ExecAndGetAsync(code, name string, callback func(string, error)) {
	var text string
	_, err := r.submit(context.Background(), execAndGet(code, name, &text), func(err error) {
		if err != nil {
			callback("", r.report(err))
			return
		}
		callback(text, nil)
	})
	if err != nil {
		go callback("", err)
	}
}

func execAndGet(code, name string, text *string) func(scripting.Engine) error {
	return func(eng scripting.Engine) error {
		if err := eng.Exec(code); err != nil {
			return err
		}
		v, err := eng.Lookup(name)
		if err != nil {
			return err
		}
		*text = v
		return nil
	}
}

// Eval evaluates code the way an interactive console does. Output printed
// during evaluation is captured in the result instead of going to stdout.
// Failures are recorded as the last exception but not written to stderr.
func (r *Runtime) Eval(ctx context.Context, code string) (EvalResult, error) {
	var res EvalResult
	err := r.do(ctx, func(eng scripting.Engine) error {
		var out strings.Builder
		eng.SetOutput(func(s string) {
			out.WriteString(s)
			out.WriteByte('\n')
		})
		defer eng.SetOutput(r.print)

		v, err := eng.Eval(code)
		res.Result = v
		res.Output = out.String()
		return err
	})
	r.record(err)
	return res, err
}

// report records err and writes its traceback to stderr.
func (r *Runtime) report(err error) error {
	if exc := r.record(err); exc != nil {
		var se *scripting.ScriptError
		if errors.As(err, &se) {
			fmt.Fprintln(r.opts.Stderr, exc.String())
		}
	}
	return err
}

// record keeps the exception described by err, if any, as the last exception.
func (r *Runtime) record(err error) *traceback.Exception {
	exc := exceptionFor(err)
	if exc == nil {
		return nil
	}
	r.excMu.Lock()
	r.lastExc = exc
	r.excMu.Unlock()
	util.Debug("script failed", "error", exc.Summary())
	return exc
}

func exceptionFor(err error) *traceback.Exception {
	if err == nil || errors.Is(err, ErrNotInitialized) {
		return nil
	}
	var se *scripting.ScriptError
	if errors.As(err, &se) {
		return se.Exception
	}
	name := "Error"
	switch {
	case errors.Is(err, scripting.ErrUndefined):
		name = "NameError"
	case errors.Is(err, scripting.ErrNotText):
		name = "TypeError"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		name = "Interrupted"
	case errors.Is(err, ErrRuntimeFault):
		name = "RuntimeFault"
	}
	return &traceback.Exception{
		Type:  &traceback.Type{Name: name},
		Value: &traceback.Value{Message: err.Error()},
	}
}

// LastException returns the exception of the most recent failed call, or nil.
func (r *Runtime) LastException() *traceback.Exception {
	r.excMu.Lock()
	defer r.excMu.Unlock()
	return r.lastExc
}

// ClearException forgets the last exception.
func (r *Runtime) ClearException() {
	r.excMu.Lock()
	r.lastExc = nil
	r.excMu.Unlock()
}
