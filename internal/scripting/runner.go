// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package scripting provides interfaces and implementations for script execution.
// It abstracts the underlying VM (Starlark, Goja) behind a common interface.
package scripting

import (
	"errors"
	"fmt"

	"github.com/aplane-algo/embedbridge/internal/modpath"
	"github.com/aplane-algo/embedbridge/internal/traceback"
)

// Engine kinds accepted by New.
const (
	KindStarlark = "starlark"
	KindGoja     = "goja"
)

// DefaultFilename names top-level snippets in tracebacks.
const DefaultFilename = "<string>"

var (
	// ErrUndefined is returned by Lookup when the name is not bound.
	ErrUndefined = errors.New("variable not defined")
	// ErrNotText is returned by Lookup when the value has no textual form.
	ErrNotText = errors.New("value is not representable as text")
	// ErrUnknownEngine is returned by New for an unsupported kind.
	ErrUnknownEngine = errors.New("unknown engine")
)

// ScriptError represents an error that occurred during script execution.
type ScriptError struct {
	Message   string
	Exception *traceback.Exception
}

func (e *ScriptError) Error() string {
	return e.Message
}

// Traceback returns the formatted exception.
func (e *ScriptError) Traceback() string {
	return e.Exception.String()
}

func newScriptError(exc *traceback.Exception) *ScriptError {
	return &ScriptError{Message: exc.Summary(), Exception: exc}
}

// Result holds the outcome of evaluating a snippet.
type Result struct {
	// Value is the exported result value (nil if IsEmpty is true)
	Value interface{}
	// Repr is the engine's representation of the value, as a REPL shows it
	Repr string
	// IsEmpty is true if the snippet produced no value (statements, undefined)
	IsEmpty bool
}

// Engine is the low-level VM abstraction for executing scripts.
// It handles code execution within an embedded interpreter whose global
// scope persists across calls.
//
// Engines are not safe for concurrent use: every method except Interrupt
// must be called from the goroutine that owns the engine.
type Engine interface {
	// Name returns the engine kind.
	Name() string

	// Exec runs statements in the global scope.
	Exec(code string) error

	// ExecFile runs statements like Exec, naming filename in tracebacks.
	ExecFile(filename, code string) error

	// Eval evaluates an expression, or runs statements when code is not a
	// single expression.
	Eval(code string) (Result, error)

	// Lookup returns the text form of a global variable.
	Lookup(name string) (string, error)

	// SetOutput sets the function used for print() output.
	SetOutput(fn func(string))

	// Interrupt stops the currently running script. An interrupt that
	// arrives while nothing runs stays pending and aborts the next run.
	// Safe to call from another goroutine.
	Interrupt()

	// ResetInterrupt drops a pending interrupt. Hosts call it before
	// arming their own cancellation for a new run.
	ResetInterrupt()

	// Close releases interpreter state.
	Close() error
}

// EngineOptions configures a new engine.
type EngineOptions struct {
	// Args is exposed to scripts as argv.
	Args []string
	// Output receives print() output; nil discards it.
	Output func(string)
	// Modules resolves load()/require(); nil disables module loading.
	Modules *modpath.Resolver
	// Filename names top-level snippets; defaults to DefaultFilename.
	Filename string
}

func (o EngineOptions) filename() string {
	if o.Filename == "" {
		return DefaultFilename
	}
	return o.Filename
}

func (o EngineOptions) output() func(string) {
	if o.Output == nil {
		return func(string) {}
	}
	return o.Output
}

// ModuleLayout returns the module file layout used by the given engine kind.
func ModuleLayout(kind string) modpath.Layout {
	if kind == KindGoja {
		return gojaLayout
	}
	return starlarkLayout
}

// New creates an engine of the given kind. An empty kind selects Starlark.
func New(kind string, opts EngineOptions) (Engine, error) {
	switch kind {
	case "", KindStarlark:
		return NewStarlarkEngine(opts), nil
	case KindGoja:
		return NewGojaEngine(opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, kind)
	}
}
