// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package scripting

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/aplane-algo/embedbridge/internal/modpath"
	"github.com/aplane-algo/embedbridge/internal/traceback"
)

func init() {
	// Host snippets are written like Python module code.
	resolve.AllowGlobalReassign = true
	resolve.AllowRecursion = true
	resolve.AllowSet = true
}

var starlarkLayout = modpath.Layout{Ext: ".star", Index: "__init__"}

// StarlarkEngine implements Engine using the Starlark interpreter.
type StarlarkEngine struct {
	filename string
	output   func(string)
	args     *starlark.List
	modules  *modpath.Resolver

	globals starlark.StringDict
	loaded  map[string]*starlarkModule // keyed by module path
	loading map[string]bool

	mu      sync.Mutex
	active  map[*starlark.Thread]bool
	pending bool
}

type starlarkModule struct {
	sum     string
	globals starlark.StringDict
	err     error
}

// NewStarlarkEngine creates a new Starlark-based engine.
func NewStarlarkEngine(opts EngineOptions) *StarlarkEngine {
	args := make([]starlark.Value, len(opts.Args))
	for i, a := range opts.Args {
		args[i] = starlark.String(a)
	}
	argv := starlark.NewList(args)
	argv.Freeze()

	return &StarlarkEngine{
		filename: opts.filename(),
		output:   opts.output(),
		args:     argv,
		modules:  opts.Modules,
		globals:  starlark.StringDict{"argv": argv},
		loaded:   make(map[string]*starlarkModule),
		loading:  make(map[string]bool),
		active:   make(map[*starlark.Thread]bool),
	}
}

// Name returns the engine kind.
func (e *StarlarkEngine) Name() string { return KindStarlark }

// Exec runs statements. Bindings made before a failure are kept.
func (e *StarlarkEngine) Exec(code string) error {
	return e.ExecFile(e.filename, code)
}

// ExecFile is Exec with tracebacks attributed to filename.
func (e *StarlarkEngine) ExecFile(filename, code string) error {
	f, err := syntax.Parse(filename, code, 0)
	if err != nil {
		return starlarkError(err)
	}

	thread := e.begin("main")
	defer e.end(thread)

	// Each snippet runs as a chunk of one module: globals stay unfrozen
	// and keep bindings made before a failure.
	if err := starlark.ExecREPLChunk(f, thread, e.globals); err != nil {
		return starlarkError(err)
	}
	return nil
}

// Eval evaluates code as an expression when it parses as one.
func (e *StarlarkEngine) Eval(code string) (Result, error) {
	if strings.TrimSpace(code) == "" {
		return Result{IsEmpty: true}, nil
	}
	if _, err := syntax.ParseExpr(e.filename, code, 0); err != nil {
		if err := e.Exec(code); err != nil {
			return Result{}, err
		}
		return Result{IsEmpty: true}, nil
	}

	thread := e.begin("main")
	defer e.end(thread)

	v, err := starlark.Eval(thread, e.filename, code, e.globals)
	if err != nil {
		return Result{}, starlarkError(err)
	}
	if v == starlark.None {
		return Result{IsEmpty: true}, nil
	}
	return Result{Value: starlarkExport(v), Repr: v.String()}, nil
}

// Lookup returns str(name).
func (e *StarlarkEngine) Lookup(name string) (string, error) {
	v, ok := e.globals[name]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %s", ErrUndefined, name)
	}
	return starlarkText(v), nil
}

// SetOutput sets the function used for print() output.
func (e *StarlarkEngine) SetOutput(fn func(string)) {
	if fn == nil {
		e.output = func(string) {}
	} else {
		e.output = fn
	}
}

// Interrupt cancels every running thread, including module loads. It
// stays pending for threads started later until ResetInterrupt.
func (e *StarlarkEngine) Interrupt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = true
	for t := range e.active {
		t.Cancel(interruptReason)
	}
}

// ResetInterrupt drops a pending interrupt.
func (e *StarlarkEngine) ResetInterrupt() {
	e.mu.Lock()
	e.pending = false
	e.mu.Unlock()
}

// Close drops interpreter state.
func (e *StarlarkEngine) Close() error {
	e.Interrupt()
	e.globals = starlark.StringDict{"argv": e.args}
	e.loaded = make(map[string]*starlarkModule)
	return nil
}

func (e *StarlarkEngine) begin(name string) *starlark.Thread {
	thread := &starlark.Thread{
		Name:  name,
		Print: func(_ *starlark.Thread, msg string) { e.output(msg) },
		Load:  e.load,
	}
	e.mu.Lock()
	e.active[thread] = true
	if e.pending {
		thread.Cancel(interruptReason)
	}
	e.mu.Unlock()
	return thread
}

func (e *StarlarkEngine) end(thread *starlark.Thread) {
	e.mu.Lock()
	delete(e.active, thread)
	e.mu.Unlock()
}

// load implements the load() statement over the module search path.
// A module is executed once per content hash.
func (e *StarlarkEngine) load(_ *starlark.Thread, name string) (starlark.StringDict, error) {
	if e.modules == nil {
		return nil, fmt.Errorf("cannot load %s: no module search path", name)
	}
	mod, err := e.modules.Load(name, starlarkLayout)
	if err != nil {
		return nil, err
	}
	if cached, ok := e.loaded[mod.Path]; ok && cached.sum == mod.Sum {
		return cached.globals, cached.err
	}
	if e.loading[mod.Path] {
		return nil, fmt.Errorf("cycle in load graph at %s", name)
	}
	e.loading[mod.Path] = true
	defer delete(e.loading, mod.Path)

	thread := e.begin("load " + name)
	defer e.end(thread)

	globals, err := starlark.ExecFile(thread, mod.Path, mod.Source, starlark.StringDict{"argv": e.args})
	e.loaded[mod.Path] = &starlarkModule{sum: mod.Sum, globals: globals, err: err}
	return globals, err
}

// starlarkText converts v the way str() does.
func starlarkText(v starlark.Value) string {
	if s, ok := v.(starlark.String); ok {
		return string(s)
	}
	return v.String()
}

func starlarkExport(v starlark.Value) interface{} {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(x)
	case starlark.String:
		return string(x)
	case starlark.Int:
		if i, ok := x.Int64(); ok {
			return i
		}
		return x.String()
	case starlark.Float:
		return float64(x)
	default:
		return v.String()
	}
}

const (
	interruptReason = "script interrupted"
	cancelledPrefix = "Starlark computation cancelled"
)

// starlarkError converts interpreter errors into a ScriptError carrying the
// exception triple.
func starlarkError(err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		typ := "EvalError"
		if strings.HasPrefix(evalErr.Msg, cancelledPrefix) {
			typ = "Interrupted"
		}
		return newScriptError(&traceback.Exception{
			Type:  &traceback.Type{Name: typ},
			Value: &traceback.Value{Message: evalErr.Msg},
			Trace: starlarkTrace(evalErr.CallStack),
		})
	}

	var synErr syntax.Error
	if errors.As(err, &synErr) {
		return newScriptError(syntaxException(synErr.Pos, synErr.Msg))
	}

	var resErrs resolve.ErrorList
	if errors.As(err, &resErrs) && len(resErrs) > 0 {
		first := resErrs[0]
		return newScriptError(syntaxException(first.Pos, first.Msg))
	}

	return newScriptError(&traceback.Exception{
		Type:  &traceback.Type{Name: "Error"},
		Value: &traceback.Value{Message: err.Error()},
	})
}

func syntaxException(pos syntax.Position, msg string) *traceback.Exception {
	return &traceback.Exception{
		Type:  &traceback.Type{Name: "SyntaxError"},
		Value: &traceback.Value{Message: msg},
		Trace: &traceback.Trace{Frames: []traceback.Frame{{
			File:   pos.Filename(),
			Line:   int(pos.Line),
			Column: int(pos.Col),
		}}},
	}
}

// starlarkTrace maps a call stack (outermost first) onto a Trace.
func starlarkTrace(stack starlark.CallStack) *traceback.Trace {
	if len(stack) == 0 {
		return nil
	}
	frames := make([]traceback.Frame, 0, len(stack))
	for _, fr := range stack {
		name := fr.Name
		if name == "<toplevel>" {
			name = "<module>"
		}
		frames = append(frames, traceback.Frame{
			File: fr.Pos.Filename(),
			Line: int(fr.Pos.Line),
			Func: name,
		})
	}
	return &traceback.Trace{Frames: frames}
}

// Compile-time interface check
var _ Engine = (*StarlarkEngine)(nil)
