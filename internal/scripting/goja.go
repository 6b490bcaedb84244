// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package scripting

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/dop251/goja"

	"github.com/aplane-algo/embedbridge/internal/modpath"
	"github.com/aplane-algo/embedbridge/internal/traceback"
)

var gojaLayout = modpath.Layout{Ext: ".js", Index: "index"}

// GojaEngine implements Engine using the Goja JavaScript interpreter.
type GojaEngine struct {
	vm       *goja.Runtime
	filename string
	output   func(string)
	modules  *modpath.Resolver
	loaded   map[string]*gojaModule // keyed by module path
	toString goja.Callable
}

type gojaModule struct {
	sum    string
	module *goja.Object
}

// NewGojaEngine creates a new Goja-based engine.
func NewGojaEngine(opts EngineOptions) (*GojaEngine, error) {
	e := &GojaEngine{
		filename: opts.filename(),
		output:   opts.output(),
		modules:  opts.Modules,
		loaded:   make(map[string]*gojaModule),
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	e.vm = vm

	if err := e.register(opts.Args); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *GojaEngine) register(args []string) error {
	if err := e.vm.Set("print", e.jsPrint); err != nil {
		return fmt.Errorf("failed to register print: %w", err)
	}

	console := e.vm.NewObject()
	for _, name := range []string{"log", "info", "warn", "error"} {
		if err := console.Set(name, e.jsPrint); err != nil {
			return fmt.Errorf("failed to register console.%s: %w", name, err)
		}
	}
	if err := e.vm.Set("console", console); err != nil {
		return fmt.Errorf("failed to register console: %w", err)
	}

	argv := make([]interface{}, len(args))
	for i, a := range args {
		argv[i] = a
	}
	if err := e.vm.Set("argv", e.vm.NewArray(argv...)); err != nil {
		return fmt.Errorf("failed to register argv: %w", err)
	}

	if err := e.vm.Set("require", e.jsRequire); err != nil {
		return fmt.Errorf("failed to register require: %w", err)
	}

	// String() run inside the VM so a throwing toString surfaces as an error.
	fn, err := e.vm.RunString("(function(v) { return String(v); })")
	if err != nil {
		return fmt.Errorf("failed to compile string conversion: %w", err)
	}
	toString, ok := goja.AssertFunction(fn)
	if !ok {
		return fmt.Errorf("string conversion is not callable")
	}
	e.toString = toString
	return nil
}

// Name returns the engine kind.
func (e *GojaEngine) Name() string { return KindGoja }

// Exec runs statements in the global scope.
func (e *GojaEngine) Exec(code string) error {
	_, err := e.run(e.filename, code)
	return err
}

// ExecFile is Exec with tracebacks attributed to filename.
func (e *GojaEngine) ExecFile(filename, code string) error {
	_, err := e.run(filename, code)
	return err
}

// Eval runs code and returns the completion value of its last statement.
func (e *GojaEngine) Eval(code string) (Result, error) {
	if strings.TrimSpace(code) == "" {
		return Result{IsEmpty: true}, nil
	}
	v, err := e.run(e.filename, code)
	if err != nil {
		return Result{}, err
	}
	if v == nil || goja.IsUndefined(v) {
		return Result{IsEmpty: true}, nil
	}
	var res Result
	if err := e.guard(func() { res = Result{Value: v.Export(), Repr: e.repr(v)} }); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (e *GojaEngine) run(filename, code string) (goja.Value, error) {
	v, err := e.vm.RunScript(filename, code)
	if err != nil {
		return nil, e.scriptError(err)
	}
	return v, nil
}

// Lookup returns String(name). Properties of the global object are read
// directly; let/const bindings are read by evaluating the identifier.
func (e *GojaEngine) Lookup(name string) (string, error) {
	var (
		text   string
		lookup error
	)
	err := e.guard(func() {
		v := e.vm.Get(name)
		if v == nil && isJSIdentifier(name) {
			if res, err := e.vm.RunString(name); err == nil {
				v = res
			}
		}
		if v == nil || goja.IsUndefined(v) {
			lookup = fmt.Errorf("%w: %s", ErrUndefined, name)
			return
		}
		text, lookup = e.text(v)
	})
	if err != nil {
		// A throwing getter leaves the binding without a text form.
		return "", fmt.Errorf("%w: %s: %v", ErrNotText, name, err)
	}
	return text, lookup
}

// guard runs f, which calls into the VM outside RunScript. Exceptions
// thrown by getters or conversions and interrupts come back as script
// errors instead of Go panics.
func (e *GojaEngine) guard(f func()) (err error) {
	defer func() {
		if p := recover(); p != nil {
			interrupted, ok := p.(*goja.InterruptedError)
			if !ok {
				panic(p)
			}
			err = e.scriptError(interrupted)
		}
	}()
	if jsErr := e.vm.Try(f); jsErr != nil {
		return e.scriptError(jsErr)
	}
	return nil
}

// SetOutput sets the function used for print() and console output.
func (e *GojaEngine) SetOutput(fn func(string)) {
	if fn == nil {
		e.output = func(string) {}
	} else {
		e.output = fn
	}
}

// Interrupt stops the currently running script. When nothing is running
// the interrupt stays pending until ResetInterrupt.
// Safe to call from another goroutine (e.g., for timeout enforcement).
func (e *GojaEngine) Interrupt() {
	e.vm.Interrupt("script interrupted")
}

// ResetInterrupt drops a pending interrupt.
func (e *GojaEngine) ResetInterrupt() {
	e.vm.ClearInterrupt()
}

// Close drops the module cache. The runtime itself is garbage collected.
func (e *GojaEngine) Close() error {
	e.Interrupt()
	e.loaded = make(map[string]*gojaModule)
	return nil
}

func (e *GojaEngine) jsPrint(call goja.FunctionCall) goja.Value {
	parts := make([]string, len(call.Arguments))
	for i, arg := range call.Arguments {
		parts[i] = arg.String()
	}
	e.output(strings.Join(parts, " "))
	return goja.Undefined()
}

func (e *GojaEngine) jsRequire(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	exports, err := e.require(name)
	if err != nil {
		var jsErr *goja.Exception
		if errors.As(err, &jsErr) {
			panic(jsErr)
		}
		panic(e.vm.NewGoError(err))
	}
	return exports
}

// require loads a CommonJS-style module. A module is executed once per
// content hash; cyclic requires observe the partially filled exports.
func (e *GojaEngine) require(name string) (goja.Value, error) {
	if e.modules == nil {
		return nil, fmt.Errorf("cannot require %s: no module search path", name)
	}
	mod, err := e.modules.Load(name, gojaLayout)
	if err != nil {
		return nil, err
	}
	if m, ok := e.loaded[mod.Path]; ok && m.sum == mod.Sum {
		return m.module.Get("exports"), nil
	}

	// Keep the module body on line 1 so positions match the file.
	wrapped := "(function(exports, require, module) {" + mod.Source + "\n})"
	prg, err := goja.Compile(mod.Path, wrapped, false)
	if err != nil {
		return nil, err
	}
	fnVal, err := e.vm.RunProgram(prg)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, fmt.Errorf("module %s did not compile to a function", name)
	}

	module := e.vm.NewObject()
	exports := e.vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}
	e.loaded[mod.Path] = &gojaModule{sum: mod.Sum, module: module}

	if _, err := fn(goja.Undefined(), exports, e.vm.Get("require"), module); err != nil {
		delete(e.loaded, mod.Path)
		return nil, err
	}
	return module.Get("exports"), nil
}

// text converts v the way String(v) does. Symbols and objects whose
// conversion throws have no text form.
func (e *GojaEngine) text(v goja.Value) (string, error) {
	if goja.IsNull(v) {
		return "null", nil
	}
	if _, ok := v.(*goja.Symbol); ok {
		return "", fmt.Errorf("%w: symbol", ErrNotText)
	}
	if v.ExportType() != nil && v.ExportType().Kind() == reflect.String {
		return v.String(), nil
	}
	res, err := e.toString(goja.Undefined(), v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotText, err)
	}
	return res.String(), nil
}

func (e *GojaEngine) repr(v goja.Value) string {
	if goja.IsNull(v) {
		return "null"
	}
	switch x := v.Export().(type) {
	case string:
		return strconv.Quote(x)
	case map[string]interface{}, []interface{}:
		if data, err := json.Marshal(x); err == nil {
			return string(data)
		}
	}
	s, err := e.text(v)
	if err != nil {
		return fmt.Sprintf("<%s>", v.ExportType())
	}
	return s
}

// scriptError converts interpreter errors into a ScriptError carrying the
// exception triple.
func (e *GojaEngine) scriptError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return newScriptError(&traceback.Exception{
			Type:  &traceback.Type{Name: "Interrupted"},
			Value: &traceback.Value{Message: fmt.Sprint(interrupted.Value())},
			Trace: gojaTrace(interrupted.Stack()),
		})
	}

	var jsErr *goja.Exception
	if errors.As(err, &jsErr) {
		exc := &traceback.Exception{Trace: gojaTrace(jsErr.Stack())}
		name, msg := e.exceptionParts(jsErr)
		if name != "" {
			exc.Type = &traceback.Type{Name: name}
		}
		exc.Value = &traceback.Value{Message: msg}
		return newScriptError(exc)
	}

	var synErr *goja.CompilerSyntaxError
	if errors.As(err, &synErr) {
		return newScriptError(&traceback.Exception{
			Type:  &traceback.Type{Name: "SyntaxError"},
			Value: &traceback.Value{Message: synErr.Error()},
		})
	}

	return newScriptError(&traceback.Exception{
		Type:  &traceback.Type{Name: "Error"},
		Value: &traceback.Value{Message: err.Error()},
	})
}

// exceptionParts extracts name and message from a thrown value. Thrown
// primitives have no name.
func (e *GojaEngine) exceptionParts(jsErr *goja.Exception) (name, msg string) {
	val := jsErr.Value()
	if val == nil {
		return "", jsErr.Error()
	}
	if obj, ok := val.(*goja.Object); ok {
		name = valueString(obj.Get("name"))
		msg = valueString(obj.Get("message"))
		if name != "" || msg != "" {
			return name, msg
		}
	}
	text, err := e.text(val)
	if err != nil {
		return "", jsErr.Error()
	}
	return "", text
}

func valueString(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

// gojaTrace maps a goja stack (innermost first) onto a Trace.
func gojaTrace(stack []goja.StackFrame) *traceback.Trace {
	if len(stack) == 0 {
		return nil
	}
	frames := make([]traceback.Frame, 0, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		fr := stack[i]
		pos := fr.Position()
		file := pos.Filename
		if file == "" {
			file = fr.SrcName()
		}
		frames = append(frames, traceback.Frame{
			File:   file,
			Line:   pos.Line,
			Column: pos.Column,
			Func:   fr.FuncName(),
		})
	}
	return &traceback.Trace{Frames: frames}
}

var jsReserved = map[string]bool{
	"await": true, "break": true, "case": true, "catch": true, "class": true,
	"const": true, "continue": true, "debugger": true, "default": true,
	"delete": true, "do": true, "else": true, "enum": true, "export": true,
	"extends": true, "false": true, "finally": true, "for": true,
	"function": true, "if": true, "implements": true, "import": true,
	"in": true, "instanceof": true, "interface": true, "let": true,
	"new": true, "null": true, "package": true, "private": true,
	"protected": true, "public": true, "return": true, "static": true,
	"super": true, "switch": true, "this": true, "throw": true, "true": true,
	"try": true, "typeof": true, "var": true, "void": true, "while": true,
	"with": true, "yield": true,
}

func isJSIdentifier(name string) bool {
	if name == "" || jsReserved[name] {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || r == '$' || unicode.IsLetter(r):
		case i > 0 && unicode.IsDigit(r):
		default:
			return false
		}
	}
	return true
}

// Compile-time interface check
var _ Engine = (*GojaEngine)(nil)
