// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package bridge hosts an embedded scripting runtime for a native host
// application.
//
// A Runtime owns one interpreter. The interpreter lives on a dedicated
// goroutine locked to its OS thread; every call from the host is queued and
// executed there in submission order. Script failures are reported to the
// host as errors and their tracebacks are written to stderr. Panics inside
// the runtime are fatal and go to the crash handler.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/aplane-algo/embedbridge/internal/crashdialog"
	"github.com/aplane-algo/embedbridge/internal/modpath"
	"github.com/aplane-algo/embedbridge/internal/scripting"
	"github.com/aplane-algo/embedbridge/internal/traceback"
	"github.com/aplane-algo/embedbridge/internal/util"
)

// State is the lifecycle state of a Runtime.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Runtime.
type Options struct {
	// Config selects the engine, module search path and limits. Module
	// directories must already be resolved against the data directory.
	Config util.Config
	// Stdout receives print() output. Defaults to os.Stdout.
	Stdout io.Writer
	// Stderr receives tracebacks of failed calls. Defaults to os.Stderr.
	Stderr io.Writer
	// Crash is called with details of unrecoverable failures. When nil,
	// the crash dialog is shown (or the failure logged, if disabled) and the
	// process exits.
	Crash func(details string)
}

// job is one unit of work executed on the runtime goroutine.
type job struct {
	ctx  context.Context
	fn   func(scripting.Engine) error
	done chan error
	// after, when set, is handed the result on the callback goroutine.
	after func(error)
}

// Runtime is an embedded interpreter with a start/finalize lifecycle.
// All methods are safe for concurrent use.
type Runtime struct {
	opts Options

	// life serializes Start and Finalize.
	life sync.Mutex

	mu        sync.Mutex
	state     State
	engine    scripting.Engine
	jobs      *workQueue
	callbacks *workQueue
	stopped   chan struct{}
	drained   chan struct{}
	resolver  *modpath.Resolver
	stopWatch context.CancelFunc

	// dispatcher is the goroutine running completion callbacks.
	dispatcher atomic.Uint64

	excMu   sync.Mutex
	lastExc *traceback.Exception
}

// New returns an uninitialized runtime.
func New(opts Options) *Runtime {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Crash == nil {
		opts.Crash = defaultCrashHandler(opts.Config.CrashDialog)
	}
	return &Runtime{opts: opts}
}

func defaultCrashHandler(dialog bool) func(string) {
	if dialog {
		return crashdialog.Fatal
	}
	return func(details string) {
		util.Logger.Error("fatal error", "details", details)
		os.Exit(1)
	}
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Engine returns the configured engine kind.
func (r *Runtime) Engine() string {
	if r.opts.Config.Engine == "" {
		return scripting.KindStarlark
	}
	return r.opts.Config.Engine
}

// Modules returns the module resolver of the running interpreter, or nil.
func (r *Runtime) Modules() *modpath.Resolver {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolver
}

// Start initializes the interpreter. args is exposed to scripts as argv.
// Starting a runtime that is already initialized does nothing. A finalized
// runtime may be started again with fresh interpreter state.
//
// When a main module is configured it is executed before Start returns; if
// it fails the crash handler is called and the runtime is finalized.
func (r *Runtime) Start(args []string) error {
	r.life.Lock()
	defer r.life.Unlock()

	if r.State() == StateInitialized {
		util.Debug("runtime already initialized")
		return nil
	}

	cfg := r.opts.Config
	if err := cfg.Validate(); err != nil {
		r.opts.Crash(err.Error())
		return err
	}

	resolver := modpath.NewResolver(cfg.ModulePaths()...)
	ready := make(chan error, 1)
	stopped := make(chan struct{})
	drained := make(chan struct{})
	jobs, callbacks := newWorkQueue(), newWorkQueue()

	r.mu.Lock()
	r.jobs, r.callbacks = jobs, callbacks
	r.stopped, r.drained = stopped, drained
	r.resolver = resolver
	r.mu.Unlock()

	go r.loop(args, resolver, jobs, callbacks, ready, stopped)
	go r.dispatch(callbacks, drained)

	if err := <-ready; err != nil {
		jobs.close()
		callbacks.close()
		<-drained
		err = fmt.Errorf("failed to start %s engine: %w", r.Engine(), err)
		r.opts.Crash(err.Error())
		return err
	}

	r.mu.Lock()
	r.state = StateInitialized
	r.mu.Unlock()
	util.Logger.Info("runtime started", "engine", r.Engine(), "modules", resolver.Dirs())

	if cfg.WatchModules {
		ctx, cancel := context.WithCancel(context.Background())
		err := resolver.Watch(ctx, func(paths []string) {
			util.Logger.Info("modules changed", "paths", paths)
		})
		if err != nil {
			cancel()
			util.Logger.Warn("module watcher unavailable", "error", err)
		} else {
			r.stopWatch = cancel
		}
	}

	if cfg.MainModule != "" {
		if err := r.runMain(cfg.MainModule); err != nil {
			details := err.Error()
			var se *scripting.ScriptError
			if errors.As(err, &se) {
				details = se.Traceback()
			}
			r.opts.Crash(details)
			r.stop()
			return fmt.Errorf("main module %s failed: %w", cfg.MainModule, err)
		}
	}
	return nil
}

// runMain executes the main module in the global scope.
func (r *Runtime) runMain(name string) error {
	mod, err := r.resolver.Load(name, scripting.ModuleLayout(r.Engine()))
	if err != nil {
		return err
	}
	util.Debug("running main module", "name", name, "path", mod.Path)
	err = r.do(context.Background(), func(eng scripting.Engine) error {
		return eng.ExecFile(mod.Path, mod.Source)
	})
	r.record(err)
	return err
}

// Finalize tears the interpreter down after queued calls have run. It
// returns ErrNotInitialized when the runtime is not running.
//
// Finalize may be called from an async completion callback. It then
// returns without waiting for the callbacks queued behind the caller, which
// run once it returns.
func (r *Runtime) Finalize() error {
	if r.onDispatcher() {
		// A Finalize already in progress waits for this callback.
		if !r.life.TryLock() {
			return ErrNotInitialized
		}
	} else {
		r.life.Lock()
	}
	defer r.life.Unlock()

	if r.State() != StateInitialized {
		return ErrNotInitialized
	}
	r.stop()
	util.Logger.Info("runtime finalized", "engine", r.Engine())
	return nil
}

// stop drains both queues and waits for their goroutines. Callers hold life.
func (r *Runtime) stop() {
	r.mu.Lock()
	jobs, callbacks := r.jobs, r.callbacks
	stopped, drained := r.stopped, r.drained
	r.mu.Unlock()

	jobs.close()
	<-stopped
	callbacks.close()
	if !r.onDispatcher() {
		<-drained
	}

	if r.stopWatch != nil {
		r.stopWatch()
		r.stopWatch = nil
	}

	r.mu.Lock()
	r.state = StateFinalized
	r.resolver = nil
	r.mu.Unlock()
}

// loop owns the interpreter for its whole life.
func (r *Runtime) loop(args []string, resolver *modpath.Resolver, jobs, callbacks *workQueue, ready chan<- error, stopped chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(stopped)

	eng, err := scripting.New(r.opts.Config.Engine, scripting.EngineOptions{
		Args:    args,
		Output:  r.print,
		Modules: resolver,
	})
	if err != nil {
		ready <- err
		return
	}

	r.mu.Lock()
	r.engine = eng
	r.mu.Unlock()
	ready <- nil

	for {
		item, ok := jobs.pop()
		if !ok {
			break
		}
		j := item.(*job)
		err := r.execute(eng, j)
		j.done <- err
		if j.after != nil {
			after := j.after
			callbacks.push(func() { after(err) })
		}
	}

	r.mu.Lock()
	r.engine = nil
	r.mu.Unlock()
	if err := eng.Close(); err != nil {
		util.Logger.Warn("failed to close engine", "error", err)
	}
}

// dispatch runs completion callbacks one at a time in queue order.
func (r *Runtime) dispatch(callbacks *workQueue, drained chan<- struct{}) {
	defer close(drained)
	r.dispatcher.Store(goroutineID())
	for {
		item, ok := callbacks.pop()
		if !ok {
			return
		}
		item.(func())()
	}
}

// onDispatcher reports whether the caller is a completion callback.
func (r *Runtime) onDispatcher() bool {
	return r.dispatcher.Load() == goroutineID()
}

// goroutineID parses the current goroutine's id from its stack header.
func goroutineID() uint64 {
	var buf [32]byte
	n := runtime.Stack(buf[:], false)
	field := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(field, ' '); i > 0 {
		field = field[:i]
	}
	id, _ := strconv.ParseUint(string(field), 10, 64)
	return id
}

func (r *Runtime) print(s string) {
	fmt.Fprintln(r.opts.Stdout, s)
}

// execute runs one job, enforcing its context and the configured timeout.
func (r *Runtime) execute(eng scripting.Engine, j *job) error {
	ctx := j.ctx
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout := r.opts.Config.ExecTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	// Interrupts left over from earlier calls are dropped before this
	// call's cancellation is armed; later ones stay pending in the engine.
	eng.ResetInterrupt()
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		eng.Interrupt()
	})
	defer func() {
		if !stop() {
			<-fired
		}
	}()

	err := r.protect(eng, j.fn)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

// protect converts a panic into ErrRuntimeFault after reporting it.
func (r *Runtime) protect(eng scripting.Engine, fn func(scripting.Engine) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			details := fmt.Sprintf("panic: %v\n\n%s", p, debug.Stack())
			util.Logger.Error("runtime fault", "panic", p)
			r.opts.Crash(details)
			err = fmt.Errorf("%w: %v", ErrRuntimeFault, p)
		}
	}()
	return fn(eng)
}

// submit queues fn. The returned channel receives its result.
func (r *Runtime) submit(ctx context.Context, fn func(scripting.Engine) error, after func(error)) (<-chan error, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateInitialized {
		return nil, ErrNotInitialized
	}
	j := &job{ctx: ctx, fn: fn, done: make(chan error, 1), after: after}
	if !r.jobs.push(j) {
		return nil, ErrNotInitialized
	}
	return j.done, nil
}

// do queues fn and waits for it.
func (r *Runtime) do(ctx context.Context, fn func(scripting.Engine) error) error {
	done, err := r.submit(ctx, fn, nil)
	if err != nil {
		return err
	}
	return <-done
}

// Interrupt stops the script currently running, if any.
func (r *Runtime) Interrupt() {
	r.mu.Lock()
	eng := r.engine
	r.mu.Unlock()
	if eng != nil {
		eng.Interrupt()
	}
}
