// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package bridge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/aplane-algo/embedbridge/internal/scripting"
	"github.com/aplane-algo/embedbridge/internal/testutil"
)

const spin = "def spin():\n    n = 0\n    for i in range(1000000000):\n        n += i\n    return n\nspin()"

type harness struct {
	rt      *Runtime
	stdout  *testutil.SyncBuffer
	stderr  *testutil.SyncBuffer
	crashes *testutil.CrashRecorder
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{stdout: &testutil.SyncBuffer{}, stderr: &testutil.SyncBuffer{}, crashes: &testutil.CrashRecorder{}}
	opts.Stdout, opts.Stderr, opts.Crash = h.stdout, h.stderr, h.crashes.Handle
	h.rt = New(opts)
	return h
}

func startHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := newHarness(t, opts)
	if err := h.rt.Start([]string{"app"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = h.rt.Finalize() })
	return h
}

func TestCallsBeforeStartFail(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	if err := h.rt.Run(ctx, "x = 1"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Run error = %v, want ErrNotInitialized", err)
	}
	if _, err := h.rt.ExecAndGet(ctx, "x = 1", "x"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ExecAndGet error = %v, want ErrNotInitialized", err)
	}
	if err := h.rt.Finalize(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Finalize error = %v, want ErrNotInitialized", err)
	}
	if h.rt.LastException() != nil {
		t.Error("lifecycle errors should not be recorded as exceptions")
	}
	if h.rt.State() != StateUninitialized {
		t.Errorf("state = %v", h.rt.State())
	}
}

func TestExecAndGet(t *testing.T) {
	h := startHarness(t, Options{})
	ctx := context.Background()

	got, err := h.rt.ExecAndGet(ctx, "x = 42", "x")
	if err != nil || got != "42" {
		t.Fatalf("ExecAndGet = %q, %v; want 42", got, err)
	}

	// Globals persist across calls.
	got, err = h.rt.ExecAndGet(ctx, "y = str(x) + '!'", "y")
	if err != nil || got != "42!" {
		t.Errorf("ExecAndGet = %q, %v; want 42!", got, err)
	}

	got, err = h.rt.ExecAndGet(ctx, "z = 1", "missing")
	if !errors.Is(err, scripting.ErrUndefined) || got != "" {
		t.Errorf("missing variable = %q, %v", got, err)
	}
	exc := h.rt.LastException()
	if exc == nil || exc.Type.Name != "NameError" {
		t.Errorf("last exception = %+v, want NameError", exc)
	}
	if h.stderr.Len() != 0 {
		t.Errorf("missing variable should not print a traceback: %q", h.stderr.String())
	}
}

func TestRunScriptError(t *testing.T) {
	h := startHarness(t, Options{})

	err := h.rt.Run(context.Background(), "def boom():\n    fail('kaboom')\nboom()")
	var se *scripting.ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("Run error = %v, want *ScriptError", err)
	}
	out := h.stderr.String()
	for _, want := range []string{"Traceback (most recent call last):", "in boom", "kaboom"} {
		if !strings.Contains(out, want) {
			t.Errorf("stderr missing %q:\n%s", want, out)
		}
	}
	if diff := cmp.Diff(se.Exception, h.rt.LastException()); diff != "" {
		t.Errorf("last exception mismatch (-want +got):\n%s", diff)
	}

	h.rt.ClearException()
	if h.rt.LastException() != nil {
		t.Error("ClearException did not clear")
	}
	if got := h.crashes.All(); len(got) != 0 {
		t.Errorf("script errors must not crash: %q", got)
	}
}

func TestPrintGoesToStdout(t *testing.T) {
	h := startHarness(t, Options{})
	if err := h.rt.Run(context.Background(), "print('hello', 1)"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := h.stdout.String(); got != "hello 1\n" {
		t.Errorf("stdout = %q", got)
	}
}

func TestLifecycle(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	if err := h.rt.Start(nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := h.rt.Start(nil); err != nil {
		t.Errorf("second Start = %v, want nil", err)
	}
	if _, err := h.rt.ExecAndGet(ctx, "kept = 1", "kept"); err != nil {
		t.Fatalf("ExecAndGet failed: %v", err)
	}

	if err := h.rt.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if err := h.rt.Finalize(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("second Finalize = %v, want ErrNotInitialized", err)
	}
	if err := h.rt.Run(ctx, "x = 1"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Run after Finalize = %v, want ErrNotInitialized", err)
	}
	if h.rt.State() != StateFinalized {
		t.Errorf("state = %v", h.rt.State())
	}

	// Restart begins with a fresh interpreter.
	if err := h.rt.Start(nil); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	defer h.rt.Finalize()
	if _, err := h.rt.ExecAndGet(ctx, "", "kept"); !errors.Is(err, scripting.ErrUndefined) {
		t.Errorf("globals survived restart: %v", err)
	}
}

func TestFinalizeRunsQueuedWork(t *testing.T) {
	h := newHarness(t, Options{})
	if err := h.rt.Start(nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	results := make(chan string, 1)
	h.rt.ExecAndGetAsync("v = 'done'", "v", func(text string, err error) {
		results <- text
	})
	if err := h.rt.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	select {
	case got := <-results:
		if got != "done" {
			t.Errorf("queued call = %q", got)
		}
	default:
		t.Error("Finalize returned before queued callback ran")
	}
}

func TestFinalizeFromAsyncCallback(t *testing.T) {
	h := startHarness(t, Options{})

	finalized := make(chan error, 1)
	later := make(chan string, 1)
	h.rt.ExecAndGetAsync("x = 1", "x", func(string, error) {
		finalized <- h.rt.Finalize()
	})
	h.rt.ExecAndGetAsync("y = 2", "y", func(text string, err error) {
		later <- text
	})

	select {
	case err := <-finalized:
		if err != nil {
			t.Fatalf("Finalize from callback failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Finalize from callback did not return")
	}
	if h.rt.State() != StateFinalized {
		t.Errorf("state = %v, want finalized", h.rt.State())
	}
	select {
	case got := <-later:
		if got != "2" {
			t.Errorf("queued callback = %q, want 2", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback queued behind Finalize never ran")
	}

	// The lifecycle stays usable.
	if err := h.rt.Start(nil); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if err := h.rt.Finalize(); err != nil {
		t.Errorf("Finalize after restart failed: %v", err)
	}
}

func TestExecAndGetAsyncOrder(t *testing.T) {
	h := startHarness(t, Options{})

	const n = 20
	var (
		mu  sync.Mutex
		got []string
		wg  sync.WaitGroup
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		h.rt.ExecAndGetAsync(fmt.Sprintf("v = %d", i), "v", func(text string, err error) {
			defer wg.Done()
			if err != nil {
				t.Errorf("async call failed: %v", err)
			}
			mu.Lock()
			got = append(got, text)
			mu.Unlock()
		})
	}
	wg.Wait()

	want := make([]string, n)
	for i := range want {
		want[i] = fmt.Sprint(i)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("callback order mismatch (-want +got):\n%s", diff)
	}
}

func TestExecAndGetAsyncErrors(t *testing.T) {
	h := newHarness(t, Options{})

	done := make(chan error, 1)
	h.rt.ExecAndGetAsync("x = 1", "x", func(_ string, err error) { done <- err })
	if err := <-done; !errors.Is(err, ErrNotInitialized) {
		t.Errorf("async before Start = %v", err)
	}

	if err := h.rt.Start(nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.rt.Finalize()

	h.rt.ExecAndGetAsync("fail('async boom')", "x", func(_ string, err error) { done <- err })
	var se *scripting.ScriptError
	if err := <-done; !errors.As(err, &se) {
		t.Errorf("async script error = %v", err)
	}
	if !strings.Contains(h.stderr.String(), "async boom") {
		t.Errorf("traceback not written: %q", h.stderr.String())
	}
}

func TestEvalCapturesOutput(t *testing.T) {
	h := startHarness(t, Options{})
	ctx := context.Background()

	res, err := h.rt.Eval(ctx, "print('captured')")
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if res.Output != "captured\n" || !res.IsEmpty {
		t.Errorf("Eval = %+v", res)
	}

	res, err = h.rt.Eval(ctx, "1 + 2")
	if err != nil || res.Repr != "3" {
		t.Errorf("Eval(1 + 2) = %+v, %v", res, err)
	}

	if _, err := h.rt.Eval(ctx, "1 // 0"); err == nil {
		t.Error("Eval(1 // 0) should fail")
	}
	if h.stderr.Len() != 0 {
		t.Errorf("Eval should not write tracebacks: %q", h.stderr.String())
	}
	if h.rt.LastException() == nil {
		t.Error("Eval failure should be recorded")
	}

	// Output is restored afterwards.
	if err := h.rt.Run(ctx, "print('after')"); err != nil {
		t.Fatal(err)
	}
	if h.stdout.String() != "after\n" {
		t.Errorf("stdout = %q", h.stdout.String())
	}
}

func TestExecTimeout(t *testing.T) {
	opts := Options{}
	opts.Config.ExecTimeout = 50 * time.Millisecond
	h := startHarness(t, opts)

	err := h.rt.Run(context.Background(), spin)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run error = %v, want DeadlineExceeded", err)
	}
	var se *scripting.ScriptError
	if !errors.As(err, &se) || se.Exception.Type.Name != "Interrupted" {
		t.Errorf("error = %v, want Interrupted script error", err)
	}

	// The runtime stays usable.
	if got, err := h.rt.ExecAndGet(context.Background(), "ok = 'yes'", "ok"); err != nil || got != "yes" {
		t.Errorf("ExecAndGet after timeout = %q, %v", got, err)
	}
}

func TestContextCancel(t *testing.T) {
	h := startHarness(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.rt.Run(ctx, spin) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run error = %v, want Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not stop execution")
	}
}

func TestInterrupt(t *testing.T) {
	h := startHarness(t, Options{})

	done := make(chan error, 1)
	go func() { done <- h.rt.Run(context.Background(), spin) }()

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			var se *scripting.ScriptError
			if !errors.As(err, &se) || se.Exception.Type.Name != "Interrupted" {
				t.Fatalf("error = %v, want Interrupted", err)
			}
			return
		case <-tick.C:
			h.rt.Interrupt()
		case <-deadline:
			t.Fatal("Interrupt did not stop execution")
		}
	}
}

func TestPanicReachesCrashHandler(t *testing.T) {
	h := startHarness(t, Options{})

	err := h.rt.do(context.Background(), func(scripting.Engine) error {
		panic("engine exploded")
	})
	if !errors.Is(err, ErrRuntimeFault) {
		t.Fatalf("error = %v, want ErrRuntimeFault", err)
	}
	got := h.crashes.All()
	if len(got) != 1 || !strings.Contains(got[0], "panic: engine exploded") {
		t.Errorf("crash details = %q", got)
	}

	if _, err := h.rt.ExecAndGet(context.Background(), "x = 1", "x"); err != nil {
		t.Errorf("runtime unusable after fault: %v", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	opts := Options{}
	opts.Config.Engine = "ruby"
	h := newHarness(t, opts)

	if err := h.rt.Start(nil); err == nil {
		t.Fatal("Start should fail for an unknown engine")
	}
	if len(h.crashes.All()) != 1 {
		t.Errorf("crash handler calls = %d, want 1", len(h.crashes.All()))
	}
	if h.rt.State() == StateInitialized {
		t.Error("runtime should not be initialized")
	}
}

func TestMainModule(t *testing.T) {
	dir := t.TempDir()
	app := filepath.Join(dir, "app")
	testutil.WriteFile(t, app, "main.star", "greeting = 'hello ' + argv[0]\n")

	opts := Options{}
	opts.Config.AppDir = app
	opts.Config.MainModule = "main"
	h := startHarness(t, opts)

	got, err := h.rt.ExecAndGet(context.Background(), "", "greeting")
	if err != nil || got != "hello app" {
		t.Errorf("greeting = %q, %v", got, err)
	}
}

func TestMainModuleFailure(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "main.star", "fail('bad main')\n")

	opts := Options{}
	opts.Config.AppDir = dir
	opts.Config.MainModule = "main"
	h := newHarness(t, opts)

	if err := h.rt.Start(nil); err == nil {
		t.Fatal("Start should fail when the main module fails")
	}
	got := h.crashes.All()
	if len(got) != 1 || !strings.Contains(got[0], "bad main") || !strings.Contains(got[0], "main.star") {
		t.Errorf("crash details = %q", got)
	}
	if h.rt.State() != StateFinalized {
		t.Errorf("state = %v, want finalized", h.rt.State())
	}
}

func TestUpdatedModulesTakePrecedence(t *testing.T) {
	dir := t.TempDir()
	updated := filepath.Join(dir, "updated_modules")
	app := filepath.Join(dir, "app")
	testutil.WriteFile(t, app, "lyrics.star", "version = 'bundled'\n")
	testutil.WriteFile(t, updated, "lyrics.star", "version = 'updated'\n")

	opts := Options{}
	opts.Config.UpdatedModulesDir = updated
	opts.Config.AppDir = app
	h := startHarness(t, opts)

	got, err := h.rt.ExecAndGet(context.Background(), "load('lyrics', 'version')\nv = version", "v")
	if err != nil || got != "updated" {
		t.Errorf("v = %q, %v; want updated", got, err)
	}
}

func TestStaleInterruptDoesNotAbortNextCall(t *testing.T) {
	h := startHarness(t, Options{})

	h.rt.Interrupt()
	if err := h.rt.Run(context.Background(), "x = 1"); err != nil {
		t.Errorf("Run after idle Interrupt failed: %v", err)
	}
}

func TestGlobalsPersistAcrossCalls(t *testing.T) {
	h := startHarness(t, Options{})
	ctx := context.Background()

	for _, code := range []string{"counter = 0", "counter += 1", "counter += 1"} {
		if err := h.rt.Run(ctx, code); err != nil {
			t.Fatalf("Run(%q) failed: %v", code, err)
		}
	}
	if got, err := h.rt.ExecAndGet(ctx, "counter += 1", "counter"); err != nil || got != "3" {
		t.Errorf("counter = %q, %v; want 3", got, err)
	}
}

func TestGojaThrowingGetterIsNotFatal(t *testing.T) {
	opts := Options{}
	opts.Config.Engine = scripting.KindGoja
	h := startHarness(t, opts)
	ctx := context.Background()

	_, err := h.rt.ExecAndGet(ctx, "Object.defineProperty(globalThis, 'x', { get: function() { throw new Error('nope'); } })", "x")
	if !errors.Is(err, scripting.ErrNotText) {
		t.Errorf("ExecAndGet error = %v, want ErrNotText", err)
	}
	if exc := h.rt.LastException(); exc == nil || exc.Type == nil || exc.Type.Name != "TypeError" {
		t.Errorf("last exception = %v, want TypeError", exc)
	}

	if _, err := h.rt.Eval(ctx, "({ get a() { throw new Error('boom'); } })"); err == nil {
		t.Error("Eval of an object with a throwing getter should fail")
	}
	if got := h.crashes.All(); len(got) != 0 {
		t.Errorf("crash handler called: %q", got)
	}
	if h.rt.State() != StateInitialized {
		t.Errorf("state = %v", h.rt.State())
	}
}

func TestGojaRuntime(t *testing.T) {
	opts := Options{}
	opts.Config.Engine = scripting.KindGoja
	h := startHarness(t, opts)
	ctx := context.Background()

	got, err := h.rt.ExecAndGet(ctx, "x = 42", "x")
	if err != nil || got != "42" {
		t.Errorf("ExecAndGet = %q, %v; want 42", got, err)
	}

	err = h.rt.Run(ctx, "throw new TypeError('js boom')")
	if err == nil || !strings.Contains(h.stderr.String(), "TypeError: js boom") {
		t.Errorf("Run error = %v, stderr = %q", err, h.stderr.String())
	}
}
