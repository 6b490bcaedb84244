// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"os"
	"path/filepath"
	"runtime/cgo"
	"strings"
	"testing"

	"github.com/aplane-algo/embedbridge/internal/traceback"
	"github.com/aplane-algo/embedbridge/internal/util"
)

func TestExceptionHandlesRoundTrip(t *testing.T) {
	exc := &traceback.Exception{
		Type:  &traceback.Type{Name: "EvalError"},
		Value: &traceback.Value{Message: "boom"},
		Trace: &traceback.Trace{Frames: []traceback.Frame{{File: "main.star", Line: 3, Func: "run"}}},
	}
	typ, value, tb := exceptionHandles(exc)
	defer releaseHandles(typ, value, tb)

	if typ == 0 || value == 0 || tb == 0 {
		t.Fatalf("handles = %d %d %d", typ, value, tb)
	}
	want := exc.String()
	if got := formatHandles(typ, value, tb); got != want {
		t.Errorf("formatHandles = %q, want %q", got, want)
	}
	// Borrowing does not consume the handles.
	if got := formatHandles(typ, value, tb); got != want {
		t.Errorf("second formatHandles = %q", got)
	}
}

func TestFormatHandlesAbsent(t *testing.T) {
	if got := formatHandles(0, 0, 0); got != traceback.Placeholder {
		t.Errorf("formatHandles(0, 0, 0) = %q", got)
	}

	value := newHandle(&traceback.Value{Message: "only a value"})
	defer releaseHandles(value)
	if got := formatHandles(0, value, 0); got != "<unknown exception>: only a value" {
		t.Errorf("value only = %q", got)
	}
}

func TestExceptionHandlesPartial(t *testing.T) {
	typ, value, tb := exceptionHandles(&traceback.Exception{Value: &traceback.Value{Message: "thrown"}})
	defer releaseHandles(typ, value, tb)
	if typ != 0 || tb != 0 || value == 0 {
		t.Errorf("handles = %d %d %d", typ, value, tb)
	}
}

func TestBorrowMistypedHandle(t *testing.T) {
	h := newHandle(&traceback.Value{Message: "v"})
	defer releaseHandles(h)

	if got := borrow[traceback.Type](h); got != nil {
		t.Errorf("mistyped borrow = %+v, want nil", got)
	}
	if got := borrow[traceback.Value](h); got == nil || got.Message != "v" {
		t.Errorf("borrow = %+v", got)
	}
}

func TestReleasedHandleReadsAbsent(t *testing.T) {
	util.InitLoggerTo(&strings.Builder{}, "error")
	t.Cleanup(func() { util.InitLogger("info") })

	h := uintptr(cgo.NewHandle(&traceback.Type{Name: "Gone"}))
	releaseHandles(h)
	if got := borrow[traceback.Type](h); got != nil {
		t.Errorf("released handle = %+v, want nil", got)
	}
	// Double release is tolerated.
	releaseHandles(h, 0)
}

func TestProcessOptions(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("engine: goja\napp_dir: scripts\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(util.DataDirEnvVar, dir)
	t.Cleanup(func() { util.InitLogger("info") })

	opts, err := processOptions()
	if err != nil {
		t.Fatalf("processOptions failed: %v", err)
	}
	if opts.Config.Engine != util.EngineGoja {
		t.Errorf("engine = %q", opts.Config.Engine)
	}
	if opts.Config.AppDir != filepath.Join(dir, "scripts") {
		t.Errorf("app dir = %q", opts.Config.AppDir)
	}

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("engine: lua\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := processOptions(); err == nil {
		t.Error("invalid config should fail")
	}
}
