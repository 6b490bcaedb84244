// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Command libembedbridge builds the embedded runtime as a C shared library:
//
//	go build -buildmode=c-shared -o libembedbridge.so ./cmd/libembedbridge
//
// Strings returned by the library are allocated with malloc and must be
// released with bridge_free_string. Exception components are opaque handles
// obtained from fetch_exception; 0 means absent.
package main

/*
#include <stdint.h>
#include <stdlib.h>

typedef void (*bridge_result_cb)(char *result, void *userdata);
*/
import "C"

import (
	"unsafe"

	"github.com/aplane-algo/embedbridge/internal/bridge"
	"github.com/aplane-algo/embedbridge/internal/util"
	"github.com/aplane-algo/embedbridge/internal/version"
)

func main() {}

//export start_python_runtime
func start_python_runtime(argc C.int, argv **C.char) C.int {
	opts, err := processOptions()
	if err != nil {
		util.Logger.Error("failed to start runtime", "error", err)
		return C.int(bridge.StatusError)
	}
	return C.int(bridge.StartRuntime(goStrings(argc, argv), opts))
}

//export finalize_python_runtime
func finalize_python_runtime() {
	bridge.FinalizeRuntime()
}

//export pythonRunSimpleString
func pythonRunSimpleString(code *C.char) C.int {
	if code == nil {
		return C.int(bridge.StatusError)
	}
	return C.int(bridge.RunSimpleString(C.GoString(code)))
}

//export pythonExecAndGetString
func pythonExecAndGetString(code, variableName *C.char) *C.char {
	if code == nil || variableName == nil {
		return nil
	}
	text, ok := bridge.ExecAndGetString(C.GoString(code), C.GoString(variableName))
	if !ok {
		return nil
	}
	return C.CString(text)
}

// The result passed to callback is NULL on failure and is only valid until
// callback returns.
//
//export pythonExecAndGetStringAsync
func pythonExecAndGetStringAsync(code, variableName *C.char, callback C.bridge_result_cb, userdata unsafe.Pointer) {
	if code == nil || variableName == nil {
		go invokeResult(callback, userdata, "", false)
		return
	}
	bridge.ExecAndGetStringAsync(C.GoString(code), C.GoString(variableName), func(text string, ok bool) {
		invokeResult(callback, userdata, text, ok)
	})
}

//export fetch_exception
func fetch_exception(ptype, pvalue, ptraceback *C.uintptr_t) C.int {
	exc := bridge.LastException()
	bridge.ClearException()

	var typ, value, tb uintptr
	if exc != nil {
		typ, value, tb = exceptionHandles(exc)
	}
	for _, out := range []struct {
		p *C.uintptr_t
		h uintptr
	}{{ptype, typ}, {pvalue, value}, {ptraceback, tb}} {
		if out.p != nil {
			*out.p = C.uintptr_t(out.h)
		} else {
			releaseHandles(out.h)
		}
	}
	if exc == nil {
		return 0
	}
	return 1
}

//export release_exception
func release_exception(typ, value, traceback C.uintptr_t) {
	releaseHandles(uintptr(typ), uintptr(value), uintptr(traceback))
}

//export format_traceback
func format_traceback(typ, value, traceback C.uintptr_t) *C.char {
	return C.CString(formatHandles(uintptr(typ), uintptr(value), uintptr(traceback)))
}

//export crash_dialog
func crash_dialog(details *C.char) {
	bridge.CrashDialog(C.GoString(details))
}

//export bridge_free_string
func bridge_free_string(s *C.char) {
	C.free(unsafe.Pointer(s))
}

//export bridge_version
func bridge_version() *C.char {
	return C.CString(version.Line("libembedbridge"))
}

func goStrings(argc C.int, argv **C.char) []string {
	if argc <= 0 || argv == nil {
		return nil
	}
	out := make([]string, 0, int(argc))
	for _, s := range unsafe.Slice(argv, int(argc)) {
		out = append(out, C.GoString(s))
	}
	return out
}
