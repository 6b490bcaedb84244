// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

/*
#include <stdlib.h>

typedef void (*bridge_result_cb)(char *result, void *userdata);

static void bridge_invoke_result(bridge_result_cb cb, char *result, void *userdata) {
	if (cb != NULL) {
		cb(result, userdata);
	}
}
*/
import "C"

import "unsafe"

// invokeResult calls cb with a C copy of text, or NULL when ok is false.
// The string is freed when cb returns.
func invokeResult(cb C.bridge_result_cb, userdata unsafe.Pointer, text string, ok bool) {
	var cs *C.char
	if ok {
		cs = C.CString(text)
		defer C.free(unsafe.Pointer(cs))
	}
	C.bridge_invoke_result(cb, cs, userdata)
}
