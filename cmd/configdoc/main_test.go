// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestWriteReference(t *testing.T) {
	var sb strings.Builder
	writeReference(&sb)
	doc := sb.String()

	for _, want := range []string{
		"| `engine` | string | `starlark` |",
		"| `exec_timeout` | duration | `0` |",
		"| `crash_dialog` | bool | `true` |",
		"| `main_module` | string | `(none)` |",
		"`EMBEDBRIDGE_DATA`",
		"`EMBEDBRIDGE_DEBUG`",
		"~/.embedbridge",
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("reference missing %q", want)
		}
	}
}

func TestFormatType(t *testing.T) {
	tests := []struct {
		in   reflect.Type
		want string
	}{
		{reflect.TypeOf(""), "string"},
		{reflect.TypeOf(0), "int"},
		{reflect.TypeOf(true), "bool"},
		{reflect.TypeOf([]string{}), "[]string"},
		{reflect.TypeOf(time.Second), "duration"},
		{reflect.TypeOf(new(int)), "*int"},
	}
	for _, tt := range tests {
		if got := formatType(tt.in); got != tt.want {
			t.Errorf("formatType(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
