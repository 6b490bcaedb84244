// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package traceback holds the exception triple reported by an embedded
// runtime and renders it for humans.
//
// The three components are independent and any of them may be absent (nil).
// Components are borrowed: formatting reads them and keeps no reference.
package traceback

import (
	"fmt"
	"strings"
)

// Placeholder is returned by Format when no component is present.
const Placeholder = "Unknown error: no exception information available"

// Type names the kind of failure (e.g. "SyntaxError").
type Type struct {
	Name string
}

// Value carries the failure message.
type Value struct {
	Message string
}

// Frame is a single call site. Column is 0 when unknown.
type Frame struct {
	File   string
	Line   int
	Column int
	Func   string
}

// Trace is the call stack at the failure point, most recent call last.
type Trace struct {
	Frames []Frame
}

// Exception bundles the triple captured from one failed execution.
type Exception struct {
	Type  *Type
	Value *Value
	Trace *Trace
}

// Triple returns the three components. Safe on a nil receiver.
func (e *Exception) Triple() (*Type, *Value, *Trace) {
	if e == nil {
		return nil, nil, nil
	}
	return e.Type, e.Value, e.Trace
}

// String formats the exception.
func (e *Exception) String() string {
	return Format(e.Triple())
}

// Summary returns the last line of the formatted exception ("Type: message").
func (e *Exception) Summary() string {
	typ, value, _ := e.Triple()
	if typ == nil && value == nil {
		return Placeholder
	}
	return summaryLine(typ, value)
}

// Format renders the triple the way interpreters conventionally print an
// uncaught exception. It never returns an empty string.
func Format(typ *Type, value *Value, tb *Trace) string {
	if typ == nil && value == nil && (tb == nil || len(tb.Frames) == 0) {
		return Placeholder
	}

	var sb strings.Builder
	if tb != nil && len(tb.Frames) > 0 {
		sb.WriteString("Traceback (most recent call last):\n")
		for _, f := range tb.Frames {
			sb.WriteString(formatFrame(f))
			sb.WriteByte('\n')
		}
	}
	sb.WriteString(summaryLine(typ, value))
	return sb.String()
}

func formatFrame(f Frame) string {
	file := f.File
	if file == "" {
		file = "<unknown>"
	}
	fn := f.Func
	if fn == "" {
		fn = "<module>"
	}
	if f.Line <= 0 {
		return fmt.Sprintf("  File %q, in %s", file, fn)
	}
	if f.Column > 0 {
		return fmt.Sprintf("  File %q, line %d, column %d, in %s", file, f.Line, f.Column, fn)
	}
	return fmt.Sprintf("  File %q, line %d, in %s", file, f.Line, fn)
}

func summaryLine(typ *Type, value *Value) string {
	name := "<unknown exception>"
	if typ != nil && typ.Name != "" {
		name = typ.Name
	}
	if value == nil || value.Message == "" {
		return name
	}
	return name + ": " + value.Message
}
