// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package repl implements interactive console evaluation on top of a bridge
// runtime.
package repl

import (
	"context"
	"errors"
	"strings"

	"github.com/aplane-algo/embedbridge/internal/bridge"
	"github.com/aplane-algo/embedbridge/internal/scripting"
)

// Evaluator evaluates console input. *bridge.Runtime implements it.
type Evaluator interface {
	Eval(ctx context.Context, code string) (bridge.EvalResult, error)
}

// Session evaluates console input against one runtime.
type Session struct {
	ev Evaluator
}

// NewSession returns a session bound to ev.
func NewSession(ev Evaluator) *Session {
	return &Session{ev: ev}
}

// Eval runs source and returns the text a console shows for it: printed
// output if there was any, otherwise the value of an expression, otherwise
// "OK". A failure returns the output printed so far followed by the
// traceback. Blank input returns "".
func (s *Session) Eval(ctx context.Context, source string) string {
	if strings.TrimSpace(source) == "" {
		return ""
	}

	res, err := s.ev.Eval(ctx, source)
	if err != nil {
		var se *scripting.ScriptError
		if errors.As(err, &se) {
			return res.Output + se.Traceback()
		}
		return res.Output + "Error: " + err.Error()
	}
	if res.Output != "" {
		return strings.TrimRight(res.Output, "\n")
	}
	if !res.IsEmpty {
		return res.Repr
	}
	return "OK"
}
