// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package repl

import (
	"sort"

	"github.com/chzyer/readline"

	"github.com/aplane-algo/embedbridge/internal/scripting"
)

// Commands are console commands handled by the shell rather than the engine.
var Commands = []string{":help", ":reload", ":exception", ":quit"}

var starlarkWords = []string{
	"and", "break", "continue", "def", "elif", "else", "for", "if", "in",
	"lambda", "load", "not", "or", "pass", "return", "None", "True", "False",
	"print", "len", "range", "str", "int", "list", "dict", "fail", "argv",
}

var gojaWords = []string{
	"break", "const", "continue", "else", "for", "function", "if", "let",
	"new", "return", "throw", "try", "typeof", "var", "while", "null",
	"undefined", "true", "false", "console", "print", "require", "argv",
}

// Keywords returns the completion words for an engine kind, sorted.
func Keywords(kind string) []string {
	src := starlarkWords
	if kind == scripting.KindGoja {
		src = gojaWords
	}
	words := append([]string(nil), src...)
	words = append(words, Commands...)
	sort.Strings(words)
	return words
}

// NewCompleter returns a readline completer for an engine kind.
func NewCompleter(kind string) readline.AutoCompleter {
	words := Keywords(kind)
	items := make([]readline.PrefixCompleterInterface, 0, len(words))
	for _, w := range words {
		items = append(items, readline.PcItem(w))
	}
	return readline.NewPrefixCompleter(items...)
}
