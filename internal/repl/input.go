// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package repl

import "strings"

// NeedsMore reports whether source is an unfinished statement: open
// brackets, an open multi-line string, or a trailing ':' or '\'.
func NeedsMore(source string) bool {
	depth, quote, triple := scan(source)
	if depth > 0 || quote != 0 || triple {
		return true
	}
	trimmed := strings.TrimRight(source, " \t\n")
	return strings.HasSuffix(trimmed, ":") || strings.HasSuffix(trimmed, "\\")
}

// scan returns the bracket depth and the open string state at the end of src.
// Comments starting with '#' are skipped outside strings.
func scan(src string) (depth int, quote byte, triple bool) {
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case triple:
			if c == '\\' {
				i++
			} else if c == quote && strings.HasPrefix(src[i:], strings.Repeat(string(c), 3)) {
				triple, quote = false, 0
				i += 2
			}
		case quote != 0:
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			case '\n':
				if quote != '`' {
					quote = 0
				}
			}
		case c == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '"' || c == '\'':
			if strings.HasPrefix(src[i:], string([]byte{c, c, c})) {
				triple, quote = true, c
				i += 2
				continue
			}
			quote = c
		case c == '`':
			quote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			if depth > 0 {
				depth--
			}
		}
	}
	// Only template literals and triple-quoted strings span lines.
	if !triple && quote != '`' {
		quote = 0
	}
	return depth, quote, triple
}

// Buffer accumulates console lines until they form a complete input.
// A block opened by a line ending in ':' is closed by a blank line.
type Buffer struct {
	lines []string
	block bool
}

// Add appends line. When the input is complete it returns the source and
// true, and the buffer is reset.
func (b *Buffer) Add(line string) (string, bool) {
	b.lines = append(b.lines, line)
	if strings.HasSuffix(strings.TrimRight(line, " \t"), ":") {
		b.block = true
	}

	src := strings.Join(b.lines, "\n")
	if b.block {
		if strings.TrimSpace(line) != "" {
			return "", false
		}
		depth, quote, triple := scan(src)
		if depth > 0 || quote != 0 || triple {
			return "", false
		}
	} else if NeedsMore(src) {
		return "", false
	}

	b.Reset()
	return strings.TrimRight(src, "\n "), true
}

// Pending reports whether lines are buffered.
func (b *Buffer) Pending() bool {
	return len(b.lines) > 0
}

// Reset discards buffered lines.
func (b *Buffer) Reset() {
	b.lines = nil
	b.block = false
}
