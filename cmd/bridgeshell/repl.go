// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/sync/errgroup"

	"github.com/aplane-algo/embedbridge/internal/bridge"
	"github.com/aplane-algo/embedbridge/internal/repl"
	"github.com/aplane-algo/embedbridge/internal/util"
)

const historyFileName = ".bridgeshell_history"

// lineReader reads one line of input after showing prompt.
type lineReader func(prompt string) (string, error)

func startREPL(rt *bridge.Runtime, dataDir string) error {
	fmt.Printf("bridgeshell - %s console\n", rt.Engine())
	fmt.Println("Type ':help' for console commands or ':quit' to exit")
	fmt.Println("Features: Command history (↑/↓), Tab completion, Ctrl+C to interrupt")

	historyFile := ""
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0750); err == nil {
			historyFile = filepath.Join(dataDir, historyFileName)
		}
	}

	rlConfig := &readline.Config{
		Prompt:            prompt(false),
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		AutoComplete:      repl.NewCompleter(rt.Engine()),
		InterruptPrompt:   "^C",
		EOFPrompt:         ":quit",
		HistorySearchFold: true,
	}

	var read lineReader
	rl, err := readline.NewEx(rlConfig)
	if err != nil {
		fmt.Printf("Failed to create readline instance, falling back to basic input: %v\n", err)
		read = basicReader(os.Stdin)
	} else {
		defer func() {
			_ = rl.Close() // Best-effort close, errors during shutdown not critical
		}()
		read = func(p string) (string, error) {
			rl.SetPrompt(p)
			return rl.Readline()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// Ctrl+C while a script runs interrupts it; readline handles it at the prompt.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sigs:
				rt.Interrupt()
			}
		}
	})
	g.Go(func() error {
		defer cancel()
		return console(ctx, rt, read, os.Stdout)
	})
	return g.Wait()
}

func prompt(continuation bool) string {
	if continuation {
		return util.Colorize(util.ColorGreen, "...") + " "
	}
	return util.Colorize(util.ColorGreen, ">>>") + " "
}

// basicReader reads lines without history or completion.
func basicReader(in io.Reader) lineReader {
	scanner := bufio.NewScanner(in)
	return func(p string) (string, error) {
		fmt.Print(p)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return scanner.Text(), nil
	}
}

// console runs the read-eval-print loop until EOF or :quit.
func console(ctx context.Context, rt *bridge.Runtime, read lineReader, out io.Writer) error {
	session := repl.NewSession(rt)
	var buf repl.Buffer

	for {
		line, err := read(prompt(buf.Pending()))
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if buf.Pending() {
					buf.Reset()
					fmt.Fprintln(out, "Cancelled.")
				} else if len(line) == 0 {
					fmt.Fprintln(out, "Use ':quit' or Ctrl+D to exit")
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "\nGoodbye!")
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		if !buf.Pending() {
			if quit, handled := runCommand(rt, strings.TrimSpace(line), out); quit {
				return nil
			} else if handled {
				continue
			}
		}

		src, complete := buf.Add(line)
		if !complete {
			continue
		}
		if result := session.Eval(ctx, src); result != "" {
			fmt.Fprintln(out, result)
		}
	}
}

// runCommand handles console commands. It reports whether the console should
// exit and whether line was a command.
func runCommand(rt *bridge.Runtime, line string, out io.Writer) (quit, handled bool) {
	switch line {
	case ":quit", "quit", "exit":
		return true, true
	case ":help":
		fmt.Fprintln(out, "Console commands:")
		fmt.Fprintln(out, "  :help       Show this help")
		fmt.Fprintln(out, "  :reload     Drop cached modules so the next load reads them from disk")
		fmt.Fprintln(out, "  :exception  Show the last exception")
		fmt.Fprintln(out, "  :quit       Exit (also Ctrl+D)")
		fmt.Fprintln(out, "Blocks ending in ':' are closed by a blank line.")
		return false, true
	case ":reload":
		if modules := rt.Modules(); modules != nil {
			n := modules.Cached()
			modules.InvalidateAll()
			fmt.Fprintf(out, "Dropped %d cached module(s)\n", n)
		}
		return false, true
	case ":exception":
		exc := rt.LastException()
		if exc == nil {
			fmt.Fprintln(out, "No exception")
		} else {
			fmt.Fprintln(out, bridge.FormatTraceback(exc.Triple()))
		}
		return false, true
	}
	return false, false
}
