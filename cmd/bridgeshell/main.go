// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Command bridgeshell hosts the embedded runtime from a terminal: an
// interactive console, or one-shot execution of code, expressions and files.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/aplane-algo/embedbridge/internal/bridge"
	"github.com/aplane-algo/embedbridge/internal/util"
	"github.com/aplane-algo/embedbridge/internal/version"
)

func main() {
	// Define all flags upfront before parsing
	printVersion := flag.Bool("version", false, "Print version and exit")
	printSchema := flag.Bool("print-schema", false, "Print config JSON schema and exit")
	dataDir := flag.String("d", "", "Data directory (default: ~/.embedbridge or EMBEDBRIDGE_DATA)")
	engineName := flag.String("engine", "", "Engine (starlark, goja); overrides config")
	code := flag.String("c", "", "Execute code and exit")
	getVar := flag.String("get", "", "With -c, print the text form of this global variable")
	expr := flag.String("e", "", "Evaluate expression or statements and print the result")
	scriptFile := flag.String("script", "", "Execute script file and exit (use '-' for stdin)")
	flag.Parse()

	// Handle early-exit flags
	if *printVersion {
		fmt.Println(version.Line("bridgeshell"))
		os.Exit(0)
	}
	if *printSchema {
		schema, err := util.ConfigSchema()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(schema))
		os.Exit(0)
	}
	if *getVar != "" && *code == "" {
		fmt.Fprintln(os.Stderr, "Error: -get requires -c")
		os.Exit(2)
	}

	// Resolve data directory: -d flag > EMBEDBRIDGE_DATA env var > ~/.embedbridge
	resolvedDataDir := util.GetDataDir(*dataDir)

	config, err := util.LoadConfig(resolvedDataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *engineName != "" {
		config.Engine = *engineName
		if err := config.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	// Initialize logger (supports EMBEDBRIDGE_DEBUG environment variable)
	util.InitLogger(config.LogLevel)
	util.Debug("configuration loaded", "data_dir", resolvedDataDir, "engine", config.Engine)

	rt := bridge.New(bridge.Options{Config: config})
	args := append([]string{"bridgeshell"}, flag.Args()...)
	if err := rt.Start(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Run one-shot mode or start interactive REPL
	var status int
	switch {
	case *code != "":
		status = runCode(rt, *code, *getVar)
	case *expr != "":
		status = runExpression(rt, *expr)
	case *scriptFile != "":
		status = runScriptFile(rt, *scriptFile)
	default:
		if err := startREPL(rt, resolvedDataDir); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			status = 1
		}
	}

	if err := rt.Finalize(); err != nil {
		util.Debug("finalize", "error", err)
	}
	os.Exit(status)
}
