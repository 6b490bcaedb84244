// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// configdoc generates the configuration reference from Go struct tags.
// Usage:
//
//	go run ./cmd/configdoc > doc/CONFIG_REFERENCE.md
//	go run ./cmd/configdoc -schema > doc/config.schema.json
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/aplane-algo/embedbridge/internal/util"
)

// EnvVar represents an environment variable configuration
type EnvVar struct {
	Name        string
	Description string
	UsedBy      string
}

var envVars = []EnvVar{
	{util.DataDirEnvVar, "Data directory holding config.yaml and the module directories", "bridgeshell, libembedbridge"},
	{util.DebugEnvVar, "Set to any value to enable debug logging", "bridgeshell, libembedbridge"},
	{"TERM", "Terminal type; the interactive crash dialog and colors need a value other than `dumb`", "bridgeshell, libembedbridge"},
}

func main() {
	schema := flag.Bool("schema", false, "Print the config JSON schema instead of markdown")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: go run ./cmd/configdoc [-schema] > doc/CONFIG_REFERENCE.md")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Generates configuration documentation from Go struct tags.")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *schema {
		data, err := util.ConfigSchema()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(data))
		return
	}
	writeReference(os.Stdout)
}

func writeReference(w io.Writer) {
	fmt.Fprintln(w, "# Configuration Reference")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Auto-generated from Go struct tags. Do not edit manually.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "---")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Runtime Configuration")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "File: `config.yaml` in the data directory (`-d` or `%s`). Relative module directories are resolved against the data directory.\n", util.DataDirEnvVar)
	fmt.Fprintln(w)
	writeStructTable(w, reflect.TypeOf(util.Config{}))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Environment Variables")
	fmt.Fprintln(w)
	writeEnvVars(w)
}

func writeStructTable(w io.Writer, t reflect.Type) {
	writeStructTableWithPrefix(w, t, "")
}

func writeStructTableWithPrefix(w io.Writer, t reflect.Type, prefix string) {
	if prefix == "" {
		fmt.Fprintln(w, "| Field | Type | Default | Description |")
		fmt.Fprintln(w, "|-------|------|---------|-------------|")
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		// Get yaml tag first, fall back to json tag
		tag := field.Tag.Get("yaml")
		if tag == "" {
			tag = field.Tag.Get("json")
		}
		if tag == "" || tag == "-" {
			continue
		}
		fieldName := strings.Split(tag, ",")[0]
		if prefix != "" {
			fieldName = prefix + "." + fieldName
		}

		if field.Type.Kind() == reflect.Ptr && field.Type.Elem().Kind() == reflect.Struct {
			desc := field.Tag.Get("description")
			if desc == "" {
				desc = "(nested config block)"
			}
			fmt.Fprintf(w, "| `%s` | object | (none) | %s |\n", fieldName, desc)
			writeStructTableWithPrefix(w, field.Type.Elem(), fieldName)
			continue
		}

		desc := field.Tag.Get("description")
		if desc == "" {
			desc = "(no description)"
		}

		def := field.Tag.Get("default")
		switch def {
		case "":
			def = "(none)"
		case `""`:
			def = "(empty string)"
		}

		fmt.Fprintf(w, "| `%s` | %s | `%s` | %s |\n", fieldName, formatType(field.Type), def, desc)
	}
}

var durationType = reflect.TypeOf(time.Duration(0))

func formatType(t reflect.Type) string {
	if t == durationType {
		return "duration"
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "int"
	case reflect.Bool:
		return "bool"
	case reflect.Slice:
		return "[]" + formatType(t.Elem())
	case reflect.Ptr:
		return "*" + formatType(t.Elem())
	default:
		return t.String()
	}
}

func writeEnvVars(w io.Writer) {
	fmt.Fprintln(w, "| Variable | Description | Used By |")
	fmt.Fprintln(w, "|----------|-------------|---------|")
	for _, env := range envVars {
		fmt.Fprintf(w, "| `%s` | %s | %s |\n", env.Name, env.Description, env.UsedBy)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "### Data Directory Resolution")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "1. `-d <path>` flag (bridgeshell only)")
	fmt.Fprintf(w, "2. `%s` environment variable\n", util.DataDirEnvVar)
	fmt.Fprintf(w, "3. `~/%s`\n", util.DefaultDataDirName)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "A missing `config.yaml` yields the defaults above.")
}
