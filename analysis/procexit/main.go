// Package main implements a static analyzer that detects library code
// terminating the process or writing to stdout.
//
// The runtime is embedded in host applications: only the crash handler may
// end the process, and stdout belongs to scripts and the host. Code under
// internal/ must report failures as errors and write through configured
// writers or the logger.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Calls that end the process
var exitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bos\.Exit\(`),
	regexp.MustCompile(`\blog\.(Fatal|Fatalf|Fatalln|Panic|Panicf|Panicln)\(`),
}

// Calls that write to the process stdout
var stdoutPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bfmt\.(Print|Printf|Println)\(`),
	regexp.MustCompile(`\bos\.Stdout\.Write`),
}

// Specific line patterns that are known safe despite matching.
// Key: file path suffix, Value: patterns that are exempt in that file
var exemptPatterns = map[string][]*regexp.Regexp{
	// The crash handlers are the only sanctioned exits.
	"internal/crashdialog/crashdialog.go": {
		regexp.MustCompile(`exit\s+= os\.Exit`),
	},
	"internal/bridge/runtime.go": {
		regexp.MustCompile(`^\s*os\.Exit\(1\)`),
	},
}

type finding struct {
	file    string
	line    int
	content string
	reason  string
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: procexit <repo-root>")
		os.Exit(1)
	}

	root := os.Args[1]
	var findings []finding
	var filesChecked int

	err := filepath.Walk(filepath.Join(root, "internal"), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == "testutil" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		filesChecked++
		findings = append(findings, checkFile(path)...)
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error walking directory: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Process Exit Analysis\n")
	fmt.Printf("=====================\n")
	fmt.Printf("Files checked: %d\n\n", filesChecked)

	if len(findings) == 0 {
		fmt.Println("No issues found.")
		os.Exit(0)
	}

	fmt.Printf("Potential issues: %d\n\n", len(findings))
	for _, f := range findings {
		fmt.Printf("%s:%d\n", f.file, f.line)
		fmt.Printf("  Line: %s\n", strings.TrimSpace(f.content))
		fmt.Printf("  Issue: %s\n\n", f.reason)
	}
	os.Exit(1)
}

func checkFile(path string) []finding {
	var findings []finding

	file, err := os.Open(path) // #nosec G304 - walking the repository
	if err != nil {
		return nil
	}
	defer func() { _ = file.Close() }()

	var fileExemptPatterns []*regexp.Regexp
	slashed := filepath.ToSlash(path)
	for suffix, patterns := range exemptPatterns {
		if strings.HasSuffix(slashed, suffix) {
			fileExemptPatterns = append(fileExemptPatterns, patterns...)
		}
	}

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if strings.HasPrefix(strings.TrimSpace(line), "//") {
			continue
		}
		if matchesAny(fileExemptPatterns, line) {
			continue
		}

		switch {
		case matchesAny(exitPatterns, line):
			findings = append(findings, finding{
				file:    path,
				line:    lineNum,
				content: line,
				reason:  "Process exit outside the crash handler",
			})
		case matchesAny(stdoutPatterns, line):
			findings = append(findings, finding{
				file:    path,
				line:    lineNum,
				content: line,
				reason:  "Direct write to stdout; use the configured writer or the logger",
			})
		}
	}
	return findings
}

func matchesAny(patterns []*regexp.Regexp, line string) bool {
	for _, pat := range patterns {
		if pat.MatchString(line) {
			return true
		}
	}
	return false
}
