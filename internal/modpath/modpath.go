// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package modpath resolves module names against an ordered list of search
// directories and caches module sources.
//
// Directories earlier in the list take precedence, so a directory of updated
// modules placed first overrides the bundled application packages.
package modpath

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"
)

var (
	// ErrModuleNotFound is returned when no search directory contains the module.
	ErrModuleNotFound = errors.New("module not found")
	// ErrInvalidName is returned for absolute names or names escaping the search path.
	ErrInvalidName = errors.New("invalid module name")
)

// Layout describes how an engine maps module names onto files.
type Layout struct {
	// Ext is the source file extension, including the dot (".star", ".js").
	Ext string
	// Index is the base name of a package's entry file ("__init__", "index").
	Index string
}

// Module is a loaded module source.
type Module struct {
	Name   string
	Path   string
	Source string
	// Sum is the hex BLAKE2b-256 digest of Source.
	Sum string
}

// Resolver finds and caches modules. Safe for concurrent use.
type Resolver struct {
	dirs []string

	mu    sync.Mutex
	cache map[string]Module // keyed by absolute file path
}

// NewResolver creates a resolver over dirs in precedence order.
// Empty entries and duplicates are dropped.
func NewResolver(dirs ...string) *Resolver {
	seen := make(map[string]bool)
	var clean []string
	for _, d := range dirs {
		if d == "" {
			continue
		}
		abs, err := filepath.Abs(d)
		if err != nil {
			abs = filepath.Clean(d)
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		clean = append(clean, abs)
	}
	return &Resolver{dirs: clean, cache: make(map[string]Module)}
}

// Dirs returns the search directories in precedence order.
func (r *Resolver) Dirs() []string {
	out := make([]string, len(r.dirs))
	copy(out, r.dirs)
	return out
}

// ValidateName checks that name is a relative, slash-separated module name
// that stays inside the search path.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.Contains(name, "\\") || path.IsAbs(name) || filepath.IsAbs(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

// candidates lists the relative file paths tried for name, in order.
func candidates(name string, layout Layout) []string {
	if layout.Ext != "" && strings.HasSuffix(name, layout.Ext) {
		return []string{name}
	}
	out := []string{name + layout.Ext}
	if layout.Index != "" {
		out = append(out, name+"/"+layout.Index+layout.Ext)
	}
	return out
}

// Find returns the absolute path of the first file matching name.
func (r *Resolver) Find(name string, layout Layout) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	for _, dir := range r.dirs {
		for _, rel := range candidates(name, layout) {
			p := filepath.Join(dir, filepath.FromSlash(rel))
			info, err := os.Stat(p)
			if err == nil && info.Mode().IsRegular() {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrModuleNotFound, name)
}

// Load resolves name and returns its source, reading from disk only when the
// file is not cached.
func (r *Resolver) Load(name string, layout Layout) (Module, error) {
	p, err := r.Find(name, layout)
	if err != nil {
		return Module{}, err
	}

	r.mu.Lock()
	mod, ok := r.cache[p]
	r.mu.Unlock()
	if ok {
		mod.Name = name
		return mod, nil
	}

	data, err := os.ReadFile(p) // #nosec G304 - path is confined to the search directories
	if err != nil {
		return Module{}, fmt.Errorf("failed to read module %s: %w", name, err)
	}
	mod = Module{Name: name, Path: p, Source: string(data), Sum: Sum(data)}

	r.mu.Lock()
	r.cache[p] = mod
	r.mu.Unlock()
	return mod, nil
}

// Invalidate drops cached entries for the given file paths. Paths that are
// directories drop every entry below them.
func (r *Resolver) Invalidate(paths ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = filepath.Clean(p)
		}
		delete(r.cache, abs)
		prefix := abs + string(filepath.Separator)
		for k := range r.cache {
			if strings.HasPrefix(k, prefix) {
				delete(r.cache, k)
			}
		}
	}
}

// InvalidateAll empties the cache.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[string]Module)
	r.mu.Unlock()
}

// Cached reports how many modules are cached.
func (r *Resolver) Cached() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

// Sum returns the hex BLAKE2b-256 digest of data.
func Sum(data []byte) string {
	h := blake2b.Sum256(data)
	return hex.EncodeToString(h[:])
}
