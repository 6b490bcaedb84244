// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package testutil

import (
	"bytes"
	"sync"
)

// CrashRecorder is a crash handler that records details instead of exiting.
type CrashRecorder struct {
	mu      sync.Mutex
	details []string
}

// Handle records details. Pass it as the runtime crash handler.
func (c *CrashRecorder) Handle(details string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.details = append(c.details, details)
}

// All returns a copy of the recorded details.
func (c *CrashRecorder) All() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.details...)
}

// SyncBuffer is a bytes.Buffer safe for concurrent writers, for capturing
// output written from runtime goroutines.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *SyncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
