// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package bridge

import "errors"

// Status codes returned by the C-style entry points.
const (
	StatusOK    = 0
	StatusError = -1
)

var (
	// ErrNotInitialized is returned by calls made before Start or after Finalize.
	ErrNotInitialized = errors.New("runtime not initialized")
	// ErrRuntimeFault is returned when execution panicked inside the runtime.
	ErrRuntimeFault = errors.New("runtime fault")
)
