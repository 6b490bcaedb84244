// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package main

import (
	"fmt"
	"runtime/cgo"

	"github.com/aplane-algo/embedbridge/internal/bridge"
	"github.com/aplane-algo/embedbridge/internal/traceback"
	"github.com/aplane-algo/embedbridge/internal/util"
)

// exceptionHandles hands out the components of exc as cgo handles. Absent
// components are 0.
func exceptionHandles(exc *traceback.Exception) (typ, value, tb uintptr) {
	t, v, trace := exc.Triple()
	return newHandle(t), newHandle(v), newHandle(trace)
}

func newHandle[T any](p *T) uintptr {
	if p == nil {
		return 0
	}
	return uintptr(cgo.NewHandle(p))
}

// borrow returns the value behind h without taking ownership. 0, stale and
// mistyped handles read as absent.
func borrow[T any](h uintptr) (p *T) {
	if h == 0 {
		return nil
	}
	defer func() {
		if recover() != nil {
			util.Logger.Warn("invalid handle", "handle", h)
			p = nil
		}
	}()
	p, _ = cgo.Handle(h).Value().(*T)
	return p
}

// formatHandles renders the triple behind the handles.
func formatHandles(typ, value, tb uintptr) string {
	return bridge.FormatTraceback(
		borrow[traceback.Type](typ),
		borrow[traceback.Value](value),
		borrow[traceback.Trace](tb),
	)
}

// releaseHandles deletes the non-zero handles.
func releaseHandles(handles ...uintptr) {
	for _, h := range handles {
		if h == 0 {
			continue
		}
		func() {
			defer func() {
				if recover() != nil {
					util.Logger.Warn("release of invalid handle", "handle", h)
				}
			}()
			cgo.Handle(h).Delete()
		}()
	}
}

// processOptions loads the runtime configuration from the data directory
// named by EMBEDBRIDGE_DATA, or the default one.
func processOptions() (bridge.Options, error) {
	dataDir := util.GetDataDir("")
	config, err := util.LoadConfig(dataDir)
	if err != nil {
		return bridge.Options{}, fmt.Errorf("failed to load config from %s: %w", dataDir, err)
	}
	util.InitLogger(config.LogLevel)
	return bridge.Options{Config: config}, nil
}
