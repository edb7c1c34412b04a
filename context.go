// Copyright (C) 2017-2025 SUSE LLC. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ramforge orchestrates the closure engines and materialiser that
// stage a minimal root filesystem: given a set of ELF binaries and/or
// kernel-module selectors, it resolves their full dependency closure and
// copies every file it touches into a destination root.
package ramforge

import (
	"io"
	"os"
	"regexp"

	"github.com/sirupsen/logrus"
)

// RunContext holds every setting shared read-only across a single run,
// mirroring original_source's RunContext.
type RunContext struct {
	// Hostonly marks a hostonly run. It is a pass-through flag: no function
	// in this module reads it, so module selection is not restricted by it.
	Hostonly bool
	// All marks a run that lifts the hostonly restriction. It is a
	// pass-through flag: no function in this module reads it.
	All bool
	// ResolveLazy marks a run that asks for lazily bound dependencies too.
	// It is a pass-through flag: no function in this module reads it, and
	// the resolver treats every DT_NEEDED entry the same way regardless.
	ResolveLazy bool
	// Optional makes a missing top-level source a non-fatal skip rather
	// than an error.
	Optional bool
	// Silent suppresses the non-fatal per-item warning that ldd-equivalent
	// resolution would otherwise log.
	Silent bool

	// DestRootDir is the staging root every resolved file is cloned into.
	DestRootDir string
	// KernelDir overrides the kernel modules root (default
	// /lib/modules/<uname -r>), passed to the module database collaborator.
	KernelDir string
	// FirmwareDirs lists additional firmware search directories.
	FirmwareDirs []string
	// PathDirs lists additional PATH-style search directories. Install only
	// logs them; a source token is always taken as a path and is not
	// searched for in these directories.
	PathDirs []string

	// ModFilterNoName excludes a top-level module selector hit whose name
	// matches.
	ModFilterNoName *regexp.Regexp
	// ModFilterPath requires a top-level module selector hit's path to
	// match.
	ModFilterPath *regexp.Regexp
	// ModFilterNoPath excludes a top-level module selector hit whose path
	// matches.
	ModFilterNoPath *regexp.Regexp
	// ModFilterSymbol requires a top-level module selector hit to export at
	// least one dependency symbol matching.
	ModFilterSymbol *regexp.Regexp
	// ModFilterNoSymbol excludes a top-level module selector hit that
	// exports any dependency symbol matching.
	ModFilterNoSymbol *regexp.Regexp

	// Log receives every diagnostic and warning produced during a run.
	Log logrus.FieldLogger
}

// NewRunContext returns a RunContext with the same defaults
// original_source's RunContext::default() uses: everything disabled, no
// filters, a discarding log sink, and DestRootDir seeded from the
// DESTROOTDIR environment variable if set.
func NewRunContext() *RunContext {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.ErrorLevel)

	return &RunContext{
		DestRootDir: os.Getenv("DESTROOTDIR"),
		Log:         log,
	}
}
