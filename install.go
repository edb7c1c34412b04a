// Copyright (C) 2017-2025 SUSE LLC. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ramforge

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/ramforge/ramforge/internal/closure"
	"github.com/ramforge/ramforge/internal/kmoddb"
	"github.com/ramforge/ramforge/internal/ldcache"
	"github.com/ramforge/ramforge/internal/materialize"
	"github.com/ramforge/ramforge/internal/pathutil"
	"github.com/ramforge/ramforge/internal/resolve"
)

// defaultLibDirs is consulted after an object's own RPATH/RUNPATH and the
// ld.so.cache are exhausted, mirroring original_source/src/lib.rs::ldd's
// standard_libdirs.
var defaultLibDirs = []string{"/lib64/dyninst", "/lib64"}

// Closure computes the full shared-library dependency closure of sources
// (ldd() in original_source/src/lib.rs) without materialising anything. A
// source that cannot be fully resolved is logged and its partial closure is
// still included; lookup failures are never fatal here, matching upstream.
func Closure(ctx *RunContext, sources []string) ([]string, error) {
	cache, err := ldcache.Load("/")
	if err != nil {
		ctx.Log.WithError(err).Debug("ld.so.cache unavailable, falling back to default library dirs only")
		cache = nil
	}

	seeds := make([]string, 0, len(sources))
	for _, s := range sources {
		canon, err := pathutil.CanonicalizeDir(s)
		if err != nil {
			if ctx.Optional {
				continue
			}
			return nil, fmt.Errorf("canonicalize %q: %w", s, err)
		}
		seeds = append(seeds, canon)
	}

	var resolveLog logrus.FieldLogger = ctx.Log
	if ctx.Silent {
		quiet := logrus.New()
		quiet.SetOutput(io.Discard)
		resolveLog = quiet
	}

	r := resolve.New(resolve.Options{
		LdCache:        cache,
		DefaultLibDirs: defaultLibDirs,
		DestDir:        ctx.DestRootDir,
		Workers:        runtime.GOMAXPROCS(0),
		Log:            resolveLog,
	})
	return r.Resolve(seeds)
}

// InstallFiles clones every one of files (and their ancestor directories)
// into ctx.DestRootDir, mirroring original_source's install_files.
func InstallFiles(ctx *RunContext, files []string) error {
	if ctx.DestRootDir == "" {
		return fmt.Errorf("ramforge: DestRootDir is not set")
	}
	if err := os.MkdirAll(ctx.DestRootDir, 0o755); err != nil {
		return fmt.Errorf("create staging root %q: %w", ctx.DestRootDir, err)
	}

	m, err := materialize.New(ctx.DestRootDir)
	if err != nil {
		return err
	}
	defer m.Close()

	for _, f := range files {
		if err := m.Clone(f); err != nil {
			if ctx.Optional && pathutil.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("clone %q: %w", f, err)
		}
	}
	return nil
}

// Install computes the shared-library dependency closure of sources and
// materialises every path it finds, mirroring original_source's
// install_files_ldd.
func Install(ctx *RunContext, sources []string) error {
	ctx.Log.WithField("pathdirs", ctx.PathDirs).Debug("starting closure resolution")
	ctx.Log.WithField("firmwaredirs", ctx.FirmwareDirs).Debug("firmware search dirs")
	ctx.Log.WithField("kerneldir", ctx.KernelDir).Debug("kernel module dir")

	files, err := Closure(ctx, sources)
	if err != nil {
		return err
	}
	ctx.Log.WithField("files", files).Debug("resolved dependency closure")

	return InstallFiles(ctx, files)
}

// moduleFilters builds a closure.Filters from ctx's regex fields.
func moduleFilters(ctx *RunContext) closure.Filters {
	var f closure.Filters
	if ctx.ModFilterNoName != nil {
		f.NameExclude = func(name string) bool { return ctx.ModFilterNoName.MatchString(name) }
	}
	if ctx.ModFilterPath != nil {
		f.PathInclude = func(path string) bool { return ctx.ModFilterPath.MatchString(path) }
	}
	if ctx.ModFilterNoPath != nil {
		f.PathExclude = func(path string) bool { return ctx.ModFilterNoPath.MatchString(path) }
	}
	if ctx.ModFilterSymbol != nil {
		f.SymbolInclude = func(symbols []string) bool { return anyMatch(ctx.ModFilterSymbol, symbols) }
	}
	if ctx.ModFilterNoSymbol != nil {
		f.SymbolExclude = func(symbols []string) bool { return anyMatch(ctx.ModFilterNoSymbol, symbols) }
	}
	return f
}

func anyMatch(re *regexp.Regexp, symbols []string) bool {
	for _, s := range symbols {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// InstallModules resolves the kernel-module closure of selectors (hard and
// soft "pre" dependencies, with filters applied only to each selector's
// direct hit) and materialises every module's .ko file, mirroring
// original_source's install_modules.
func InstallModules(ctx *RunContext, selectors []string) error {
	db, err := kmoddb.NewFileContext(ctx.KernelDir)
	if err != nil {
		return fmt.Errorf("open module database %q: %w", ctx.KernelDir, err)
	}

	r := closure.New(db)
	mods, err := r.Install(selectors, moduleFilters(ctx))
	if err != nil {
		return fmt.Errorf("resolve module selectors: %w", err)
	}

	paths := make([]string, 0, len(mods))
	for _, m := range mods {
		paths = append(paths, m.Path())
	}
	return InstallFiles(ctx, paths)
}

// ModaliasList reads the modalias file of every device under /sys/devices,
// resolves each one via the module database's alias lookup, and returns the
// set of module names pulled in. Currently loaded modules are not
// enumerated; an alias that resolves to nothing is skipped. This recovers the --modalias CLI feature and the
// modalias_list function from original_source/src/modules/mod.rs, which
// spec.md's distillation names only as a CLI flag (see SPEC_FULL.md §4.7).
func ModaliasList(db kmoddb.Context) (map[string]struct{}, error) {
	names := make(map[string]struct{})
	var errs *multierror.Error

	aliases, err := readModaliasFiles("/sys/devices")
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	for _, alias := range aliases {
		mods, err := db.ModuleFromLookup(alias)
		if err != nil {
			continue
		}
		for _, m := range mods {
			names[m.Name()] = struct{}{}
		}
	}

	return names, errs.ErrorOrNil()
}

// readModaliasFiles walks root collecting the contents of every file named
// "modalias" it finds.
func readModaliasFiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if pathutil.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || d.Name() != "modalias" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		out = append(out, trimNewline(string(data)))
		return nil
	})
	return out, err
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
