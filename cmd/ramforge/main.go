// Copyright (C) 2017-2025 SUSE LLC. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ramforge stages a minimal root filesystem: given ELF binaries
// and/or kernel-module selectors, it resolves their full dependency closure
// and copies every file it touches into a destination root, mirroring
// dracut's install(1) helper.
package main

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ramforge/ramforge"
	"github.com/ramforge/ramforge/internal/kmoddb"
)

type flags struct {
	destRootDir  string
	ldd          bool
	module       bool
	optional     bool
	modalias     bool
	hostonly     bool
	all          bool
	resolveLazy  bool
	pathInclude  string
	pathExclude  string
	symInclude   string
	symExclude   string
	nameExclude  string
	kernelDir    string
	firmwareDirs string
	verbosity    int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "ramforge SOURCE...",
		Short: "Stage a minimal root filesystem from a dependency closure",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(&f, args)
		},
		SilenceUsage: true,
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.destRootDir, "destrootdir", "D", os.Getenv("DESTROOTDIR"), "staging root directory")
	fs.BoolVarP(&f.ldd, "ldd", "l", false, "include shared-library closure")
	fs.BoolVarP(&f.module, "module", "m", false, "treat arguments as kernel-module selectors")
	fs.BoolVarP(&f.optional, "optional", "o", false, "missing sources are not errors")
	fs.BoolVar(&f.modalias, "modalias", false, "print kernel-module names pulled in via /sys modalias entries")
	fs.BoolVarP(&f.hostonly, "hostonly", "H", false, "hostonly mode (recorded in the run context; ramforge does not act on it)")
	fs.BoolVarP(&f.all, "all", "a", false, "lift hostonly restriction (recorded in the run context; ramforge does not act on it)")
	fs.BoolVarP(&f.resolveLazy, "resolvelazy", "R", false, "resolve lazily-bound dependencies (recorded in the run context; ramforge does not act on it)")
	fs.StringVarP(&f.pathInclude, "path-include", "p", "", "module path-include filter regexp")
	fs.StringVarP(&f.pathExclude, "path-exclude", "P", "", "module path-exclude filter regexp")
	fs.StringVarP(&f.symInclude, "symbol-include", "s", "", "module symbol-include filter regexp")
	fs.StringVarP(&f.symExclude, "symbol-exclude", "S", "", "module symbol-exclude filter regexp")
	fs.StringVarP(&f.nameExclude, "name-exclude", "N", "", "module name-exclude filter regexp")
	fs.StringVar(&f.kernelDir, "kerneldir", "", "override kernel modules root (default /lib/modules/<uname -r>)")
	fs.StringVar(&f.firmwareDirs, "firmwaredirs", "", "colon-separated firmware search directories")
	fs.CountVarP(&f.verbosity, "debug", "v", "increase verbosity (repeatable): warning, info, debug, trace")

	return cmd
}

func run(f *flags, sources []string) error {
	ctx := ramforge.NewRunContext()
	ctx.DestRootDir = f.destRootDir
	ctx.Optional = f.optional
	ctx.Hostonly = f.hostonly
	ctx.All = f.all
	ctx.ResolveLazy = f.resolveLazy
	ctx.KernelDir = f.kernelDir
	if f.firmwareDirs != "" {
		ctx.FirmwareDirs = strings.Split(f.firmwareDirs, ":")
	}

	log := logrus.New()
	log.SetLevel(verbosityLevel(f.verbosity))
	ctx.Log = log

	var err error
	if ctx.ModFilterPath, err = compileFilter(f.pathInclude); err != nil {
		return err
	}
	if ctx.ModFilterNoPath, err = compileFilter(f.pathExclude); err != nil {
		return err
	}
	if ctx.ModFilterSymbol, err = compileFilter(f.symInclude); err != nil {
		return err
	}
	if ctx.ModFilterNoSymbol, err = compileFilter(f.symExclude); err != nil {
		return err
	}
	if ctx.ModFilterNoName, err = compileFilter(f.nameExclude); err != nil {
		return err
	}

	if f.modalias {
		return runModalias(ctx)
	}
	if f.module {
		return ramforge.InstallModules(ctx, sources)
	}
	if f.ldd {
		return ramforge.Install(ctx, sources)
	}
	return ramforge.InstallFiles(ctx, sources)
}

func runModalias(ctx *ramforge.RunContext) error {
	db, err := kmoddb.NewFileContext(ctx.KernelDir)
	if err != nil {
		return err
	}
	names, err := ramforge.ModaliasList(db)
	if err != nil {
		ctx.Log.WithError(err).Warn("modalias lookup had errors")
	}
	for name := range names {
		fmt.Println(name)
	}
	return nil
}

func compileFilter(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile(pattern)
}

func verbosityLevel(v int) logrus.Level {
	switch {
	case v >= 3:
		return logrus.TraceLevel
	case v == 2:
		return logrus.DebugLevel
	case v == 1:
		return logrus.InfoLevel
	default:
		return logrus.WarnLevel
	}
}
