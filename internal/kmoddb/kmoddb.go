// Package kmoddb defines the module-database collaborator interface the
// kernel-module closure walker depends on. It mirrors libkmod's C API
// surface (kmod_new, kmod_module_new_from_*, kmod_module_get_*) so that the
// closure walker is agnostic to how module metadata is actually sourced;
// libkmod itself is a C library with no pure-Go binding, so this package
// also ships one concrete, file-backed implementation (see filedb.go) good
// enough to make the rest of the module runnable and testable without cgo.
package kmoddb

import "errors"

// ErrNotFound is returned by ModuleFromName/ModuleFromLookup/ModuleFromPath
// when no matching module exists.
var ErrNotFound = errors.New("kmoddb: module not found")

// Module is a single kernel module's metadata, as libkmod would report it.
type Module interface {
	// Name is the module's canonical name (e.g. "vfat").
	Name() string
	// Path is the absolute path to the module's .ko (.ko.xz/.ko.zst) file.
	Path() string
	// Refcount is the module's current load refcount (0 if not loaded).
	Refcount() int
	// Size is the module's in-kernel memory footprint, in bytes (0 if not loaded).
	Size() int64
	// Holders lists modules that depend on this one being loaded.
	Holders() []Module
	// Dependencies lists this module's hard ("depends") dependencies.
	Dependencies() []Module
	// SoftDependencies lists this module's "pre" and "post" soft dependencies.
	SoftDependencies() (pre, post []Module)
	// DependencySymbols lists the symbols this module imports from other modules.
	DependencySymbols() []string
	// Dirname is the directory the module's .ko file lives under.
	Dirname() string
}

// Context is the module database itself: the Go mirror of libkmod's
// kmod_ctx. Building the real thing (parsing .ko ELF .modinfo sections,
// resolving symbol versioning, etc.) is out of scope for this tool; it is
// treated as an external capability injected by the caller.
type Context interface {
	// ModulesLoaded returns every currently loaded module.
	ModulesLoaded() ([]Module, error)
	// ModuleFromPath looks up a module by its .ko file path.
	ModuleFromPath(path string) (Module, error)
	// ModuleFromName looks up a module by its canonical name.
	ModuleFromName(name string) (Module, error)
	// ModuleFromLookup resolves an alias (as used by modprobe/modalias
	// matching) to every module it could refer to.
	ModuleFromLookup(alias string) ([]Module, error)
	// Dirname is the kernel modules root `<kerneldir>`; a subdir selector
	// walks its `kernel` subdirectory.
	Dirname() string
}
