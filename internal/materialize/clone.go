//go:build linux

// Package materialize copies a source path and its ancestor directories
// into a staging root, preserving symlinks (rewritten relative to the new
// root), file content (including sparse holes), mode, ownership and xattrs.
// Ported from the teacher's mkdir/openat/lookup primitives plus
// clone_path/copy from original_source's file module.
package materialize

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ramforge/ramforge/internal/pathutil"
)

// Materializer clones paths from the running system into a staging root.
type Materializer struct {
	root     *os.File
	rootPath string
}

// New opens rootDir (which must already exist) as the staging root.
func New(rootDir string) (*Materializer, error) {
	root, err := os.OpenFile(rootDir, os.O_DIRECTORY|os.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open staging root %q: %w", rootDir, err)
	}
	return &Materializer{root: root, rootPath: rootDir}, nil
}

// Close releases the root directory handle.
func (m *Materializer) Close() error {
	return m.root.Close()
}

// Clone recursively materialises source and every ancestor directory of
// source under the staging root, following symlinks for traversal but
// recreating them (relative, via pathutil.ConvertAbsRel) rather than
// dereferencing them into copies.
func (m *Materializer) Clone(source string) error {
	return m.clonePath(source)
}

func (m *Materializer) targetPath(source string) string {
	return strings.TrimPrefix(filepath.Clean(source), string(filepath.Separator))
}

func (m *Materializer) clonePath(source string) (err error) {
	source = filepath.Clean(source)
	target := m.targetPath(source)

	if m.exists(target) {
		return nil
	}

	parent := filepath.Dir(source)
	if parent != source {
		if err := m.clonePath(parent); err != nil {
			return err
		}
	} else {
		return nil
	}

	srcInfo, err := os.Lstat(source)
	if err != nil {
		return fmt.Errorf("stat %q: %w", source, err)
	}

	targetParent := filepath.Dir(target)
	restore, err := m.makeParentWritable(targetParent)
	if err != nil {
		return fmt.Errorf("prepare parent of %q: %w", target, err)
	}
	defer func() {
		if rerr := restore(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	switch {
	case srcInfo.Mode()&os.ModeSymlink != 0:
		err = m.cloneSymlink(source, target)
	case srcInfo.IsDir():
		err = m.cloneDir(target, srcInfo.Mode().Perm())
	case srcInfo.Mode().IsRegular():
		err = m.cloneFile(source, target)
	default:
		err = fmt.Errorf("clone %q: unsupported file type %v", source, srcInfo.Mode())
	}
	return err
}

func (m *Materializer) exists(target string) bool {
	dir, remaining, err := partialLookupInRoot(m.root, target)
	if err != nil {
		return false
	}
	defer dir.Close()
	return remaining == ""
}

// makeParentWritable temporarily clears read-only mode on a read-only
// staging parent directory so a new entry can be created in it, returning a
// func that restores the original mode.
func (m *Materializer) makeParentWritable(targetParent string) (func() error, error) {
	dir, remaining, err := partialLookupInRoot(m.root, targetParent)
	if err != nil {
		return nil, err
	}
	defer dir.Close()
	if remaining != "" {
		return func() error { return nil }, nil
	}

	st, err := dir.Stat()
	if err != nil {
		return nil, err
	}
	mode := st.Mode().Perm()
	if mode&0o200 != 0 {
		return func() error { return nil }, nil
	}

	if err := os.Chmod(filepath.Join(m.rootPath, targetParent), mode|0o200); err != nil {
		return nil, err
	}
	return func() error {
		return os.Chmod(filepath.Join(m.rootPath, targetParent), mode)
	}, nil
}

func (m *Materializer) cloneDir(target string, mode os.FileMode) error {
	dir, err := mkdirAllHandle(m.root, target, int(mode))
	if err != nil {
		return fmt.Errorf("mkdir %q: %w", target, err)
	}
	return dir.Close()
}

func (m *Materializer) cloneSymlink(source, target string) error {
	linkDest, err := os.Readlink(source)
	if err != nil {
		return fmt.Errorf("readlink %q: %w", source, err)
	}
	if !filepath.IsAbs(linkDest) {
		linkDest = filepath.Join(filepath.Dir(source), linkDest)
	}

	if err := m.clonePath(linkDest); err != nil {
		return fmt.Errorf("clone symlink target %q: %w", linkDest, err)
	}

	rel := pathutil.ConvertAbsRel(filepath.Dir(source), linkDest)
	absTarget := filepath.Join(m.rootPath, target)
	if err := os.MkdirAll(filepath.Dir(absTarget), 0o755); err != nil {
		return err
	}
	if err := os.Symlink(rel, absTarget); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("symlink %q -> %q: %w", absTarget, rel, err)
	}
	return nil
}

func (m *Materializer) cloneFile(source, target string) error {
	absTarget := filepath.Join(m.rootPath, target)
	if _, err := copyFile(source, absTarget); err != nil {
		return fmt.Errorf("copy %q -> %q: %w", source, absTarget, err)
	}
	return nil
}
