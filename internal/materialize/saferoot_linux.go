//go:build linux

// Race-safe resolution of a path underneath an untrusted root, adapted from
// the teacher's partialLookupInRoot/MkdirAllHandle (lookup_linux.go,
// mkdir_linux.go): walk component-by-component using openat(2) so a
// concurrent rename/symlink-swap outside the root can never be followed.
//
// This is a trimmed adaptation: the teacher's extra procfs-based "did the
// root directory itself move" hardening (checkProcSelfFdPath) is not
// carried, since clone_path's root_dir is a staging directory this process
// itself owns and created, not an externally-supplied untrusted root shared
// with a container runtime.
package materialize

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

const maxSymlinkLimit = 255

var errPossibleAttack = errors.New("materialize: possible attack detected")
var errInvalidMode = errors.New("materialize: invalid permission mode")

// partialLookupInRoot walks as much of unsafePath as already exists under
// root, returning a handle to the last existing component and the
// not-yet-existing remainder.
func partialLookupInRoot(root *os.File, unsafePath string) (_ *os.File, _ string, Err error) {
	unsafePath = filepath.ToSlash(unsafePath)

	currentDir, err := dupFile(root)
	if err != nil {
		return nil, "", fmt.Errorf("clone root fd: %w", err)
	}
	defer func() {
		if Err != nil {
			_ = currentDir.Close()
		}
	}()

	var (
		linksWalked   int
		currentPath   string
		remainingPath = unsafePath
	)
	for remainingPath != "" {
		oldRemainingPath := remainingPath

		var part string
		if i := strings.IndexByte(remainingPath, '/'); i == -1 {
			part, remainingPath = remainingPath, ""
		} else {
			part, remainingPath = remainingPath[:i], remainingPath[i+1:]
		}
		if part == "" || part == "." {
			continue
		}
		// Unlike the teacher's general-purpose SecureJoin (which must
		// tolerate attacker-chosen ".." components and re-validates the
		// walk via procfs after every one), every caller here hands us
		// paths already run through pathutil.CanonicalizeDir, so a literal
		// ".." can only mean a malformed input. Reject it outright instead
		// of walking the real ".." dentry, which would require the procfs
		// root-move check this adaptation deliberately omits.
		if part == ".." {
			return nil, "", fmt.Errorf("%w: path component \"..\" in %q", errPossibleAttack, unsafePath)
		}

		nextPath := path.Join("/", currentPath, part)
		if nextPath == "/" {
			rootClone, err := dupFile(root)
			if err != nil {
				return nil, "", fmt.Errorf("clone root fd: %w", err)
			}
			_ = currentDir.Close()
			currentDir = rootClone
			currentPath = nextPath
			continue
		}

		nextDir, err := openatFile(currentDir, part, unix.O_PATH|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
		switch {
		case err == nil:
			st, err := nextDir.Stat()
			if err != nil {
				_ = nextDir.Close()
				return nil, "", fmt.Errorf("stat component %q: %w", part, err)
			}

			switch st.Mode() & os.ModeType {
			case os.ModeDir:
				_ = currentDir.Close()
				currentDir = nextDir
				currentPath = nextPath

			case os.ModeSymlink:
				_ = nextDir.Close()
				linkDest, err := readlinkatFile(currentDir, part)
				if err != nil {
					if errors.Is(err, unix.EINVAL) {
						err = fmt.Errorf("%w: path component %q is invalid: %w", errPossibleAttack, part, unix.ENOTDIR)
					}
					return nil, "", err
				}
				linksWalked++
				if linksWalked > maxSymlinkLimit {
					return nil, "", &os.PathError{Op: "partialLookupInRoot", Path: unsafePath, Err: unix.ELOOP}
				}
				remainingPath = linkDest + "/" + remainingPath
				if path.IsAbs(linkDest) {
					rootClone, err := dupFile(root)
					if err != nil {
						return nil, "", fmt.Errorf("clone root fd: %w", err)
					}
					_ = currentDir.Close()
					currentDir = rootClone
					currentPath = "/"
				}

			default:
				_ = currentDir.Close()
				return nextDir, remainingPath, nil
			}

		case errors.Is(err, os.ErrNotExist):
			return currentDir, oldRemainingPath, nil

		default:
			return nil, "", err
		}
	}
	return currentDir, "", nil
}

// mkdirAllHandle race-safely creates every missing directory component of
// unsafePath under root (mirroring os.MkdirAll's semantics) and returns an
// O_PATH handle to the final directory.
func mkdirAllHandle(root *os.File, unsafePath string, mode int) (_ *os.File, Err error) {
	if mode&^0o7777 != 0 {
		return nil, fmt.Errorf("%w for mkdir 0o%.3o", errInvalidMode, mode)
	}

	currentDir, remainingPath, err := partialLookupInRoot(root, unsafePath)
	if err != nil {
		return nil, fmt.Errorf("find existing subpath of %q: %w", unsafePath, err)
	}
	defer func() {
		if Err != nil {
			_ = currentDir.Close()
		}
	}()

	if st, err := currentDir.Stat(); err != nil {
		return nil, fmt.Errorf("stat existing subpath handle %q: %w", currentDir.Name(), err)
	} else if !st.IsDir() {
		return nil, fmt.Errorf("cannot create subdirectories in %q: %w", currentDir.Name(), unix.ENOTDIR)
	}

	for _, part := range strings.Split(remainingPath, string(filepath.Separator)) {
		switch part {
		case "", ".":
			continue
		case "..":
			return nil, fmt.Errorf("%w: yet-to-be-created path %q contains '..' components", unix.ENOENT, remainingPath)
		}

		if err := mkdiratDir(currentDir, part, mode); err != nil {
			return nil, &os.PathError{Op: "mkdirat", Path: currentDir.Name() + "/" + part, Err: err}
		}
		nextDir, err := openatFile(currentDir, part, unix.O_PATH|unix.O_NOFOLLOW|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
		if err != nil {
			return nil, err
		}
		_ = currentDir.Close()
		currentDir = nextDir
	}
	return currentDir, nil
}
