//go:build linux

package materialize

import (
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sys/unix"
)

// dupFile returns a CLOEXEC duplicate of f, so callers can keep using f
// independently of what happens to the duplicate.
func dupFile(f *os.File) (*os.File, error) {
	fd, err := unix.FcntlInt(f.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, os.NewSyscallError("fcntl(F_DUPFD_CLOEXEC)", err)
	}
	return os.NewFile(uintptr(fd), f.Name()), nil
}

func prepareAt(dir *os.File, path string) (dirFd int, unsafeUnmaskedPath string) {
	dirFd, dirPath := -int(unix.EBADF), "."
	if dir != nil {
		dirFd, dirPath = int(dir.Fd()), dir.Name()
	}
	if !filepath.IsAbs(path) {
		path = dirPath + "/" + path
	}
	return dirFd, path
}

func openatFile(dir *os.File, path string, flags int, mode int) (*os.File, error) {
	dirFd, fullPath := prepareAt(dir, path)
	flags |= unix.O_CLOEXEC
	fd, err := unix.Openat(dirFd, path, flags, uint32(mode))
	if err != nil {
		return nil, &os.PathError{Op: "openat", Path: fullPath, Err: err}
	}
	runtime.KeepAlive(dir)
	return os.NewFile(uintptr(fd), filepath.Clean(fullPath)), nil
}

func fstatatFile(dir *os.File, path string, flags int) (unix.Stat_t, error) {
	dirFd, fullPath := prepareAt(dir, path)
	var stat unix.Stat_t
	if err := unix.Fstatat(dirFd, path, &stat, flags); err != nil {
		return stat, &os.PathError{Op: "fstatat", Path: fullPath, Err: err}
	}
	runtime.KeepAlive(dir)
	return stat, nil
}

func readlinkatFile(dir *os.File, path string) (string, error) {
	dirFd, fullPath := prepareAt(dir, path)
	size := 1024
	for {
		buf := make([]byte, size)
		n, err := unix.Readlinkat(dirFd, path, buf)
		if err != nil {
			return "", &os.PathError{Op: "readlinkat", Path: fullPath, Err: err}
		}
		runtime.KeepAlive(dir)
		if n != size {
			return string(buf[:n]), nil
		}
		size *= 2
	}
}

func mkdiratDir(dir *os.File, part string, mode int) error {
	return unix.Mkdirat(int(dir.Fd()), part, uint32(mode))
}
