//go:build linux

// Sparse-aware regular file copy, ported from upstream's file::copy:
// copy_file_range(2) first, sendfile(2) as a fallback, a plain read/write
// loop as the last resort, walking the source's data extents via
// SEEK_DATA/SEEK_HOLE so holes in the source stay holes in the copy.
package materialize

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// hasCopyFileRange and hasSendfile are sticky: once either syscall proves
// unsupported (old kernel, seccomp) we stop retrying it for the lifetime of
// the process, mirroring upstream's global AtomicBool gates.
var (
	hasCopyFileRange atomic.Bool
	hasSendfile      atomic.Bool
)

func init() {
	hasCopyFileRange.Store(true)
	hasSendfile.Store(true)
}

const copyBufSize = 8 * 1024

// copyFile copies the regular file src to dst, preserving mode, ownership
// and xattrs (and therefore ACLs). dst is created if missing and truncated
// if present. euid 0 callers propagate uid/gid; non-root callers ignore the
// resulting EPERM, same as upstream's ignore_eperm logic.
func copyFile(src, dst string) (int64, error) {
	reader, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	srcInfo, err := reader.Stat()
	if err != nil {
		return 0, err
	}
	if !srcInfo.Mode().IsRegular() {
		return 0, fmt.Errorf("copy %q: not a regular file", src)
	}

	writer, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return 0, err
	}
	defer writer.Close()

	fdIn, fdOut := int(reader.Fd()), int(writer.Fd())
	total := srcInfo.Size()

	writerInfo, err := writer.Stat()
	if err != nil {
		return 0, err
	}

	canHandleSparse := true
	if writerInfo.Mode().IsRegular() {
		if err := writer.Chmod(srcInfo.Mode().Perm()); err != nil {
			return 0, err
		}

		ignoreEPERM := unix.Geteuid() != 0
		if stat, ok := srcInfo.Sys().(*unix.Stat_t); ok {
			if err := chownIgnoringEPERM(fdOut, int(stat.Uid), int(stat.Gid), ignoreEPERM); err != nil {
				return 0, err
			}
		}

		if err := copyXattrs(fdIn, fdOut, ignoreEPERM); err != nil {
			return 0, err
		}

		if err := ftruncateRetry(fdOut, total); err != nil {
			if errors.Is(err, unix.EINVAL) {
				canHandleSparse = false
			} else {
				return 0, err
			}
		}
	} else {
		canHandleSparse = false
	}

	return copyExtents(fdIn, fdOut, total, canHandleSparse)
}

func chownIgnoringEPERM(fd, uid, gid int, ignoreEPERM bool) error {
	if err := unix.Fchown(fd, uid, gid); err != nil {
		if ignoreEPERM && errors.Is(err, unix.EPERM) {
			return nil
		}
		return fmt.Errorf("fchown: %w", err)
	}
	return nil
}

func ftruncateRetry(fd int, size int64) error {
	for {
		err := unix.Ftruncate(fd, size)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return err
	}
}

func copyExtents(fdIn, fdOut int, total int64, canHandleSparse bool) (int64, error) {
	useCopyFileRange := hasCopyFileRange.Load()
	useSendfile := hasSendfile.Load()

	var srcPos int64
	nextBeg, nextEnd, canHandleSparse2 := firstExtent(fdIn, 0, total, canHandleSparse)
	canHandleSparse = canHandleSparse2
	nextLen := nextEnd - nextBeg

	for srcPos < total {
		if srcPos != 0 {
			if canHandleSparse {
				var err error
				nextBeg, err = seekRetry(fdIn, srcPos, unix.SEEK_DATA)
				if err != nil {
					return srcPos, err
				}
				nextEnd, err = seekRetry(fdIn, nextBeg, unix.SEEK_HOLE)
				if err != nil {
					return srcPos, err
				}
				nextLen = nextEnd - nextBeg
			} else {
				nextBeg = srcPos
				nextLen = total - srcPos
			}
		}

		if nextLen <= 0 {
			srcPos = nextEnd
			continue
		}

		n, err := copyRange(fdIn, fdOut, &nextBeg, nextLen, canHandleSparse, &useCopyFileRange, &useSendfile)
		if err != nil {
			return srcPos, err
		}
		srcPos += n
	}
	return srcPos, nil
}

func firstExtent(fdIn int, start, total int64, canHandleSparse bool) (beg, end int64, ok bool) {
	if !canHandleSparse {
		return 0, total, false
	}
	beg, err := seekRetry(fdIn, start, unix.SEEK_DATA)
	if err != nil {
		return 0, total, false
	}
	end, err = seekRetry(fdIn, beg, unix.SEEK_HOLE)
	if err != nil {
		return beg, total, false
	}
	return beg, end, true
}

func seekRetry(fd int, offset int64, whence int) (int64, error) {
	for {
		off, err := unix.Seek(fd, offset, whence)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return off, nil
	}
}

// copyRange copies up to length bytes starting at *beg from fdIn to fdOut,
// trying copy_file_range, then sendfile, then a buffered read/write loop,
// falling further down the ladder whenever a tier proves unsupported.
func copyRange(fdIn, fdOut int, beg *int64, length int64, canHandleSparse bool, useCopyFileRange, useSendfile *bool) (int64, error) {
	for {
		if *useCopyFileRange {
			offIn, offOut := *beg, *beg
			n, err := unix.CopyFileRange(fdIn, &offIn, fdOut, &offOut, int(length), 0)
			if err == nil {
				*beg = offIn
				return int64(n), nil
			}
			switch {
			case errors.Is(err, unix.ENOSYS), errors.Is(err, unix.EPERM):
				hasCopyFileRange.Store(false)
				*useCopyFileRange = false
				continue
			case errors.Is(err, unix.EXDEV), errors.Is(err, unix.EINVAL):
				*useCopyFileRange = false
				continue
			default:
				return 0, fmt.Errorf("copy_file_range: %w", err)
			}
		}

		if *useSendfile {
			if canHandleSparse && *beg != 0 {
				if _, err := seekRetry(fdOut, *beg, unix.SEEK_SET); err != nil {
					return 0, err
				}
			}
			off := *beg
			n, err := unix.Sendfile(fdOut, fdIn, &off, int(length))
			if err == nil {
				*beg = off
				return int64(n), nil
			}
			switch {
			case errors.Is(err, unix.ENOSYS), errors.Is(err, unix.EPERM):
				hasSendfile.Store(false)
				*useSendfile = false
				continue
			case errors.Is(err, unix.EINVAL):
				*useSendfile = false
				continue
			default:
				return 0, fmt.Errorf("sendfile: %w", err)
			}
		}

		return readWriteCopy(fdIn, fdOut, beg, length, canHandleSparse)
	}
}

// readWriteCopy falls back to raw read(2)/write(2) on the bare fds; it does
// not wrap them in *os.File, since an *os.File finalizer would close an fd
// still owned by the caller's reader/writer.
func readWriteCopy(fdIn, fdOut int, beg *int64, length int64, canHandleSparse bool) (int64, error) {
	if canHandleSparse {
		if _, err := seekRetry(fdIn, *beg, unix.SEEK_SET); err != nil {
			return 0, err
		}
		if *beg != 0 {
			if _, err := seekRetry(fdOut, *beg, unix.SEEK_SET); err != nil {
				return 0, err
			}
		}
	}

	buf := make([]byte, copyBufSize)
	var written int64
	remaining := length
	for remaining > 0 {
		sliceLen := int64(copyBufSize)
		if remaining < sliceLen {
			sliceLen = remaining
		}
		n, err := unix.Read(fdIn, buf[:sliceLen])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if n == 0 || err == io.EOF {
			break
		}
		if err != nil {
			return written, fmt.Errorf("read: %w", err)
		}
		if err := writeFull(fdOut, buf[:n]); err != nil {
			return written, err
		}
		written += int64(n)
		remaining -= int64(n)
		*beg += int64(n)
	}
	return written, nil
}

func writeFull(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		buf = buf[n:]
	}
	return nil
}
