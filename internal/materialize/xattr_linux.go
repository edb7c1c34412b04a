//go:build linux

// xattr propagation, ported from upstream's acl_copy_fd: POSIX ACLs are
// plain extended attributes on Linux (system.posix_acl_access/_default), so
// copying every xattr on a file already carries its ACLs along with it -
// there's no separate ACL API to call.
package materialize

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// copyXattrs copies every extended attribute from fdIn to fdOut. EPERM on a
// single attribute is swallowed when ignoreEPERM is set (non-root callers
// can't set some attributes back, same as upstream's ignore_eperm path);
// ENODATA/EOPNOTSUPP mean xattrs aren't supported at all and are not errors.
func copyXattrs(fdIn, fdOut int, ignoreEPERM bool) error {
	size, err := unix.Flistxattr(fdIn, nil)
	if err != nil {
		return ignorableXattrErr(err)
	}
	if size == 0 {
		return nil
	}

	names := make([]byte, size)
	n, err := unix.Flistxattr(fdIn, names)
	if err != nil {
		return ignorableXattrErr(err)
	}
	names = names[:n]

	for _, name := range splitXattrNames(names) {
		if err := copyOneXattr(fdIn, fdOut, name, ignoreEPERM); err != nil {
			return err
		}
	}
	return nil
}

func copyOneXattr(fdIn, fdOut int, name string, ignoreEPERM bool) error {
	size, err := unix.Fgetxattr(fdIn, name, nil)
	if err != nil {
		return ignorableXattrErr(err)
	}
	buf := make([]byte, size)
	n, err := unix.Fgetxattr(fdIn, name, buf)
	if err != nil {
		return ignorableXattrErr(err)
	}
	buf = buf[:n]

	if err := unix.Fsetxattr(fdOut, name, buf, 0); err != nil {
		switch {
		case errors.Is(err, unix.EPERM):
			if !ignoreEPERM {
				return fmt.Errorf("set xattr %q: %w", name, err)
			}
		case errors.Is(err, unix.EOPNOTSUPP):
		default:
			return fmt.Errorf("set xattr %q: %w", name, err)
		}
	}
	return nil
}

func ignorableXattrErr(err error) error {
	if errors.Is(err, unix.ENODATA) || errors.Is(err, unix.EOPNOTSUPP) {
		return nil
	}
	return fmt.Errorf("xattr: %w", err)
}

// splitXattrNames splits the NUL-separated name list flistxattr(2) returns.
func splitXattrNames(names []byte) []string {
	var out []string
	start := 0
	for i, b := range names {
		if b == 0 {
			if i > start {
				out = append(out, string(names[start:i]))
			}
			start = i + 1
		}
	}
	return out
}
