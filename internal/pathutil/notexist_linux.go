//go:build linux

package pathutil

import (
	"errors"

	"golang.org/x/sys/unix"
)

func errorsIsENOTDIR(err error) bool {
	return errors.Is(err, unix.ENOTDIR)
}
