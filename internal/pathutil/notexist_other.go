//go:build !linux

package pathutil

func errorsIsENOTDIR(err error) bool {
	return false
}
