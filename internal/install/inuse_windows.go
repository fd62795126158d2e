//go:build windows

package install

import (
	"errors"

	"golang.org/x/sys/windows"
)

// inUseErrno is the error a locked target reports; tests use it to simulate one.
var inUseErrno error = windows.ERROR_SHARING_VIOLATION

func isFileInUse(err error) bool {
	return errors.Is(err, windows.ERROR_SHARING_VIOLATION) ||
		errors.Is(err, windows.ERROR_ACCESS_DENIED) ||
		errors.Is(err, windows.ERROR_LOCK_VIOLATION) ||
		errors.Is(err, windows.ERROR_USER_MAPPED_FILE)
}
