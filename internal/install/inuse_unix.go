//go:build unix

package install

import (
	"errors"

	"golang.org/x/sys/unix"
)

// inUseErrno is the error a busy target reports; tests use it to simulate one.
var inUseErrno error = unix.ETXTBSY

func isFileInUse(err error) bool {
	return errors.Is(err, unix.ETXTBSY) || errors.Is(err, unix.EBUSY)
}
