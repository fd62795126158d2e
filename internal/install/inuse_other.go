//go:build !windows && !unix

package install

import "errors"

var inUseErrno = errors.New("file busy")

func isFileInUse(err error) bool {
	return errors.Is(err, inUseErrno)
}
