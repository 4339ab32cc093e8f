//go:build !windows

package platform

import (
	"errors"
	"io/fs"
	"syscall"
)

// IsLocked reports whether err means a file is held by a running process.
// Replacing a running executable in place fails with ETXTBSY.
func IsLocked(err error) bool {
	return errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.ETXTBSY)
}
