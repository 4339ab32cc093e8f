package platform

import (
	"errors"
	"io/fs"

	"golang.org/x/sys/windows"
)

// IsLocked reports whether err means a file is held by a running process.
func IsLocked(err error) bool {
	return errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, windows.ERROR_SHARING_VIOLATION) ||
		errors.Is(err, windows.ERROR_LOCK_VIOLATION)
}
