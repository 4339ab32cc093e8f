// Package errors defines the error kinds the updater reports and how they are
// presented to the user.
package errors

import (
	"errors"
	"fmt"
)

// Kind identifies a class of updater failure.
type Kind string

const (
	KindUnknown Kind = "unknown"

	// KindConnectivity: registry unreachable. Transient, retried after a short delay.
	KindConnectivity Kind = "connectivity"
	// KindDescriptor: local application descriptor missing or invalid. Cycle skipped.
	KindDescriptor Kind = "descriptor"
	// KindResolution: release or asset absent. Cycle skipped, informational.
	KindResolution Kind = "resolution"
	// KindDownload: artifact fetch failed during install. Install aborted.
	KindDownload Kind = "download"
	// KindExtractionPermission: a target file is locked by a running process.
	KindExtractionPermission Kind = "extraction_permission"
	// KindUnexpected: anything else. Logged with full detail.
	KindUnexpected Kind = "unexpected"
	// KindLock: the instance lock could not be acquired or written.
	KindLock Kind = "lock"
)

// Error is a classified updater error.
type Error struct {
	Kind    Kind
	Message string
	// Path is the file involved, when there is one.
	Path string
	Err  error
}

// Error implements the error interface.
func (e Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Kind)
}

// Unwrap returns the wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// New wraps an error with a kind and message.
func New(kind Kind, msg string, err error) Error {
	return Error{Kind: kind, Message: msg, Err: err}
}

// WithPath wraps an error with a kind, message and the file it concerns.
func WithPath(kind Kind, msg, path string, err error) Error {
	return Error{Kind: kind, Message: msg, Path: path, Err: err}
}

// KindOf walks the error chain and returns the first kind found.
func KindOf(err error) Kind {
	var classified Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindUnknown
}

// Is reports whether the error (or its unwrap chain) has the provided kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// PathOf returns the file recorded on the first classified error in the chain.
func PathOf(err error) string {
	var classified Error
	if errors.As(err, &classified) {
		return classified.Path
	}
	return ""
}

// UserMessage renders the single notification shown to the user for an
// installation failure.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindExtractionPermission:
		name := PathOf(err)
		if name == "" {
			name = "(unknown)"
		}
		return fmt.Sprintf("Could not update file: %s\nClose the application or run the updater as administrator.", name)
	case KindDownload:
		return "The update could not be downloaded. Check the log for details."
	default:
		return "The automatic installation failed. Check the log for details."
	}
}
