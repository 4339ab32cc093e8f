// Package platform holds the OS-specific details of locating and launching
// the host application.
package platform

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform describes an operating system and architecture.
type Platform struct {
	OS   string // Operating system (windows, darwin, linux)
	Arch string // Architecture (amd64, arm64)
}

// Detect returns the current platform.
func Detect() Platform {
	return Platform{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}
}

// String returns "os/arch".
func (p Platform) String() string {
	return fmt.Sprintf("%s/%s", p.OS, p.Arch)
}

// IsWindows reports whether the platform is Windows.
func (p Platform) IsWindows() bool {
	return p.OS == "windows"
}

// ExecutableName returns the file name of the application's executable,
// e.g. "Foo.exe" on Windows and "Foo" elsewhere.
func (p Platform) ExecutableName(app string) string {
	if p.IsWindows() {
		return app + ".exe"
	}
	return app
}

// FindExecutable returns the path of app's executable in dir, or "" when it
// does not exist.
func (p Platform) FindExecutable(dir, app string) string {
	path := filepath.Join(dir, p.ExecutableName(app))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	return path
}

// SelfName returns the file name of the running binary, or "" when it cannot
// be determined.
func SelfName() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Base(exe)
}

// IsSelf reports whether name matches self, the running binary's file name
// as returned by SelfName. foldCase compares case-insensitively, as Windows
// file systems do. An empty self never matches.
func IsSelf(name, self string, foldCase bool) bool {
	if self == "" {
		return false
	}
	if foldCase {
		return strings.EqualFold(name, self)
	}
	return name == self
}

// StartDetached starts path with args in dir, detached from this process so
// it survives the updater exiting. The child is not waited for.
func StartDetached(dir, path string, args ...string) error {
	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	setDetachedProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", path, err)
	}

	// Release so no zombie is left behind when we never Wait
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("failed to release %s: %w", path, err)
	}
	return nil
}
