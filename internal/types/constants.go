// Package types provides type-safe constants shared by the updater packages.
//
// Config validation (internal/config/validate.go) and the CLI flag completion
// in internal/cmd both read from the All* helpers here, so a new value only
// needs to be added once.
package types

import (
	"fmt"
	"strings"
)

// InstallMode selects what happens once an update has been found.
type InstallMode string

const (
	// InstallModePrompt asks the user on the terminal which installer to use.
	InstallModePrompt InstallMode = "prompt"
	// InstallModeScript generates a standalone installer script and launches it.
	InstallModeScript InstallMode = "script"
	// InstallModeInProcess installs the update from inside the updater process.
	InstallModeInProcess InstallMode = "inprocess"
	// InstallModeNotify only reports the update and exits.
	InstallModeNotify InstallMode = "notify"
)

// AllInstallModes returns all valid install modes.
func AllInstallModes() []InstallMode {
	return []InstallMode{InstallModePrompt, InstallModeScript, InstallModeInProcess, InstallModeNotify}
}

// Validate checks if the InstallMode is a valid value.
// Empty mode is considered valid (defaults to prompt).
func (m InstallMode) Validate() error {
	switch m {
	case InstallModePrompt, InstallModeScript, InstallModeInProcess, InstallModeNotify, "":
		return nil
	default:
		return fmt.Errorf("invalid install mode '%s' (must be prompt, script, inprocess, or notify)", m)
	}
}

// String returns the string representation of the InstallMode.
func (m InstallMode) String() string {
	return string(m)
}

// Default returns the default mode if empty, otherwise returns the current mode.
func (m InstallMode) Default() InstallMode {
	if m == "" {
		return InstallModePrompt
	}
	return m
}

// Installs returns true if the mode runs an installer without asking.
func (m InstallMode) Installs() bool {
	return m == InstallModeScript || m == InstallModeInProcess
}

// ParseInstallMode parses a string into an InstallMode.
// Returns an error if the string is not a valid install mode.
func ParseInstallMode(s string) (InstallMode, error) {
	mode := InstallMode(strings.ToLower(strings.TrimSpace(s)))
	if err := mode.Validate(); err != nil {
		return "", err
	}
	return mode.Default(), nil
}

// ScriptFamily is the shell dialect an installer script is written in.
type ScriptFamily string

const (
	// ScriptFamilyPOSIX produces a bash script for Linux, macOS and BSDs.
	ScriptFamilyPOSIX ScriptFamily = "posix"
	// ScriptFamilyWindows produces a cmd.exe batch file.
	ScriptFamilyWindows ScriptFamily = "windows"
)

// AllScriptFamilies returns all valid script families.
func AllScriptFamilies() []ScriptFamily {
	return []ScriptFamily{ScriptFamilyPOSIX, ScriptFamilyWindows}
}

// ScriptFamilyFor maps a GOOS value to its script family.
func ScriptFamilyFor(goos string) ScriptFamily {
	if goos == "windows" {
		return ScriptFamilyWindows
	}
	return ScriptFamilyPOSIX
}

// Validate checks if the ScriptFamily is a valid value.
func (f ScriptFamily) Validate() error {
	switch f {
	case ScriptFamilyPOSIX, ScriptFamilyWindows:
		return nil
	case "":
		return fmt.Errorf("script family is required")
	default:
		return fmt.Errorf("invalid script family '%s' (must be posix or windows)", f)
	}
}

// String returns the string representation of the ScriptFamily.
func (f ScriptFamily) String() string {
	return string(f)
}

// Extension returns the file extension used for scripts of this family.
func (f ScriptFamily) Extension() string {
	if f == ScriptFamilyWindows {
		return ".bat"
	}
	return ".sh"
}

// IsWindows returns true if the family is windows.
func (f ScriptFamily) IsWindows() bool {
	return f == ScriptFamilyWindows
}
