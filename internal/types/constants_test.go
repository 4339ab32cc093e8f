package types

import (
	"testing"
)

func TestInstallModeValidate(t *testing.T) {
	tests := []struct {
		name    string
		mode    InstallMode
		wantErr bool
	}{
		{"prompt valid", InstallModePrompt, false},
		{"script valid", InstallModeScript, false},
		{"inprocess valid", InstallModeInProcess, false},
		{"notify valid", InstallModeNotify, false},
		{"empty valid", "", false},
		{"invalid value", "python", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mode.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("InstallMode.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseInstallMode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    InstallMode
		wantErr bool
	}{
		{"script lowercase", "script", InstallModeScript, false},
		{"inprocess uppercase", "INPROCESS", InstallModeInProcess, false},
		{"padded", "  notify ", InstallModeNotify, false},
		{"empty defaults to prompt", "", InstallModePrompt, false},
		{"invalid", "batch", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInstallMode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseInstallMode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseInstallMode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInstallModeInstalls(t *testing.T) {
	if !InstallModeScript.Installs() || !InstallModeInProcess.Installs() {
		t.Error("script and inprocess should install")
	}
	if InstallModePrompt.Installs() || InstallModeNotify.Installs() {
		t.Error("prompt and notify should not install without asking")
	}
}

func TestScriptFamilyFor(t *testing.T) {
	tests := []struct {
		goos string
		want ScriptFamily
	}{
		{"windows", ScriptFamilyWindows},
		{"linux", ScriptFamilyPOSIX},
		{"darwin", ScriptFamilyPOSIX},
		{"freebsd", ScriptFamilyPOSIX},
	}

	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			if got := ScriptFamilyFor(tt.goos); got != tt.want {
				t.Errorf("ScriptFamilyFor(%s) = %v, want %v", tt.goos, got, tt.want)
			}
		})
	}
}

func TestScriptFamilyExtension(t *testing.T) {
	if got := ScriptFamilyPOSIX.Extension(); got != ".sh" {
		t.Errorf("posix extension = %s, want .sh", got)
	}
	if got := ScriptFamilyWindows.Extension(); got != ".bat" {
		t.Errorf("windows extension = %s, want .bat", got)
	}
}

func TestScriptFamilyValidate(t *testing.T) {
	for _, f := range AllScriptFamilies() {
		if err := f.Validate(); err != nil {
			t.Errorf("%s.Validate() error = %v", f, err)
		}
	}
	if err := ScriptFamily("").Validate(); err == nil {
		t.Error("empty family should be invalid")
	}
	if err := ScriptFamily("powershell").Validate(); err == nil {
		t.Error("unknown family should be invalid")
	}
}
