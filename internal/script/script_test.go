package script

import (
	"archive/zip"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/adamancini/appupdater/internal/config"
	"github.com/adamancini/appupdater/internal/types"
)

func newTestGenerator(t *testing.T, family types.ScriptFamily) *Generator {
	t.Helper()
	cfg := config.Default()
	cfg.Install.ScriptDir = t.TempDir()
	return NewGenerator(cfg, WithFamily(family), WithSelfName("updater"))
}

func writeFile(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, mode); err != nil {
		t.Fatal(err)
	}
}

func TestGeneratePOSIX(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "updater"), "self", 0o755)
	writeFile(t, filepath.Join(dir, "notes.txt"), "x", 0o644)
	writeFile(t, filepath.Join(dir, "Foo"), "app", 0o755)

	g := newTestGenerator(t, types.ScriptFamilyPOSIX)
	url := "https://example.com/releases/Foo-1.1-linux.iflapp"

	path, err := g.Generate(dir, url, "pkg.zip", "log.txt")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	base := filepath.Base(path)
	if !strings.HasPrefix(base, "update_") || !strings.HasSuffix(base, ".sh") || len(base) != len("update_12345678.sh") {
		t.Errorf("script name = %s, want update_<8 hex>.sh", base)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat script: %v", err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("script mode = %v, want 0755", info.Mode().Perm())
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	script := string(content)

	for _, want := range []string{
		url,
		dir,
		filepath.Join(dir, "pkg.zip"),
		filepath.Join(dir, "log.txt"),
		"curl ",
		"wget ",
		"unzip -o",
		"nohup '" + filepath.Join(dir, "Foo") + "'",
		"Starting update...",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q:\n%s", want, script)
		}
	}
	if strings.Contains(script, filepath.Join(dir, "updater")+"'") {
		t.Error("script must not relaunch the updater itself")
	}
	if !strings.HasSuffix(strings.TrimSpace(script), "exit 0") {
		t.Error("script must exit 0")
	}
}

func TestGenerateWindows(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "UPDATER"), "self", 0o644)
	writeFile(t, filepath.Join(dir, "Foo.exe"), "app", 0o644)

	g := newTestGenerator(t, types.ScriptFamilyWindows)
	g.selfName = "updater"

	path, err := g.Generate(dir, "https://example.com/Foo.iflapp", "update.zip", "updater_log.txt")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if filepath.Ext(path) != ".bat" {
		t.Errorf("script extension = %s, want .bat", filepath.Ext(path))
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	script := string(content)

	for _, want := range []string{
		`cd /d "` + dir + `"`,
		`bitsadmin /transfer "UpdateJob"`,
		"DownloadFile('https://example.com/Foo.iflapp'",
		"Expand-Archive",
		`start "" "` + filepath.Join(dir, "Foo.exe") + `"`,
		"exit /b 0",
		"\r\n",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q:\n%s", want, script)
		}
	}
}

func TestGenerateWindowsEscapesSpecialCharacters(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Bob's 100%")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	g := newTestGenerator(t, types.ScriptFamilyWindows)
	path, err := g.Generate(dir, "https://example.com/My%20App.iflapp", "update.zip", "log.txt")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	script := string(content)

	escapedDir := strings.ReplaceAll(dir, "%", "%%")
	psDir := strings.ReplaceAll(strings.ReplaceAll(dir, "'", "''"), "%", "%%")
	for _, want := range []string{
		`cd /d "` + escapedDir + `"`,
		`"https://example.com/My%%20App.iflapp"`,
		"DownloadFile('https://example.com/My%%20App.iflapp'",
		"-DestinationPath '" + psDir + "'",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q:\n%s", want, script)
		}
	}
	if strings.Contains(script, "My%20App") {
		t.Error("percent sign left unescaped")
	}
}

func TestGenerateWithoutExecutable(t *testing.T) {
	dir := t.TempDir()
	g := newTestGenerator(t, types.ScriptFamilyPOSIX)

	path, err := g.Generate(dir, "https://example.com/x", "update.zip", "log.txt")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	content, _ := os.ReadFile(path)
	if strings.Contains(string(content), "nohup") {
		t.Error("script should not launch anything when no executable exists")
	}
}

func TestGenerateUniqueNames(t *testing.T) {
	dir := t.TempDir()
	g := newTestGenerator(t, types.ScriptFamilyPOSIX)

	first, err := g.Generate(dir, "u", "update.zip", "log.txt")
	if err != nil {
		t.Fatal(err)
	}
	second, err := g.Generate(dir, "u", "update.zip", "log.txt")
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Errorf("two scripts share the name %s", first)
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "'plain'"},
		{"with space", "'with space'"},
		{"it's", `'it'\''s'`},
		{"$HOME", "'$HOME'"},
	}
	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestLaunch(t *testing.T) {
	tests := []struct {
		family   types.ScriptFamily
		wantPath string
		wantArgs []string
	}{
		{types.ScriptFamilyPOSIX, "/bin/sh", []string{"/tmp/update_1.sh"}},
		{types.ScriptFamilyWindows, "cmd.exe", []string{"/C", "/tmp/update_1.sh"}},
	}

	for _, tt := range tests {
		t.Run(tt.family.String(), func(t *testing.T) {
			var gotPath string
			var gotArgs []string
			g := NewGenerator(config.Default(), WithFamily(tt.family), WithStarter(func(dir, path string, args ...string) error {
				gotPath = path
				gotArgs = args
				return nil
			}))

			if err := g.Launch("/tmp/update_1.sh"); err != nil {
				t.Fatalf("Launch() error = %v", err)
			}
			if gotPath != tt.wantPath || strings.Join(gotArgs, " ") != strings.Join(tt.wantArgs, " ") {
				t.Errorf("started %s %v, want %s %v", gotPath, gotArgs, tt.wantPath, tt.wantArgs)
			}
		})
	}
}

func TestGeneratedPOSIXScriptRuns(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell required")
	}
	for _, tool := range []string{"curl", "unzip"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available", tool)
		}
	}

	src := t.TempDir()
	archive := filepath.Join(src, "release.zip")
	f, err := os.Create(archive)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("data/new.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("v1.1")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	dir := t.TempDir()
	marker := filepath.Join(dir, "relaunched")
	writeFile(t, filepath.Join(dir, "Foo"), "#!/bin/sh\ntouch '"+marker+"'\n", 0o755)

	g := newTestGenerator(t, types.ScriptFamilyPOSIX)
	path, err := g.Generate(dir, "file://"+archive, "pkg.zip", "log.txt")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if out, err := exec.Command("/bin/sh", path).CombinedOutput(); err != nil {
		t.Fatalf("script failed: %v\n%s", err, out)
	}

	got, err := os.ReadFile(filepath.Join(dir, "data", "new.txt"))
	if err != nil || string(got) != "v1.1" {
		t.Errorf("extracted file = %q, %v", got, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "pkg.zip")); !os.IsNotExist(err) {
		t.Error("archive should be removed after extraction")
	}
	logContent, _ := os.ReadFile(filepath.Join(dir, "log.txt"))
	if !strings.Contains(string(logContent), "Starting update...") {
		t.Errorf("log = %q", logContent)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(marker); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("application was not relaunched")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGeneratedScriptToleratesDownloadFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell required")
	}

	dir := t.TempDir()
	g := newTestGenerator(t, types.ScriptFamilyPOSIX)
	path, err := g.Generate(dir, "file://"+filepath.Join(dir, "missing.zip"), "pkg.zip", "log.txt")
	if err != nil {
		t.Fatal(err)
	}

	if out, err := exec.Command("/bin/sh", path).CombinedOutput(); err != nil {
		t.Fatalf("script should exit 0 on download failure: %v\n%s", err, out)
	}
	logContent, _ := os.ReadFile(filepath.Join(dir, "log.txt"))
	if !strings.Contains(string(logContent), "ERROR downloading") {
		t.Errorf("log should record the failure, got %q", logContent)
	}
}
