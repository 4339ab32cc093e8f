// Package script generates standalone installer scripts that download,
// extract and relaunch an update without depending on the updater process.
package script

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/adamancini/appupdater/internal/config"
	"github.com/adamancini/appupdater/internal/logging"
	"github.com/adamancini/appupdater/internal/platform"
	"github.com/adamancini/appupdater/internal/types"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var scripts = template.Must(template.New("").Funcs(template.FuncMap{
	"quote":   shellQuote,
	"batch":   batchEscape,
	"psquote": psQuote,
}).ParseFS(templatesFS, "templates/*.tmpl"))

// templateName maps a script family to its embedded template.
var templateName = map[types.ScriptFamily]string{
	types.ScriptFamilyPOSIX:   "posix.sh.tmpl",
	types.ScriptFamilyWindows: "windows.bat.tmpl",
}

// scriptData is the set of values baked into a generated script.
type scriptData struct {
	Dir     string
	URL     string
	Archive string
	Log     string
	Exe     string
}

// StartFunc launches a process detached from the updater.
type StartFunc func(dir, path string, args ...string) error

// Generator writes installer scripts.
type Generator struct {
	family   types.ScriptFamily
	dir      string
	selfName string
	start    StartFunc
	logger   *log.Entry
}

// Option configures a Generator.
type Option func(*Generator)

// WithFamily selects the script syntax. Defaults to the host OS family.
func WithFamily(f types.ScriptFamily) Option {
	return func(g *Generator) {
		g.family = f
	}
}

// WithSelfName sets the binary name excluded from the relaunch search.
func WithSelfName(name string) Option {
	return func(g *Generator) {
		g.selfName = name
	}
}

// WithStarter replaces the detached process starter used by Launch.
func WithStarter(fn StartFunc) Option {
	return func(g *Generator) {
		g.start = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Entry) Option {
	return func(g *Generator) {
		g.logger = l
	}
}

// NewGenerator creates a generator writing into cfg.Install.ScriptDir, or
// the OS temp dir when that is empty.
func NewGenerator(cfg *config.Config, opts ...Option) *Generator {
	dir := cfg.Install.ScriptDir
	if dir == "" {
		dir = os.TempDir()
	}

	g := &Generator{
		family:   types.ScriptFamilyFor(runtime.GOOS),
		dir:      dir,
		selfName: platform.SelfName(),
		start:    platform.StartDetached,
		logger:   logging.Component("script"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Family returns the script family the generator emits.
func (g *Generator) Family() types.ScriptFamily {
	return g.family
}

// Generate writes an installer script for targetDir and returns its path.
// A relative logPath is resolved against targetDir.
func (g *Generator) Generate(targetDir, downloadURL, archiveName, logPath string) (string, error) {
	dir, err := filepath.Abs(targetDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", targetDir, err)
	}

	if !filepath.IsAbs(logPath) {
		logPath = filepath.Join(dir, logPath)
	}

	data := scriptData{
		Dir:     dir,
		URL:     downloadURL,
		Archive: filepath.Join(dir, archiveName),
		Log:     logPath,
		Exe:     g.findExecutable(dir, archiveName),
	}

	content, err := g.render(data)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create script directory: %w", err)
	}

	name := fmt.Sprintf("update_%s%s", uuid.NewString()[:8], g.family.Extension())
	path := filepath.Join(g.dir, name)

	mode := os.FileMode(0o644)
	if !g.family.IsWindows() {
		mode = 0o755
	}
	if err := os.WriteFile(path, content, mode); err != nil {
		return "", fmt.Errorf("failed to write installer script: %w", err)
	}
	// umask may have narrowed the mode
	if err := os.Chmod(path, mode); err != nil {
		return "", fmt.Errorf("failed to set script permissions: %w", err)
	}

	g.logger.Infof("Installer generated at %s", path)
	if data.Exe == "" {
		g.logger.Warnf("No executable found in %s to relaunch", dir)
	}
	return path, nil
}

// Launch starts a generated script detached from the updater.
func (g *Generator) Launch(scriptPath string) error {
	dir := filepath.Dir(scriptPath)

	var err error
	if g.family.IsWindows() {
		err = g.start(dir, "cmd.exe", "/C", scriptPath)
	} else {
		err = g.start(dir, "/bin/sh", scriptPath)
	}
	if err != nil {
		return fmt.Errorf("failed to launch installer script: %w", err)
	}

	g.logger.Infof("Installer script launched: %s", scriptPath)
	return nil
}

func (g *Generator) render(data scriptData) ([]byte, error) {
	name, ok := templateName[g.family]
	if !ok {
		return nil, fmt.Errorf("no installer template for %s", g.family)
	}

	var buf bytes.Buffer
	if err := scripts.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("failed to render installer script: %w", err)
	}

	if g.family.IsWindows() {
		return []byte(strings.ReplaceAll(buf.String(), "\n", "\r\n")), nil
	}
	return buf.Bytes(), nil
}

// findExecutable returns the first executable in dir, by name, that is not
// the updater itself. On Windows only .exe files count; elsewhere any
// regular file with an execute bit that is not a script or the archive.
func (g *Generator) findExecutable(dir, archiveName string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		g.logger.Warnf("Could not list %s: %v", dir, err)
		return ""
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if name == archiveName || platform.IsSelf(name, g.selfName, g.family.IsWindows()) {
			continue
		}

		if g.family.IsWindows() {
			if strings.EqualFold(filepath.Ext(name), ".exe") {
				return filepath.Join(dir, name)
			}
			continue
		}

		if strings.HasSuffix(name, ".sh") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Mode().Perm()&0o111 != 0 {
			return filepath.Join(dir, name)
		}
	}
	return ""
}

// shellQuote wraps s in single quotes for POSIX shells.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// batchEscape doubles percent signs so cmd.exe does not expand them inside a
// double-quoted batch argument.
func batchEscape(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}

// psQuote escapes s for a PowerShell single-quoted string that itself sits
// inside a batch line.
func psQuote(s string) string {
	return batchEscape(strings.ReplaceAll(s, "'", "''"))
}
