package cmd

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/adamancini/appupdater/internal/config"
)

const fooDescriptor = `<details><app>Foo</app><version>1.0</version><platform>win</platform><author>bar</author></details>`

// registryServer serves a fake release registry for bar/Foo with the given
// latest tag. Version 1.1 carries a downloadable win asset.
type registryServer struct {
	*httptest.Server
	downloads atomic.Int32
}

func newRegistry(t *testing.T, latest string, archive []byte) *registryServer {
	t.Helper()
	rs := &registryServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.WriteHeader(http.StatusOK)
		case "/repos/bar/Foo/releases/latest":
			fmt.Fprintf(w, `{"tag_name": %q}`, latest)
		case "/repos/bar/Foo/releases/tags/1.1":
			fmt.Fprintf(w, `{"tag_name": "1.1", "assets": [{"name": "Foo-1.1-win.iflapp", "browser_download_url": %q}]}`,
				rs.URL+"/download/Foo-1.1-win.iflapp")
		case "/download/Foo-1.1-win.iflapp":
			rs.downloads.Add(1)
			if archive == nil {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(archive)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(rs.Close)
	return rs
}

// zipArchive builds an in-memory zip with the given files.
func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// testConfig returns a config for an install dir holding Foo 1.0.
func testConfig(t *testing.T, registryURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "details.xml"), fooDescriptor)
	writeFile(t, filepath.Join(dir, "Foo"), "old binary")

	cfg := config.Default()
	cfg.InstallDir = dir
	cfg.LockPath = filepath.Join(t.TempDir(), config.DefaultLockFileName)
	cfg.Registry.BaseURL = registryURL
	cfg.Install.ScriptDir = t.TempDir()
	cfg.Log.Path = "console"
	return cfg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	return string(data)
}

// withOutputFormat sets the global --output value for one test.
func withOutputFormat(t *testing.T, format string) {
	t.Helper()
	prev := outputFormat
	outputFormat = format
	t.Cleanup(func() { outputFormat = prev })
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("invalid JSON output %q: %v", data, err)
	}
}
