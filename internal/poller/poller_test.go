package poller

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adamancini/appupdater/internal/config"
	"github.com/adamancini/appupdater/internal/descriptor"
	uerrors "github.com/adamancini/appupdater/internal/errors"
	"github.com/adamancini/appupdater/internal/registry"
)

// fakeResolver serves a single release with a fixed asset list.
type fakeResolver struct {
	mu        sync.Mutex
	offline   bool
	remote    string
	assets    map[string]string // asset name -> url
	versionCh int
}

func (f *fakeResolver) Probe(ctx context.Context) (time.Duration, error) {
	if f.offline {
		return 0, uerrors.New(uerrors.KindConnectivity, "offline", nil)
	}
	return 3 * time.Millisecond, nil
}

func (f *fakeResolver) ResolveVersion(ctx context.Context, owner, app string) (string, error) {
	f.mu.Lock()
	f.versionCh++
	f.mu.Unlock()
	if f.remote == "" {
		return "", registry.ErrNotFound
	}
	return f.remote, nil
}

func (f *fakeResolver) ResolveAsset(ctx context.Context, owner, app, version, platform string) (registry.ReleaseAsset, error) {
	name := app + "-" + version + "-" + platform + ".iflapp"
	if url, ok := f.assets[name]; ok {
		return registry.ReleaseAsset{FileName: name, DownloadURL: url}, nil
	}
	return registry.ReleaseAsset{}, registry.ErrNotFound
}

func (f *fakeResolver) versionCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.versionCh
}

func writeDescriptor(t *testing.T, content string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "details.xml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.InstallDir = dir
	return cfg
}

const fooDescriptor = `<details><app>Foo</app><version>1.0</version><platform>win</platform><author>bar</author></details>`

func waitDone(t *testing.T, p *Poller, timeout time.Duration) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(timeout):
		t.Fatalf("poller did not stop within %s (state %s)", timeout, p.State())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPollerEmitsUpdateAndStops(t *testing.T) {
	cfg := writeDescriptor(t, fooDescriptor)
	resolver := &fakeResolver{
		remote: "1.1",
		assets: map[string]string{"Foo-1.1-win.iflapp": "https://dl/Foo-1.1-win.iflapp"},
	}

	p := New(cfg, resolver, WithTick(time.Millisecond))
	events := p.Start(context.Background())

	want := UpdateEvent{AppName: "Foo", RemoteVersion: "1.1", Platform: "win", DownloadURL: "https://dl/Foo-1.1-win.iflapp"}

	select {
	case got, ok := <-events:
		if !ok {
			t.Fatal("events closed without an update")
		}
		if got != want {
			t.Errorf("event = %+v, want %+v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no update event")
	}

	waitDone(t, p, time.Second)
	if _, ok := <-events; ok {
		t.Error("a second event was delivered")
	}
	if p.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", p.State())
	}
	if m := p.Metrics(); m.Checks != 1 || m.LastProbeLatency != 3*time.Millisecond {
		t.Errorf("Metrics() = %+v", m)
	}
}

func TestPollerSameVersionNeverEmits(t *testing.T) {
	cfg := writeDescriptor(t, fooDescriptor)
	resolver := &fakeResolver{
		remote: "1.0",
		assets: map[string]string{"Foo-1.0-win.iflapp": "https://dl/x"},
	}

	p := New(cfg, resolver, WithTick(time.Millisecond))
	events := p.Start(context.Background())

	waitFor(t, func() bool { return resolver.versionCalls() >= 3 })
	p.Stop()
	waitDone(t, p, time.Second)

	if ev, ok := <-events; ok {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestPollerPlatformMismatchKeepsPolling(t *testing.T) {
	cfg := writeDescriptor(t, fooDescriptor)
	resolver := &fakeResolver{
		remote: "1.1",
		assets: map[string]string{"Foo-1.1-linux.iflapp": "https://dl/linux"},
	}

	p := New(cfg, resolver, WithTick(time.Millisecond))
	events := p.Start(context.Background())

	waitFor(t, func() bool { return resolver.versionCalls() >= 2 })
	p.Stop()
	waitDone(t, p, time.Second)

	if ev, ok := <-events; ok {
		t.Errorf("unexpected event %+v", ev)
	}
	if m := p.Metrics(); m.Failures != 0 {
		t.Errorf("missing asset is informational, got %d failures", m.Failures)
	}
}

func TestPollerInvalidDescriptorCountsFailure(t *testing.T) {
	cfg := writeDescriptor(t, `<details><app>Foo</app><version>1.0</version></details>`)
	resolver := &fakeResolver{remote: "1.1"}

	p := New(cfg, resolver, WithTick(time.Millisecond))
	p.Start(context.Background())

	waitFor(t, func() bool { return p.Metrics().Failures >= 2 })
	p.Stop()
	waitDone(t, p, time.Second)

	if resolver.versionCalls() != 0 {
		t.Error("registry must not be queried without a valid descriptor")
	}
}

func TestPollerOfflineDoesNotCountFailure(t *testing.T) {
	cfg := writeDescriptor(t, fooDescriptor)
	resolver := &fakeResolver{offline: true}

	p := New(cfg, resolver, WithTick(time.Millisecond))
	p.Start(context.Background())

	waitFor(t, func() bool { return p.Metrics().Checks >= 3 })
	p.Stop()
	waitDone(t, p, time.Second)

	if m := p.Metrics(); m.Failures != 0 {
		t.Errorf("offline cycles counted %d failures", m.Failures)
	}
}

func TestPollerRecoversFromPanic(t *testing.T) {
	cfg := config.Default()
	calls := 0
	reader := func(string) (descriptor.Descriptor, error) {
		calls++
		if calls == 1 {
			panic("corrupted state")
		}
		return descriptor.Descriptor{Name: "Foo", Version: "1.0", Platform: "win", Maintainer: "bar"}, nil
	}
	resolver := &fakeResolver{
		remote: "1.1",
		assets: map[string]string{"Foo-1.1-win.iflapp": "https://dl/win"},
	}

	p := New(cfg, resolver, WithTick(time.Millisecond), WithDescriptorReader(reader))
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	ev, ok := <-p.Events()
	if !ok || ev.DownloadURL != "https://dl/win" {
		t.Errorf("event after recovery = %+v, %v", ev, ok)
	}
	if m := p.Metrics(); m.Failures != 1 {
		t.Errorf("Failures = %d, want 1", m.Failures)
	}
}

func TestPollerStopDuringSleep(t *testing.T) {
	cfg := writeDescriptor(t, fooDescriptor)
	resolver := &fakeResolver{remote: "1.0"}

	// Real one-second ticks over the default 60s interval
	p := New(cfg, resolver)
	p.Start(context.Background())

	waitFor(t, func() bool { return p.State() == StateSleeping })
	start := time.Now()
	p.Stop()
	waitDone(t, p, 2*time.Second)

	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Errorf("stop took %s", elapsed)
	}
}

func TestPollerContextCancel(t *testing.T) {
	cfg := writeDescriptor(t, fooDescriptor)
	ctx, cancel := context.WithCancel(context.Background())

	p := New(cfg, &fakeResolver{remote: "1.0"})
	p.Start(ctx)

	waitFor(t, func() bool { return p.State() == StateSleeping })
	cancel()
	waitDone(t, p, time.Second)
}

func TestPollerRunTwice(t *testing.T) {
	p := New(config.Default(), &fakeResolver{})
	p.Stop()
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if err := p.Run(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Run() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestIntervalClamped(t *testing.T) {
	cfg := config.Default()
	cfg.Poll.Interval = time.Second

	p := New(cfg, &fakeResolver{})
	if p.interval != config.MinPollInterval {
		t.Errorf("interval = %s, want %s", p.interval, config.MinPollInterval)
	}
}

func TestDescribeChange(t *testing.T) {
	tests := []struct {
		local, remote, want string
	}{
		{"1.0", "1.1", "newer than 1.0"},
		{"1.10", "1.9", "older than 1.10"},
		{"1.0", "1.0.0", "equivalent to 1.0"},
		{"beta", "1.0", "local beta"},
	}

	for _, tt := range tests {
		t.Run(tt.local+"->"+tt.remote, func(t *testing.T) {
			if got := describeChange(tt.local, tt.remote); got != tt.want {
				t.Errorf("describeChange() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	asset := map[string]string{"Foo-1.1-win.iflapp": "https://dl/Foo-1.1-win.iflapp"}

	tests := []struct {
		name       string
		descriptor string
		resolver   *fakeResolver
		want       Status
		wantErr    bool
	}{
		{"offline", fooDescriptor, &fakeResolver{offline: true}, StatusOffline, true},
		{"no author", `<details><app>Foo</app><version>1.0</version></details>`, &fakeResolver{remote: "1.1"}, StatusInvalidDescriptor, true},
		{"no release", fooDescriptor, &fakeResolver{}, StatusNoRelease, true},
		{"up to date", fooDescriptor, &fakeResolver{remote: "1.0"}, StatusUpToDate, false},
		{"no asset", fooDescriptor, &fakeResolver{remote: "1.1"}, StatusNoAsset, true},
		{"update", fooDescriptor, &fakeResolver{remote: "1.1", assets: asset}, StatusUpdateAvailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := writeDescriptor(t, tt.descriptor)
			p := New(cfg, tt.resolver)

			res := p.Check(context.Background())
			if res.Status != tt.want {
				t.Fatalf("Status = %s, want %s (err %v)", res.Status, tt.want, res.Err)
			}
			if (res.Err != nil) != tt.wantErr {
				t.Errorf("Err = %v, wantErr %v", res.Err, tt.wantErr)
			}
			if (res.Update != nil) != (tt.want == StatusUpdateAvailable) {
				t.Errorf("Update = %+v", res.Update)
			}
			if p.Metrics().Checks != 0 {
				t.Error("Check should not touch loop metrics")
			}
		})
	}
}

func TestCheckNotFoundIsSentinel(t *testing.T) {
	p := New(writeDescriptor(t, fooDescriptor), &fakeResolver{remote: "1.1"})

	res := p.Check(context.Background())
	if !errors.Is(res.Err, registry.ErrNotFound) {
		t.Errorf("Err = %v, want wrapping ErrNotFound", res.Err)
	}
}

func TestCheckResultRenderText(t *testing.T) {
	res := CheckResult{
		Status:        StatusUpdateAvailable,
		Installed:     "Foo v1.0 (win)",
		LocalVersion:  "1.0",
		RemoteVersion: "1.1",
		Update:        &UpdateEvent{DownloadURL: "https://dl/Foo-1.1-win.iflapp"},
	}

	var buf strings.Builder
	if err := res.RenderText(&buf); err != nil {
		t.Fatal(err)
	}
	want := "Installed: Foo v1.0 (win)\nUpdate available: 1.1 (newer than 1.0)\nDownload: https://dl/Foo-1.1-win.iflapp\n"
	if buf.String() != want {
		t.Errorf("RenderText() = %q, want %q", buf.String(), want)
	}
}
