// Package poller runs the background loop that checks the registry for a
// newer release of the installed application.
package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"

	"github.com/adamancini/appupdater/internal/config"
	"github.com/adamancini/appupdater/internal/descriptor"
	"github.com/adamancini/appupdater/internal/logging"
	"github.com/adamancini/appupdater/internal/registry"
)

// ErrAlreadyStarted is returned when Run is called more than once.
var ErrAlreadyStarted = errors.New("poller already started")

// State is the poller's position in its loop.
type State int32

const (
	StateIdle State = iota
	StateChecking
	StateSleeping
	StateFound
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StateSleeping:
		return "sleeping"
	case StateFound:
		return "found"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// UpdateEvent announces an installable update. At most one is produced per
// poller.
type UpdateEvent struct {
	AppName       string `json:"app_name" yaml:"app_name"`
	RemoteVersion string `json:"remote_version" yaml:"remote_version"`
	Platform      string `json:"platform" yaml:"platform"`
	DownloadURL   string `json:"download_url" yaml:"download_url"`
}

// Metrics is a diagnostic snapshot.
type Metrics struct {
	Checks           int           `json:"checks" yaml:"checks"`
	Failures         int           `json:"failures" yaml:"failures"`
	LastProbeLatency time.Duration `json:"last_probe_latency" yaml:"last_probe_latency"`
}

// Resolver is the registry surface the poller needs.
type Resolver interface {
	Probe(ctx context.Context) (time.Duration, error)
	ResolveVersion(ctx context.Context, owner, app string) (string, error)
	ResolveAsset(ctx context.Context, owner, app, version, platform string) (registry.ReleaseAsset, error)
}

// DescriptorReader loads the local application descriptor.
type DescriptorReader func(path string) (descriptor.Descriptor, error)

// Poller checks for updates until it finds one or is stopped.
type Poller struct {
	resolver       Resolver
	readDescriptor DescriptorReader
	descriptorPath string
	interval       time.Duration
	offlineRetry   time.Duration
	tick           time.Duration
	logger         *log.Entry

	events  chan UpdateEvent
	done    chan struct{}
	started atomic.Bool
	stopped atomic.Bool
	state   atomic.Int32

	mu      sync.Mutex
	metrics Metrics
}

// Option configures a Poller.
type Option func(*Poller)

// WithTick sets the length of one sleep tick. Sleeps are counted in whole
// seconds of the configured interval, each lasting one tick, and the stop
// flag is checked between ticks. Defaults to one second.
func WithTick(d time.Duration) Option {
	return func(p *Poller) {
		p.tick = d
	}
}

// WithDescriptorReader replaces the descriptor reader.
func WithDescriptorReader(r DescriptorReader) Option {
	return func(p *Poller) {
		p.readDescriptor = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Entry) Option {
	return func(p *Poller) {
		p.logger = l
	}
}

// New creates a poller. The poll interval is clamped to
// config.MinPollInterval.
func New(cfg *config.Config, resolver Resolver, opts ...Option) *Poller {
	interval := cfg.Poll.Interval
	if interval < config.MinPollInterval {
		interval = config.MinPollInterval
	}

	p := &Poller{
		resolver:       resolver,
		readDescriptor: descriptor.Read,
		descriptorPath: cfg.ResolveInInstallDir(cfg.DescriptorPath),
		interval:       interval,
		offlineRetry:   cfg.Poll.OfflineRetry,
		tick:           time.Second,
		logger:         logging.Component("poller"),
		events:         make(chan UpdateEvent, 1),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Events returns the one-shot channel. It receives at most one event and is
// closed when the poller stops.
func (p *Poller) Events() <-chan UpdateEvent {
	return p.events
}

// Done is closed when Run returns.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// State returns the current state.
func (p *Poller) State() State {
	return State(p.state.Load())
}

// Metrics returns a snapshot of the counters.
func (p *Poller) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// Stop asks the loop to end. It is honoured between iterations and between
// sleep ticks; an in-flight request is allowed to finish.
func (p *Poller) Stop() {
	p.stopped.Store(true)
}

// Start runs the poller on a new goroutine and returns its event channel.
func (p *Poller) Start(ctx context.Context) <-chan UpdateEvent {
	go func() {
		if err := p.Run(ctx); err != nil {
			p.logger.Warn(err)
		}
	}()
	return p.events
}

// Run loops until an update is found, Stop is called or ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	var found *UpdateEvent
	defer func() {
		p.setState(StateStopped)
		if found != nil {
			p.events <- *found
		}
		close(p.events)
		close(p.done)
	}()

	for !p.stopped.Load() && ctx.Err() == nil {
		event, wait := p.safeCycle(ctx)
		if event != nil {
			p.setState(StateFound)
			found = event
			return nil
		}

		p.setState(StateSleeping)
		p.sleep(ctx, wait)
	}

	p.logger.Debug("Poller stopped")
	return nil
}

// safeCycle runs one check. A panic is logged and counted as a failed cycle.
func (p *Poller) safeCycle(ctx context.Context) (event *UpdateEvent, wait time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("Checker error: %v\n%s", r, debug.Stack())
			p.recordFailure()
			event, wait = nil, p.interval
		}
	}()
	return p.cycle(ctx)
}

// Status is the outcome of a single check.
type Status string

const (
	StatusOffline           Status = "offline"
	StatusInvalidDescriptor Status = "invalid_descriptor"
	StatusNoRelease         Status = "no_release"
	StatusUpToDate          Status = "up_to_date"
	StatusNoAsset           Status = "no_asset"
	StatusUpdateAvailable   Status = "update_available"
)

// CheckResult describes one pass over the registry.
type CheckResult struct {
	Status        Status        `json:"status" yaml:"status"`
	Installed     string        `json:"installed,omitempty" yaml:"installed,omitempty"`
	LocalVersion  string        `json:"local_version,omitempty" yaml:"local_version,omitempty"`
	RemoteVersion string        `json:"remote_version,omitempty" yaml:"remote_version,omitempty"`
	ProbeLatency  time.Duration `json:"probe_latency" yaml:"probe_latency"`
	Update        *UpdateEvent  `json:"update,omitempty" yaml:"update,omitempty"`
	Error         string        `json:"error,omitempty" yaml:"error,omitempty"`
	Err           error         `json:"-" yaml:"-"`
}

// Check runs one probe and resolution pass without touching the loop
// state or metrics.
func (p *Poller) Check(ctx context.Context) (res CheckResult) {
	defer func() {
		if res.Err != nil {
			res.Error = res.Err.Error()
		}
	}()

	latency, err := p.resolver.Probe(ctx)
	if err != nil {
		return CheckResult{Status: StatusOffline, Err: err}
	}
	res.ProbeLatency = latency

	local, err := p.readDescriptor(p.descriptorPath)
	if err == nil && !local.Valid() {
		err = fmt.Errorf("descriptor %s has no author", p.descriptorPath)
	}
	if err != nil {
		res.Status, res.Err = StatusInvalidDescriptor, err
		return res
	}
	res.Installed = local.String()
	res.LocalVersion = local.Version

	remote, err := p.resolver.ResolveVersion(ctx, local.Maintainer, local.Name)
	if err != nil {
		res.Status, res.Err = StatusNoRelease, err
		return res
	}
	res.RemoteVersion = remote

	if remote == local.Version {
		res.Status = StatusUpToDate
		return res
	}

	asset, err := p.resolver.ResolveAsset(ctx, local.Maintainer, local.Name, remote, local.Platform)
	if err != nil {
		res.Status, res.Err = StatusNoAsset, fmt.Errorf("platform %s: %w", local.Platform, err)
		return res
	}

	res.Status = StatusUpdateAvailable
	res.Update = &UpdateEvent{
		AppName:       local.Name,
		RemoteVersion: remote,
		Platform:      local.Platform,
		DownloadURL:   asset.DownloadURL,
	}
	return res
}

// RenderText writes the result for a terminal.
func (r CheckResult) RenderText(w io.Writer) error {
	var err error
	line := func(format string, args ...interface{}) {
		if err == nil {
			_, err = fmt.Fprintf(w, format+"\n", args...)
		}
	}

	if r.Installed != "" {
		line("Installed: %s", r.Installed)
	}
	switch r.Status {
	case StatusOffline:
		line("Registry unreachable: %v", r.Err)
	case StatusInvalidDescriptor:
		line("Local descriptor missing or invalid: %v", r.Err)
	case StatusNoRelease:
		line("No release found: %v", r.Err)
	case StatusUpToDate:
		line("Up to date (%s)", r.RemoteVersion)
	case StatusNoAsset:
		line("Version %s has no matching asset: %v", r.RemoteVersion, r.Err)
	case StatusUpdateAvailable:
		line("Update available: %s (%s)", r.RemoteVersion, describeChange(r.LocalVersion, r.RemoteVersion))
		line("Download: %s", r.Update.DownloadURL)
	}
	return err
}

func (p *Poller) cycle(ctx context.Context) (*UpdateEvent, time.Duration) {
	p.setState(StateChecking)
	p.mu.Lock()
	p.metrics.Checks++
	p.mu.Unlock()

	res := p.Check(ctx)
	if res.Status != StatusOffline {
		p.mu.Lock()
		p.metrics.LastProbeLatency = res.ProbeLatency
		p.mu.Unlock()
	}
	if res.Installed != "" {
		p.logger.Infof("Installed %s", res.Installed)
	}

	switch res.Status {
	case StatusOffline:
		p.logger.Infof("No network, waiting... (%v)", res.Err)
		return nil, p.offlineRetry
	case StatusInvalidDescriptor:
		p.logger.Warnf("Local descriptor missing or invalid: %v", res.Err)
		p.recordFailure()
	case StatusNoRelease:
		p.logResolution("No release found", res.Err)
	case StatusUpToDate:
		p.logger.Info("No updates")
	case StatusNoAsset:
		p.logger.Infof("Remote version %s", res.RemoteVersion)
		p.logResolution("Asset not found", res.Err)
	case StatusUpdateAvailable:
		p.logger.Infof("Remote version %s (%s)", res.RemoteVersion, describeChange(res.LocalVersion, res.RemoteVersion))
		return res.Update, 0
	}
	return nil, p.interval
}

// logResolution logs expected absences at info level and anything else as a
// failed cycle.
func (p *Poller) logResolution(msg string, err error) {
	if errors.Is(err, registry.ErrNotFound) {
		p.logger.Infof("%s: %v", msg, err)
		return
	}
	p.logger.Warnf("%s: %v", msg, err)
	p.recordFailure()
}

func (p *Poller) recordFailure() {
	p.mu.Lock()
	p.metrics.Failures++
	p.mu.Unlock()
}

func (p *Poller) setState(s State) {
	p.state.Store(int32(s))
}

// sleep waits d, rounded down to whole seconds, one tick per second.
func (p *Poller) sleep(ctx context.Context, d time.Duration) {
	ticks := int(d / time.Second)
	if ticks < 1 {
		ticks = 1
	}

	timer := time.NewTimer(p.tick)
	defer timer.Stop()

	for i := 0; i < ticks; i++ {
		if p.stopped.Load() {
			return
		}
		timer.Reset(p.tick)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// describeChange annotates a version change for the log. The update
// decision itself is plain string inequality.
func describeChange(local, remote string) string {
	lv, err := version.NewVersion(local)
	if err != nil {
		return "local " + local
	}
	rv, err := version.NewVersion(remote)
	if err != nil {
		return "local " + local
	}

	switch {
	case rv.GreaterThan(lv):
		return "newer than " + local
	case rv.LessThan(lv):
		return "older than " + local
	default:
		return "equivalent to " + local
	}
}
