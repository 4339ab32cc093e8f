// Package installer applies a downloaded update in place: it backs up the
// install directory, downloads and extracts the archive, works around files
// locked by a running process, and relaunches the application.
package installer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/adamancini/appupdater/internal/backup"
	"github.com/adamancini/appupdater/internal/config"
	uerrors "github.com/adamancini/appupdater/internal/errors"
	"github.com/adamancini/appupdater/internal/logging"
	"github.com/adamancini/appupdater/internal/platform"
)

// renameSuffixes are tried in order to move a locked file out of the way.
var renameSuffixes = []string{".bak", ".old", ".waiting"}

// Result is the outcome of one installation.
type Result struct {
	AppName     string `json:"app_name" yaml:"app_name"`
	DownloadURL string `json:"download_url" yaml:"download_url"`
	BackupID    string `json:"backup_id,omitempty" yaml:"backup_id,omitempty"`
	Relaunched  string `json:"relaunched,omitempty" yaml:"relaunched,omitempty"`
	Err         error  `json:"-" yaml:"-"`
}

// OK reports whether the installation succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// UserMessage is the notification to show for a failed installation.
func (r Result) UserMessage() string {
	return uerrors.UserMessage(r.Err)
}

// StartFunc launches a process detached from the updater.
type StartFunc func(dir, path string, args ...string) error

// Installer performs in-process installs into one directory.
type Installer struct {
	installDir  string
	archiveName string
	backupKeep  int
	backups     *backup.Manager
	excluded    []string
	downloader  Downloader
	extract     Extractor
	rename      func(oldpath, newpath string) error
	start       StartFunc
	platform    platform.Platform
	logger      *log.Entry
}

// Option configures an Installer.
type Option func(*Installer)

// WithDownloader replaces the archive downloader.
func WithDownloader(d Downloader) Option {
	return func(i *Installer) {
		i.downloader = d
	}
}

// WithExtractor replaces the archive extractor.
func WithExtractor(e Extractor) Option {
	return func(i *Installer) {
		i.extract = e
	}
}

// WithRename replaces the function used to move locked files aside.
func WithRename(fn func(oldpath, newpath string) error) Option {
	return func(i *Installer) {
		i.rename = fn
	}
}

// WithStarter replaces the detached process starter used for relaunch.
func WithStarter(fn StartFunc) Option {
	return func(i *Installer) {
		i.start = fn
	}
}

// WithPlatform overrides the detected platform.
func WithPlatform(p platform.Platform) Option {
	return func(i *Installer) {
		i.platform = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Entry) Option {
	return func(i *Installer) {
		i.logger = l
	}
}

// New creates an installer for cfg.InstallDir.
func New(cfg *config.Config, opts ...Option) *Installer {
	backupDir := cfg.ResolveInInstallDir(cfg.Install.BackupDir)

	i := &Installer{
		installDir:  cfg.InstallDir,
		archiveName: cfg.Install.ArchiveName,
		backupKeep:  cfg.Install.BackupKeep,
		backups:     backup.NewManagerWithDir(backupDir),
		excluded:    []string{cfg.Install.ArchiveName},
		downloader:  NewHTTPDownloader(cfg.Timeouts.Download),
		extract:     ExtractZip,
		rename:      os.Rename,
		start:       platform.StartDetached,
		platform:    platform.Detect(),
		logger:      logging.Component("installer"),
	}

	// The backup directory is skipped when it lives inside the install dir
	if rel, err := filepath.Rel(cfg.InstallDir, backupDir); err == nil && filepath.Dir(rel) == "." && rel != "." {
		i.excluded = append(i.excluded, rel)
	}

	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Backups returns the backup manager used by the installer.
func (i *Installer) Backups() *backup.Manager {
	return i.backups
}

// Start runs the installation on its own goroutine. The channel receives
// exactly one Result and is then closed.
func (i *Installer) Start(ctx context.Context, appName, downloadURL string) <-chan Result {
	results := make(chan Result, 1)
	go func() {
		defer close(results)
		results <- i.install(ctx, appName, downloadURL)
	}()
	return results
}

// Run performs the installation on the calling goroutine.
func (i *Installer) Run(ctx context.Context, appName, downloadURL string) error {
	return i.install(ctx, appName, downloadURL).Err
}

// install is the worker boundary: nothing below it may take the process down.
// An install has no cancellation: once started it runs to completion or
// failure, so only ctx's values are kept. The download timeout still applies.
func (i *Installer) install(ctx context.Context, appName, downloadURL string) (res Result) {
	ctx = context.WithoutCancel(ctx)
	res = Result{AppName: appName, DownloadURL: downloadURL}

	defer func() {
		if r := recover(); r != nil {
			i.logger.Errorf("Installer crashed: %v\n%s", r, debug.Stack())
			res.Err = uerrors.New(uerrors.KindUnexpected, "installer crashed", fmt.Errorf("%v", r))
		}
		if res.Err != nil {
			i.logger.Errorf("Installation failed: %v", res.Err)
		}
	}()

	res.BackupID = i.backup(appName)

	archive := filepath.Join(i.installDir, i.archiveName)
	if err := i.download(ctx, downloadURL, archive); err != nil {
		res.Err = err
		return res
	}

	if err := i.extractWithRetry(archive); err != nil {
		res.Err = err
		return res
	}

	if err := os.Remove(archive); err != nil {
		i.logger.Warnf("Could not remove %s: %v", archive, err)
	}
	i.logger.Info("Update installed")

	res.Relaunched = i.relaunch(appName)
	return res
}

// backup snapshots the install directory. Failures are logged and skipped.
func (i *Installer) backup(appName string) string {
	bak, err := i.backups.Create(i.installDir, "before updating "+appName, i.excluded...)
	if err != nil {
		i.logger.Warnf("Backup incomplete: %v", err)
	}
	if bak == nil {
		return ""
	}
	i.logger.Infof("Backup %s created with %d files", bak.ID, len(bak.Files))

	if i.backupKeep > 0 {
		if pruned, err := i.backups.Prune(i.backupKeep); err != nil {
			i.logger.Warnf("Could not prune backups: %v", err)
		} else if len(pruned.Deleted) > 0 {
			i.logger.Debugf("Pruned %d old backups", len(pruned.Deleted))
		}
	}
	return bak.ID
}

func (i *Installer) download(ctx context.Context, url, archive string) error {
	_ = os.Remove(archive)

	i.logger.Infof("Downloading %s", url)
	if err := i.downloader.Download(ctx, url, archive); err != nil {
		return uerrors.WithPath(uerrors.KindDownload, "download failed", archive, err)
	}
	return nil
}

// extractWithRetry extracts the archive. When a file is locked it is renamed
// aside and extraction is retried exactly once.
func (i *Installer) extractWithRetry(archive string) error {
	err := i.extract(archive, i.installDir)
	if err == nil {
		return nil
	}

	locked, ok := lockedPath(err)
	if !ok {
		return uerrors.New(uerrors.KindUnexpected, "extraction failed", err)
	}

	i.logger.Warnf("File in use: %s", locked)
	if !i.moveAside(locked) {
		return uerrors.WithPath(uerrors.KindExtractionPermission, "could not move locked file", locked, err)
	}

	if err := i.extract(archive, i.installDir); err != nil {
		path := locked
		if p, ok := lockedPath(err); ok {
			path = p
		}
		return uerrors.WithPath(uerrors.KindExtractionPermission, "extraction failed after rename", path, err)
	}
	return nil
}

// lockedPath returns the file named by a lock or permission failure.
func lockedPath(err error) (string, bool) {
	var pathErr *fs.PathError
	if !errors.As(err, &pathErr) || !platform.IsLocked(err) {
		return "", false
	}
	return pathErr.Path, true
}

// moveAside renames path using the first suffix that works.
func (i *Installer) moveAside(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}

	for _, suffix := range renameSuffixes {
		target := path + suffix
		if err := i.rename(path, target); err != nil {
			i.logger.Debugf("Rename %s -> %s failed: %v", path, target, err)
			continue
		}
		i.logger.Infof("Renamed %s -> %s", path, target)
		return true
	}
	return false
}

// relaunch starts the application if its executable is present.
func (i *Installer) relaunch(appName string) string {
	exe := i.platform.FindExecutable(i.installDir, appName)
	if exe == "" {
		i.logger.Infof("No %s to relaunch in %s", i.platform.ExecutableName(appName), i.installDir)
		return ""
	}

	if err := i.start(i.installDir, exe); err != nil {
		i.logger.Warnf("Relaunch failed: %v", err)
		return ""
	}
	i.logger.Infof("Relaunched %s", exe)
	return exe
}
