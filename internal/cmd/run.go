package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/adamancini/appupdater/internal/config"
	"github.com/adamancini/appupdater/internal/installer"
	"github.com/adamancini/appupdater/internal/instance"
	"github.com/adamancini/appupdater/internal/interactive"
	"github.com/adamancini/appupdater/internal/logging"
	"github.com/adamancini/appupdater/internal/poller"
	"github.com/adamancini/appupdater/internal/registry"
	"github.com/adamancini/appupdater/internal/script"
	"github.com/adamancini/appupdater/internal/types"
)

// session holds everything one updater run needs. Tests assemble their own.
type session struct {
	cfg         *config.Config
	mode        types.InstallMode
	guard       *instance.Guard
	poller      *poller.Poller
	prompter    *interactive.Prompter
	interactive bool
	generator   *script.Generator
	installer   *installer.Installer
	out         io.Writer
	logger      *log.Entry
}

func newRunCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll for updates and install the first one found",
		Long: `Run takes the single-instance lock, then polls the registry until a newer
release of the installed application is published for this platform.

What happens next depends on --mode (or install.mode in the config):
  prompt     ask whether to install via script, in-process, or not at all
  script     write and launch a standalone installer script
  inprocess  back up, download, extract and relaunch from this process
  notify     print the update and exit

Without a terminal, prompt behaves like notify.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if mode != "" {
				cfg.Install.Mode = types.InstallMode(strings.ToLower(mode))
				if err := cfg.Install.Mode.Validate(); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runUpdater(ctx, newSession(cfg, os.Stdout))
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "Install mode: prompt, script, inprocess, notify")
	_ = cmd.RegisterFlagCompletionFunc("mode", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"prompt", "script", "inprocess", "notify"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

// newSession wires the production components for cfg.
func newSession(cfg *config.Config, out io.Writer) *session {
	return &session{
		cfg:         cfg,
		mode:        cfg.Install.Mode,
		guard:       instance.NewGuard(cfg.LockPath),
		poller:      poller.New(cfg, registry.NewClient(cfg)),
		prompter:    interactive.NewPrompterWithIO(os.Stdin, out),
		interactive: interactive.IsTerminal(),
		generator:   script.NewGenerator(cfg),
		installer:   installer.New(cfg),
		out:         out,
		logger:      logging.Component("run"),
	}
}

// runUpdater is the whole updater lifecycle: lock, poll, present, install.
func runUpdater(ctx context.Context, s *session) error {
	if _, err := s.guard.Acquire(); err != nil {
		if errors.Is(err, instance.ErrAlreadyRunning) {
			s.logger.Info("Another updater is already running, exiting")
			return nil
		}
		return err
	}
	defer s.guard.Release()

	events := s.poller.Start(ctx)

	var (
		ev poller.UpdateEvent
		ok bool
	)
	select {
	case ev, ok = <-events:
	case <-ctx.Done():
		s.poller.Stop()
		<-s.poller.Done()
		s.logger.Info("Interrupted, stopping")
		return nil
	}
	if !ok {
		return nil
	}

	return s.present(ctx, ev)
}

// present acts on an update according to the install mode.
func (s *session) present(ctx context.Context, ev poller.UpdateEvent) error {
	mode := s.mode
	if mode == types.InstallModePrompt {
		if s.interactive {
			mode = s.prompter.ChooseInstall(ev).Mode()
		} else {
			mode = types.InstallModeNotify
		}
	}
	s.logger.Infof("Update %s %s handled in %s mode", ev.AppName, ev.RemoteVersion, mode)

	switch mode {
	case types.InstallModeScript:
		return s.installWithScript(ev)
	case types.InstallModeInProcess:
		return s.installInProcess(ctx, ev)
	default:
		s.prompter.Announce(ev)
		return nil
	}
}

func (s *session) installWithScript(ev poller.UpdateEvent) error {
	path, err := s.generator.Generate(s.cfg.InstallDir, ev.DownloadURL, s.cfg.Install.ArchiveName, scriptLogPath(s.cfg))
	if err != nil {
		s.prompter.Notify("The update could not be prepared. See the log for details.")
		return err
	}
	if err := s.generator.Launch(path); err != nil {
		s.prompter.Notify("The installer script could not be started: " + path)
		return err
	}
	fmt.Fprintf(s.out, "Installer started: %s\n", path)
	return nil
}

func (s *session) installInProcess(ctx context.Context, ev poller.UpdateEvent) error {
	res := <-s.installer.Start(ctx, ev.AppName, ev.DownloadURL)
	if !res.OK() {
		s.prompter.Notify(res.UserMessage())
		return res.Err
	}

	fmt.Fprintf(s.out, "Updated %s to %s\n", ev.AppName, ev.RemoteVersion)
	if res.BackupID != "" {
		fmt.Fprintf(s.out, "Backup: %s\n", res.BackupID)
	}
	if res.Relaunched != "" {
		fmt.Fprintf(s.out, "Relaunched: %s\n", res.Relaunched)
	}
	return nil
}
