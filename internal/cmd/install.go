package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	uerrors "github.com/adamancini/appupdater/internal/errors"
	"github.com/adamancini/appupdater/internal/installer"
)

func newInstallCmd() *cobra.Command {
	var appName, url string

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install an update archive in the foreground",
		Long: `Install runs the in-process installer once: it backs up the install
directory, downloads the archive at --url, extracts it (moving locked files
aside when needed) and relaunches --app.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runInstall(ctx, installer.New(cfg), appName, url, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&appName, "app", "", "Application name, used to find the executable to relaunch")
	cmd.Flags().StringVar(&url, "url", "", "Archive download URL")
	_ = cmd.MarkFlagRequired("app")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}

// runInstall installs synchronously and reports the result.
func runInstall(ctx context.Context, inst *installer.Installer, appName, url string, out io.Writer) error {
	writer, err := newWriter(out)
	if err != nil {
		return err
	}

	res := <-inst.Start(ctx, appName, url)

	if !writer.IsText() {
		report := struct {
			installer.Result `yaml:",inline"`
			OK               bool   `json:"ok" yaml:"ok"`
			Kind             string `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
			Message          string `json:"message,omitempty" yaml:"message,omitempty"`
		}{Result: res, OK: res.OK()}
		if !res.OK() {
			report.Kind = string(uerrors.KindOf(res.Err))
			report.Message = res.UserMessage()
		}
		if err := writer.Write(report); err != nil {
			return err
		}
		return res.Err
	}

	if !res.OK() {
		fmt.Fprintln(out, res.UserMessage())
		return res.Err
	}

	fmt.Fprintf(out, "Installed %s from %s\n", appName, url)
	if res.BackupID != "" {
		fmt.Fprintf(out, "Backup: %s\n", res.BackupID)
	}
	if res.Relaunched != "" {
		fmt.Fprintf(out, "Relaunched: %s\n", res.Relaunched)
	}
	return nil
}
