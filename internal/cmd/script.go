package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/adamancini/appupdater/internal/script"
)

type scriptOptions struct {
	dir     string
	url     string
	archive string
	logPath string
	launch  bool
}

func newScriptCmd() *cobra.Command {
	var opts scriptOptions

	cmd := &cobra.Command{
		Use:   "script",
		Short: "Generate a standalone installer script",
		Long: `Script writes a shell (POSIX) or batch (Windows) script that downloads the
archive at --url into --dir, extracts it over the existing files, deletes the
archive and relaunches the application. The script logs to --log and does
not depend on the updater once started.

Examples:
  updater script --url https://example.com/Foo-1.1-linux.iflapp
  updater script --dir /opt/foo --url ... --launch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if opts.dir == "" {
				opts.dir = cfg.InstallDir
			}
			if opts.archive == "" {
				opts.archive = cfg.Install.ArchiveName
			}
			if opts.logPath == "" {
				opts.logPath = scriptLogPath(cfg)
			}
			return runScript(script.NewGenerator(cfg), opts, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&opts.dir, "dir", "", "Install directory (default: install_dir from config)")
	cmd.Flags().StringVar(&opts.url, "url", "", "Archive download URL")
	cmd.Flags().StringVar(&opts.archive, "archive", "", "Archive file name inside the install directory")
	cmd.Flags().StringVar(&opts.logPath, "log", "", "Log file the script appends to")
	cmd.Flags().BoolVar(&opts.launch, "launch", false, "Start the script after writing it")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}

// runScript generates the script and optionally launches it.
func runScript(g *script.Generator, opts scriptOptions, out io.Writer) error {
	if opts.url == "" {
		return fmt.Errorf("--url is required")
	}

	path, err := g.Generate(opts.dir, opts.url, opts.archive, opts.logPath)
	if err != nil {
		return err
	}

	writer, err := newWriter(out)
	if err != nil {
		return err
	}

	result := struct {
		Path     string `json:"path" yaml:"path"`
		Family   string `json:"family" yaml:"family"`
		Launched bool   `json:"launched" yaml:"launched"`
	}{Path: path, Family: g.Family().String()}

	if opts.launch {
		if err := g.Launch(path); err != nil {
			return err
		}
		result.Launched = true
	}

	if writer.IsText() {
		if result.Launched {
			fmt.Fprintf(out, "Installer started: %s\n", path)
		} else {
			fmt.Fprintf(out, "Installer written: %s\n", path)
		}
		return nil
	}
	return writer.Write(result)
}
