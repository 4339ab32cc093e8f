package cmd

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/adamancini/appupdater/internal/poller"
	"github.com/adamancini/appupdater/internal/registry"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check once for an update",
		Long: `Check probes the registry, reads the local descriptor and reports whether a
newer release with an asset for this platform exists. Nothing is installed.

The exit status is zero whenever the check itself completed, whether or not
an update is available.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runCheck(cmd.Context(), poller.New(cfg, registry.NewClient(cfg)), os.Stdout)
		},
	}
}

// runCheck performs a single check and writes the result.
func runCheck(ctx context.Context, p *poller.Poller, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	writer, err := newWriter(out)
	if err != nil {
		return err
	}

	return writer.Write(p.Check(ctx))
}
