package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			writer, err := newWriter(os.Stdout)
			if err != nil {
				return err
			}
			if writer.IsText() {
				fmt.Printf("updater version %s (commit %s, built %s)\n", buildInfo.Version, buildInfo.Commit, buildInfo.Date)
				return nil
			}
			return writer.Write(buildInfo)
		},
	}
}
