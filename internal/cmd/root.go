// Package cmd wires the updater components into the command line.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	outputFormat string
	configPath   string
	verbose      bool
	quiet        bool
)

// buildInfo is set by Execute and reported by the version command.
var buildInfo = struct {
	Version string `json:"version" yaml:"version"`
	Commit  string `json:"commit" yaml:"commit"`
	Date    string `json:"date" yaml:"date"`
}{"dev", "none", "unknown"}

func Execute(version, commit, date string) error {
	buildInfo.Version, buildInfo.Commit, buildInfo.Date = version, commit, date

	rootCmd := newRootCmd()
	return rootCmd.Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "updater",
		Short: "Keep an installed application up to date",
		Long: `updater watches a release registry for newer builds of the application
described by the local details.xml, and installs them either in-process or
through a standalone installer script.

Run 'updater run' next to the application to start polling.`,
		Version:      buildInfo.Version,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json, yaml")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to updater config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (errors only)")

	// Add subcommands
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newScriptCmd())
	rootCmd.AddCommand(newInstallCmd())
	rootCmd.AddCommand(newBackupCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	// Register completion function for output flag
	_ = rootCmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json", "yaml"}, cobra.ShellCompDirectiveNoFileComp
	})

	return rootCmd
}
