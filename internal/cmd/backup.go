package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/adamancini/appupdater/internal/backup"
	"github.com/adamancini/appupdater/internal/config"
	"github.com/adamancini/appupdater/internal/installer"
	"github.com/adamancini/appupdater/internal/interactive"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage install directory backups",
		Long: `Backup manages the snapshots taken before each in-process install.

Backups live in install.backup_dir (default: backup/ inside the install
directory) and hold a copy of every top-level file that was about to be
overwritten. Use 'updater backup restore' to roll back a bad update.`,
	}

	cmd.AddCommand(newBackupCreateCmd())
	cmd.AddCommand(newBackupListCmd())
	cmd.AddCommand(newBackupRestoreCmd())
	cmd.AddCommand(newBackupDeleteCmd())
	cmd.AddCommand(newBackupPruneCmd())

	return cmd
}

// backupManager loads the config and returns the installer's backup manager,
// so the CLI sees the same directory and exclusions as an install would.
func backupManager() (*config.Config, *backup.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return cfg, installer.New(cfg).Backups(), nil
}

func newBackupCreateCmd() *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new backup",
		Long:  `Create copies the install directory's top-level files into a new backup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, manager, err := backupManager()
			if err != nil {
				return err
			}
			return runBackupCreate(manager, cfg, note, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "Add a note to describe this backup")

	return cmd
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all backups",
		Long:  `List displays all available backups with their creation time, notes, and size.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, manager, err := backupManager()
			if err != nil {
				return err
			}
			return runBackupList(manager, os.Stdout)
		},
	}
}

func newBackupRestoreCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore from a backup",
		Long: `Restore copies a backup's files back into the install directory.

Use 'latest' as the ID to restore the most recent backup. Close the
application first; files it holds open cannot be replaced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, manager, err := backupManager()
			if err != nil {
				return err
			}
			return runBackupRestore(manager, cfg, args[0], yes, interactive.NewPrompter(), os.Stdout)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")

	return cmd
}

func newBackupDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a backup",
		Long:  `Delete removes a backup by its ID.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, manager, err := backupManager()
			if err != nil {
				return err
			}
			return runBackupDelete(manager, args[0], os.Stdout)
		},
	}
}

func newBackupPruneCmd() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove old backups",
		Long: `Prune deletes old backups, keeping only the most recent N backups.

By default, keeps install.backup_keep backups.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, manager, err := backupManager()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("keep") {
				keep = cfg.Install.BackupKeep
			}
			return runBackupPrune(manager, keep, os.Stdout)
		},
	}

	cmd.Flags().IntVar(&keep, "keep", config.DefaultBackupKeep, "Number of backups to keep")

	return cmd
}

// runBackupCreate creates a new backup of the install directory.
func runBackupCreate(manager *backup.Manager, cfg *config.Config, note string, out io.Writer) error {
	bak, err := manager.Create(cfg.InstallDir, note, cfg.Install.ArchiveName)
	if bak == nil {
		return err
	}

	writer, werr := newWriter(out)
	if werr != nil {
		return werr
	}

	if writer.IsText() {
		fmt.Fprintf(out, "Backup created: %s (%d files)\n", bak.ID, len(bak.Files))
		if note != "" {
			fmt.Fprintf(out, "Note: %s\n", note)
		}
		if err != nil {
			fmt.Fprintf(out, "Some files were skipped: %v\n", err)
		}
		return nil
	}
	return writer.Write(bak)
}

// runBackupList lists all backups.
func runBackupList(manager *backup.Manager, out io.Writer) error {
	backups, err := manager.List()
	if err != nil {
		return err
	}

	writer, err := newWriter(out)
	if err != nil {
		return err
	}

	if !writer.IsText() {
		return writer.Write(backups)
	}

	if len(backups) == 0 {
		fmt.Fprintln(out, "No backups found.")
		fmt.Fprintf(out, "Backup directory: %s\n", manager.BackupDir())
		return nil
	}

	fmt.Fprintf(out, "Backups stored in %s:\n\n", manager.BackupDir())

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCreated\tFiles\tNote\tSize")
	for _, b := range backups {
		note := b.Note
		if note == "" {
			note = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			b.ID,
			b.CreatedAt.Format("2006-01-02 15:04:05"),
			b.Files,
			note,
			formatSize(b.Size),
		)
	}
	return w.Flush()
}

// runBackupRestore copies a backup back into the install directory.
func runBackupRestore(manager *backup.Manager, cfg *config.Config, id string, skipConfirm bool, p *interactive.Prompter, out io.Writer) error {
	bak, err := manager.Get(id)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Restoring from backup: %s\n", bak.ID)
	fmt.Fprintf(out, "Created: %s\n", bak.CreatedAt.Format("2006-01-02 15:04:05"))
	if bak.Note != "" {
		fmt.Fprintf(out, "Note: %s\n", bak.Note)
	}
	fmt.Fprintf(out, "Files: %d into %s\n", len(bak.Files), cfg.InstallDir)

	if !skipConfirm && !p.Confirm("Proceed?") {
		fmt.Fprintln(out, "Restore cancelled.")
		return nil
	}

	restored, err := manager.Restore(bak.ID, cfg.InstallDir)
	if err != nil {
		fmt.Fprintf(out, "Restore completed with errors (%d files restored).\n", len(restored))
		return fmt.Errorf("restore failed: %w", err)
	}

	fmt.Fprintf(out, "Restored %d files\n", len(restored))
	return nil
}

// runBackupDelete deletes a backup.
func runBackupDelete(manager *backup.Manager, id string, out io.Writer) error {
	if err := manager.Delete(id); err != nil {
		return err
	}

	fmt.Fprintf(out, "Backup deleted: %s\n", id)
	return nil
}

// runBackupPrune removes old backups.
func runBackupPrune(manager *backup.Manager, keep int, out io.Writer) error {
	result, pruneErr := manager.Prune(keep)
	if result == nil {
		return pruneErr
	}

	writer, err := newWriter(out)
	if err != nil {
		return err
	}

	if !writer.IsText() {
		if err := writer.Write(result); err != nil {
			return err
		}
		return pruneErr
	}

	if len(result.Deleted) == 0 && pruneErr == nil {
		fmt.Fprintf(out, "No backups to prune. Keeping %d backups.\n", result.Kept)
		return nil
	}

	fmt.Fprintf(out, "Pruned %d backup(s), keeping %d, freed %s:\n", len(result.Deleted), result.Kept, formatSize(result.Freed))
	for _, b := range result.Deleted {
		fmt.Fprintf(out, "  - %s (%s)\n", b.ID, b.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return pruneErr
}
