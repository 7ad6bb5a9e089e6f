package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harborline/tally/internal/cli"
)

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage database snapshots",
		Long: `Create, list, and restore whole-database snapshots. Take one before any
destructive batch correction.`,
		Example: `  # Snapshot before a risky correction run
  tally backup create --tag "pre-jan-cleanup"

  # List all snapshots
  tally backup list

  # Restore a snapshot
  tally backup restore pre-jan-cleanup`,
	}

	cmd.AddCommand(createBackupCmd())
	cmd.AddCommand(listBackupsCmd())
	cmd.AddCommand(restoreBackupCmd())

	return cmd
}

func createBackupCmd() *cobra.Command {
	var tag string
	var description string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			sq, err := sqliteStore(store)
			if err != nil {
				return err
			}
			manager, err := sq.NewBackupManager()
			if err != nil {
				return fmt.Errorf("failed to create backup manager: %w", err)
			}

			meta, err := manager.Create(ctx, tag, description)
			if err != nil {
				return fmt.Errorf("failed to create backup: %w", err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Created backup %s (%s)",
				meta.ID, formatFileSize(meta.FileSize))))
			if meta.Description != "" {
				fmt.Printf("  Description: %s\n", meta.Description)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&tag, "tag", "t", "", "snapshot tag (auto-generated if not provided)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "description of the snapshot")

	return cmd
}

func listBackupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			sq, err := sqliteStore(store)
			if err != nil {
				return err
			}
			manager, err := sq.NewBackupManager()
			if err != nil {
				return fmt.Errorf("failed to create backup manager: %w", err)
			}

			backups, err := manager.List(ctx)
			if err != nil {
				return fmt.Errorf("failed to list backups: %w", err)
			}
			if len(backups) == 0 {
				fmt.Println(cli.FormatInfo("No backups found."))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tSIZE\tROWS\tDESCRIPTION")
			for _, b := range backups {
				total := 0
				for _, n := range b.RowCounts {
					total += n
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					b.ID,
					b.CreatedAt.Format("2006-01-02 15:04"),
					formatFileSize(b.FileSize),
					total,
					b.Description)
			}
			return w.Flush()
		},
	}
}

func restoreBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			sq, err := sqliteStore(store)
			if err != nil {
				return err
			}
			manager, err := sq.NewBackupManager()
			if err != nil {
				return fmt.Errorf("failed to create backup manager: %w", err)
			}

			if err := manager.Restore(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to restore backup: %w", err)
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Restored backup %s", args[0])))
			return nil
		},
	}
}

func formatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
