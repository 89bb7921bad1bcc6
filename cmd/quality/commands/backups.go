package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/flext-sh/flext-quality-sub003/pkg/engine"
	"github.com/flext-sh/flext-quality-sub003/pkg/stores"
)

func newBackupsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Inspect and prune the backup catalog",
	}
	cmd.AddCommand(newBackupsListCommand())
	cmd.AddCommand(newBackupsPruneCommand())
	cmd.AddCommand(newBackupsReindexCommand())
	return cmd
}

func newBackupsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(rt *runtime) error {
				list, err := rt.snapshots.List(cmd.Context())
				if err != nil {
					return err
				}
				if list == nil {
					list = []*engine.BackupManifest{}
				}
				return render(cmd.OutOrStdout(), list, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tCREATED\tSOURCES\tSIZE\tLOCATION")
					for _, m := range list {
						fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
							m.ID, m.CreatedAt.Local().Format(time.DateTime), len(m.SourcePaths), m.TotalSize(), m.ArchiveLocation)
					}
					_ = tw.Flush()
				})
			})
		},
	}
}

func newBackupsPruneCommand() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest backups",
		Example: `  # Keep the number of backups set by backup.keep
  quality backups prune

  # Keep only the last 3
  quality backups prune --keep 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(rt *runtime) error {
				ctx := cmd.Context()
				if !cmd.Flags().Changed("keep") {
					keep = rt.cfg.Backup.Keep
				}
				deleted, err := rt.snapshots.Prune(ctx, keep)
				if len(deleted) > 0 {
					rt.audit(ctx, stores.AuditBackupsPruned, rt.snapshots.Root(), map[string]interface{}{
						"keep":    keep,
						"deleted": deleted,
					})
				}
				if err != nil {
					return err
				}
				if deleted == nil {
					deleted = []string{}
				}
				out := struct {
					Kept    int      `json:"kept"`
					Deleted []string `json:"deleted"`
				}{keep, deleted}
				return render(cmd.OutOrStdout(), out, func(w io.Writer) {
					fmt.Fprintf(w, "deleted %d backup(s)\n", len(deleted))
					for _, id := range deleted {
						fmt.Fprintf(w, "  %s\n", id)
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "number of newest backups to keep (default backup.keep)")
	return cmd
}

func newBackupsReindexCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Add backups found on disk to the catalog",
		Long: `Reads the manifest.json of every directory under the backup root and
records the backups the catalog does not know, e.g. after the catalog
database was deleted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(rt *runtime) error {
				added, err := rt.snapshots.Reindex(cmd.Context())
				if err != nil {
					return err
				}
				out := map[string]int{"added": added}
				return render(cmd.OutOrStdout(), out, func(w io.Writer) {
					fmt.Fprintf(w, "added %d backup(s)\n", added)
				})
			})
		},
	}
}
