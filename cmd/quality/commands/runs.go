package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/flext-sh/flext-quality-sub003/pkg/engine"
	"github.com/flext-sh/flext-quality-sub003/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recorded runs and their events",
	}
	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	return cmd
}

func newRunsListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(rt *runtime) error {
				runs, err := rt.store.ListRuns(cmd.Context(), limit, 0)
				if err != nil {
					return err
				}
				if runs == nil {
					runs = []*engine.RunRecord{}
				}
				return render(cmd.OutOrStdout(), runs, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tMODE\tSTATUS\tBEFORE\tAFTER\tSTARTED\tTARGETS")
					for _, r := range runs {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
							r.ID, r.Mode, r.Status, r.ErrorsBefore, r.ErrorsAfter,
							r.StartedAt.Local().Format(time.DateTime), strings.Join(r.Targets, " "))
					}
					_ = tw.Flush()
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs (0 for all)")
	return cmd
}

func newRunsShowCommand() *cobra.Command {
	var level string

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and its stage events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(rt *runtime) error {
				ctx := cmd.Context()
				record, err := rt.store.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				events, err := rt.store.GetEvents(ctx, stores.EventFilter{RunID: record.ID, Level: level})
				if err != nil {
					return err
				}
				if events == nil {
					events = []*engine.Event{}
				}
				out := struct {
					Run    *engine.RunRecord `json:"run"`
					Events []*engine.Event   `json:"events"`
				}{record, events}
				return render(cmd.OutOrStdout(), out, func(w io.Writer) {
					fmt.Fprintf(w, "run:     %s\n", record.ID)
					fmt.Fprintf(w, "mode:    %s\n", record.Mode)
					fmt.Fprintf(w, "status:  %s\n", record.Status)
					if record.BackupID != "" {
						fmt.Fprintf(w, "backup:  %s\n", record.BackupID)
					}
					if record.Error != "" {
						fmt.Fprintf(w, "error:   %s\n", record.Error)
					}
					for _, e := range events {
						fmt.Fprintf(w, "  %s  %-5s  %-20s %s\n",
							e.Timestamp.Local().Format("15:04:05.000"), e.Level, e.Stage, e.Message)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "only events of this level (info, error)")
	return cmd
}
