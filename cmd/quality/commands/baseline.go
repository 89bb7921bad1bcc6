package commands

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/flext-sh/flext-quality-sub003/pkg/baseline"
)

func newBaselineCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Read and update the baseline ledger",
		Long: `The baseline ledger records the accepted issue count of tracked categories
(one "name:count" per line). A count may only go down unless it is updated
explicitly; every update is written to the audit log.`,
	}
	cmd.AddCommand(newBaselineGetCommand())
	cmd.AddCommand(newBaselineCheckCommand())
	cmd.AddCommand(newBaselineUpdateCommand())
	return cmd
}

func newBaselineGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get [name]",
		Short: "Print one entry, or the whole ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(rt *runtime) error {
				if len(args) == 1 {
					n, err := rt.ledger.Get(args[0])
					if err != nil {
						return err
					}
					out := map[string]int{args[0]: n}
					return render(cmd.OutOrStdout(), out, func(w io.Writer) {
						fmt.Fprintln(w, n)
					})
				}
				entries, err := rt.ledger.Read()
				if err != nil {
					return err
				}
				data, err := baseline.Format(entries)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), entries, func(w io.Writer) {
					_, _ = w.Write(data)
				})
			})
		},
	}
}

func newBaselineCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <name> <count>",
		Short: "Exit 2 when count is above the accepted baseline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := parseCount(args[1])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(rt *runtime) error {
				check, err := rt.ledger.CheckViolation(args[0], current)
				if err != nil {
					return err
				}
				if check.IsViolation {
					return &baselineViolationError{check: check}
				}
				return render(cmd.OutOrStdout(), check, func(w io.Writer) {
					fmt.Fprintf(w, "%s: %d (accepted %d)\n", check.Name, check.Current, check.Baseline)
				})
			})
		},
	}
}

func newBaselineUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update <name> <count>",
		Short: "Set the accepted count of an entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseCount(args[1])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(rt *runtime) error {
				if err := updateLedger(cmd.Context(), rt, args[0], n); err != nil {
					return err
				}
				out := map[string]int{args[0]: n}
				return render(cmd.OutOrStdout(), out, func(w io.Writer) {
					fmt.Fprintf(w, "%s: %d\n", args[0], n)
				})
			})
		},
	}
}

func parseCount(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("count must be a non-negative integer, got %q", s)
	}
	return n, nil
}
