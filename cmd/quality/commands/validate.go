package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/flext-sh/flext-quality-sub003/pkg/baseline"
	"github.com/flext-sh/flext-quality-sub003/pkg/engine"
	"github.com/flext-sh/flext-quality-sub003/pkg/stores"
)

type validation struct {
	Files           engine.DiagnosticCountMap `json:"files"`
	Total           int                       `json:"total"`
	Baseline        *baseline.Check           `json:"baseline,omitempty"`
	BaselineUpdated bool                      `json:"baseline_updated,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var (
		baselineName   string
		updateBaseline bool
	)

	cmd := &cobra.Command{
		Use:   "validate [targets...]",
		Short: "Count diagnostics per file, optionally against a baseline",
		Example: `  # Per-file diagnostic counts
  quality validate src/

  # Fail (exit 2) when the total exceeds the accepted baseline
  quality validate --baseline lint src/

  # Accept the current total as the new baseline
  quality validate --baseline lint --update-baseline src/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if updateBaseline && baselineName == "" {
				return fmt.Errorf("--update-baseline requires --baseline")
			}
			return withRuntime(cmd.Context(), func(rt *runtime) error {
				ctx := cmd.Context()
				counts, err := count(ctx, rt, args)
				if err != nil {
					return err
				}
				v := validation{Files: counts, Total: counts.Total()}

				if baselineName != "" {
					if updateBaseline {
						if err := updateLedger(ctx, rt, baselineName, v.Total); err != nil {
							return err
						}
						v.BaselineUpdated = true
					}
					check, err := rt.ledger.CheckViolation(baselineName, v.Total)
					if err != nil {
						return err
					}
					if check.IsViolation {
						return &baselineViolationError{check: check}
					}
					v.Baseline = &check
				}

				return render(cmd.OutOrStdout(), v, func(w io.Writer) {
					for _, path := range counts.Paths() {
						fmt.Fprintf(w, "%6d  %s\n", counts[path], path)
					}
					fmt.Fprintf(w, "%6d  total\n", v.Total)
					if v.Baseline != nil {
						fmt.Fprintf(w, "baseline %s: %d (accepted %d)\n", baselineName, v.Baseline.Current, v.Baseline.Baseline)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&baselineName, "baseline", "", "baseline ledger entry to check the total against")
	cmd.Flags().BoolVar(&updateBaseline, "update-baseline", false, "accept the current total as the baseline")
	return cmd
}

func newDiagnosticCountCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnostic-count [targets...]",
		Short: "Print the total diagnostic count of the targets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(rt *runtime) error {
				counts, err := count(cmd.Context(), rt, args)
				if err != nil {
					return err
				}
				out := struct {
					Total int `json:"total"`
					Files int `json:"files"`
				}{counts.Total(), len(counts)}
				return render(cmd.OutOrStdout(), out, func(w io.Writer) {
					fmt.Fprintln(w, out.Total)
				})
			})
		},
	}
}

// count validates the files under targets. Failures are validation errors.
func count(ctx context.Context, rt *runtime, targets []string) (engine.DiagnosticCountMap, error) {
	resolved, err := engine.ResolveTargets(targets, rt.validator)
	if err != nil {
		return nil, engine.NewValidationError("cannot resolve targets", err).WithCode(engine.ErrCodeInvalidRequest)
	}
	files, err := rt.validator.Expand(resolved)
	if err != nil {
		return nil, engine.NewValidationError("cannot resolve targets", err).WithCode(engine.ErrCodeInvalidRequest)
	}
	counts, err := rt.validator.ValidateFiles(ctx, files)
	if err != nil {
		return nil, engine.NewValidationError("validation failed", err)
	}
	return counts, nil
}

// updateLedger writes a baseline entry and records it in the audit log.
func updateLedger(ctx context.Context, rt *runtime, name string, total int) error {
	previous, err := rt.ledger.Get(name)
	if err != nil {
		return err
	}
	if err := rt.ledger.Update(name, total); err != nil {
		return err
	}
	rt.audit(ctx, stores.AuditBaselineUpdated, name, map[string]interface{}{
		"previous": previous,
		"count":    total,
		"file":     rt.ledger.Path(),
	})
	return nil
}
