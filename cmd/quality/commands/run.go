package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flext-sh/flext-quality-sub003/pkg/engine"
	"github.com/flext-sh/flext-quality-sub003/pkg/operations"
	"github.com/flext-sh/flext-quality-sub003/pkg/stores"
)

// operationFlags select the operation of preview and apply.
type operationFlags struct {
	fixer      string
	script     string
	scriptVars []string
}

func (f *operationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.fixer, "fixer", "", "fixer tool to run (default from config, ruff)")
	cmd.Flags().StringVar(&f.script, "script", "", "Starlark operation script (.star)")
	cmd.Flags().StringArrayVar(&f.scriptVars, "script-var", nil, "script variable key=value (value parsed as YAML)")
	cmd.MarkFlagsMutuallyExclusive("fixer", "script")
}

func (f *operationFlags) build(rt *runtime) (engine.Operation, error) {
	if f.script != "" {
		vars, err := parseScriptVars(f.scriptVars)
		if err != nil {
			return nil, err
		}
		return operations.LoadScript(f.script,
			operations.WithScriptTimeout(rt.cfg.Script.Timeout),
			operations.WithScriptVars(vars),
			operations.WithScriptLogger(rt.tel.Logger),
		)
	}
	if len(f.scriptVars) > 0 {
		return nil, errors.New("--script-var requires --script")
	}

	tool, err := rt.cfg.FixerTool()
	if f.fixer != "" {
		tool, err = rt.cfg.Registry().Get(f.fixer)
	}
	if err != nil {
		return nil, err
	}
	return operations.NewToolFix(tool, rt.validator,
		operations.WithFixWorkingDir(rt.cfg.Fixer.WorkingDir),
		operations.WithFixLogger(rt.tel.Logger),
	)
}

func parseScriptVars(pairs []string) (map[string]interface{}, error) {
	vars := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --script-var %q (want key=value)", pair)
		}
		var value interface{}
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("invalid --script-var %s: %w", key, err)
		}
		vars[key] = value
	}
	return vars, nil
}

func newPreviewCommand() *cobra.Command {
	var opFlags operationFlags

	cmd := &cobra.Command{
		Use:   "preview [targets...]",
		Short: "Show what a fix would change without touching files",
		Example: `  # Preview ruff fixes for a package
  quality preview src/pkg

  # Preview a scripted operation
  quality preview --script fixes/rename.star --script-var old=foo src/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(rt *runtime) error {
				op, err := opFlags.build(rt)
				if err != nil {
					return err
				}
				return execute(cmd, rt, op, engine.RunRequest{Mode: engine.ModePreview, Targets: args})
			})
		},
	}
	opFlags.register(cmd)
	return cmd
}

func newApplyCommand() *cobra.Command {
	var opFlags operationFlags

	cmd := &cobra.Command{
		Use:   "apply [targets...]",
		Short: "Apply a fix and keep it only if diagnostics do not increase",
		Long: `Apply a fix operation under the ratchet protocol:
  - count diagnostics per file
  - snapshot the targets
  - run the operation
  - count again
  - restore the snapshot if any step fails or any file has more diagnostics`,
		Example: `  # Apply ruff fixes
  quality apply src/

  # Apply a Starlark operation, JSON report
  quality apply --script fixes/headers.star --json src/ tests/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(rt *runtime) error {
				op, err := opFlags.build(rt)
				if err != nil {
					return err
				}
				return execute(cmd, rt, op, engine.RunRequest{Mode: engine.ModeApply, Targets: args})
			})
		},
	}
	opFlags.register(cmd)
	return cmd
}

func newSnapshotCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot [targets...]",
		Short: "Back up the targets and print the backup id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(rt *runtime) error {
				return execute(cmd, rt, nil, engine.RunRequest{Mode: engine.ModeSnapshot, Targets: args})
			})
		},
	}
}

func newRestoreCommand() *cobra.Command {
	var backupPath string

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a backup (the latest when none is given)",
		Example: `  # Restore the most recent backup
  quality restore

  # Restore a specific backup by id or directory
  quality restore --backup-path 5f0c...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(rt *runtime) error {
				ctx := cmd.Context()
				id, err := resolveBackup(ctx, rt, backupPath)
				if err != nil {
					return err
				}
				if err := execute(cmd, rt, nil, engine.RunRequest{Mode: engine.ModeRestore, BackupID: id}); err != nil {
					return err
				}
				rt.audit(ctx, stores.AuditBackupRestored, id, map[string]interface{}{"requested": backupPath})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&backupPath, "backup-path", "", "backup id or backup directory (default latest)")
	return cmd
}

// resolveBackup accepts a backup id or the backup's directory.
func resolveBackup(ctx context.Context, rt *runtime, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	_, err := rt.store.Get(ctx, value)
	if err == nil || !errors.Is(err, engine.ErrUnknownBackup) {
		return value, err
	}

	abs, aerr := filepath.Abs(value)
	if aerr != nil {
		return value, nil
	}
	list, lerr := rt.store.List(ctx)
	if lerr != nil {
		return "", lerr
	}
	for _, m := range list {
		if m.ArchiveLocation == abs {
			return m.ID, nil
		}
	}
	// Unknown: let the runner report it.
	return value, nil
}

// execute runs one request and renders its result.
func execute(cmd *cobra.Command, rt *runtime, op engine.Operation, req engine.RunRequest) error {
	result, err := rt.runner.Run(cmd.Context(), op, req)
	if err != nil {
		if result != nil {
			return &runFailure{result: result, err: err}
		}
		return err
	}
	return render(cmd.OutOrStdout(), result, func(w io.Writer) {
		printRunResult(w, result)
	})
}

func printRunResult(w io.Writer, result *engine.RunResult) {
	fmt.Fprintf(w, "run:            %s (%s)\n", result.RunID, result.Mode)
	if result.BackupID != "" {
		fmt.Fprintf(w, "backup_id:      %s\n", result.BackupID)
	}
	if ex := result.Execution; ex != nil {
		fmt.Fprintf(w, "status:         %s\n", ex.Status)
		fmt.Fprintf(w, "errors_before:  %d\n", ex.ErrorsBefore)
		fmt.Fprintf(w, "errors_after:   %d\n", ex.ErrorsAfter)
		fmt.Fprintf(w, "errors_reduced: %d\n", ex.ErrorsReduced)
		fmt.Fprintf(w, "files_modified: %d\n", len(ex.FilesModified))
		for _, f := range ex.FilesModified {
			fmt.Fprintf(w, "  %s\n", f)
		}
		return
	}
	if report := result.Report; report != nil {
		if report.Summary != "" {
			fmt.Fprintf(w, "summary:        %s\n", report.Summary)
		}
		fmt.Fprintf(w, "files:          %d\n", len(report.FilesModified))
		for _, f := range report.FilesModified {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
}
