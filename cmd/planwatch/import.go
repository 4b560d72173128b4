package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alexanderramin/planwatch/internal/config"
	"github.com/alexanderramin/planwatch/internal/db"
	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/importer"
	"github.com/alexanderramin/planwatch/internal/merge"
	"github.com/alexanderramin/planwatch/internal/recalc"
)

const (
	exitOK               = 0
	exitValidationFailed = 1
	exitInternalError    = 2
)

func newImportCmd() *cobra.Command {
	var (
		dryRun       bool
		ghostCheck   bool
		saveBaseline bool
		recalculate  bool
	)
	cmd := &cobra.Command{
		Use:   "import <plan.json>",
		Short: "Import a normalized plan file through the smart merge",
		Long:  "Validates and merges a plan file into the store. Exit codes: 0 success, 1 validation failed, 2 internal error.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runImport(cmd, args[0], dryRun, ghostCheck, saveBaseline, recalculate))
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "classify only, write nothing")
	cmd.Flags().BoolVar(&ghostCheck, "ghost-check", false, "cancel or flag items missing from the plan")
	cmd.Flags().BoolVar(&saveBaseline, "save-baseline", false, "snapshot a baseline version before merging")
	cmd.Flags().BoolVar(&recalculate, "recalculate", false, "run the cascade recalculation after a successful merge")
	return cmd
}

func runImport(cmd *cobra.Command, path string, dryRun, ghostCheck, saveBaseline, recalculate bool) int {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: slog.LevelWarn}))

	plan, err := importer.LoadPlanImport(path)
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return exitInternalError
	}

	database, err := db.OpenDB(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return exitInternalError
	}
	defer database.Close()
	uow := db.NewSQLiteUnitOfWork(database)

	result, err := merge.NewEngine(database, uow, logger).Execute(ctx, plan, merge.Options{
		DryRun:       dryRun,
		GhostCheck:   ghostCheck,
		SaveBaseline: saveBaseline,
		FileName:     path,
		ChangedBy:    "import_cli",
	})
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return exitInternalError
	}

	printResult(out, result)

	switch result.Status {
	case domain.ImportValidationFailed:
		return exitValidationFailed
	case domain.ImportFailed:
		return exitInternalError
	}

	if recalculate && !result.DryRun && result.ProgramID != "" {
		rec, err := recalc.NewEngine(database, uow, logger).Run(ctx, result.ProgramID)
		if err != nil {
			fmt.Fprintf(errOut, "Error: recalculation failed: %v\n", err)
			return exitInternalError
		}
		fmt.Fprintf(out, "Recalculated: %d items moved, %d on critical path\n",
			len(rec.Changes), len(rec.CriticalPath))
	}
	return exitOK
}

func printResult(out io.Writer, result *merge.Result) {
	fmt.Fprintf(out, "Status: %s\n", result.Status)
	if result.BatchID != "" {
		fmt.Fprintf(out, "Batch: %s\n", result.BatchID)
	}
	fmt.Fprintf(out, "Inserted: %d  Updated: %d  Unchanged: %d  Cancelled: %d  Flagged: %d\n",
		result.Inserted, result.Updated, result.Unchanged, result.Cancelled, result.Flagged)
	if result.BaselineVersion > 0 {
		fmt.Fprintf(out, "Baseline version: %d\n", result.BaselineVersion)
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(out, "Warning: %s\n", warning)
	}
	for _, errMsg := range result.Errors {
		fmt.Fprintf(out, "Error: %s\n", errMsg)
	}
}
