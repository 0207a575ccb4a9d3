package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/warp/hr-engine/generic"
	"github.com/warp/hr-engine/importer"
)

type importOptions struct {
	file     string
	mappings string
	jsonOut  bool
}

func newImportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Bulk import attendance or employees from CSV/XLSX",
	}
	for _, target := range []importer.Target{importer.TargetAttendance, importer.TargetEmployees} {
		cmd.AddCommand(newImportTargetCmd(a, target))
	}
	return cmd
}

func newImportTargetCmd(a *app, target importer.Target) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   string(target),
		Short: fmt.Sprintf("Import %s rows from a file", target),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), a, target, opts)
		},
	}

	cmd.Flags().StringVar(&opts.file, "file", "", "CSV or XLSX file (required)")
	cmd.Flags().StringVar(&opts.mappings, "mappings", "", "YAML column mapping file (overrides IMPORT_MAPPINGS)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the report as JSON")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runImport(ctx context.Context, a *app, target importer.Target, opts importOptions) error {
	f, err := os.Open(opts.file)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := importer.ReadFile(opts.file, f)
	if err != nil {
		return err
	}

	mappingPath := a.cfg.ImportMappings
	if opts.mappings != "" {
		mappingPath = opts.mappings
	}
	mappings, err := importer.LoadMappings(mappingPath)
	if err != nil {
		return err
	}

	rec := generic.NewReconciler(a.store)
	rec.Concurrency = a.cfg.UpsertConcurrency
	p := importer.NewPipeline(a.store, rec, a.log)
	p.Mappings = mappings
	p.DefaultLeaveBalance = a.cfg.DefaultLeaveBalance

	report, err := p.Import(ctx, target, rows)
	if err != nil {
		return err
	}

	if opts.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		fmt.Printf("%s: %d succeeded, %d failed\n", target, report.Succeeded, report.Failed)
		for _, failure := range report.Failures {
			fmt.Printf("  line %d: %s\n", failure.Line, failure.Reason)
		}
	}

	if report.Failed > 0 {
		return withCode(exitRowsFailed, fmt.Errorf("%d of %d rows failed", report.Failed, report.Failed+report.Succeeded))
	}
	return nil
}
