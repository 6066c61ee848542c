package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/inferloop/studentprep/internal/loader"
	"github.com/inferloop/studentprep/internal/reconcile"
	"github.com/inferloop/studentprep/pkg/constants"
	"github.com/inferloop/studentprep/pkg/errors"
)

// ReconcileOptions holds the flags that only shape the output; --input and
// --cutoff are bound onto the configuration.
type ReconcileOptions struct {
	OutputFormat string
}

func NewReconcileCmd(globals *GlobalOptions) *cobra.Command {
	opts := &ReconcileOptions{}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Show how raw headers map onto the canonical schema",
		Long: `Load a raw file and print the column rename map without changing any
data: the matched canonical column, the similarity score and whether the
match is low-confidence.`,
		Example: `  # Preview header matching
  studentprep reconcile --input StudentsPerformance.csv

  # Require closer matches
  studentprep reconcile -i raw.csv --cutoff 0.8 --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, globals, opts)
		},
	}

	cmd.Flags().StringP("input", "i", "", "Input file or s3:// location (required)")
	cmd.Flags().Float64("cutoff", constants.DefaultFuzzyCutoff, "Minimum similarity for a header to match a canonical column")
	cmd.Flags().StringVar(&opts.OutputFormat, "format", "text", "Output format (text, json)")

	cmd.MarkFlagRequired("input")

	return cmd
}

func runReconcile(cmd *cobra.Command, globals *GlobalOptions, opts *ReconcileOptions) error {
	cfg, logger, err := globals.load(cmd)
	if err != nil {
		return err
	}

	l := loader.NewLoader(cfg.Loader, newFactory(cfg, logger), logger)
	t, err := l.Load(cmd.Context(), cfg.Input)
	if err != nil {
		return err
	}

	reconciler := reconcile.NewReconciler(cfg.CanonicalSchema, cfg.Cutoff, logger)
	renames := reconciler.Build(t.Names())

	switch opts.OutputFormat {
	case "json":
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(renames)
	case "text":
		printRenames(cmd.OutOrStdout(), renames)
		return nil
	default:
		return errors.NewValidationError(errors.CodeInvalidFormat,
			fmt.Sprintf("unsupported output format: %s", opts.OutputFormat))
	}
}

func printRenames(w io.Writer, renames *reconcile.RenameMap) {
	tbl := tablewriter.NewWriter(w)
	tbl.SetHeader([]string{"#", "Raw Header", "Column", "Score", "Note"})
	for _, e := range renames.Entries {
		note := ""
		switch {
		case !e.Matched:
			note = "unmatched"
		case e.LowConfidence():
			note = "low confidence"
		}
		if e.Renamed {
			if note != "" {
				note += ", "
			}
			note += "collision"
		}
		tbl.Append([]string{
			fmt.Sprintf("%d", e.Position),
			e.Raw,
			e.Target,
			fmt.Sprintf("%.3f", e.Score),
			note,
		})
	}
	tbl.Render()

	stats := renames.Stats()
	fmt.Fprintf(w, "Matched: %d  Unmatched: %d  Low confidence: %d  Collisions: %d\n",
		stats.Matched, stats.Unmatched, stats.LowConfidence, stats.Collisions)
}
