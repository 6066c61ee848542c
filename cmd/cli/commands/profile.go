package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/inferloop/studentprep/internal/loader"
	"github.com/inferloop/studentprep/internal/pipeline"
	"github.com/inferloop/studentprep/internal/quality"
	"github.com/inferloop/studentprep/pkg/errors"
)

type ProfileOptions struct {
	Clean        bool
	TopValues    int
	OutputFormat string
}

func NewProfileCmd(globals *GlobalOptions) *cobra.Command {
	opts := &ProfileOptions{}

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Profile the columns of a student records file",
		Long: `Load a file and report per-column completeness, distinct values,
numeric summaries and the most frequent values. With --clean the profile
describes the table the cleaning stages would produce.`,
		Example: `  # Profile a raw file
  studentprep profile --input StudentsPerformance.csv

  # Profile the cleaned table as JSON
  studentprep profile -i raw.csv --clean --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfile(cmd, globals, opts)
		},
	}

	cmd.Flags().StringP("input", "i", "", "Input file or s3:// location (required)")
	cmd.Flags().BoolVar(&opts.Clean, "clean", false, "Profile after running the cleaning stages")
	cmd.Flags().IntVar(&opts.TopValues, "top", 3, "Number of frequent values per column")
	cmd.Flags().StringVar(&opts.OutputFormat, "format", "text", "Output format (text, json)")

	cmd.MarkFlagRequired("input")

	return cmd
}

func runProfile(cmd *cobra.Command, globals *GlobalOptions, opts *ProfileOptions) error {
	if opts.OutputFormat != "text" && opts.OutputFormat != "json" {
		return errors.NewValidationError(errors.CodeInvalidFormat,
			fmt.Sprintf("unsupported output format: %s", opts.OutputFormat))
	}

	cfg, logger, err := globals.load(cmd)
	if err != nil {
		return err
	}

	factory := newFactory(cfg, logger)
	t, err := loader.NewLoader(cfg.Loader, factory, logger).Load(cmd.Context(), cfg.Input)
	if err != nil {
		return err
	}

	if opts.Clean {
		runner, err := pipeline.NewRunner(cfg.PipelineConfig(), factory, nil, logger)
		if err != nil {
			return err
		}
		if _, err := runner.Process(cmd.Context(), t); err != nil {
			return err
		}
	}

	profile := quality.NewDataProfiler(opts.TopValues, logger).ProfileTable(t)

	if opts.OutputFormat == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(profile)
	}
	printProfile(cmd.OutOrStdout(), profile)
	return nil
}

func printProfile(w io.Writer, profile *quality.DataProfile) {
	fmt.Fprintf(w, "Records: %d\n", profile.RecordCount)
	if s := profile.Statistics; s != nil {
		fmt.Fprintf(w, "Fields: %d  Complete records: %d  Null ratio: %.2f%%  Duplicate ratio: %.2f%%\n",
			s.TotalFields, s.CompleteRecords, s.NullRatio*100, s.DuplicateRatio*100)
	}

	tbl := tablewriter.NewWriter(w)
	tbl.SetHeader([]string{"Column", "Type", "Missing", "Distinct", "Min", "Max", "Mean", "Top Value"})
	tbl.SetAutoWrapText(false)
	for _, f := range profile.FieldProfiles {
		minV, maxV, mean := "", "", ""
		if f.Numeric {
			minV = fmt.Sprintf("%.2f", f.MinValue)
			maxV = fmt.Sprintf("%.2f", f.MaxValue)
			mean = fmt.Sprintf("%.2f", f.MeanValue)
		}
		top := ""
		if len(f.TopValues) > 0 {
			top = fmt.Sprintf("%s (%d)", f.TopValues[0].Value, f.TopValues[0].Count)
		}
		tbl.Append([]string{
			f.Name,
			f.DataType,
			fmt.Sprintf("%d", f.NullCount),
			fmt.Sprintf("%d", f.DistinctCount),
			minV,
			maxV,
			mean,
			top,
		})
	}
	tbl.Render()
}
