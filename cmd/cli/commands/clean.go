package commands

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/inferloop/studentprep/internal/observability/metrics"
	"github.com/inferloop/studentprep/internal/pipeline"
	"github.com/inferloop/studentprep/pkg/constants"
	"github.com/inferloop/studentprep/pkg/errors"
)

// NewCleanCmd builds the clean command. Its flags carry no backing fields;
// LoadConfig binds them onto the configuration keys in flagKeys.
func NewCleanCmd(globals *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Clean a raw student records file",
		Long: `Run the full cleaning pipeline: reconcile column names, normalize values,
handle missing data, drop duplicates and out-of-range rows, derive score
features, encode categoricals and write the cleaned table.`,
		Example: `  # Clean a local file
  studentprep clean --input StudentsPerformance.csv --output student_clean.csv

  # Drop incomplete rows instead of imputing, and keep a run report
  studentprep clean -i raw.xlsx -o clean.json --strategy drop --report report.json

  # Read from S3 and load the result into Postgres
  studentprep clean -i s3://cohort/raw/students.csv -o "postgres://etl@db/school?table=students"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClean(cmd, globals)
		},
	}

	// Add flags
	cmd.Flags().StringP("input", "i", "", "Input file or s3:// location (required)")
	cmd.Flags().StringP("output", "o", constants.DefaultOutputPath, "Output file, s3:// or postgres:// location")
	cmd.Flags().Float64("cutoff", constants.DefaultFuzzyCutoff, "Minimum similarity for a header to match a canonical column")
	cmd.Flags().Float64("threshold", constants.DefaultPassThreshold, "Pass mark for the pass_* indicators")
	cmd.Flags().Float64("min", constants.DefaultRangeMin, "Lowest valid score")
	cmd.Flags().Float64("max", constants.DefaultRangeMax, "Highest valid score")
	cmd.Flags().String("strategy", constants.DefaultStrategy, "Missing value strategy (impute, drop)")
	cmd.Flags().Bool("drop-first", false, "Omit the first indicator of each one-hot encoded column")
	cmd.Flags().Bool("strict-schema", false, "Fail when a canonical column is absent")
	cmd.Flags().String("report", "", "Write the JSON run report to this file")
	cmd.Flags().String("metrics-file", "", "Write Prometheus metrics to this textfile")

	return cmd
}

func runClean(cmd *cobra.Command, globals *GlobalOptions) error {
	cfg, logger, err := globals.load(cmd)
	if err != nil {
		return err
	}

	runConfig := cfg.PipelineConfig()
	if err := runConfig.Validate(); err != nil {
		return err
	}

	m, err := metrics.NewPrometheusMetrics(cfg.PrometheusConfig(), logger)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig, "failed to create metrics")
	}

	runner, err := pipeline.NewRunner(runConfig, newFactory(cfg, logger), m, logger)
	if err != nil {
		return err
	}

	report, err := runner.Run(cmd.Context())
	printReport(cmd.OutOrStdout(), report)
	return err
}

func printReport(w io.Writer, report *pipeline.Report) {
	fmt.Fprintf(w, "Run %s\n", report.RunID)
	fmt.Fprintf(w, "Input: %s (%d rows, %d columns)\n", report.Input, report.RowsIn, report.ColumnsIn)

	stages := tablewriter.NewWriter(w)
	stages.SetHeader([]string{"Stage", "Status", "Rows In", "Rows Out", "Columns", "Duration"})
	for _, s := range report.Stages {
		stages.Append([]string{
			s.Name,
			s.Status,
			fmt.Sprintf("%d", s.RowsBefore),
			fmt.Sprintf("%d", s.RowsAfter),
			fmt.Sprintf("%d", s.Columns),
			s.Duration.String(),
		})
	}
	stages.Render()

	if len(report.Warnings) > 0 {
		fmt.Fprintf(w, "\nWarnings (%d):\n", len(report.Warnings))
		warnings := tablewriter.NewWriter(w)
		warnings.SetHeader([]string{"Stage", "Code", "Message"})
		warnings.SetAutoWrapText(false)
		for _, warning := range report.Warnings {
			warnings.Append([]string{warning.Stage, warning.Code, warning.Message})
		}
		warnings.Render()
	}

	if report.Success {
		fmt.Fprintf(w, "\nWrote %d rows, %d columns to %s\n", report.RowsOut, report.ColumnsOut, report.Output)
	} else if report.Error != nil {
		fmt.Fprintf(w, "\nRun failed: %s\n", report.Error.Message)
	}
}
