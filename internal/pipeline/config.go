package pipeline

import (
	"fmt"

	"github.com/inferloop/studentprep/internal/encode"
	"github.com/inferloop/studentprep/internal/export"
	"github.com/inferloop/studentprep/internal/features"
	"github.com/inferloop/studentprep/internal/impute"
	"github.com/inferloop/studentprep/internal/loader"
	"github.com/inferloop/studentprep/internal/quality"
	"github.com/inferloop/studentprep/pkg/constants"
	"github.com/inferloop/studentprep/pkg/errors"
)

// Config holds everything a run needs. Zero-valued stage options fall back
// to each stage's defaults.
type Config struct {
	Input  string `json:"input"`
	Output string `json:"output"`

	// Canonical is the ordered display-name schema headers are matched to.
	Canonical []string `json:"canonical_schema"`
	Cutoff    float64  `json:"cutoff"`
	// StrictSchema aborts the run when a canonical column is absent after
	// reconciliation instead of recording a warning.
	StrictSchema bool `json:"strict_schema"`

	Loader   loader.Options        `json:"loader"`
	Impute   impute.Options        `json:"impute"`
	Quality  quality.QualityConfig `json:"quality"`
	Features features.Options      `json:"features"`
	Encode   encode.Options        `json:"encode"`
	Export   export.ExportOptions  `json:"export"`

	// ReportPath, when set, receives the JSON run report.
	ReportPath string `json:"report_path,omitempty"`
	// MetricsPath, when set, receives the Prometheus textfile.
	MetricsPath string `json:"metrics_path,omitempty"`
}

// DefaultConfig returns the configuration of the reference cleaning run.
func DefaultConfig() *Config {
	return &Config{
		Output:    constants.DefaultOutputPath,
		Canonical: constants.CanonicalSchema(),
		Cutoff:    constants.DefaultFuzzyCutoff,
		Impute: impute.Options{
			NumericColumns:     constants.NumericColumns(),
			CategoricalColumns: constants.CategoricalColumns(),
			Strategy:           impute.StrategyImpute,
		},
		Quality: quality.QualityConfig{
			RangeColumns: constants.NumericColumns(),
			RangeMin:     constants.DefaultRangeMin,
			RangeMax:     constants.DefaultRangeMax,
		},
		Features: features.DefaultOptions(),
		Encode: encode.Options{
			BinaryColumn:  constants.BinaryColumn,
			BinaryMapping: constants.BinaryMapping(),
			OneHotColumns: constants.OneHotColumns(),
		},
	}
}

// Validate checks the settings the stages cannot default themselves.
func (c *Config) Validate() error {
	verrs := errors.NewValidationErrors()

	if c.Input == "" {
		verrs.Add("input", errors.CodeMissingField, "input path is required", c.Input)
	}
	if c.Output == "" {
		verrs.Add("output", errors.CodeMissingField, "output path is required", c.Output)
	}
	if len(c.Canonical) == 0 {
		verrs.Add("canonical_schema", errors.CodeMissingField, "canonical schema is empty", nil)
	}
	if c.Cutoff < 0 || c.Cutoff > 1 {
		verrs.Add("cutoff", errors.CodeOutOfRange, "cutoff must be within [0, 1]", c.Cutoff)
	}
	if c.Quality.RangeMin > c.Quality.RangeMax {
		verrs.Add("range", errors.CodeOutOfRange,
			fmt.Sprintf("min %v is greater than max %v", c.Quality.RangeMin, c.Quality.RangeMax), nil)
	}
	switch c.Impute.Strategy {
	case "", impute.StrategyImpute, impute.StrategyDrop:
	default:
		verrs.Add("strategy", errors.CodeInvalidConfig, "strategy must be impute or drop", c.Impute.Strategy)
	}

	if verrs.HasErrors() {
		return verrs
	}
	return nil
}
