package impute

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/studentprep/internal/table"
	"github.com/inferloop/studentprep/internal/utils/math"
	"github.com/inferloop/studentprep/pkg/constants"
	"github.com/inferloop/studentprep/pkg/errors"
)

// Strategy selects how missing values are handled.
type Strategy string

const (
	// StrategyImpute fills numeric gaps with the median and categorical gaps
	// with the mode, recording each gap in a flag column.
	StrategyImpute Strategy = "impute"
	// StrategyDrop removes every row with a gap in a target column.
	StrategyDrop Strategy = "drop"
)

// Options selects the target columns and the strategy.
type Options struct {
	NumericColumns     []string `json:"numeric_columns" mapstructure:"numeric_columns"`
	CategoricalColumns []string `json:"categorical_columns" mapstructure:"categorical_columns"`
	Strategy           Strategy `json:"strategy" mapstructure:"strategy"`
}

// Result reports what the handler changed.
type Result struct {
	// Imputed counts the filled cells per column.
	Imputed map[string]int `json:"imputed"`
	// Coerced counts non-numeric cells turned into missing per column.
	Coerced map[string]int `json:"coerced"`
	// Fill records the value used for each imputed column.
	Fill map[string]string `json:"fill"`
	// Flags lists the flag columns added, in creation order.
	Flags []string `json:"flags"`
	// FullyMissing lists numeric columns without a single value.
	FullyMissing []string `json:"fully_missing,omitempty"`
	// Dropped counts rows removed by StrategyDrop.
	Dropped  int                `json:"dropped"`
	Warnings []*errors.AppError `json:"-"`
}

// Handler coerces numeric columns and fills or drops missing values.
type Handler struct {
	options Options
	logger  *logrus.Logger
}

// NewHandler creates a handler. Empty column lists fall back to the
// canonical numeric and categorical columns.
func NewHandler(options Options, logger *logrus.Logger) (*Handler, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if options.NumericColumns == nil {
		options.NumericColumns = constants.NumericColumns()
	}
	if options.CategoricalColumns == nil {
		options.CategoricalColumns = constants.CategoricalColumns()
	}
	if options.Strategy == "" {
		options.Strategy = StrategyImpute
	}
	if options.Strategy != StrategyImpute && options.Strategy != StrategyDrop {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig,
			fmt.Sprintf("unknown missing-value strategy %q", options.Strategy))
	}

	return &Handler{options: options, logger: logger}, nil
}

// Handle coerces the numeric targets, then imputes or drops. Target columns
// absent from t are skipped.
func (h *Handler) Handle(t *table.Table) (*Result, error) {
	res := &Result{
		Imputed: make(map[string]int),
		Coerced: make(map[string]int),
		Fill:    make(map[string]string),
	}

	for _, name := range h.options.NumericColumns {
		col, ok := t.Column(name)
		if !ok {
			continue
		}
		if n := Coerce(col); n > 0 {
			res.Coerced[name] = n
			res.Warnings = append(res.Warnings, errors.NewCoercionWarning(name, n))
			h.logger.WithFields(logrus.Fields{
				"column": name,
				"count":  n,
			}).Warn("Coerced non-numeric values to missing")
		}
	}

	if h.options.Strategy == StrategyDrop {
		res.Dropped = h.dropIncomplete(t)
		h.logger.WithField("dropped", res.Dropped).Info("Dropped rows with missing values")
		return res, nil
	}

	for _, name := range h.options.NumericColumns {
		col, ok := t.Column(name)
		if !ok || col.MissingCount() == 0 {
			continue
		}
		fill, defined := median(col)
		if !defined {
			res.FullyMissing = append(res.FullyMissing, name)
			res.Warnings = append(res.Warnings, errors.NewValidationError(errors.CodeMissingField,
				"numeric column has no values; filled with 0").WithDetails(name))
			h.logger.WithField("column", name).Warn("Numeric column fully missing, filling with 0")
		}
		if err := h.fill(t, col, table.Num(fill), res); err != nil {
			return nil, err
		}
	}

	for _, name := range h.options.CategoricalColumns {
		col, ok := t.Column(name)
		if !ok || col.MissingCount() == 0 {
			continue
		}
		fill, defined := mode(col)
		if !defined {
			fill = constants.UnknownCategory
		}
		if err := h.fill(t, col, table.Str(fill), res); err != nil {
			return nil, err
		}
	}

	h.logger.WithFields(logrus.Fields{
		"imputed_columns": len(res.Imputed),
		"flags":           len(res.Flags),
		"coerced_columns": len(res.Coerced),
	}).Info("Imputed missing values")

	return res, nil
}

// Coerce converts every cell of col to a number and marks the column as
// Float. Cells that do not parse become missing; their count is returned.
func Coerce(col *table.Column) int {
	coerced := 0
	for i, v := range col.Values {
		if v.IsMissing() {
			continue
		}
		f, ok := v.Float()
		if !ok {
			col.Values[i] = table.Missing()
			coerced++
			continue
		}
		col.Values[i] = table.Num(f)
	}
	col.Type = table.Float
	return coerced
}

// FlagName returns the name of the flag column for a source column.
func FlagName(column string) string {
	return column + constants.MissingFlagSuffix
}

// fill replaces the missing cells of col and records them in a new flag
// column. col is left untouched when the flag column cannot be added.
func (h *Handler) fill(t *table.Table, col *table.Column, value table.Value, res *Result) error {
	flagName := FlagName(col.Name)
	if t.Has(flagName) {
		return errors.NewValidationError(errors.CodeDuplicateName,
			fmt.Sprintf("flag column %q already exists", flagName)).
			WithContext("column", col.Name)
	}

	flags := make([]table.Value, col.Len())
	filled := 0
	for i, v := range col.Values {
		flags[i] = table.Bool(v.IsMissing())
		if v.IsMissing() {
			col.Values[i] = value
			filled++
		}
	}

	if err := t.AddColumn(table.NewColumn(flagName, table.Int, flags)); err != nil {
		return err
	}

	res.Imputed[col.Name] = filled
	res.Fill[col.Name] = value.Text()
	res.Flags = append(res.Flags, flagName)

	h.logger.WithFields(logrus.Fields{
		"column": col.Name,
		"filled": filled,
		"value":  value.Text(),
	}).Debug("Filled missing values")
	return nil
}

func (h *Handler) dropIncomplete(t *table.Table) int {
	var cols []*table.Column
	for _, name := range append(append([]string(nil), h.options.NumericColumns...), h.options.CategoricalColumns...) {
		if col, ok := t.Column(name); ok {
			cols = append(cols, col)
		}
	}
	return t.FilterRows(func(row int) bool {
		for _, c := range cols {
			if c.Values[row].IsMissing() {
				return false
			}
		}
		return true
	})
}

func median(col *table.Column) (float64, bool) {
	values := make([]float64, 0, col.Len())
	for _, v := range col.Values {
		if f, ok := v.Float(); ok && !v.IsMissing() {
			values = append(values, f)
		}
	}
	return math.Median(values)
}

func mode(col *table.Column) (string, bool) {
	values := make([]string, 0, col.Len())
	for _, v := range col.Values {
		if !v.IsMissing() {
			values = append(values, v.Text())
		}
	}
	return math.Mode(values)
}
