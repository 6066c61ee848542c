package features

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/studentprep/internal/table"
	"github.com/inferloop/studentprep/internal/utils/math"
	"github.com/inferloop/studentprep/pkg/constants"
	"github.com/inferloop/studentprep/pkg/errors"
)

// Options selects the score columns and the pass threshold.
type Options struct {
	ScoreColumns  []string `json:"score_columns" mapstructure:"score_columns"`
	PassThreshold float64  `json:"pass_threshold" mapstructure:"pass_threshold"`
}

// Result lists the derived columns.
type Result struct {
	Scores  []string `json:"scores"`
	Columns []string `json:"columns"`
}

// Deriver adds total, average and pass columns.
type Deriver struct {
	options Options
	logger  *logrus.Logger
}

// DefaultOptions scores the canonical columns against a pass mark of 50.
func DefaultOptions() Options {
	return Options{
		ScoreColumns:  constants.NumericColumns(),
		PassThreshold: constants.DefaultPassThreshold,
	}
}

// NewDeriver creates a deriver. No score columns means the canonical ones.
// The threshold is used as given; zero passes every score.
func NewDeriver(options Options, logger *logrus.Logger) *Deriver {
	if logger == nil {
		logger = logrus.New()
	}
	if options.ScoreColumns == nil {
		options.ScoreColumns = constants.NumericColumns()
	}
	return &Deriver{options: options, logger: logger}
}

// SubjectName strips the score suffix: math_score becomes math.
func SubjectName(column string) string {
	return strings.TrimSuffix(column, constants.ScoreColumnSuffix)
}

// PassColumn returns the pass flag name for a score column.
func PassColumn(column string) string {
	return constants.PassColumnPrefix + SubjectName(column)
}

// Derive adds total_score and average_score over the score columns present
// in t, and one pass flag per present score column. Every score must be
// filled; a missing or non-numeric score is an error and nothing is added.
func (d *Deriver) Derive(t *table.Table) (*Result, error) {
	res := &Result{}

	var scores []*table.Column
	for _, name := range d.options.ScoreColumns {
		col, ok := t.Column(name)
		if !ok {
			continue
		}
		for i, v := range col.Values {
			if _, ok := v.Float(); !ok {
				return nil, errors.NewValidationError(errors.CodeInvalidInput,
					fmt.Sprintf("score column %q has no numeric value in row %d; impute before deriving features", name, i+1)).
					WithContext("column", name)
			}
		}
		scores = append(scores, col)
		res.Scores = append(res.Scores, name)
	}

	if len(scores) == 0 {
		d.logger.Warn("No score columns present, skipping derived features")
		return res, nil
	}

	total := make([]table.Value, t.Len())
	average := make([]table.Value, t.Len())
	row := make([]float64, len(scores))
	for i := 0; i < t.Len(); i++ {
		for j, col := range scores {
			row[j], _ = col.Values[i].Float()
		}
		total[i] = table.Num(math.Sum(row))
		average[i] = table.Num(math.Mean(row))
	}

	derived := []*table.Column{
		table.NewColumn(constants.ColumnTotalScore, table.Float, total),
		table.NewColumn(constants.ColumnAverageScore, table.Float, average),
	}
	for _, col := range scores {
		pass := make([]table.Value, t.Len())
		for i, v := range col.Values {
			f, _ := v.Float()
			pass[i] = table.Bool(f >= d.options.PassThreshold)
		}
		derived = append(derived, table.NewColumn(PassColumn(col.Name), table.Int, pass))
	}

	for _, col := range derived {
		if err := t.AddColumn(col); err != nil {
			return nil, err
		}
		res.Columns = append(res.Columns, col.Name)
	}

	d.logger.WithFields(logrus.Fields{
		"scores":    len(scores),
		"threshold": d.options.PassThreshold,
		"columns":   len(res.Columns),
	}).Info("Derived score features")

	return res, nil
}
