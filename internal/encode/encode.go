package encode

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/studentprep/internal/reconcile"
	"github.com/inferloop/studentprep/internal/table"
	"github.com/inferloop/studentprep/pkg/constants"
)

// Options configures binary and one-hot encoding.
type Options struct {
	BinaryColumn  string             `json:"binary_column" mapstructure:"binary_column"`
	BinaryMapping map[string]float64 `json:"binary_mapping" mapstructure:"binary_mapping"`
	OneHotColumns []string           `json:"onehot_columns" mapstructure:"onehot_columns"`
	// DropFirst omits the indicator of the first category seen per column.
	DropFirst bool `json:"drop_first" mapstructure:"drop_first"`
}

// Result lists what encoding added.
type Result struct {
	BinaryColumn string              `json:"binary_column,omitempty"`
	Unmapped     int                 `json:"unmapped"`
	Indicators   map[string][]string `json:"indicators"`
}

// Encoder adds binary and one-hot indicator columns. Source columns are
// kept.
type Encoder struct {
	options Options
	logger  *logrus.Logger
}

// NewEncoder creates an encoder; unset options fall back to the gender
// binary mapping and the canonical one-hot columns.
func NewEncoder(options Options, logger *logrus.Logger) *Encoder {
	if logger == nil {
		logger = logrus.New()
	}
	if options.BinaryColumn == "" {
		options.BinaryColumn = constants.BinaryColumn
	}
	if options.BinaryMapping == nil {
		options.BinaryMapping = constants.BinaryMapping()
	}
	if options.OneHotColumns == nil {
		options.OneHotColumns = constants.OneHotColumns()
	}
	return &Encoder{options: options, logger: logger}
}

// Encode runs Binary and then OneHot with the configured columns.
func (e *Encoder) Encode(t *table.Table) (*Result, error) {
	res := &Result{}

	if t.Has(e.options.BinaryColumn) {
		name, unmapped, err := Binary(t, e.options.BinaryColumn, e.options.BinaryMapping)
		if err != nil {
			return nil, err
		}
		res.BinaryColumn = name
		res.Unmapped = unmapped
		if unmapped > 0 {
			e.logger.WithFields(logrus.Fields{
				"column": e.options.BinaryColumn,
				"count":  unmapped,
			}).Warn("Values without a binary code left missing")
		}
	}

	indicators, err := OneHot(t, e.options.OneHotColumns, e.options.DropFirst)
	if err != nil {
		return nil, err
	}
	res.Indicators = indicators

	total := 0
	for _, cols := range indicators {
		total += len(cols)
	}
	e.logger.WithFields(logrus.Fields{
		"binary":     res.BinaryColumn,
		"indicators": total,
		"drop_first": e.options.DropFirst,
	}).Info("Encoded categorical columns")

	return res, nil
}

// BinaryName returns the binary code column name for a source column.
func BinaryName(column string) string {
	return column + constants.BinaryColumnSuffix
}

// Binary adds <column>_bin holding mapping[value]. Values outside the mapping
// and missing values stay missing; their count is returned.
func Binary(t *table.Table, column string, mapping map[string]float64) (string, int, error) {
	src, ok := t.Column(column)
	if !ok {
		return "", 0, fmt.Errorf("binary encoding: column %q not found", column)
	}

	values := make([]table.Value, src.Len())
	unmapped := 0
	for i, v := range src.Values {
		if code, ok := mapping[v.Text()]; ok && !v.IsMissing() {
			values[i] = table.Num(code)
			continue
		}
		unmapped++
	}

	name := BinaryName(column)
	if err := t.AddColumn(table.NewColumn(name, table.Int, values)); err != nil {
		return "", 0, err
	}
	return name, unmapped, nil
}

// OneHot adds one 0/1 indicator per distinct category of each column present
// in t, in first-seen order, named Sanitize(column_category). A missing
// source cell yields all zeros. With dropFirst the first category of each
// column gets no indicator.
func OneHot(t *table.Table, columns []string, dropFirst bool) (map[string][]string, error) {
	added := make(map[string][]string)

	for _, column := range columns {
		src, ok := t.Column(column)
		if !ok {
			continue
		}

		var categories []string
		index := make(map[string]int)
		for _, v := range src.Values {
			if v.IsMissing() {
				continue
			}
			if _, seen := index[v.Text()]; !seen {
				index[v.Text()] = len(categories)
				categories = append(categories, v.Text())
			}
		}

		first := 0
		if dropFirst {
			first = 1
		}

		// distinct categories can sanitize to the same name
		used := make(map[string]bool)
		for ci := first; ci < len(categories); ci++ {
			cat := categories[ci]
			base := reconcile.Sanitize(column + constants.DuplicateTargetSep + cat)
			name := base
			for k := 2; used[name] || t.Has(name); k++ {
				name = fmt.Sprintf("%s%s%d", base, constants.DuplicateTargetSep, k)
			}
			used[name] = true

			values := make([]table.Value, src.Len())
			for i, v := range src.Values {
				values[i] = table.Bool(!v.IsMissing() && v.Text() == cat)
			}
			if err := t.AddColumn(table.NewColumn(name, table.Int, values)); err != nil {
				return nil, err
			}
			added[column] = append(added[column], name)
		}
	}

	return added, nil
}
