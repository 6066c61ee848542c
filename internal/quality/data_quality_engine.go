package quality

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/studentprep/internal/table"
	"github.com/inferloop/studentprep/pkg/constants"
	"github.com/inferloop/studentprep/pkg/errors"
)

// DataQualityEngine removes duplicate and out-of-range rows and profiles
// tables.
type DataQualityEngine struct {
	logger   *logrus.Logger
	config   *QualityConfig
	profiler *DataProfiler
	metrics  *QualityMetrics
	mu       sync.RWMutex
}

// QualityConfig configures the data quality engine
type QualityConfig struct {
	RangeColumns []string `json:"range_columns" mapstructure:"range_columns"`
	RangeMin     float64  `json:"range_min" mapstructure:"min"`
	RangeMax     float64  `json:"range_max" mapstructure:"max"`
	TopValues    int      `json:"top_values" mapstructure:"top_values"`
}

// RangeReport describes one range validation pass. Counts are taken before
// any row is removed.
type RangeReport struct {
	Min        float64          `json:"min"`
	Max        float64          `json:"max"`
	Violations []RuleViolation  `json:"violations"`
	ByColumn   map[string]int64 `json:"by_column"`
	RowsBefore int              `json:"rows_before"`
	RowsAfter  int              `json:"rows_after"`
	Dropped    int              `json:"dropped"`
}

// RuleViolation represents a range violation in one column
type RuleViolation struct {
	Field          string    `json:"field"`
	Description    string    `json:"description"`
	ViolationCount int64     `json:"violation_count"`
	Examples       []float64 `json:"examples"`
}

// QualityMetrics accumulates counters across engine calls
type QualityMetrics struct {
	DuplicatesRemoved int64 `json:"duplicates_removed"`
	RowsRejected      int64 `json:"rows_rejected"`
	ProfilesGenerated int64 `json:"profiles_generated"`
}

const maxExamples = 5

// NewDataQualityEngine creates a new engine; nil config means the canonical
// score columns with the default [0, 100] range.
func NewDataQualityEngine(config *QualityConfig, logger *logrus.Logger) (*DataQualityEngine, error) {
	if config == nil {
		config = getDefaultQualityConfig()
	}

	if logger == nil {
		logger = logrus.New()
	}

	if config.RangeMin > config.RangeMax {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig,
			fmt.Sprintf("range min %g is greater than max %g", config.RangeMin, config.RangeMax))
	}

	return &DataQualityEngine{
		logger:   logger,
		config:   config,
		profiler: NewDataProfiler(config.TopValues, logger),
		metrics:  &QualityMetrics{},
	}, nil
}

// DropDuplicates removes rows identical to an earlier row in every column,
// keeping the first occurrence. Running it twice removes nothing the second
// time.
func (dqe *DataQualityEngine) DropDuplicates(t *table.Table) int {
	start := time.Now()
	before := t.Len()

	seen := make(map[string]struct{}, t.Len())
	keep := make([]bool, t.Len())
	for i := 0; i < t.Len(); i++ {
		key := t.RowKey(i)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keep[i] = true
	}

	removed := t.FilterRows(func(row int) bool { return keep[row] })

	dqe.mu.Lock()
	dqe.metrics.DuplicatesRemoved += int64(removed)
	dqe.mu.Unlock()

	dqe.logger.WithFields(logrus.Fields{
		"rows_before": before,
		"duplicates":  removed,
		"duration":    time.Since(start),
	}).Info("Removed duplicate rows")

	return removed
}

// ValidateRange drops every row in which a configured column lies outside
// the closed interval [RangeMin, RangeMax]. Missing or non-numeric cells are
// not violations. Columns absent from t are skipped.
func (dqe *DataQualityEngine) ValidateRange(t *table.Table) (*RangeReport, error) {
	return dqe.validateRange(t, dqe.config.RangeColumns, dqe.config.RangeMin, dqe.config.RangeMax)
}

// ValidateColumns is ValidateRange with explicit columns and bounds.
func (dqe *DataQualityEngine) ValidateColumns(t *table.Table, columns []string, min, max float64) (*RangeReport, error) {
	if min > max {
		return nil, errors.NewValidationError(errors.CodeOutOfRange,
			fmt.Sprintf("range min %g is greater than max %g", min, max))
	}
	return dqe.validateRange(t, columns, min, max)
}

func (dqe *DataQualityEngine) validateRange(t *table.Table, columns []string, min, max float64) (*RangeReport, error) {
	report := &RangeReport{
		Min:        min,
		Max:        max,
		ByColumn:   make(map[string]int64),
		RowsBefore: t.Len(),
	}

	reject := make([]bool, t.Len())
	for _, name := range columns {
		col, ok := t.Column(name)
		if !ok {
			continue
		}
		violation := RuleViolation{
			Field:       name,
			Description: fmt.Sprintf("value outside [%g, %g]", min, max),
		}
		for i, v := range col.Values {
			if v.IsMissing() {
				continue
			}
			f, ok := v.Float()
			if !ok || (f >= min && f <= max) {
				continue
			}
			reject[i] = true
			violation.ViolationCount++
			if len(violation.Examples) < maxExamples {
				violation.Examples = append(violation.Examples, f)
			}
		}
		report.ByColumn[name] = violation.ViolationCount
		if violation.ViolationCount > 0 {
			report.Violations = append(report.Violations, violation)
			dqe.logger.WithFields(logrus.Fields{
				"column":     name,
				"violations": violation.ViolationCount,
			}).Warn("Values outside the valid range")
		}
	}

	report.Dropped = t.FilterRows(func(row int) bool { return !reject[row] })
	report.RowsAfter = t.Len()

	dqe.mu.Lock()
	dqe.metrics.RowsRejected += int64(report.Dropped)
	dqe.mu.Unlock()

	dqe.logger.WithFields(logrus.Fields{
		"rows_before": report.RowsBefore,
		"rows_after":  report.RowsAfter,
		"dropped":     report.Dropped,
	}).Info("Validated value ranges")

	return report, nil
}

// Profile summarizes every column of t.
func (dqe *DataQualityEngine) Profile(t *table.Table) *DataProfile {
	profile := dqe.profiler.ProfileTable(t)

	dqe.mu.Lock()
	dqe.metrics.ProfilesGenerated++
	dqe.mu.Unlock()

	return profile
}

// GetMetrics returns a copy of the accumulated counters
func (dqe *DataQualityEngine) GetMetrics() QualityMetrics {
	dqe.mu.RLock()
	defer dqe.mu.RUnlock()
	return *dqe.metrics
}

func getDefaultQualityConfig() *QualityConfig {
	return &QualityConfig{
		RangeColumns: constants.NumericColumns(),
		RangeMin:     constants.DefaultRangeMin,
		RangeMax:     constants.DefaultRangeMax,
		TopValues:    defaultTopValues,
	}
}
