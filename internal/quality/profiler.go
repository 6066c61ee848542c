package quality

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/studentprep/internal/table"
	"github.com/inferloop/studentprep/internal/utils/math"
)

const defaultTopValues = 5

// DataProfile contains profiling results for a table
type DataProfile struct {
	Timestamp     time.Time          `json:"timestamp"`
	RecordCount   int64              `json:"record_count"`
	FieldProfiles []*FieldProfile    `json:"field_profiles"`
	Statistics    *DatasetStatistics `json:"statistics"`
}

// Field returns the profile of the named column.
func (p *DataProfile) Field(name string) (*FieldProfile, bool) {
	for _, f := range p.FieldProfiles {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// FieldProfile contains profile information for a single field
type FieldProfile struct {
	Name          string               `json:"name"`
	DataType      string               `json:"data_type"`
	NullCount     int64                `json:"null_count"`
	DistinctCount int64                `json:"distinct_count"`
	Numeric       bool                 `json:"numeric"`
	MinValue      float64              `json:"min_value,omitempty"`
	MaxValue      float64              `json:"max_value,omitempty"`
	MeanValue     float64              `json:"mean_value,omitempty"`
	MedianValue   float64              `json:"median_value,omitempty"`
	StdDev        float64              `json:"std_dev,omitempty"`
	TopValues     []ValueFrequency     `json:"top_values"`
	Quality       *FieldQualityMetrics `json:"quality_metrics"`
}

// ValueFrequency represents frequency of a value
type ValueFrequency struct {
	Value     string  `json:"value"`
	Count     int64   `json:"count"`
	Frequency float64 `json:"frequency"`
}

// FieldQualityMetrics contains quality metrics for a field
type FieldQualityMetrics struct {
	Completeness float64 `json:"completeness"`
	Uniqueness   float64 `json:"uniqueness"`
}

// DatasetStatistics contains overall dataset statistics
type DatasetStatistics struct {
	TotalRecords    int64   `json:"total_records"`
	TotalFields     int     `json:"total_fields"`
	NullRatio       float64 `json:"null_ratio"`
	DuplicateRatio  float64 `json:"duplicate_ratio"`
	CompleteRecords int64   `json:"complete_records"`
}

// DataProfiler computes per-column statistics
type DataProfiler struct {
	topValues int
	logger    *logrus.Logger
}

// NewDataProfiler creates a profiler reporting up to topValues frequent
// values per column.
func NewDataProfiler(topValues int, logger *logrus.Logger) *DataProfiler {
	if topValues <= 0 {
		topValues = defaultTopValues
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &DataProfiler{topValues: topValues, logger: logger}
}

// ProfileTable profiles every column of t. A column counts as numeric when
// every non-missing cell parses as a number and at least one does.
func (dp *DataProfiler) ProfileTable(t *table.Table) *DataProfile {
	profile := &DataProfile{
		Timestamp:   time.Now(),
		RecordCount: int64(t.Len()),
	}

	var nulls int64
	for _, col := range t.Columns() {
		fp := dp.profileColumn(col, t.Len())
		nulls += fp.NullCount
		profile.FieldProfiles = append(profile.FieldProfiles, fp)
	}

	stats := &DatasetStatistics{
		TotalRecords: int64(t.Len()),
		TotalFields:  t.Width(),
	}
	if cells := t.Len() * t.Width(); cells > 0 {
		stats.NullRatio = float64(nulls) / float64(cells)
	}

	seen := make(map[string]struct{}, t.Len())
	duplicates := 0
	for i := 0; i < t.Len(); i++ {
		key := t.RowKey(i)
		if _, dup := seen[key]; dup {
			duplicates++
		} else {
			seen[key] = struct{}{}
		}
		complete := true
		for _, col := range t.Columns() {
			if col.Values[i].IsMissing() {
				complete = false
				break
			}
		}
		if complete {
			stats.CompleteRecords++
		}
	}
	if t.Len() > 0 {
		stats.DuplicateRatio = float64(duplicates) / float64(t.Len())
	}
	profile.Statistics = stats

	dp.logger.WithFields(logrus.Fields{
		"records": profile.RecordCount,
		"fields":  len(profile.FieldProfiles),
	}).Debug("Profiled table")

	return profile
}

func (dp *DataProfiler) profileColumn(col *table.Column, rows int) *FieldProfile {
	fp := &FieldProfile{
		Name:     col.Name,
		DataType: col.Type.String(),
		Quality:  &FieldQualityMetrics{},
	}

	counts := make(map[string]int64)
	var numbers []float64
	numeric := true
	for _, v := range col.Values {
		if v.IsMissing() {
			fp.NullCount++
			continue
		}
		counts[v.Text()]++
		if f, ok := v.Float(); ok {
			numbers = append(numbers, f)
		} else {
			numeric = false
		}
	}

	fp.DistinctCount = int64(len(counts))
	present := int64(rows) - fp.NullCount
	if rows > 0 {
		fp.Quality.Completeness = float64(present) / float64(rows)
	}
	if present > 0 {
		fp.Quality.Uniqueness = float64(fp.DistinctCount) / float64(present)
	}

	if numeric && len(numbers) > 0 {
		fp.Numeric = true
		fp.MinValue, fp.MaxValue = math.MinMax(numbers)
		fp.MeanValue = math.Mean(numbers)
		fp.MedianValue, _ = math.Median(numbers)
		fp.StdDev = math.StandardDeviation(numbers)
	}

	fp.TopValues = topValues(counts, present, dp.topValues)
	return fp
}

// topValues orders by descending count, then by value.
func topValues(counts map[string]int64, total int64, limit int) []ValueFrequency {
	out := make([]ValueFrequency, 0, len(counts))
	for v, c := range counts {
		out = append(out, ValueFrequency{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		if total > 0 {
			out[i].Frequency = float64(out[i].Count) / float64(total)
		}
	}
	return out
}
