package quality

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/studentprep/internal/table"
	apperrors "github.com/inferloop/studentprep/pkg/errors"
)

func TestNewDataQualityEngine(t *testing.T) {
	logger := logrus.New()
	engine, err := NewDataQualityEngine(nil, logger)
	require.NoError(t, err)

	assert.Equal(t, []string{"math_score", "reading_score", "writing_score"}, engine.config.RangeColumns)
	assert.Equal(t, 0.0, engine.config.RangeMin)
	assert.Equal(t, 100.0, engine.config.RangeMax)
	assert.Equal(t, logger, engine.logger)

	_, err = NewDataQualityEngine(&QualityConfig{RangeMin: 10, RangeMax: 5}, logger)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfiguration)
}

func TestDropDuplicates(t *testing.T) {
	engine := newTestEngine(t)
	tbl := createTestTable(t)

	removed := engine.DropDuplicates(tbl)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 4, tbl.Len())
	assert.Equal(t, []string{"Female", "Male", "Male", "Female"}, column(tbl, "gender"))

	// idempotent
	assert.Zero(t, engine.DropDuplicates(tbl))
	assert.Equal(t, 4, tbl.Len())
	assert.Equal(t, int64(2), engine.GetMetrics().DuplicatesRemoved)
}

func TestDropDuplicatesDistinguishesMissing(t *testing.T) {
	engine := newTestEngine(t)
	tbl := table.New(2)
	require.NoError(t, tbl.AddColumn(table.NewColumn("x", table.Categorical,
		[]table.Value{table.Str(""), table.Missing()})))

	assert.Zero(t, engine.DropDuplicates(tbl))
}

func TestValidateRange(t *testing.T) {
	engine := newTestEngine(t)
	tbl := createTestTable(t)
	engine.DropDuplicates(tbl)

	report, err := engine.ValidateRange(tbl)
	require.NoError(t, err)

	assert.Equal(t, 4, report.RowsBefore)
	assert.Equal(t, 2, report.RowsAfter)
	assert.Equal(t, 2, report.Dropped)
	assert.Equal(t, int64(1), report.ByColumn["math_score"])
	assert.Equal(t, int64(1), report.ByColumn["reading_score"])
	require.Len(t, report.Violations, 2)
	assert.Equal(t, []float64{-5}, report.Violations[0].Examples)
	assert.Equal(t, []float64{101}, report.Violations[1].Examples)

	for _, name := range []string{"math_score", "reading_score"} {
		col, _ := tbl.Column(name)
		for _, v := range col.Values {
			f, ok := v.Float()
			require.True(t, ok)
			assert.GreaterOrEqual(t, f, 0.0)
			assert.LessOrEqual(t, f, 100.0)
		}
	}
}

func TestValidateRangeBoundsAreInclusive(t *testing.T) {
	engine := newTestEngine(t)
	tbl := table.New(3)
	require.NoError(t, tbl.AddColumn(table.NewColumn("math_score", table.Float,
		[]table.Value{table.Num(0), table.Num(100), table.Num(100.01)})))

	report, err := engine.ValidateRange(tbl)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dropped)
	assert.Equal(t, 2, tbl.Len())
}

func TestValidateColumns(t *testing.T) {
	engine := newTestEngine(t)
	tbl := createTestTable(t)

	_, err := engine.ValidateColumns(tbl, []string{"math_score"}, 50, 10)
	require.Error(t, err)

	report, err := engine.ValidateColumns(tbl, []string{"math_score", "absent"}, 60, 80)
	require.NoError(t, err)
	assert.Equal(t, 6, report.RowsBefore)
	assert.Equal(t, 5, report.RowsAfter)
	_, ok := report.ByColumn["absent"]
	assert.False(t, ok)
}

func TestProfile(t *testing.T) {
	engine := newTestEngine(t)
	tbl := createTestTable(t)

	profile := engine.Profile(tbl)
	assert.Equal(t, int64(6), profile.RecordCount)
	require.Len(t, profile.FieldProfiles, 3)

	gender, ok := profile.Field("gender")
	require.True(t, ok)
	assert.False(t, gender.Numeric)
	assert.Equal(t, int64(2), gender.DistinctCount)
	assert.Equal(t, "Female", gender.TopValues[0].Value)
	assert.Equal(t, int64(3), gender.TopValues[0].Count)

	math, ok := profile.Field("math_score")
	require.True(t, ok)
	assert.True(t, math.Numeric)
	assert.Equal(t, -5.0, math.MinValue)
	assert.Equal(t, 80.0, math.MaxValue)
	assert.InDelta(t, 0.333, profile.Statistics.DuplicateRatio, 0.001)
	assert.Equal(t, int64(6), profile.Statistics.CompleteRecords)
	assert.Equal(t, int64(1), engine.GetMetrics().ProfilesGenerated)
}

// Helper functions

func newTestEngine(t *testing.T) *DataQualityEngine {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	engine, err := NewDataQualityEngine(nil, logger)
	require.NoError(t, err)
	return engine
}

func createTestTable(t *testing.T) *table.Table {
	t.Helper()
	tbl := table.New(6)
	require.NoError(t, tbl.AddColumn(table.NewColumn("gender", table.Categorical, []table.Value{
		table.Str("Female"), table.Str("Male"), table.Str("Female"),
		table.Str("Male"), table.Str("Female"), table.Str("Male"),
	})))
	require.NoError(t, tbl.AddColumn(table.NewColumn("math_score", table.Float, []table.Value{
		table.Num(67), table.Num(72), table.Num(67), table.Num(-5), table.Num(80), table.Num(72),
	})))
	require.NoError(t, tbl.AddColumn(table.NewColumn("reading_score", table.Float, []table.Value{
		table.Num(70), table.Num(101), table.Num(70), table.Num(60), table.Num(90), table.Num(101),
	})))
	return tbl
}

func column(t *table.Table, name string) []string {
	col, _ := t.Column(name)
	out := make([]string, col.Len())
	for i, v := range col.Values {
		out[i] = v.Text()
	}
	return out
}
