package impute

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/studentprep/internal/table"
	apperrors "github.com/inferloop/studentprep/pkg/errors"
)

func TestHandleImputes(t *testing.T) {
	tbl := createTestTable(t)
	before := map[string]int{
		"math_score": tbl.MissingCount("math_score"),
		"lunch":      tbl.MissingCount("lunch"),
	}

	res, err := newTestHandler(t, Options{}).Handle(tbl)
	require.NoError(t, err)

	// "abc" is coerced, so math_score ends with two gaps
	assert.Equal(t, map[string]int{"math_score": 1}, res.Coerced)
	require.Len(t, res.Warnings, 1)
	assert.ErrorIs(t, res.Warnings[0], apperrors.ErrCoercion)
	assert.False(t, res.Warnings[0].Fatal())

	assert.Equal(t, 2, res.Imputed["math_score"])
	assert.Equal(t, "70", res.Fill["math_score"])
	assert.Equal(t, 1, res.Imputed["lunch"])
	// two Standard, two Free/Reduced: the tie goes to the smaller value
	assert.Equal(t, "Free/Reduced", res.Fill["lunch"])
	assert.Equal(t, []string{"math_score_missing", "lunch_missing"}, res.Flags)

	for _, name := range []string{"math_score", "reading_score", "lunch", "gender"} {
		assert.Zero(t, tbl.MissingCount(name), name)
	}

	math, _ := tbl.Column("math_score")
	assert.Equal(t, table.Float, math.Type)
	assert.Equal(t, []string{"60.0", "70.0", "70.0", "80.0", "70.0"}, formatColumn(math))

	flag, ok := tbl.Column("math_score_missing")
	require.True(t, ok)
	assert.Equal(t, table.Int, flag.Type)
	assert.Equal(t, []string{"0", "1", "0", "0", "1"}, formatColumn(flag))
	assert.Equal(t, before["math_score"]+res.Coerced["math_score"], countOnes(flag))

	lunchFlag, _ := tbl.Column("lunch_missing")
	assert.Equal(t, before["lunch"], countOnes(lunchFlag))

	// no gaps, no flag
	assert.False(t, tbl.Has("reading_score_missing"))
	assert.False(t, tbl.Has("gender_missing"))
}

func TestHandleFullyMissingColumns(t *testing.T) {
	tbl, err := table.FromRecords(
		[]string{"math_score", "lunch"},
		[][]string{{"", ""}, {"n/a", ""}},
		func(s string) bool { return s == "" },
	)
	require.NoError(t, err)

	res, err := newTestHandler(t, Options{
		NumericColumns:     []string{"math_score"},
		CategoricalColumns: []string{"lunch"},
	}).Handle(tbl)
	require.NoError(t, err)

	assert.Equal(t, []string{"math_score"}, res.FullyMissing)
	assert.Equal(t, [][]string{{"0.0", "Unknown", "1", "1"}, {"0.0", "Unknown", "1", "1"}}, tbl.Records())
	assert.Len(t, res.Warnings, 2)
}

func TestHandleDropStrategy(t *testing.T) {
	tbl := createTestTable(t)

	res, err := newTestHandler(t, Options{Strategy: StrategyDrop}).Handle(tbl)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Dropped)
	assert.Equal(t, 2, tbl.Len())
	assert.Empty(t, res.Flags)
	assert.False(t, tbl.Has("math_score_missing"))
}

func TestHandleSkipsAbsentColumns(t *testing.T) {
	tbl, err := table.FromRecords([]string{"gender"}, [][]string{{"Female"}, {""}}, func(s string) bool { return s == "" })
	require.NoError(t, err)

	res, err := newTestHandler(t, Options{}).Handle(tbl)
	require.NoError(t, err)
	assert.Equal(t, []string{"gender_missing"}, res.Flags)
	assert.Equal(t, "Female", res.Fill["gender"])
}

func TestHandleRejectsExistingFlag(t *testing.T) {
	tbl, err := table.FromRecords([]string{"lunch", "lunch_missing"}, [][]string{{"", "x"}}, func(s string) bool { return s == "" })
	require.NoError(t, err)

	_, err = newTestHandler(t, Options{}).Handle(tbl)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	// the source column keeps its missing cell
	lunch, ok := tbl.Column("lunch")
	require.True(t, ok)
	assert.True(t, lunch.Values[0].IsMissing())
	assert.Equal(t, 2, tbl.Width())
}

func TestNewHandlerUnknownStrategy(t *testing.T) {
	_, err := NewHandler(Options{Strategy: "interpolate"}, logrus.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfiguration)
}

func TestCoerce(t *testing.T) {
	col := table.NewColumn("x", table.Categorical, []table.Value{
		table.Str("1"), table.Str(" 2.5 "), table.Str("two"), table.Missing(), table.Str("NaN"),
	})
	assert.Equal(t, 2, Coerce(col))
	assert.Equal(t, table.Float, col.Type)
	assert.Equal(t, 3, col.MissingCount())
}

// Helper functions

func newTestHandler(t *testing.T, options Options) *Handler {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	h, err := NewHandler(options, logger)
	require.NoError(t, err)
	return h
}

func createTestTable(t *testing.T) *table.Table {
	t.Helper()
	tbl, err := table.FromRecords(
		[]string{"gender", "lunch", "math_score", "reading_score"},
		[][]string{
			{"Female", "Standard", "60", "72"},
			{"Male", "Standard", "", "90"},
			{"Female", "", "70", "95"},
			{"Male", "Free/Reduced", "80", "57"},
			{"Female", "Free/Reduced", "abc", "78"},
		},
		func(s string) bool { return s == "" },
	)
	require.NoError(t, err)
	return tbl
}

func formatColumn(c *table.Column) []string {
	out := make([]string, c.Len())
	for i := range c.Values {
		out[i] = c.Format(i)
	}
	return out
}

func countOnes(c *table.Column) int {
	n := 0
	for _, v := range c.Values {
		if f, ok := v.Float(); ok && f == 1 {
			n++
		}
	}
	return n
}
