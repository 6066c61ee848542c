package reconcile

import (
	"io"
	"regexp"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/studentprep/internal/table"
	"github.com/inferloop/studentprep/pkg/constants"
	apperrors "github.com/inferloop/studentprep/pkg/errors"
)

func newTestReconciler() *Reconciler {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewReconciler(constants.CanonicalSchema(), constants.DefaultFuzzyCutoff, logger)
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "raceethnicity", NormalizeKey("Race/Ethnicity"))
	assert.Equal(t, "lunch", NormalizeKey("LUNCH "))
	assert.Equal(t, "mathscore", NormalizeKey("math_score"))
	assert.Equal(t, "g1", NormalizeKey("Ｇ1"))
	assert.Equal(t, "", NormalizeKey("%%%"))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("gender", "gender"))
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 0.0, Similarity("gender", ""))
	assert.InDelta(t, 0.957, Similarity("writingscore", "writngscore"), 0.001)
	assert.InDelta(t, 0.4, Similarity("gender", "studentid"), 0.001)
}

func TestBestMatch(t *testing.T) {
	m := NewMatcher(constants.CanonicalSchema(), 0.5)

	tests := []struct {
		key     string
		want    string
		matched bool
	}{
		{"gender", constants.ColumnGender, true},
		{"raceethnicity", constants.ColumnRaceEthnicity, true},
		{"parentaleducation", constants.ColumnParentEducation, true},
		{"testprep", constants.ColumnTestPreparation, true},
		{"math", constants.ColumnMathScore, true},
		{"writngscore", constants.ColumnWritingScore, true},
		{"studentid", "", false},
		{"school", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			c, _, ok := m.BestMatch(tt.key)
			assert.Equal(t, tt.matched, ok)
			assert.Equal(t, tt.want, c.Display)
		})
	}
}

func TestBestMatchTieKeepsSchemaOrder(t *testing.T) {
	m := NewMatcher(constants.CanonicalSchema(), 0.5)

	// "ingscore" scores 0.8 against both reading and writing score
	c, score, ok := m.BestMatch("ingscore")
	require.True(t, ok)
	assert.Equal(t, constants.ColumnReadingScore, c.Display)
	assert.InDelta(t, 0.8, score, 1e-9)
}

func TestCleanHeaderAndSanitize(t *testing.T) {
	assert.Equal(t, "student id", CleanHeader("  Student__ID "))
	assert.Equal(t, "free time", CleanHeader("free\t time"))
	assert.Equal(t, "race_ethnicity", Sanitize("race/ethnicity"))
	assert.Equal(t, "parental_level_of_education", Sanitize("parental level of education"))
	assert.Equal(t, "score", Sanitize("--Score (%)"))
	assert.Equal(t, "", Sanitize("%%%"))
}

func TestBuildIsTotalAndSafe(t *testing.T) {
	r := newTestReconciler()
	headers := []string{
		"Gender", "LUNCH ", "math score", "Student ID", "%%%", "gender ",
		"Race_Ethnicity", "Parental Education", "absences", "",
	}

	m := r.Build(headers)
	require.Len(t, m.Entries, len(headers))

	safe := regexp.MustCompile(`^[a-z0-9_]+$`)
	seen := make(map[string]bool)
	for i, e := range m.Entries {
		assert.Equal(t, headers[i], e.Raw)
		assert.Equal(t, i, e.Position)
		assert.NotEmpty(t, e.Target)
		assert.Regexp(t, safe, e.Target)
		assert.False(t, seen[e.Target], "duplicate target %q", e.Target)
		seen[e.Target] = true
	}

	assert.Equal(t, []string{
		"gender", "lunch", "math_score", "student_id", "column_4", "gender_2",
		"race_ethnicity", "parental_level_of_education", "absences", "column_9",
	}, m.Targets())

	stats := m.Stats()
	assert.Equal(t, 6, stats.Matched)
	assert.Equal(t, 4, stats.Unmatched)
	assert.Equal(t, 1, stats.Collisions)
}

func TestBuildIsDeterministic(t *testing.T) {
	r := newTestReconciler()
	headers := []string{"ing score", "Gender", "Math", "writng score", "school"}

	first := r.Build(headers)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, r.Build(headers))
	}
}

func TestApplyOrdersCanonicalFirst(t *testing.T) {
	r := newTestReconciler()
	tbl, err := table.FromRecords(
		[]string{"id", "Math Score", "Gender", "notes", "LUNCH "},
		[][]string{{"1", "67", "female", "n", "standard"}},
		func(s string) bool { return s == "" },
	)
	require.NoError(t, err)

	m, err := r.Reconcile(tbl)
	require.NoError(t, err)

	assert.Equal(t, []string{"gender", "lunch", "math_score", "id", "notes"}, tbl.Names())
	assert.Equal(t, [][]string{{"female", "standard", "67", "1", "n"}}, tbl.Records())

	target, ok := m.Lookup("LUNCH ")
	assert.True(t, ok)
	assert.Equal(t, "lunch", target)
}

func TestRequireColumns(t *testing.T) {
	tbl, err := table.FromRecords([]string{"gender"}, [][]string{{"female"}}, nil)
	require.NoError(t, err)

	assert.NoError(t, RequireColumns(tbl, []string{"gender"}))

	err = RequireColumns(tbl, []string{"gender", "math_score", "lunch"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "lunch, math_score")
}

func TestCanonicalTargets(t *testing.T) {
	r := newTestReconciler()
	assert.Equal(t, []string{
		"gender", "race_ethnicity", "parental_level_of_education", "lunch",
		"test_preparation_course", "math_score", "reading_score", "writing_score",
	}, r.CanonicalTargets())
}
