package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/studentprep/internal/table"
	apperrors "github.com/inferloop/studentprep/pkg/errors"
)

const messyCSV = `Gender,race_ethnicity,Parental Education,lunch,test prep,Math Score,reading score,writing score
female,group B,bachelor's degree,standard,none,72,72,74
male,group C,some college,free/reduced,completed,abc,90,88
female,group B,bachelor's degree,standard,none,72,72,74
male,group A,high school,standard,none,120,80,80
,group C,Some College ,standard,completed,60,NA,70
`

func TestRunMinimalRecord(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "raw.csv", "Gender,LUNCH ,math score\nfemale,standard,67\n")
	output := filepath.Join(dir, "student_clean.csv")

	config := DefaultConfig()
	config.Input = input
	config.Output = output

	report, err := newTestRunner(t, config).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Success)

	records := readOutput(t, output)
	require.Len(t, records, 2)
	row := recordMap(records[0], records[1])

	assert.Equal(t, "Female", row["gender"])
	assert.Equal(t, "Standard", row["lunch"])
	assert.Equal(t, "67.0", row["math_score"])
	assert.Equal(t, "1", row["pass_math"])
	assert.Equal(t, "0", row["gender_bin"])
	assert.Equal(t, "67.0", row["total_score"])
	assert.Equal(t, "1", row["lunch_standard"])

	// absent canonical columns are reported, not fatal
	assert.Equal(t, 1, report.WarningCount(apperrors.CodeSchemaMismatch))
	assert.Contains(t, report.Missing, "reading_score")
}

func TestRunMessyDataset(t *testing.T) {
	dir := t.TempDir()
	config := DefaultConfig()
	config.Input = writeInput(t, dir, "raw.csv", messyCSV)
	config.Output = filepath.Join(dir, "out", "student_clean.csv")
	config.ReportPath = filepath.Join(dir, "out", "report.json")
	config.MetricsPath = filepath.Join(dir, "out", "studentprep.prom")

	report, err := newTestRunner(t, config).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, report.RowsIn)
	assert.Equal(t, 3, report.RowsOut)
	assert.Equal(t, 1, report.Duplicates)
	require.NotNil(t, report.Range)
	assert.Equal(t, 1, report.Range.Dropped)
	assert.Equal(t, 1, report.Imputed.Coerced["math_score"])
	assert.Equal(t, 1, report.Imputed.Imputed["math_score"])
	assert.Equal(t, 1, report.Imputed.Imputed["reading_score"])
	assert.Equal(t, "Female", report.Imputed.Fill["gender"])
	assert.Equal(t, 1, report.WarningCount(apperrors.CodeCoerced))
	assert.Equal(t, 1, report.WarningCount(apperrors.CodeLowConfidence))
	assert.Equal(t, 1, report.WarningCount(apperrors.CodeOutOfRange))
	assert.Zero(t, report.WarningCount(apperrors.CodeSchemaMismatch))
	assert.Len(t, report.Stages, 9)

	validate, ok := report.Stage(StageValidate)
	require.True(t, ok)
	assert.Equal(t, 4, validate.RowsBefore)
	assert.Equal(t, 3, validate.RowsAfter)

	records := readOutput(t, config.Output)
	require.Len(t, records, 4)
	header := records[0]
	for _, name := range []string{"gender", "parental_level_of_education", "test_preparation_course",
		"math_score_missing", "reading_score_missing", "gender_missing",
		"total_score", "average_score", "pass_math", "pass_reading", "pass_writing",
		"gender_bin", "race_ethnicity_group_b"} {
		assert.Contains(t, header, name)
	}

	second := recordMap(header, records[2])
	assert.Equal(t, "72.0", second["math_score"])
	assert.Equal(t, "1", second["math_score_missing"])
	third := recordMap(header, records[3])
	assert.Equal(t, "Female", third["gender"])
	assert.Equal(t, "76.0", third["reading_score"])
	assert.Equal(t, "Some College", third["parental_level_of_education"])

	content, err := os.ReadFile(config.ReportPath)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(content, &decoded))
	assert.Equal(t, report.RunID, decoded["run_id"])
	assert.Equal(t, true, decoded["success"])

	prom, err := os.ReadFile(config.MetricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `studentprep_pipeline_rows_dropped_total{reason="duplicate"} 1`)
	assert.Contains(t, string(prom), `studentprep_pipeline_stage_runs_total{stage="write",status="ok"} 1`)
}

func TestRunStrictSchema(t *testing.T) {
	dir := t.TempDir()
	config := DefaultConfig()
	config.Input = writeInput(t, dir, "raw.csv", "Gender,math score\nfemale,67\n")
	config.Output = filepath.Join(dir, "student_clean.csv")
	config.StrictSchema = true

	report, err := newTestRunner(t, config).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSchemaMismatch)

	assert.False(t, report.Success)
	require.NotNil(t, report.Error)
	assert.Equal(t, apperrors.CodeSchemaMismatch, report.Error.Code)
	stage, ok := report.Stage(StageReconcile)
	require.True(t, ok)
	assert.Equal(t, "error", stage.Status)

	_, err = os.Stat(config.Output)
	assert.True(t, os.IsNotExist(err))
}

func TestRunMissingInput(t *testing.T) {
	dir := t.TempDir()
	config := DefaultConfig()
	config.Input = filepath.Join(dir, "absent.csv")
	config.Output = filepath.Join(dir, "student_clean.csv")
	config.ReportPath = filepath.Join(dir, "report.json")

	report, err := newTestRunner(t, config).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrFileNotFound)
	require.Len(t, report.Stages, 1)
	assert.Equal(t, StageLoad, report.Stages[0].Name)

	// the report is still written for failed runs
	_, err = os.Stat(config.ReportPath)
	assert.NoError(t, err)
}

func TestRunUnwritableOutput(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	config := DefaultConfig()
	config.Input = writeInput(t, dir, "raw.csv", messyCSV)
	config.Output = filepath.Join(blocker, "student_clean.csv")

	_, err := newTestRunner(t, config).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrIO)
}

func TestProcessFillsEveryTarget(t *testing.T) {
	tbl, err := table.FromRecords(
		strings.Split("Gender,race_ethnicity,Parental Education,lunch,test prep,Math Score,reading score,writing score", ","),
		[][]string{
			{"female", "group B", "high school", "standard", "none", "50", "", "70"},
			{"", "", "", "", "", "", "", ""},
			{"male", "group C", "some college", "free/reduced", "completed", "90", "85", "95"},
		},
		func(s string) bool { return s == "" },
	)
	require.NoError(t, err)

	report, err := newTestRunner(t, DefaultConfig()).Process(context.Background(), tbl)
	require.NoError(t, err)
	assert.Equal(t, 3, report.RowsOut)

	for _, name := range []string{"gender", "race_ethnicity", "parental_level_of_education", "lunch",
		"test_preparation_course", "math_score", "reading_score", "writing_score"} {
		assert.Zero(t, tbl.MissingCount(name), name)
	}

	flag, ok := tbl.Column("reading_score_missing")
	require.True(t, ok)
	ones := 0
	for _, v := range flag.Values {
		if f, _ := v.Float(); f == 1 {
			ones++
		}
	}
	assert.Equal(t, 2, ones)
}

func TestConfigValidate(t *testing.T) {
	config := DefaultConfig()
	config.Input = "raw.csv"
	assert.NoError(t, config.Validate())

	config.Cutoff = 1.5
	config.Output = ""
	config.Impute.Strategy = "interpolate"
	err := config.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfiguration)

	verrs, ok := err.(*apperrors.ValidationErrors)
	require.True(t, ok)
	assert.Len(t, verrs.Errors, 3)
}

// Helper functions

func newTestRunner(t *testing.T, config *Config) *Runner {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	runner, err := NewRunner(config, nil, nil, logger)
	require.NoError(t, err)
	return runner
}

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func readOutput(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	return records
}

func recordMap(header, record []string) map[string]string {
	out := make(map[string]string, len(header))
	for i, name := range header {
		out[name] = record[i]
	}
	return out
}
