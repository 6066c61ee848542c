package pipeline

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/inferloop/studentprep/internal/encode"
	"github.com/inferloop/studentprep/internal/export"
	"github.com/inferloop/studentprep/internal/features"
	"github.com/inferloop/studentprep/internal/impute"
	"github.com/inferloop/studentprep/internal/normalize"
	"github.com/inferloop/studentprep/internal/quality"
	"github.com/inferloop/studentprep/internal/reconcile"
	"github.com/inferloop/studentprep/pkg/errors"
)

// Stage names, in execution order.
const (
	StageLoad        = "load"
	StageReconcile   = "reconcile"
	StageNormalize   = "normalize"
	StageImpute      = "impute"
	StageDeduplicate = "deduplicate"
	StageValidate    = "validate"
	StageFeatures    = "features"
	StageEncode      = "encode"
	StageWrite       = "write"
)

// Report records what a run did. It is written as JSON when a report path
// is configured.
type Report struct {
	RunID      string        `json:"run_id"`
	Input      string        `json:"input,omitempty"`
	Output     string        `json:"output,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	Error      *ErrorSummary `json:"error,omitempty"`

	RowsIn     int `json:"rows_in"`
	ColumnsIn  int `json:"columns_in"`
	RowsOut    int `json:"rows_out"`
	ColumnsOut int `json:"columns_out"`

	Stages   []StageReport `json:"stages"`
	Warnings []Warning     `json:"warnings"`

	Columns     *reconcile.RenameMap `json:"columns,omitempty"`
	ColumnStats reconcile.Stats      `json:"column_stats"`
	Missing     []string             `json:"missing_columns,omitempty"`
	Normalized  *normalize.Result    `json:"normalized,omitempty"`
	Imputed     *impute.Result       `json:"imputed,omitempty"`
	Duplicates  int                  `json:"duplicates"`
	Range       *quality.RangeReport `json:"range,omitempty"`
	Features    *features.Result     `json:"features,omitempty"`
	Encoded     *encode.Result       `json:"encoded,omitempty"`
	Written     *export.ExportResult `json:"written,omitempty"`
	Profile     *quality.DataProfile `json:"output_profile,omitempty"`
}

// StageReport is the outcome of one stage.
type StageReport struct {
	Name       string        `json:"name"`
	Status     string        `json:"status"`
	Duration   time.Duration `json:"duration"`
	RowsBefore int           `json:"rows_before"`
	RowsAfter  int           `json:"rows_after"`
	Columns    int           `json:"columns"`
}

// Warning is a non-fatal finding.
type Warning struct {
	Stage   string `json:"stage"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Count   int    `json:"count,omitempty"`
}

// ErrorSummary is the fatal error that ended a run.
type ErrorSummary struct {
	Type    errors.ErrorType `json:"type,omitempty"`
	Code    string           `json:"code,omitempty"`
	Message string           `json:"message"`
}

// NewReport starts a report with a fresh run ID.
func NewReport(input, output string) *Report {
	return &Report{
		RunID:     uuid.New().String(),
		Input:     input,
		Output:    output,
		StartedAt: time.Now(),
		Stages:    make([]StageReport, 0, 9),
		Warnings:  make([]Warning, 0),
	}
}

// Warn appends a warning.
func (r *Report) Warn(stage, code, message, details string, count int) {
	r.Warnings = append(r.Warnings, Warning{
		Stage:   stage,
		Code:    code,
		Message: message,
		Details: details,
		Count:   count,
	})
}

// WarnError appends a warning built from a recoverable AppError.
func (r *Report) WarnError(stage string, err *errors.AppError, count int) {
	r.Warn(stage, err.Code, err.Message, err.Details, count)
}

// WarningCount returns the number of warnings with code.
func (r *Report) WarningCount(code string) int {
	n := 0
	for _, w := range r.Warnings {
		if w.Code == code {
			n++
		}
	}
	return n
}

// Stage returns the named stage outcome.
func (r *Report) Stage(name string) (StageReport, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageReport{}, false
}

// Finish stamps the end time and the fatal error, if any.
func (r *Report) Finish(err error) {
	r.FinishedAt = time.Now()
	r.Duration = r.FinishedAt.Sub(r.StartedAt)
	r.Success = err == nil
	if err == nil {
		return
	}

	summary := &ErrorSummary{Message: err.Error()}
	if appErr, ok := errors.AsAppError(err); ok {
		summary.Type = appErr.Type
		summary.Code = appErr.Code
	}
	r.Error = summary
}

// Encode writes the report as indented JSON.
func (r *Report) Encode(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// WriteFile writes the report to path, creating parent directories.
func (r *Report) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.NewIOError(err, path)
	}
	file, err := os.Create(path)
	if err != nil {
		return errors.NewIOError(err, path)
	}
	if err := r.Encode(file); err != nil {
		file.Close()
		return errors.NewIOError(err, path)
	}
	if err := file.Close(); err != nil {
		return errors.NewIOError(err, path)
	}
	return nil
}
