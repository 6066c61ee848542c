package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/studentprep/internal/encode"
	"github.com/inferloop/studentprep/internal/export"
	"github.com/inferloop/studentprep/internal/features"
	"github.com/inferloop/studentprep/internal/impute"
	"github.com/inferloop/studentprep/internal/loader"
	"github.com/inferloop/studentprep/internal/normalize"
	"github.com/inferloop/studentprep/internal/observability/metrics"
	"github.com/inferloop/studentprep/internal/quality"
	"github.com/inferloop/studentprep/internal/reconcile"
	"github.com/inferloop/studentprep/internal/storage"
	"github.com/inferloop/studentprep/internal/table"
	"github.com/inferloop/studentprep/pkg/constants"
	"github.com/inferloop/studentprep/pkg/errors"
)

// Runner executes the cleaning stages in order over one in-memory table.
type Runner struct {
	config     *Config
	loader     *loader.Loader
	reconciler *reconcile.Reconciler
	normalizer *normalize.Normalizer
	imputer    *impute.Handler
	quality    *quality.DataQualityEngine
	deriver    *features.Deriver
	encoder    *encode.Encoder
	exporter   *export.ExportEngine
	metrics    *metrics.PrometheusMetrics
	logger     *logrus.Logger
}

// NewRunner wires every stage from config. stores resolves s3:// and
// postgres:// locations and may be nil for local-only runs; m may be nil.
func NewRunner(config *Config, stores export.StoreOpener, m *metrics.PrometheusMetrics, logger *logrus.Logger) (*Runner, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	if len(config.Canonical) == 0 {
		config.Canonical = constants.CanonicalSchema()
	}
	if config.Quality.RangeColumns == nil {
		config.Quality.RangeColumns = constants.NumericColumns()
	}

	if m == nil {
		var err error
		if m, err = metrics.NewPrometheusMetrics(nil, logger); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "failed to create metrics")
		}
	}

	imputer, err := impute.NewHandler(config.Impute, logger)
	if err != nil {
		return nil, err
	}
	qualityEngine, err := quality.NewDataQualityEngine(&config.Quality, logger)
	if err != nil {
		return nil, err
	}
	exporter, err := export.NewExportEngine(nil, stores, logger)
	if err != nil {
		return nil, err
	}

	var blobs loader.BlobOpener
	if stores != nil {
		blobs = stores
	}

	return &Runner{
		config:     config,
		loader:     loader.NewLoader(config.Loader, blobs, logger),
		reconciler: reconcile.NewReconciler(config.Canonical, config.Cutoff, logger),
		normalizer: normalize.NewNormalizer(nil, logger),
		imputer:    imputer,
		quality:    qualityEngine,
		deriver:    features.NewDeriver(config.Features, logger),
		encoder:    encode.NewEncoder(config.Encode, logger),
		exporter:   exporter,
		metrics:    m,
		logger:     logger,
	}, nil
}

// Run loads the configured input, cleans it and writes the output. The
// report is returned even when a stage fails.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := NewReport(r.config.Input, r.config.Output)
	err := r.run(ctx, report)
	return report, r.finish(report, err)
}

// Process runs every stage between load and write on t in place.
func (r *Runner) Process(ctx context.Context, t *table.Table) (*Report, error) {
	report := NewReport("", "")
	report.RowsIn, report.ColumnsIn = t.Len(), t.Width()
	err := r.process(ctx, report, t)
	if err == nil {
		report.RowsOut, report.ColumnsOut = t.Len(), t.Width()
	}
	report.Finish(err)
	return report, err
}

func (r *Runner) run(ctx context.Context, report *Report) error {
	log := r.logger.WithField("run_id", report.RunID)
	log.WithFields(logrus.Fields{
		"input":  r.config.Input,
		"output": r.config.Output,
	}).Info("Starting cleaning run")

	var t *table.Table
	err := r.stage(report, StageLoad, func() (*table.Table, error) {
		var err error
		t, err = r.loader.Load(ctx, r.config.Input)
		return t, err
	})
	if err != nil {
		return err
	}
	report.RowsIn, report.ColumnsIn = t.Len(), t.Width()

	if err := r.process(ctx, report, t); err != nil {
		return err
	}

	err = r.stage(report, StageWrite, func() (*table.Table, error) {
		start := time.Now()
		written, err := r.exporter.Write(ctx, t, r.config.Output, r.config.Export)
		backend := r.backend(r.config.Output)
		if err != nil {
			r.metrics.RecordStorageOperation(backend, "write", metrics.StatusLabel(err), 0, time.Since(start))
			return t, err
		}
		r.metrics.RecordStorageOperation(backend, "write", metrics.StatusLabel(nil), written.Size, written.Duration)
		report.Written = written
		return t, nil
	})
	if err != nil {
		return err
	}

	report.RowsOut, report.ColumnsOut = t.Len(), t.Width()
	report.Profile = r.quality.Profile(t)

	log.WithFields(logrus.Fields{
		"rows_in":     report.RowsIn,
		"rows_out":    report.RowsOut,
		"columns_out": report.ColumnsOut,
		"warnings":    len(report.Warnings),
	}).Info("Cleaning run finished")
	return nil
}

func (r *Runner) process(ctx context.Context, report *Report, t *table.Table) error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{StageReconcile, func() error { return r.reconcile(report, t) }},
		{StageNormalize, func() error { r.normalize(report, t); return nil }},
		{StageImpute, func() error { return r.impute(report, t) }},
		{StageDeduplicate, func() error { r.deduplicate(report, t); return nil }},
		{StageValidate, func() error { return r.validate(report, t) }},
		{StageFeatures, func() error { return r.derive(report, t) }},
		{StageEncode, func() error { return r.encode(report, t) }},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn := step.fn
		if err := r.stage(report, step.name, func() (*table.Table, error) { return t, fn() }); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) reconcile(report *Report, t *table.Table) error {
	m, err := r.reconciler.Reconcile(t)
	if err != nil {
		return err
	}
	report.Columns = m
	report.ColumnStats = m.Stats()

	r.metrics.RecordRenames("matched", report.ColumnStats.Matched)
	r.metrics.RecordRenames("unmatched", report.ColumnStats.Unmatched)
	r.metrics.RecordRenames("collision", report.ColumnStats.Collisions)

	var low []string
	for _, e := range m.Entries {
		if e.LowConfidence() {
			low = append(low, fmt.Sprintf("%q->%s (%.2f)", e.Raw, e.Target, e.Score))
		}
	}
	if len(low) > 0 {
		r.warn(report, StageReconcile, errors.CodeLowConfidence, "low-confidence header matches",
			strings.Join(low, ", "), len(low))
	}
	if report.ColumnStats.Collisions > 0 {
		r.warn(report, StageReconcile, errors.CodeDuplicateName, "headers collided on the same target name",
			"", report.ColumnStats.Collisions)
	}

	if err := reconcile.RequireColumns(t, r.reconciler.CanonicalTargets()); err != nil {
		if r.config.StrictSchema {
			return err
		}
		appErr, _ := errors.AsAppError(err)
		if missing, ok := appErr.Context["missing"].([]string); ok {
			report.Missing = missing
		}
		r.warn(report, StageReconcile, appErr.Code, appErr.Message, appErr.Details, len(report.Missing))
	}
	return nil
}

func (r *Runner) normalize(report *Report, t *table.Table) {
	res := r.normalizer.Normalize(t)
	report.Normalized = res

	for _, name := range sortedKeys(res.Mapped) {
		r.metrics.RecordMapped(name, res.Mapped[name])
	}
	for _, name := range sortedKeys(res.Unmapped) {
		r.warn(report, StageNormalize, errors.CodeUnmappedValue, "values outside the value map left unchanged",
			name, res.Unmapped[name])
	}
	if len(res.Incomplete) > 0 {
		values := make([]string, 0, len(res.Incomplete))
		for _, v := range sortedKeys(res.Incomplete) {
			values = append(values, fmt.Sprintf("%q: %d", v, res.Incomplete[v]))
		}
		r.warn(report, StageNormalize, errors.CodeIncompleteValue, "incomplete normalization of education levels",
			strings.Join(values, ", "), res.IncompleteCount())
	}
}

func (r *Runner) impute(report *Report, t *table.Table) error {
	res, err := r.imputer.Handle(t)
	if err != nil {
		return err
	}
	report.Imputed = res

	for _, name := range sortedKeys(res.Imputed) {
		r.metrics.RecordImputed(name, res.Imputed[name])
	}
	for _, name := range sortedKeys(res.Coerced) {
		r.metrics.RecordCoerced(name, res.Coerced[name])
	}
	if res.Dropped > 0 {
		r.metrics.RecordDroppedRows("missing", res.Dropped)
	}
	for _, w := range res.Warnings {
		count := 0
		if n, ok := w.Context["count"].(int); ok {
			count = n
		}
		report.WarnError(StageImpute, w, count)
		r.metrics.RecordWarning(w.Code)
	}
	return nil
}

func (r *Runner) deduplicate(report *Report, t *table.Table) {
	report.Duplicates = r.quality.DropDuplicates(t)
	if report.Duplicates > 0 {
		r.metrics.RecordDroppedRows("duplicate", report.Duplicates)
	}
}

func (r *Runner) validate(report *Report, t *table.Table) error {
	rr, err := r.quality.ValidateRange(t)
	if err != nil {
		return err
	}
	report.Range = rr

	if rr.Dropped > 0 {
		r.metrics.RecordDroppedRows("out_of_range", rr.Dropped)
	}
	for _, v := range rr.Violations {
		r.warn(report, StageValidate, errors.CodeOutOfRange, v.Description, v.Field, int(v.ViolationCount))
	}
	return nil
}

func (r *Runner) derive(report *Report, t *table.Table) error {
	res, err := r.deriver.Derive(t)
	if err != nil {
		return err
	}
	report.Features = res

	if len(res.Scores) == 0 {
		r.warn(report, StageFeatures, errors.CodeMissingField, "no score columns present; derived features skipped", "", 0)
	}
	return nil
}

func (r *Runner) encode(report *Report, t *table.Table) error {
	res, err := r.encoder.Encode(t)
	if err != nil {
		return err
	}
	report.Encoded = res

	if res.Unmapped > 0 {
		r.warn(report, StageEncode, errors.CodeUnmappedValue, "values without a binary code left missing",
			res.BinaryColumn, res.Unmapped)
	}
	return nil
}

// stage times fn and records its outcome. fn returns the table as it stands
// after the stage.
func (r *Runner) stage(report *Report, name string, fn func() (*table.Table, error)) error {
	before := report.RowsIn
	if n := len(report.Stages); n > 0 {
		before = report.Stages[n-1].RowsAfter
	}

	start := time.Now()
	t, err := fn()
	duration := time.Since(start)

	sr := StageReport{
		Name:       name,
		Status:     metrics.StatusLabel(err),
		Duration:   duration,
		RowsBefore: before,
	}
	if t != nil {
		sr.RowsAfter, sr.Columns = t.Len(), t.Width()
		if name == StageLoad {
			sr.RowsBefore = sr.RowsAfter
		}
	}
	report.Stages = append(report.Stages, sr)

	r.metrics.RecordStage(name, sr.Status, duration)
	r.metrics.SetStageShape(name, sr.RowsAfter, sr.Columns)

	fields := logrus.Fields{
		"run_id":      report.RunID,
		"stage":       name,
		"rows_before": sr.RowsBefore,
		"rows_after":  sr.RowsAfter,
		"columns":     sr.Columns,
		"duration":    duration,
	}
	if err != nil {
		errType := "unknown"
		if typ, ok := errors.TypeOf(err); ok {
			errType = string(typ)
		}
		r.metrics.RecordError(name, errType)
		r.logger.WithFields(fields).WithError(err).Error("Stage failed")
		return err
	}

	r.logger.WithFields(fields).Debug("Stage completed")
	return nil
}

func (r *Runner) warn(report *Report, stage, code, message, details string, count int) {
	report.Warn(stage, code, message, details, count)
	r.metrics.RecordWarning(code)
}

// finish stamps the report and writes the report and metrics files. A
// failure to write them only surfaces when the run itself succeeded.
func (r *Runner) finish(report *Report, runErr error) error {
	report.Finish(runErr)
	r.metrics.RecordRunFinished(report.FinishedAt, runErr == nil)

	var sideErr error
	if r.config.ReportPath != "" {
		if err := report.WriteFile(r.config.ReportPath); err != nil {
			r.logger.WithError(err).Warn("Failed to write run report")
			sideErr = err
		}
	}
	if r.config.MetricsPath != "" {
		if err := r.metrics.WriteToTextfile(r.config.MetricsPath); err != nil {
			r.logger.WithError(err).Warn("Failed to write metrics")
			if sideErr == nil {
				sideErr = errors.NewIOError(err, r.config.MetricsPath)
			}
		}
	}

	if runErr != nil {
		return runErr
	}
	return sideErr
}

func (r *Runner) backend(location string) string {
	loc, err := storage.ParseLocation(location)
	if err != nil {
		return string(storage.SchemeFile)
	}
	return string(loc.Scheme)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
