package metrics

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrometheusMetrics(t *testing.T) {
	pm := newTestMetrics(t, nil)

	assert.Equal(t, "studentprep", pm.GetConfig().Namespace)
	assert.Equal(t, "pipeline", pm.GetConfig().Subsystem)
	assert.NotNil(t, pm.GetRegistry())
}

func TestRecordStage(t *testing.T) {
	pm := newTestMetrics(t, nil)

	pm.RecordStage("load", "ok", 20*time.Millisecond)
	pm.RecordStage("load", "ok", 10*time.Millisecond)
	pm.RecordStage("write", StatusLabel(errors.New("disk full")), time.Millisecond)
	pm.SetStageShape("load", 1000, 8)

	assert.Equal(t, 2.0, testutil.ToFloat64(pm.stageRunsTotal.WithLabelValues("load", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.stageRunsTotal.WithLabelValues("write", "error")))
	assert.Equal(t, 1000.0, testutil.ToFloat64(pm.stageRows.WithLabelValues("load")))
	assert.Equal(t, 8.0, testutil.ToFloat64(pm.stageColumns.WithLabelValues("load")))
}

func TestRecordDataMetrics(t *testing.T) {
	pm := newTestMetrics(t, nil)

	pm.RecordRenames("matched", 6)
	pm.RecordImputed("math_score", 3)
	pm.RecordImputed("math_score", 2)
	pm.RecordCoerced("reading_score", 1)
	pm.RecordDroppedRows("duplicate", 4)
	pm.RecordWarning("COERCED")
	pm.RecordStorageOperation("s3", "put", "ok", 2048, time.Second)

	assert.Equal(t, 6.0, testutil.ToFloat64(pm.columnsRenamedTotal.WithLabelValues("matched")))
	assert.Equal(t, 5.0, testutil.ToFloat64(pm.valuesImputedTotal.WithLabelValues("math_score")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.valuesCoercedTotal.WithLabelValues("reading_score")))
	assert.Equal(t, 4.0, testutil.ToFloat64(pm.rowsDroppedTotal.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.warningsTotal.WithLabelValues("COERCED")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(pm.storageBytesTotal.WithLabelValues("s3", "put")))
}

func TestWriteToTextfile(t *testing.T) {
	pm := newTestMetrics(t, &PrometheusConfig{
		Namespace: "studentprep",
		Subsystem: "pipeline",
		Labels:    map[string]string{"dataset": "cohort"},
	})

	pm.RecordDroppedRows("out_of_range", 2)
	pm.RecordRunFinished(time.Unix(1700000000, 0), true)

	path := filepath.Join(t.TempDir(), "studentprep.prom")
	require.NoError(t, pm.WriteToTextfile(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(content)

	assert.Contains(t, text, `studentprep_pipeline_rows_dropped_total{dataset="cohort",reason="out_of_range"} 2`)
	assert.Contains(t, text, `studentprep_pipeline_last_run_success{dataset="cohort"} 1`)
	assert.True(t, strings.Contains(text, "# HELP studentprep_pipeline_rows_dropped_total"))

	err = pm.WriteToTextfile(filepath.Join(t.TempDir(), "missing", "dir", "out.prom"))
	assert.Error(t, err)
}

// Helper functions

func newTestMetrics(t *testing.T, config *PrometheusConfig) *PrometheusMetrics {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	pm, err := NewPrometheusMetrics(config, logger)
	require.NoError(t, err)
	return pm
}
