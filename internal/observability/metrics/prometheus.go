package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// PrometheusMetrics collects per-run pipeline metrics. A run is a one-shot
// process, so metrics are written to a node_exporter textfile instead of
// being served.
type PrometheusMetrics struct {
	logger   *logrus.Logger
	registry *prometheus.Registry
	config   *PrometheusConfig
	mu       sync.RWMutex

	// Stage metrics
	stageRunsTotal *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	stageRows      *prometheus.GaugeVec
	stageColumns   *prometheus.GaugeVec

	// Data metrics
	columnsRenamedTotal *prometheus.CounterVec
	valuesMappedTotal   *prometheus.CounterVec
	valuesImputedTotal  *prometheus.CounterVec
	valuesCoercedTotal  *prometheus.CounterVec
	rowsDroppedTotal    *prometheus.CounterVec
	warningsTotal       *prometheus.CounterVec

	// Storage metrics
	storageOperationsTotal *prometheus.CounterVec
	storageDuration        *prometheus.HistogramVec
	storageBytesTotal      *prometheus.CounterVec

	// Run metrics
	errorRate         *prometheus.CounterVec
	lastRunTimestamp  prometheus.Gauge
	lastRunSuccessful prometheus.Gauge
}

// PrometheusConfig configures Prometheus metrics
type PrometheusConfig struct {
	Namespace string            `json:"namespace" mapstructure:"namespace"`
	Subsystem string            `json:"subsystem" mapstructure:"subsystem"`
	Labels    map[string]string `json:"labels" mapstructure:"labels"`
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
func NewPrometheusMetrics(config *PrometheusConfig, logger *logrus.Logger) (*PrometheusMetrics, error) {
	if config == nil {
		config = getDefaultPrometheusConfig()
	}

	if logger == nil {
		logger = logrus.New()
	}

	pm := &PrometheusMetrics{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		config:   config,
	}

	pm.initializeMetrics()

	if err := pm.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return pm, nil
}

// Stage Metrics
func (pm *PrometheusMetrics) RecordStage(stage, status string, duration time.Duration) {
	pm.stageRunsTotal.WithLabelValues(stage, status).Inc()
	pm.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func (pm *PrometheusMetrics) SetStageShape(stage string, rows, columns int) {
	pm.stageRows.WithLabelValues(stage).Set(float64(rows))
	pm.stageColumns.WithLabelValues(stage).Set(float64(columns))
}

// Data Metrics
func (pm *PrometheusMetrics) RecordRenames(outcome string, count int) {
	pm.columnsRenamedTotal.WithLabelValues(outcome).Add(float64(count))
}

func (pm *PrometheusMetrics) RecordMapped(column string, count int) {
	pm.valuesMappedTotal.WithLabelValues(column).Add(float64(count))
}

func (pm *PrometheusMetrics) RecordImputed(column string, count int) {
	pm.valuesImputedTotal.WithLabelValues(column).Add(float64(count))
}

func (pm *PrometheusMetrics) RecordCoerced(column string, count int) {
	pm.valuesCoercedTotal.WithLabelValues(column).Add(float64(count))
}

func (pm *PrometheusMetrics) RecordDroppedRows(reason string, count int) {
	pm.rowsDroppedTotal.WithLabelValues(reason).Add(float64(count))
}

func (pm *PrometheusMetrics) RecordWarning(code string) {
	pm.warningsTotal.WithLabelValues(code).Inc()
}

// Storage Metrics
func (pm *PrometheusMetrics) RecordStorageOperation(backend, operation, status string, bytes int64, duration time.Duration) {
	pm.storageOperationsTotal.WithLabelValues(backend, operation, status).Inc()
	pm.storageDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if bytes > 0 {
		pm.storageBytesTotal.WithLabelValues(backend, operation).Add(float64(bytes))
	}
}

// Error Metrics
func (pm *PrometheusMetrics) RecordError(component, errorType string) {
	pm.errorRate.WithLabelValues(component, errorType).Inc()
}

// Run Metrics
func (pm *PrometheusMetrics) RecordRunFinished(at time.Time, success bool) {
	pm.lastRunTimestamp.Set(float64(at.Unix()))
	if success {
		pm.lastRunSuccessful.Set(1)
	} else {
		pm.lastRunSuccessful.Set(0)
	}
}

// WriteToTextfile writes every collected metric to path in the text
// exposition format. The file is replaced atomically.
func (pm *PrometheusMetrics) WriteToTextfile(path string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if err := prometheus.WriteToTextfile(path, pm.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}

	pm.logger.WithField("path", path).Debug("Wrote metrics textfile")
	return nil
}

// initializeMetrics initializes all Prometheus metrics
func (pm *PrometheusMetrics) initializeMetrics() {
	namespace := pm.config.Namespace
	subsystem := pm.config.Subsystem
	labels := prometheus.Labels(pm.config.Labels)

	// Stage metrics
	pm.stageRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "stage_runs_total",
			Help:        "Total number of pipeline stage executions",
			ConstLabels: labels,
		},
		[]string{"stage", "status"},
	)

	pm.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "stage_duration_seconds",
			Help:        "Pipeline stage duration in seconds",
			Buckets:     []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
			ConstLabels: labels,
		},
		[]string{"stage"},
	)

	pm.stageRows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "stage_rows",
			Help:        "Rows in the table after a stage",
			ConstLabels: labels,
		},
		[]string{"stage"},
	)

	pm.stageColumns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "stage_columns",
			Help:        "Columns in the table after a stage",
			ConstLabels: labels,
		},
		[]string{"stage"},
	)

	// Data metrics
	pm.columnsRenamedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "columns_reconciled_total",
			Help:        "Source headers by reconciliation outcome",
			ConstLabels: labels,
		},
		[]string{"outcome"},
	)

	pm.valuesMappedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "values_normalized_total",
			Help:        "Categorical values rewritten to their canonical spelling",
			ConstLabels: labels,
		},
		[]string{"column"},
	)

	pm.valuesImputedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "values_imputed_total",
			Help:        "Missing values filled by imputation",
			ConstLabels: labels,
		},
		[]string{"column"},
	)

	pm.valuesCoercedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "values_coerced_total",
			Help:        "Non-numeric values coerced to missing",
			ConstLabels: labels,
		},
		[]string{"column"},
	)

	pm.rowsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "rows_dropped_total",
			Help:        "Rows removed from the table",
			ConstLabels: labels,
		},
		[]string{"reason"},
	)

	pm.warningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "warnings_total",
			Help:        "Non-fatal findings by code",
			ConstLabels: labels,
		},
		[]string{"code"},
	)

	// Storage metrics
	pm.storageOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "storage_operations_total",
			Help:        "Total number of storage operations",
			ConstLabels: labels,
		},
		[]string{"backend", "operation", "status"},
	)

	pm.storageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "storage_operation_duration_seconds",
			Help:        "Storage operation duration in seconds",
			Buckets:     []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
			ConstLabels: labels,
		},
		[]string{"backend", "operation"},
	)

	pm.storageBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "storage_bytes_total",
			Help:        "Bytes moved by storage operations",
			ConstLabels: labels,
		},
		[]string{"backend", "operation"},
	)

	// Run metrics
	pm.errorRate = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "errors_total",
			Help:        "Total number of errors",
			ConstLabels: labels,
		},
		[]string{"component", "error_type"},
	)

	pm.lastRunTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "last_run_timestamp_seconds",
			Help:        "Unix time the last run finished",
			ConstLabels: labels,
		},
	)

	pm.lastRunSuccessful = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "last_run_success",
			Help:        "Whether the last run finished without a fatal error",
			ConstLabels: labels,
		},
	)
}

// registerMetrics registers all metrics with the registry
func (pm *PrometheusMetrics) registerMetrics() error {
	metrics := []prometheus.Collector{
		pm.stageRunsTotal,
		pm.stageDuration,
		pm.stageRows,
		pm.stageColumns,
		pm.columnsRenamedTotal,
		pm.valuesMappedTotal,
		pm.valuesImputedTotal,
		pm.valuesCoercedTotal,
		pm.rowsDroppedTotal,
		pm.warningsTotal,
		pm.storageOperationsTotal,
		pm.storageDuration,
		pm.storageBytesTotal,
		pm.errorRate,
		pm.lastRunTimestamp,
		pm.lastRunSuccessful,
	}

	for _, metric := range metrics {
		if err := pm.registry.Register(metric); err != nil {
			return fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return nil
}

// GetRegistry returns the Prometheus registry
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// GetConfig returns the configuration
func (pm *PrometheusMetrics) GetConfig() *PrometheusConfig {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.config
}

// StatusLabel renders a stage outcome for the status label.
func StatusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func getDefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Namespace: "studentprep",
		Subsystem: "pipeline",
		Labels:    make(map[string]string),
	}
}
