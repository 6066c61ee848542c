package export

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/studentprep/internal/storage"
	"github.com/inferloop/studentprep/internal/storage/interfaces"
	"github.com/inferloop/studentprep/internal/table"
	"github.com/inferloop/studentprep/pkg/errors"
)

// ExportEngine writes cleaned tables to files, object storage or a database
type ExportEngine struct {
	logger    *logrus.Logger
	config    *ExportConfig
	mu        sync.RWMutex
	exporters map[string]Exporter
	stores    StoreOpener
}

// ExportConfig configures the export engine
type ExportConfig struct {
	CompressionLevel int         `json:"compression_level" mapstructure:"compression_level"`
	FileMode         os.FileMode `json:"file_mode" mapstructure:"file_mode"`
	DirMode          os.FileMode `json:"dir_mode" mapstructure:"dir_mode"`
}

// ExportFormat defines supported export formats
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatTSV  ExportFormat = "tsv"
	FormatJSON ExportFormat = "json"
	FormatXLSX ExportFormat = "xlsx"
)

// ExportOptions contains export-specific options
type ExportOptions struct {
	CSVOptions  CSVOptions  `json:"csv_options,omitempty" mapstructure:"csv"`
	JSONOptions JSONOptions `json:"json_options,omitempty" mapstructure:"json"`
	XLSXOptions XLSXOptions `json:"xlsx_options,omitempty" mapstructure:"xlsx"`
}

// Format-specific options
type CSVOptions struct {
	Delimiter string `json:"delimiter" mapstructure:"delimiter"`
	NullValue string `json:"null_value" mapstructure:"null_value"`
}

type JSONOptions struct {
	Pretty bool `json:"pretty" mapstructure:"pretty"`
	// StreamFormat writes one record per line instead of an array.
	StreamFormat bool `json:"stream_format" mapstructure:"stream_format"`
}

type XLSXOptions struct {
	SheetName string `json:"sheet_name" mapstructure:"sheet_name"`
}

// ExportResult describes a finished write
type ExportResult struct {
	Destination string        `json:"destination"`
	Format      ExportFormat  `json:"format,omitempty"`
	Compressed  bool          `json:"compressed"`
	RecordCount int64         `json:"record_count"`
	Size        int64         `json:"size"`
	Duration    time.Duration `json:"duration"`
}

// Exporter interface for format-specific exporters
type Exporter interface {
	Name() string
	SupportedFormats() []ExportFormat
	Export(ctx context.Context, writer io.Writer, data *table.Table, options ExportOptions) error
	ValidateOptions(options ExportOptions) error
}

// StoreOpener resolves remote destinations. storage.Factory implements it.
type StoreOpener interface {
	OpenBlob(loc storage.Location) (interfaces.BlobStorage, error)
	OpenSink(loc storage.Location) (interfaces.TableSink, error)
}

// NewExportEngine creates a new export engine. stores may be nil when only
// local destinations are written.
func NewExportEngine(config *ExportConfig, stores StoreOpener, logger *logrus.Logger) (*ExportEngine, error) {
	if config == nil {
		config = getDefaultExportConfig()
	}

	if logger == nil {
		logger = logrus.New()
	}

	if config.CompressionLevel < gzip.HuffmanOnly || config.CompressionLevel > gzip.BestCompression {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig,
			fmt.Sprintf("compression level %d out of range", config.CompressionLevel))
	}
	if config.FileMode == 0 {
		config.FileMode = 0644
	}
	if config.DirMode == 0 {
		config.DirMode = 0755
	}

	engine := &ExportEngine{
		logger:    logger,
		config:    config,
		exporters: make(map[string]Exporter),
		stores:    stores,
	}

	// Register default exporters
	engine.registerDefaultExporters()

	return engine, nil
}

// RegisterExporter registers a format exporter
func (ee *ExportEngine) RegisterExporter(exporter Exporter) {
	ee.mu.Lock()
	defer ee.mu.Unlock()

	ee.exporters[exporter.Name()] = exporter
	ee.logger.WithField("exporter", exporter.Name()).Debug("Registered exporter")
}

// ExportTable renders data in format to writer
func (ee *ExportEngine) ExportTable(ctx context.Context, data *table.Table, format ExportFormat, writer io.Writer, options ExportOptions) error {
	ee.mu.RLock()
	exporter, exists := ee.findExporterForFormat(format)
	ee.mu.RUnlock()

	if !exists {
		return errors.NewValidationError(errors.CodeInvalidFormat,
			fmt.Sprintf("no exporter found for format %s", format))
	}

	if err := exporter.ValidateOptions(options); err != nil {
		return errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidConfig, "invalid export options")
	}

	start := time.Now()
	err := exporter.Export(ctx, writer, data, options)

	ee.logger.WithFields(logrus.Fields{
		"format":   format,
		"rows":     data.Len(),
		"columns":  data.Width(),
		"duration": time.Since(start),
	}).Debug("Export completed")

	return err
}

// Write stores data at dest. The format follows the file extension; a .gz
// suffix gzips the output. s3:// destinations are uploaded and postgres://
// destinations are loaded into a table. Any failure to write is an IO error.
func (ee *ExportEngine) Write(ctx context.Context, data *table.Table, dest string, options ExportOptions) (*ExportResult, error) {
	loc, err := storage.ParseLocation(dest)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := &ExportResult{Destination: loc.String(), RecordCount: int64(data.Len())}

	if loc.Scheme == storage.SchemePostgres {
		if err := ee.writeSink(ctx, data, loc); err != nil {
			return nil, err
		}
		result.Duration = time.Since(start)
		ee.logResult(result)
		return result, nil
	}

	format, compressed, err := FormatForPath(loc.Path)
	if err != nil {
		return nil, err
	}
	result.Format = format
	result.Compressed = compressed

	switch loc.Scheme {
	case storage.SchemeS3:
		result.Size, err = ee.writeBlob(ctx, data, loc, format, compressed, options)
	default:
		result.Size, err = ee.writeFile(ctx, data, loc.Path, format, compressed, options)
	}
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	ee.logResult(result)
	return result, nil
}

// GetSupportedFormats returns all supported export formats
func (ee *ExportEngine) GetSupportedFormats() []ExportFormat {
	ee.mu.RLock()
	defer ee.mu.RUnlock()

	formats := make(map[ExportFormat]bool)
	for _, exporter := range ee.exporters {
		for _, format := range exporter.SupportedFormats() {
			formats[format] = true
		}
	}

	result := make([]ExportFormat, 0, len(formats))
	for format := range formats {
		result = append(result, format)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })

	return result
}

// FormatForPath maps a file name to its export format and reports whether
// it carries a .gz suffix.
func FormatForPath(path string) (ExportFormat, bool, error) {
	name := strings.ToLower(filepath.Base(path))
	compressed := strings.HasSuffix(name, ".gz")
	name = strings.TrimSuffix(name, ".gz")

	switch filepath.Ext(name) {
	case ".csv", ".txt", "":
		return FormatCSV, compressed, nil
	case ".tsv", ".tab":
		return FormatTSV, compressed, nil
	case ".json":
		return FormatJSON, compressed, nil
	case ".xlsx":
		return FormatXLSX, compressed, nil
	default:
		return "", false, errors.NewValidationError(errors.CodeInvalidFormat,
			fmt.Sprintf("unsupported output extension %q", filepath.Ext(name))).
			WithContext("path", path)
	}
}

// writeFile renders into a temporary file beside path and renames it over
// path once the export succeeds, so a failed run leaves any previous output
// untouched.
func (ee *ExportEngine) writeFile(ctx context.Context, data *table.Table, path string, format ExportFormat, compressed bool, options ExportOptions) (int64, error) {
	out, tmpPath, err := ee.createOutputFile(path, compressed)
	if err != nil {
		return 0, errors.NewIOError(err, path)
	}

	counter := &countingWriter{w: out}
	if err := ee.ExportTable(ctx, data, format, counter, options); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return 0, ee.ioError(err, path)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, errors.NewIOError(err, path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, errors.NewIOError(err, path)
	}
	return counter.n, nil
}

func (ee *ExportEngine) writeBlob(ctx context.Context, data *table.Table, loc storage.Location, format ExportFormat, compressed bool, options ExportOptions) (int64, error) {
	if ee.stores == nil {
		return 0, errors.NewConfigurationError(errors.CodeInvalidConfig, "object storage is not configured")
	}

	var buf bytes.Buffer
	var sink io.Writer = &buf
	var gz *gzip.Writer
	if compressed {
		gz, _ = gzip.NewWriterLevel(&buf, ee.config.CompressionLevel)
		sink = gz
	}
	if err := ee.ExportTable(ctx, data, format, sink, options); err != nil {
		return 0, ee.ioError(err, loc.String())
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return 0, errors.NewIOError(err, loc.String())
		}
	}

	blobs, err := ee.stores.OpenBlob(loc)
	if err != nil {
		return 0, errors.NewIOError(err, loc.String())
	}
	defer blobs.Close()

	size := int64(buf.Len())
	metadata := map[string]string{
		"rows":    fmt.Sprintf("%d", data.Len()),
		"columns": fmt.Sprintf("%d", data.Width()),
	}
	if err := blobs.Put(ctx, loc.Path, &buf, size, metadata); err != nil {
		return 0, errors.NewIOError(err, loc.String())
	}
	return size, nil
}

func (ee *ExportEngine) writeSink(ctx context.Context, data *table.Table, loc storage.Location) error {
	if ee.stores == nil {
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "database sink is not configured")
	}

	sink, err := ee.stores.OpenSink(loc)
	if err != nil {
		return errors.NewIOError(err, loc.String())
	}
	defer sink.Close()

	if _, err := sink.WriteTable(ctx, loc.Table, data); err != nil {
		return errors.NewIOError(err, loc.String())
	}
	return nil
}

// ioError keeps validation failures (bad options, unknown format) as they
// are and wraps everything else as an IO error.
func (ee *ExportEngine) ioError(err error, dest string) error {
	if t, ok := errors.TypeOf(err); ok && t == errors.ErrorTypeValidation {
		return err
	}
	return errors.NewIOError(err, dest)
}

func (ee *ExportEngine) findExporterForFormat(format ExportFormat) (Exporter, bool) {
	for _, exporter := range ee.exporters {
		for _, supportedFormat := range exporter.SupportedFormats() {
			if supportedFormat == format {
				return exporter, true
			}
		}
	}
	return nil, false
}

func (ee *ExportEngine) createOutputFile(path string, compressed bool) (io.WriteCloser, string, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, ee.config.DirMode); err != nil {
		return nil, "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file %s: %w", path, err)
	}
	if err := file.Chmod(ee.config.FileMode); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, "", fmt.Errorf("failed to set mode on %s: %w", path, err)
	}

	if !compressed {
		return file, file.Name(), nil
	}
	gz, err := gzip.NewWriterLevel(file, ee.config.CompressionLevel)
	if err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, "", err
	}
	return &gzipWriter{file: file, gzWriter: gz}, file.Name(), nil
}

func (ee *ExportEngine) logResult(result *ExportResult) {
	ee.logger.WithFields(logrus.Fields{
		"destination": result.Destination,
		"format":      result.Format,
		"compressed":  result.Compressed,
		"rows":        result.RecordCount,
		"bytes":       result.Size,
		"duration":    result.Duration,
	}).Info("Wrote cleaned table")
}

// gzipWriter wraps gzip writer with file
type gzipWriter struct {
	file     *os.File
	gzWriter *gzip.Writer
}

func (gw *gzipWriter) Write(p []byte) (n int, err error) {
	return gw.gzWriter.Write(p)
}

func (gw *gzipWriter) Close() error {
	if err := gw.gzWriter.Close(); err != nil {
		gw.file.Close()
		return err
	}
	return gw.file.Close()
}

// countingWriter counts bytes handed to the exporter
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func (ee *ExportEngine) registerDefaultExporters() {
	ee.RegisterExporter(&CSVExporter{})
	ee.RegisterExporter(&CSVExporter{Tab: true})
	ee.RegisterExporter(&JSONExporter{})
	ee.RegisterExporter(&XLSXExporter{})
}

func getDefaultExportConfig() *ExportConfig {
	return &ExportConfig{
		CompressionLevel: gzip.DefaultCompression,
		FileMode:         0644,
		DirMode:          0755,
	}
}
