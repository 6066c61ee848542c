package loader

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/studentprep/internal/storage"
	"github.com/inferloop/studentprep/internal/storage/interfaces"
	"github.com/inferloop/studentprep/internal/table"
	"github.com/inferloop/studentprep/pkg/constants"
	"github.com/inferloop/studentprep/pkg/errors"
)

// Format is a supported source file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
)

// Options configures how sources are decoded.
type Options struct {
	// Delimiter overrides the delimiter implied by the file extension.
	Delimiter string `json:"delimiter" mapstructure:"delimiter"`
	// Sheet selects a worksheet of an xlsx workbook; empty means the first.
	Sheet string `json:"sheet" mapstructure:"sheet"`
	// NullTokens are the cell values loaded as missing.
	NullTokens []string `json:"null_tokens" mapstructure:"null_tokens"`
}

// BlobOpener resolves a remote location to a blob store.
type BlobOpener interface {
	OpenBlob(loc storage.Location) (interfaces.BlobStorage, error)
}

// Loader reads a source file into a categorical table.
type Loader struct {
	options Options
	blobs   BlobOpener
	nulls   map[string]struct{}
	logger  *logrus.Logger
}

// NewLoader creates a loader. blobs may be nil when only local paths are read.
func NewLoader(options Options, blobs BlobOpener, logger *logrus.Logger) *Loader {
	if logger == nil {
		logger = logrus.New()
	}
	if options.NullTokens == nil {
		options.NullTokens = constants.NullTokens()
	}

	nulls := make(map[string]struct{}, len(options.NullTokens))
	for _, tok := range options.NullTokens {
		nulls[tok] = struct{}{}
	}

	return &Loader{
		options: options,
		blobs:   blobs,
		nulls:   nulls,
		logger:  logger,
	}
}

// Load reads path, which is a local file or an s3:// location. Header cells
// are kept verbatim; repeated headers get a .1, .2 suffix.
func (l *Loader) Load(ctx context.Context, path string) (*table.Table, error) {
	loc, err := storage.ParseLocation(path)
	if err != nil {
		return nil, err
	}

	name, compressed := splitCompression(loc.Name())
	format, err := l.detectFormat(name)
	if err != nil {
		return nil, err
	}

	raw, err := l.open(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer raw.Close()

	var r io.Reader = raw
	if compressed {
		gz, err := gzip.NewReader(raw)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidFormat,
				fmt.Sprintf("%s is not valid gzip", loc))
		}
		defer gz.Close()
		r = gz
	}

	var header []string
	var records [][]string
	switch format {
	case FormatXLSX:
		header, records, err = readWorkbook(r, l.options.Sheet)
	default:
		header, records, err = readDelimited(r, l.delimiter(format))
	}
	if err != nil {
		return nil, err
	}

	renamed := MangleDuplicates(header)
	t, err := table.FromRecords(renamed, records, l.isMissing)
	if err != nil {
		return nil, err
	}

	fields := logrus.Fields{
		"source":  loc.String(),
		"format":  format,
		"rows":    t.Len(),
		"columns": t.Width(),
	}
	if dup := countRenamed(header, renamed); dup > 0 {
		fields["renamed_headers"] = dup
		l.logger.WithFields(fields).Warn("Source has repeated header names")
	}
	l.logger.WithFields(fields).Info("Loaded source table")

	return t, nil
}

func (l *Loader) open(ctx context.Context, loc storage.Location) (io.ReadCloser, error) {
	if loc.Scheme == storage.SchemeS3 {
		if l.blobs == nil {
			return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "no blob storage configured for s3 sources")
		}
		blob, err := l.blobs.OpenBlob(loc)
		if err != nil {
			return nil, err
		}
		defer blob.Close()
		return blob.Get(ctx, loc.Path)
	}
	if loc.Scheme != storage.SchemeFile {
		return nil, errors.NewValidationError(errors.CodeUnsupportedType,
			fmt.Sprintf("cannot read from %s locations", loc.Scheme))
	}

	f, err := os.Open(loc.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFoundError(loc.Path)
		}
		return nil, errors.WrapError(err, errors.ErrorTypeIO, errors.CodeReadFailed,
			fmt.Sprintf("failed to open %s", loc.Path))
	}
	info, err := f.Stat()
	if err == nil && info.IsDir() {
		f.Close()
		return nil, errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("%s is a directory", loc.Path))
	}
	return f, nil
}

func (l *Loader) detectFormat(name string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".tsv", ".tab":
		return FormatTSV, nil
	case ".csv", ".txt", "":
		return FormatCSV, nil
	default:
		if l.options.Delimiter != "" {
			return FormatCSV, nil
		}
		return "", errors.NewValidationError(errors.CodeInvalidFormat,
			fmt.Sprintf("unsupported source format %q", ext))
	}
}

func (l *Loader) delimiter(format Format) rune {
	if d := l.options.Delimiter; d != "" {
		if d == `\t` {
			return '\t'
		}
		return []rune(d)[0]
	}
	if format == FormatTSV {
		return '\t'
	}
	return ','
}

func (l *Loader) isMissing(cell string) bool {
	_, ok := l.nulls[cell]
	return ok
}

func splitCompression(name string) (string, bool) {
	if strings.HasSuffix(strings.ToLower(name), ".gz") {
		return name[:len(name)-len(".gz")], true
	}
	return name, false
}

// MangleDuplicates renames repeated header cells: the first occurrence keeps
// its name, later ones get .1, .2 and so on, skipping names already present.
func MangleDuplicates(header []string) []string {
	out := make([]string, len(header))
	used := make(map[string]struct{}, len(header))
	for _, h := range header {
		used[h] = struct{}{}
	}

	seen := make(map[string]int, len(header))
	for i, h := range header {
		n, dup := seen[h]
		if !dup {
			seen[h] = 0
			out[i] = h
			continue
		}
		name := h
		for {
			n++
			name = fmt.Sprintf("%s%s%d", h, constants.DuplicateHeaderSep, n)
			if _, taken := used[name]; !taken {
				break
			}
		}
		seen[h] = n
		used[name] = struct{}{}
		out[i] = name
	}
	return out
}

func countRenamed(before, after []string) int {
	n := 0
	for i := range before {
		if before[i] != after[i] {
			n++
		}
	}
	return n
}

// readAll buffers r; excelize needs random access to the archive.
func readAll(r io.Reader) (*bytes.Reader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeIO, errors.CodeReadFailed, "failed to read source")
	}
	return bytes.NewReader(data), nil
}
