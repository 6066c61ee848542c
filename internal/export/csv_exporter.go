package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/inferloop/studentprep/internal/table"
)

// CSVExporter implements delimited export. The zero value writes commas; Tab
// switches the default delimiter to a tab for .tsv output.
type CSVExporter struct {
	Tab bool
}

// Name returns the exporter name
func (ce *CSVExporter) Name() string {
	if ce.Tab {
		return "tsv"
	}
	return "csv"
}

// SupportedFormats returns supported formats
func (ce *CSVExporter) SupportedFormats() []ExportFormat {
	if ce.Tab {
		return []ExportFormat{FormatTSV}
	}
	return []ExportFormat{FormatCSV}
}

// Export writes the header row and one row per record, without an index
// column. Missing cells are written as the configured null value.
func (ce *CSVExporter) Export(ctx context.Context, writer io.Writer, data *table.Table, options ExportOptions) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = ce.delimiter(options.CSVOptions)

	if err := csvWriter.Write(data.Names()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}

	columns := data.Columns()
	row := make([]string, len(columns))
	for i := 0; i < data.Len(); i++ {
		if i%1024 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		for j, col := range columns {
			if col.Values[i].IsMissing() {
				row[j] = options.CSVOptions.NullValue
				continue
			}
			row[j] = col.Format(i)
		}
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", i+1, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// ValidateOptions validates CSV export options
func (ce *CSVExporter) ValidateOptions(options ExportOptions) error {
	d := options.CSVOptions.Delimiter
	if d == "" || d == `\t` {
		return nil
	}
	if utf8.RuneCountInString(d) != 1 {
		return fmt.Errorf("CSV delimiter must be a single character, got %q", d)
	}
	r, _ := utf8.DecodeRuneInString(d)
	if r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return fmt.Errorf("invalid CSV delimiter %q", d)
	}
	return nil
}

func (ce *CSVExporter) delimiter(options CSVOptions) rune {
	switch options.Delimiter {
	case "":
		if ce.Tab {
			return '\t'
		}
		return ','
	case `\t`:
		return '\t'
	default:
		r, _ := utf8.DecodeRuneInString(options.Delimiter)
		return r
	}
}
