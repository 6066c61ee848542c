package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/inferloop/studentprep/internal/table"
)

// JSONExporter implements JSON export functionality
type JSONExporter struct{}

// Name returns the exporter name
func (je *JSONExporter) Name() string {
	return "json"
}

// SupportedFormats returns supported formats
func (je *JSONExporter) SupportedFormats() []ExportFormat {
	return []ExportFormat{FormatJSON}
}

// Export writes the table as an array of records keyed by column name, in
// column order. Numbers are JSON numbers and missing cells are null. With
// StreamFormat each record goes on its own line instead.
func (je *JSONExporter) Export(ctx context.Context, writer io.Writer, data *table.Table, options ExportOptions) error {
	w := bufio.NewWriter(writer)
	stream := options.JSONOptions.StreamFormat
	pretty := options.JSONOptions.Pretty && !stream

	keys, err := je.encodeKeys(data.Names())
	if err != nil {
		return err
	}
	columns := data.Columns()

	if !stream {
		w.WriteString("[")
	}
	for i := 0; i < data.Len(); i++ {
		if i%1024 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		if !stream && i > 0 {
			w.WriteString(",")
		}
		if pretty {
			w.WriteString("\n  ")
		}

		w.WriteString("{")
		for j, col := range columns {
			if j > 0 {
				w.WriteString(",")
			}
			if pretty {
				w.WriteString("\n    ")
			}
			w.Write(keys[j])
			w.WriteString(":")
			if pretty {
				w.WriteString(" ")
			}
			value, err := je.encodeValue(col, i)
			if err != nil {
				return fmt.Errorf("failed to encode %s in row %d: %w", col.Name, i+1, err)
			}
			w.Write(value)
		}
		if pretty && len(columns) > 0 {
			w.WriteString("\n  ")
		}
		w.WriteString("}")
		if stream {
			w.WriteString("\n")
		}
	}
	if !stream {
		if pretty && data.Len() > 0 {
			w.WriteString("\n")
		}
		w.WriteString("]\n")
	}

	return w.Flush()
}

// ValidateOptions validates JSON export options
func (je *JSONExporter) ValidateOptions(options ExportOptions) error {
	return nil
}

func (je *JSONExporter) encodeKeys(names []string) ([][]byte, error) {
	keys := make([][]byte, len(names))
	for i, name := range names {
		b, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		keys[i] = b
	}
	return keys, nil
}

func (je *JSONExporter) encodeValue(col *table.Column, i int) ([]byte, error) {
	v := col.Values[i]
	switch v.Kind() {
	case table.KindMissing:
		return []byte("null"), nil
	case table.KindNumber:
		if f, _ := v.Float(); math.IsInf(f, 0) {
			return []byte("null"), nil
		}
		return []byte(col.Format(i)), nil
	default:
		return json.Marshal(v.Text())
	}
}
