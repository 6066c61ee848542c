package export

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/inferloop/studentprep/internal/table"
)

const (
	defaultSheetName = "Sheet1"
	// maxSheetRows is the Excel row limit, header included.
	maxSheetRows = 1048576
	// maxSheetNameLength is the Excel sheet name limit.
	maxSheetNameLength = 31
)

// XLSXExporter implements workbook export functionality
type XLSXExporter struct{}

// Name returns the exporter name
func (xe *XLSXExporter) Name() string {
	return "xlsx"
}

// SupportedFormats returns supported formats
func (xe *XLSXExporter) SupportedFormats() []ExportFormat {
	return []ExportFormat{FormatXLSX}
}

// Export writes a single-sheet workbook with a header row. Numeric cells are
// stored as numbers and missing cells are left blank.
func (xe *XLSXExporter) Export(ctx context.Context, writer io.Writer, data *table.Table, options ExportOptions) error {
	if data.Len()+1 > maxSheetRows {
		return fmt.Errorf("%d rows exceed the worksheet limit of %d", data.Len(), maxSheetRows-1)
	}

	sheet := options.XLSXOptions.SheetName
	if sheet == "" {
		sheet = defaultSheetName
	}

	f := excelize.NewFile()
	defer f.Close()

	if sheet != defaultSheetName {
		idx, err := f.NewSheet(sheet)
		if err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", sheet, err)
		}
		f.SetActiveSheet(idx)
		f.DeleteSheet(defaultSheetName)
	}

	header := make([]interface{}, data.Width())
	for j, name := range data.Names() {
		header[j] = name
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	columns := data.Columns()
	for i := 0; i < data.Len(); i++ {
		if i%1024 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		row := make([]interface{}, len(columns))
		for j, col := range columns {
			row[j] = xe.cellValue(col, i)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	return f.Write(writer)
}

// ValidateOptions validates workbook export options
func (xe *XLSXExporter) ValidateOptions(options ExportOptions) error {
	if len([]rune(options.XLSXOptions.SheetName)) > maxSheetNameLength {
		return fmt.Errorf("sheet name %q is longer than %d characters", options.XLSXOptions.SheetName, maxSheetNameLength)
	}
	return nil
}

func (xe *XLSXExporter) cellValue(col *table.Column, i int) interface{} {
	v := col.Values[i]
	switch v.Kind() {
	case table.KindMissing:
		return nil
	case table.KindNumber:
		f, _ := v.Float()
		if col.Type == table.Int {
			return int64(f)
		}
		return f
	default:
		return v.Text()
	}
}
