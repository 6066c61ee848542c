package loader

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/inferloop/studentprep/pkg/errors"
)

// readDelimited decodes delimiter-separated text. The first record is the
// header; records may be ragged.
func readDelimited(r io.Reader, comma rune) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, errors.NewValidationError(errors.CodeInvalidFormat, "source has no header row")
	}
	if err != nil {
		return nil, nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidFormat, "failed to parse header")
	}
	header = trimBOM(header)

	var records [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidFormat, "failed to parse record")
		}
		records = append(records, rec)
	}

	return header, records, nil
}

// readWorkbook reads one worksheet of an xlsx workbook. Blank rows are
// skipped; excelize already drops trailing empty cells.
func readWorkbook(r io.Reader, sheet string) ([]string, [][]string, error) {
	buf, err := readAll(r)
	if err != nil {
		return nil, nil, err
	}

	f, err := excelize.OpenReader(buf)
	if err != nil {
		return nil, nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidFormat, "failed to open workbook")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, errors.NewValidationError(errors.CodeInvalidFormat, "workbook has no sheets")
	}
	if sheet == "" {
		sheet = sheets[0]
	} else if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, nil, errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("workbook has no sheet %q", sheet))
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidFormat,
			fmt.Sprintf("failed to read sheet %q", sheet))
	}

	var nonBlank [][]string
	for _, row := range rows {
		if len(row) > 0 {
			nonBlank = append(nonBlank, row)
		}
	}
	if len(nonBlank) == 0 {
		return nil, nil, errors.NewValidationError(errors.CodeInvalidFormat,
			fmt.Sprintf("sheet %q has no header row", sheet))
	}

	return nonBlank[0], nonBlank[1:], nil
}

func trimBOM(header []string) []string {
	if len(header) > 0 && len(header[0]) >= 3 && header[0][:3] == "\xef\xbb\xbf" {
		header[0] = header[0][3:]
	}
	return header
}
