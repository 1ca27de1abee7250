package excel

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"rcie/internal/errors"

	"github.com/xuri/excelize/v2"
)

// Source is a dataset ready for upload: a file name and CSV content.
type Source struct {
	Name string
	Rows int
	io.ReadCloser
}

// Open prepares path for upload. CSV files pass through unchanged;
// .xlsx workbooks are converted from their first sheet.
func Open(path string) (*Source, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv", "":
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.InvalidInput(fmt.Sprintf("dataset: %v", err))
		}
		return &Source{Name: filepath.Base(path), Rows: -1, ReadCloser: f}, nil
	case ".xlsx", ".xlsm":
		return convertWorkbook(path)
	default:
		return nil, errors.InvalidInput(fmt.Sprintf("dataset: unsupported file type %q", ext))
	}
}

func convertWorkbook(path string) (*Source, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.InvalidInput(fmt.Sprintf("dataset: failed to open workbook: %v", err))
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.InvalidInput("dataset: workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.InvalidInput(fmt.Sprintf("dataset: failed to read %s: %v", sheets[0], err))
	}
	if len(rows) < 2 {
		return nil, errors.InvalidInput("dataset: workbook must have a header row and at least one data row")
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	width := len(rows[0])
	for _, row := range rows {
		// GetRows drops trailing empty cells
		for len(row) < width {
			row = append(row, "")
		}
		if err := w.Write(row); err != nil {
			return nil, errors.InternalError(fmt.Sprintf("dataset: csv encode: %v", err))
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.InternalError(fmt.Sprintf("dataset: csv encode: %v", err))
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".csv"
	return &Source{Name: name, Rows: len(rows) - 1, ReadCloser: io.NopCloser(&buf)}, nil
}
