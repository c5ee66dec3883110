// Package statement turns raw statement file bytes into ordered transaction
// rows, given a column mapping produced by the schema detector.
package statement

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"bankfeed/internal/domain"
)

// ErrUnsupportedFormat is returned for files that are neither CSV nor XLSX,
// or whose bytes cannot be read as the detected container format.
var ErrUnsupportedFormat = errors.New("unsupported statement format")

// xlsxMagic is the ZIP local-file header every XLSX starts with.
var xlsxMagic = []byte{'P', 'K', 0x03, 0x04}

// DetectFileType decides the container format from the filename extension and
// the leading bytes.
func DetectFileType(filename string, data []byte) (domain.FileType, error) {
	if bytes.HasPrefix(data, xlsxMagic) {
		return domain.FileTypeXLSX, nil
	}
	name := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(name, ".xlsx"):
		return domain.FileTypeXLSX, nil
	case strings.HasSuffix(name, ".csv"), strings.HasSuffix(name, ".txt"), strings.HasSuffix(name, ".tsv"):
		return domain.FileTypeCSV, nil
	}
	// No extension hint: accept text-looking content as CSV.
	if looksTextual(data) {
		return domain.FileTypeCSV, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
}

// ReadRows extracts all rows from the file as strings, preserving order.
// For XLSX only the first sheet is read.
func ReadRows(data []byte, fileType domain.FileType) ([][]string, error) {
	switch fileType {
	case domain.FileTypeCSV:
		return readCSVRows(data)
	case domain.FileTypeXLSX:
		return readXLSXRows(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, fileType)
	}
}

func readCSVRows(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = sniffDelimiter(data)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("readCSVRows: %w: %v", ErrUnsupportedFormat, err)
	}
	return records, nil
}

func readXLSXRows(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("readXLSXRows: %w: %v", ErrUnsupportedFormat, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("readXLSXRows: %w: workbook has no sheets", ErrUnsupportedFormat)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("readXLSXRows: reading sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

// sniffDelimiter picks the separator that appears most often in the first
// line outside quotes. Comma wins ties.
func sniffDelimiter(data []byte) rune {
	line := data
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		line = data[:idx]
	}
	best, bestCount := ',', strings.Count(string(line), ",")
	for _, cand := range []rune{';', '\t', '|'} {
		if c := strings.Count(string(line), string(cand)); c > bestCount {
			best, bestCount = cand, c
		}
	}
	return best
}

func looksTextual(data []byte) bool {
	limit := len(data)
	if limit > 512 {
		limit = 512
	}
	for _, b := range data[:limit] {
		if b == 0 {
			return false
		}
	}
	return limit > 0
}
