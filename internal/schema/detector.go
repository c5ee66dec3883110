// Package schema detects the column layout of an uploaded statement file.
// Heuristics over header names and sampled cell values run first; when they
// are inconclusive the AI oracle is consulted and its mapping is adopted
// verbatim. Detection is pure given its inputs; callers cache the result
// keyed by content hash.
package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bankfeed/internal/domain"
	"bankfeed/internal/statement"
)

// ErrDetectionUnavailable is returned when heuristics are inconclusive and
// the AI oracle cannot supply a mapping either. Not retried transparently.
var ErrDetectionUnavailable = errors.New("schema detection unavailable")

// Oracle is the AI schema-detection collaborator: given raw sample rows it
// returns a complete analysis. The detector adopts the result verbatim.
type Oracle interface {
	DetectSchema(ctx context.Context, filename string, sample [][]string) (*domain.FileAnalysis, error)
}

// Detector runs heuristic column detection with an AI fallback.
type Detector struct {
	oracle Oracle
	// minConfidence is the heuristic score below which the oracle is
	// consulted. Scores are the fraction of sampled data cells that conform
	// to the column's expected shape.
	minConfidence float64
}

// NewDetector creates a detector. oracle may be nil, in which case
// inconclusive heuristics surface ErrDetectionUnavailable.
func NewDetector(oracle Oracle, minConfidence float64) *Detector {
	if minConfidence <= 0 {
		minConfidence = 0.8
	}
	return &Detector{oracle: oracle, minConfidence: minConfidence}
}

const sampleRows = 40

// Detect analyzes the raw file bytes and produces the cached analysis:
// file type, column mapping, header/data row indices and a short preview.
func (d *Detector) Detect(ctx context.Context, filename string, data []byte) (*domain.FileAnalysis, error) {
	fileType, err := statement.DetectFileType(filename, data)
	if err != nil {
		return nil, err
	}

	rows, err := statement.ReadRows(data, fileType)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: file is empty", statement.ErrUnsupportedFormat)
	}

	sample := rows
	if len(sample) > sampleRows {
		sample = sample[:sampleRows]
	}

	analysis, ok := detectHeuristically(sample, d.minConfidence)
	if ok {
		analysis.FileType = fileType
		analysis.Preview = preview(rows, analysis.DataStartRow)
		return analysis, nil
	}

	if d.oracle == nil {
		return nil, fmt.Errorf("%w: heuristics inconclusive and no oracle configured", ErrDetectionUnavailable)
	}

	oracleAnalysis, err := d.oracle.DetectSchema(ctx, filename, sample)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectionUnavailable, err)
	}
	oracleAnalysis.FileType = fileType
	oracleAnalysis.OracleUsed = true
	if len(oracleAnalysis.Preview) == 0 {
		oracleAnalysis.Preview = preview(rows, oracleAnalysis.DataStartRow)
	}
	return oracleAnalysis, nil
}

// headerKeywords map header cell names to the field they most likely label.
var headerKeywords = map[string]string{
	"date":             "date",
	"transaction date": "date",
	"booking date":     "date",
	"value date":       "date",
	"posted":           "date",
	"description":      "description",
	"details":          "description",
	"narrative":        "description",
	"memo":             "description",
	"payee":            "description",
	"merchant":         "description",
	"amount":           "amount",
	"value":            "amount",
	"debit":            "debit",
	"paid out":         "debit",
	"money out":        "debit",
	"withdrawal":       "debit",
	"credit":           "credit",
	"paid in":          "credit",
	"money in":         "credit",
	"deposit":          "credit",
}

func detectHeuristically(sample [][]string, minConfidence float64) (*domain.FileAnalysis, bool) {
	headerRow := findHeaderRow(sample)
	dataStart := headerRow + 1
	if headerRow < 0 {
		headerRow = -1
		dataStart = 0
	}
	if dataStart >= len(sample) {
		return nil, false
	}
	dataRows := sample[dataStart:]

	mapping := domain.ColumnMapping{DateColumn: -1, DescriptionColumn: -1, AmountColumn: -1, DebitColumn: -1, CreditColumn: -1}

	// Header names take priority when a header row exists.
	if headerRow >= 0 {
		for idx, cell := range sample[headerRow] {
			switch headerKeywords[strings.ToLower(strings.TrimSpace(cell))] {
			case "date":
				if mapping.DateColumn < 0 {
					mapping.DateColumn = idx
				}
			case "description":
				if mapping.DescriptionColumn < 0 {
					mapping.DescriptionColumn = idx
				}
			case "amount":
				if mapping.AmountColumn < 0 {
					mapping.AmountColumn = idx
				}
			case "debit":
				if mapping.DebitColumn < 0 {
					mapping.DebitColumn = idx
				}
			case "credit":
				if mapping.CreditColumn < 0 {
					mapping.CreditColumn = idx
				}
			}
		}
	}

	scores := scoreColumns(dataRows)

	// Fill whatever the header did not resolve from the value shapes.
	if mapping.DateColumn < 0 {
		mapping.DateColumn = bestColumn(scores, "date", nil)
	}
	if mapping.AmountColumn < 0 && mapping.DebitColumn < 0 {
		mapping.AmountColumn = bestColumn(scores, "amount", []int{mapping.DateColumn})
	}
	if mapping.DescriptionColumn < 0 {
		mapping.DescriptionColumn = bestColumn(scores, "text", []int{mapping.DateColumn, mapping.AmountColumn, mapping.DebitColumn, mapping.CreditColumn})
	}

	if mapping.DebitColumn >= 0 && mapping.CreditColumn >= 0 {
		mapping.SplitAmount = true
		mapping.AmountColumn = -1
	}

	if mapping.DateColumn < 0 || mapping.DescriptionColumn < 0 ||
		(mapping.AmountColumn < 0 && !mapping.SplitAmount) {
		return nil, false
	}

	// Confidence: the chosen columns must actually hold conforming values.
	conf := scores.confidence(mapping)
	if conf < minConfidence {
		return nil, false
	}

	mapping.DateFormat = scores.dateLayout(mapping.DateColumn)

	return &domain.FileAnalysis{
		Mapping:      mapping,
		HeaderRow:    headerRow,
		DataStartRow: dataStart,
	}, true
}

// findHeaderRow returns the index of the first row that looks like labels:
// mostly short non-numeric, non-date words. Returns -1 for headerless files.
func findHeaderRow(sample [][]string) int {
	for i, row := range sample[:min(3, len(sample))] {
		labelish, filled := 0, 0
		for _, cell := range row {
			c := strings.TrimSpace(cell)
			if c == "" {
				continue
			}
			filled++
			if _, isDate := statement.LooksLikeDate(c); !isDate && !statement.LooksLikeAmount(c) {
				labelish++
			}
		}
		if filled >= 2 && labelish == filled {
			return i
		}
	}
	return -1
}

func preview(rows [][]string, dataStart int) [][]string {
	const previewRows = 5
	if dataStart < 0 || dataStart >= len(rows) {
		return nil
	}
	end := dataStart + previewRows
	if end > len(rows) {
		end = len(rows)
	}
	out := make([][]string, 0, end-dataStart)
	for _, r := range rows[dataStart:end] {
		trimmed := make([]string, len(r))
		for i, c := range r {
			trimmed[i] = strings.TrimSpace(c)
		}
		out = append(out, trimmed)
	}
	return out
}
