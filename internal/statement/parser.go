package statement

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bankfeed/internal/domain"
)

// Row is one coerced statement line. LineNo is the zero-based position among
// the successfully parsed rows and becomes the within-day sort index.
type Row struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	LineNo      int
	// Source keeps the original record for fingerprinting.
	Source []string
}

// ParseResult carries the ordered rows plus the count of source lines that
// failed coercion and were dropped.
type ParseResult struct {
	Rows    []Row
	Dropped int
}

// Parse applies the column mapping to every data row. Rows that fail date or
// amount coercion are dropped and counted, never fatal; a file where every
// row fails is a total parse failure.
func Parse(rows [][]string, analysis *domain.FileAnalysis) (*ParseResult, error) {
	mapping := analysis.Mapping
	result := &ParseResult{}

	for i := analysis.DataStartRow; i < len(rows); i++ {
		record := rows[i]
		if isBlank(record) {
			continue
		}

		date, err := ParseDate(cellAt(record, mapping.DateColumn), mapping.DateFormat)
		if err != nil {
			result.Dropped++
			continue
		}

		amount, err := rowAmount(record, mapping)
		if err != nil {
			result.Dropped++
			continue
		}

		desc := strings.TrimSpace(cellAt(record, mapping.DescriptionColumn))
		if desc == "" {
			result.Dropped++
			continue
		}

		result.Rows = append(result.Rows, Row{
			Date:        date,
			Description: desc,
			Amount:      amount,
			LineNo:      len(result.Rows),
			Source:      record,
		})
	}

	if len(result.Rows) == 0 {
		return nil, fmt.Errorf("statement.Parse: no parseable rows (%d dropped)", result.Dropped)
	}
	return result, nil
}

// rowAmount reads the signed amount, merging split debit/credit columns into
// one value: debits become negative, credits positive.
func rowAmount(record []string, mapping domain.ColumnMapping) (decimal.Decimal, error) {
	if !mapping.SplitAmount {
		return ParseAmount(cellAt(record, mapping.AmountColumn))
	}

	debitCell := strings.TrimSpace(cellAt(record, mapping.DebitColumn))
	creditCell := strings.TrimSpace(cellAt(record, mapping.CreditColumn))
	switch {
	case debitCell != "":
		d, err := ParseAmount(debitCell)
		if err != nil {
			return decimal.Decimal{}, err
		}
		return d.Abs().Neg(), nil
	case creditCell != "":
		c, err := ParseAmount(creditCell)
		if err != nil {
			return decimal.Decimal{}, err
		}
		return c.Abs(), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("both debit and credit cells empty")
	}
}

func cellAt(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return record[idx]
}

func isBlank(record []string) bool {
	for _, c := range record {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
