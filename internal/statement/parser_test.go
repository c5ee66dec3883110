package statement

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"bankfeed/internal/domain"
)

func csvRows(t *testing.T, csv string) [][]string {
	t.Helper()
	rows, err := ReadRows([]byte(csv), domain.FileTypeCSV)
	require.NoError(t, err)
	return rows
}

func TestDetectFileType(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
		want     domain.FileType
		wantErr  bool
	}{
		{"csv extension", "jan.csv", []byte("a,b\n"), domain.FileTypeCSV, false},
		{"txt extension", "jan.txt", []byte("a,b\n"), domain.FileTypeCSV, false},
		{"xlsx extension", "jan.xlsx", []byte{0x01, 0x02}, domain.FileTypeXLSX, false},
		{"zip magic wins over name", "jan.csv", []byte{'P', 'K', 0x03, 0x04, 0x00}, domain.FileTypeXLSX, false},
		{"no extension but textual", "statement", []byte("Date,Amount\n"), domain.FileTypeCSV, false},
		{"binary junk", "statement.bin", []byte{0x00, 0x01, 0x02}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFileType(tt.filename, tt.data)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadRows_DelimiterSniffing(t *testing.T) {
	semicolons := "Date;Description;Amount\n2024-01-02;TESCO;-12,50\n"
	rows := csvRows(t, semicolons)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Date", "Description", "Amount"}, rows[0])

	tabs := "Date\tDescription\tAmount\n2024-01-02\tTESCO\t-12.50\n"
	rows = csvRows(t, tabs)
	require.Len(t, rows, 2)
	assert.Equal(t, "TESCO", rows[1][1])
}

func TestParse_SimpleStatement(t *testing.T) {
	rows := csvRows(t, strings.Join([]string{
		"Date,Description,Amount",
		"2024-01-02,TESCO STORES,-12.50",
		"2024-01-02,SALARY ACME,2500.00",
		"2024-01-03,SPOTIFY,-9.99",
	}, "\n"))

	analysis := &domain.FileAnalysis{
		Mapping: domain.ColumnMapping{
			DateColumn:        0,
			DescriptionColumn: 1,
			AmountColumn:      2,
			DateFormat:        "2006-01-02",
			DebitColumn:       -1,
			CreditColumn:      -1,
		},
		HeaderRow:    0,
		DataStartRow: 1,
	}

	result, err := Parse(rows, analysis)
	require.NoError(t, err)
	require.Len(t, result.Rows, 3)
	assert.Equal(t, 0, result.Dropped)

	first := result.Rows[0]
	assert.Equal(t, "TESCO STORES", first.Description)
	assert.Equal(t, "-12.5", first.Amount.String())
	assert.Equal(t, 0, first.LineNo)
	assert.Equal(t, 2, result.Rows[2].LineNo, "line numbers follow parsed order")
}

func TestParse_DropsUncoercibleRows(t *testing.T) {
	rows := csvRows(t, strings.Join([]string{
		"Date,Description,Amount",
		"2024-01-02,TESCO STORES,-12.50",
		"not-a-date,BROKEN ROW,-1.00",
		"2024-01-03,NO AMOUNT,xyz",
		"2024-01-04,,-5.00",
		"2024-01-05,SPOTIFY,-9.99",
	}, "\n"))

	analysis := &domain.FileAnalysis{
		Mapping: domain.ColumnMapping{
			DateColumn: 0, DescriptionColumn: 1, AmountColumn: 2,
			DateFormat: "2006-01-02", DebitColumn: -1, CreditColumn: -1,
		},
		HeaderRow:    0,
		DataStartRow: 1,
	}

	result, err := Parse(rows, analysis)
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
	assert.Equal(t, 3, result.Dropped)
	// Surviving rows stay dense and ordered.
	assert.Equal(t, 0, result.Rows[0].LineNo)
	assert.Equal(t, 1, result.Rows[1].LineNo)
}

func TestParse_AllRowsFail(t *testing.T) {
	rows := csvRows(t, "Date,Description,Amount\ngarbage,also,garbage\n")
	analysis := &domain.FileAnalysis{
		Mapping: domain.ColumnMapping{
			DateColumn: 0, DescriptionColumn: 1, AmountColumn: 2,
			DateFormat: "2006-01-02", DebitColumn: -1, CreditColumn: -1,
		},
		DataStartRow: 1,
	}

	_, err := Parse(rows, analysis)
	assert.Error(t, err, "a file with zero parseable rows is a total failure")
}

func TestParse_SplitDebitCredit(t *testing.T) {
	rows := csvRows(t, strings.Join([]string{
		"Date,Details,Paid Out,Paid In",
		"2024-01-02,TESCO STORES,12.50,",
		"2024-01-03,SALARY ACME,,2500.00",
	}, "\n"))

	analysis := &domain.FileAnalysis{
		Mapping: domain.ColumnMapping{
			DateColumn:        0,
			DescriptionColumn: 1,
			AmountColumn:      -1,
			DebitColumn:       2,
			CreditColumn:      3,
			SplitAmount:       true,
			DateFormat:        "2006-01-02",
		},
		HeaderRow:    0,
		DataStartRow: 1,
	}

	result, err := Parse(rows, analysis)
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "-12.5", result.Rows[0].Amount.String(), "debit becomes negative")
	assert.Equal(t, "2500", result.Rows[1].Amount.String(), "credit stays positive")
}

func TestReadRows_XLSXMatchesCSV(t *testing.T) {
	records := [][]string{
		{"Date", "Description", "Amount"},
		{"2024-01-02", "TESCO STORES", "-12.50"},
		{"2024-01-03", "SPOTIFY AB", "-9.99"},
	}

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, record := range records {
		for j, cell := range record {
			axis, err := excelize.CoordinatesToCellName(j+1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellStr(sheet, axis, cell))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	xlsxRows, err := ReadRows(buf.Bytes(), domain.FileTypeXLSX)
	require.NoError(t, err)

	var csvLines []string
	for _, record := range records {
		csvLines = append(csvLines, strings.Join(record, ","))
	}
	fromCSV := csvRows(t, strings.Join(csvLines, "\n"))

	require.Equal(t, len(fromCSV), len(xlsxRows))
	for i := range fromCSV {
		assert.Equal(t, fromCSV[i], xlsxRows[i], fmt.Sprintf("row %d", i))
	}
}

func TestParse_SkipsBlankLines(t *testing.T) {
	rows := csvRows(t, "Date,Description,Amount\n2024-01-02,TESCO,-1.00\n,,\n")
	analysis := &domain.FileAnalysis{
		Mapping: domain.ColumnMapping{
			DateColumn: 0, DescriptionColumn: 1, AmountColumn: 2,
			DateFormat: "2006-01-02", DebitColumn: -1, CreditColumn: -1,
		},
		DataStartRow: 1,
	}

	result, err := Parse(rows, analysis)
	require.NoError(t, err)
	assert.Len(t, result.Rows, 1)
	assert.Equal(t, 0, result.Dropped, "blank lines are skipped, not counted as dropped")
}
