package domain

import "time"

// FileType is the statement container format.
type FileType string

const (
	FileTypeCSV  FileType = "CSV"
	FileTypeXLSX FileType = "XLSX"
)

// ColumnMapping locates the three required fields inside the source file.
// Column indices are zero-based positions in the source row.
type ColumnMapping struct {
	DateColumn        int    `json:"date_column"`
	DescriptionColumn int    `json:"description_column"`
	AmountColumn      int    `json:"amount_column"`
	DateFormat        string `json:"date_format"`
	// DebitColumn/CreditColumn are set instead of AmountColumn when the
	// statement splits money out and money in into two columns.
	DebitColumn  int  `json:"debit_column"`
	CreditColumn int  `json:"credit_column"`
	SplitAmount  bool `json:"split_amount"`
}

// FileAnalysis is the cached result of schema detection for one uploaded
// file, keyed by the content hash so identical re-uploads skip detection.
type FileAnalysis struct {
	FileType     FileType      `json:"file_type"`
	Mapping      ColumnMapping `json:"mapping"`
	HeaderRow    int           `json:"header_row"`
	DataStartRow int           `json:"data_start_row"`
	// Preview holds a few normalized sample rows for operator inspection.
	Preview [][]string `json:"preview"`
	// OracleUsed records whether heuristics were inconclusive and the AI
	// oracle supplied the mapping.
	OracleUsed bool `json:"oracle_used"`
}

// UploadedFile is the registry entry for one uploaded statement file. Raw
// bytes live in the file store under StorageURI; ContentHash is
// sha256(filename + bytes).
type UploadedFile struct {
	ID          string
	Filename    string
	ContentHash string
	SizeBytes   int64
	StorageURI  string
	Analysis    *FileAnalysis
	UploadedAt  time.Time
}
