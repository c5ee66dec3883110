// Package dedup computes the identity keys used by the two deduplication
// levels: a file-level content hash that gates re-parsing, and a
// transaction-level key that excludes already-persisted rows.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/shopspring/decimal"
)

// ContentHash returns the hex SHA-256 of filename + raw bytes. Identical
// re-uploads of the same file map to the same hash and reuse the cached
// schema analysis.
func ContentHash(filename string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(filename))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// TransactionKey identifies a transaction for duplicate detection: same date,
// same amount, same normalized description within one source.
func TransactionKey(date time.Time, amount decimal.Decimal, normalizedDescription string) string {
	return date.Format("2006-01-02") + "|" + amount.String() + "|" + normalizedDescription
}

// RowFingerprint returns a fast xxhash of the raw source record, stored as
// the transaction's external reference.
func RowFingerprint(record []string) string {
	digest := xxhash.New()
	digest.Write([]byte(strings.Join(record, ";")))
	return hex.EncodeToString(digest.Sum(nil))
}
