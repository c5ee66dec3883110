package dedup

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func TestContentHash(t *testing.T) {
	data := []byte("Date,Description,Amount\n2024-01-02,TESCO,-12.50\n")

	h1 := ContentHash("jan.csv", data)
	h2 := ContentHash("jan.csv", data)
	if h1 != h2 {
		t.Errorf("Same filename and bytes produced different hashes: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(h1))
	}

	// Same bytes under a different name is a different upload identity.
	if h3 := ContentHash("feb.csv", data); h3 == h1 {
		t.Error("Different filename should change the content hash")
	}
	if h4 := ContentHash("jan.csv", append([]byte(nil), data[:10]...)); h4 == h1 {
		t.Error("Different bytes should change the content hash")
	}
}

func TestTransactionKey(t *testing.T) {
	amount := decimal.RequireFromString("-12.50")
	key := TransactionKey(date(2024, 1, 2), amount, "tesco stores")
	want := "2024-01-02|-12.5|tesco stores"
	if key != want {
		t.Errorf("TransactionKey = %q, want %q", key, want)
	}

	// Time-of-day must not leak into the key.
	noon := time.Date(2024, 1, 2, 12, 30, 0, 0, time.UTC)
	if got := TransactionKey(noon, amount, "tesco stores"); got != key {
		t.Errorf("Key depends on time of day: %q vs %q", got, key)
	}

	if got := TransactionKey(date(2024, 1, 3), amount, "tesco stores"); got == key {
		t.Error("Different date should change the key")
	}
	if got := TransactionKey(date(2024, 1, 2), decimal.RequireFromString("-12.51"), "tesco stores"); got == key {
		t.Error("Different amount should change the key")
	}
}

func TestRowFingerprint(t *testing.T) {
	record := []string{"2024-01-02", "TESCO STORES 3301", "-12.50"}

	f1 := RowFingerprint(record)
	f2 := RowFingerprint(record)
	if f1 != f2 {
		t.Errorf("Same record produced different fingerprints: %s vs %s", f1, f2)
	}
	if f1 == "" {
		t.Error("Expected non-empty fingerprint")
	}

	if f3 := RowFingerprint([]string{"2024-01-02", "TESCO STORES 3301", "-12.51"}); f3 == f1 {
		t.Error("Different record should change the fingerprint")
	}
}
