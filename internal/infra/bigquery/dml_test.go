package bigquery

import (
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/shopspring/decimal"

	"bankfeed/internal/dedup"
	"bankfeed/internal/domain"
)

// Transactions and jobs must be written with DML INSERT, never the streaming
// inserter: both tables are hit with UPDATEs right after insert, and rows in
// the streaming buffer reject DML.

func sampleTransaction(id string, lineNo int) *domain.Transaction {
	return &domain.Transaction{
		ID:                    id,
		FileID:                "f1",
		Date:                  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Description:           "TESCO STORES 3301",
		NormalizedDescription: "tesco stores",
		Amount:                decimal.RequireFromString("-12.50"),
		Currency:              "EUR",
		Status:                domain.StatusUncategorized,
		LineNo:                lineNo,
		CreatedAt:             time.Now(),
	}
}

func paramsByName(t *testing.T, query string, params []bigquery.QueryParameter) map[string]interface{} {
	t.Helper()
	out := make(map[string]interface{}, len(params))
	for _, p := range params {
		if _, dup := out[p.Name]; dup {
			t.Errorf("duplicate parameter name %q", p.Name)
		}
		if got := strings.Count(query, "@"+p.Name+","); got == 0 {
			// The placeholder may also end the tuple or the statement.
			if !strings.Contains(query, "@"+p.Name+")") && !strings.Contains(query, "@"+p.Name+"\n") {
				t.Errorf("parameter %q not referenced by the statement:\n%s", p.Name, query)
			}
		}
		out[p.Name] = p.Value
	}
	return out
}

func TestInsertTransactionsQuery(t *testing.T) {
	var rows []*TransactionRow
	for i, id := range []string{"t1", "t2", "t3"} {
		tx := sampleTransaction(id, i)
		key := dedup.TransactionKey(tx.Date, tx.Amount, tx.NormalizedDescription)
		rows = append(rows, toTransactionRow(tx, key))
	}

	query, params := insertTransactionsQuery("`proj.ds.transactions`", rows)

	if !strings.HasPrefix(query, "INSERT `proj.ds.transactions` (") {
		t.Fatalf("query does not start with an INSERT into the table:\n%s", query)
	}
	if got := strings.Count(query, "(@transaction_id_"); got != len(rows) {
		t.Errorf("expected %d value tuples, found %d:\n%s", len(rows), got, query)
	}
	if want := len(rows) * len(transactionColumns); len(params) != want {
		t.Errorf("expected %d parameters, got %d", want, len(params))
	}
	// updated_ts stays NULL at insert time; it must not appear at all.
	if strings.Contains(query, "updated_ts") {
		t.Errorf("insert must not write updated_ts:\n%s", query)
	}

	byName := paramsByName(t, query, params)
	if got := byName["transaction_id_2"]; got != "t3" {
		t.Errorf("transaction_id_2 = %v, want t3", got)
	}
	if got := byName["dedup_key_0"]; got != "2024-01-02|-12.5|tesco stores" {
		t.Errorf("dedup_key_0 = %v", got)
	}
	if got := byName["line_no_1"]; got != int64(1) {
		t.Errorf("line_no_1 = %v, want 1", got)
	}
}

func TestInsertJobQuery(t *testing.T) {
	job := &domain.BackgroundJob{
		ID:             "j1",
		Type:           domain.JobTypeAICategorization,
		Status:         domain.JobPending,
		TransactionIDs: []string{"t1", "t2"},
		CreatedAt:      time.Now(),
	}

	query, params := insertJobQuery("`proj.ds.background_jobs`", toJobRow(job))

	if !strings.Contains(query, "INSERT `proj.ds.background_jobs`") {
		t.Fatalf("query does not insert into the jobs table:\n%s", query)
	}

	byName := paramsByName(t, query, params)
	if got := byName["status"]; got != "PENDING" {
		t.Errorf("status param = %v, want PENDING", got)
	}
	if got, ok := byName["transaction_ids"].([]string); !ok || len(got) != 2 {
		t.Errorf("transaction_ids param = %v, want two ids", byName["transaction_ids"])
	}
}
