package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"bankfeed/internal/dedup"
	"bankfeed/internal/domain"
	"bankfeed/internal/store"
)

// TransactionRepository is the BigQuery-backed store.TransactionRepository.
type TransactionRepository struct {
	store *Store
}

// InsertBatch writes the fully-enriched drafts in one DML INSERT statement.
// Uses DML rather than the streaming inserter to avoid streaming buffer
// issues: the background processor UPDATEs these rows moments after insert,
// and BigQuery rejects DML against rows still in the streaming buffer.
func (r *TransactionRepository) InsertBatch(ctx context.Context, txs []*domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	rows := make([]*TransactionRow, 0, len(txs))
	for _, tx := range txs {
		key := dedup.TransactionKey(tx.Date, tx.Amount, tx.NormalizedDescription)
		rows = append(rows, toTransactionRow(tx, key))
	}
	query, params := insertTransactionsQuery(r.store.table(transactionsTable), rows)
	q := r.store.client.Query(query)
	q.Parameters = params
	if _, err := r.store.runDML(ctx, q); err != nil {
		return fmt.Errorf("InsertBatch: inserting rows: %w", err)
	}
	return nil
}

// transactionColumns lists the columns InsertBatch writes, in statement
// order. updated_ts stays NULL until the background processor touches a row.
var transactionColumns = []string{
	"transaction_id", "file_id", "transaction_date",
	"raw_description", "normalized_description",
	"amount", "currency", "category_id", "counterparty_account_id",
	"status", "confidence", "line_no", "external_reference",
	"dedup_key", "created_ts",
}

func transactionValues(row *TransactionRow) []interface{} {
	return []interface{}{
		row.TransactionID, row.FileID, row.TransactionDate,
		row.RawDescription, row.NormalizedDescription,
		row.Amount, row.Currency, row.CategoryID, row.CounterpartyAccountID,
		row.Status, row.Confidence, row.LineNo, row.ExternalReference,
		row.DedupKey, row.CreatedTS,
	}
}

// insertTransactionsQuery builds one multi-row parameterized INSERT covering
// the whole batch, with per-row numbered parameter names.
func insertTransactionsQuery(table string, rows []*TransactionRow) (string, []bigquery.QueryParameter) {
	var params []bigquery.QueryParameter
	tuples := make([]string, 0, len(rows))
	for i, row := range rows {
		values := transactionValues(row)
		placeholders := make([]string, 0, len(transactionColumns))
		for j, col := range transactionColumns {
			name := fmt.Sprintf("%s_%d", col, i)
			placeholders = append(placeholders, "@"+name)
			params = append(params, bigquery.QueryParameter{Name: name, Value: values[j]})
		}
		tuples = append(tuples, "("+strings.Join(placeholders, ", ")+")")
	}

	query := fmt.Sprintf(
		"INSERT %s (%s)\nVALUES %s",
		table,
		strings.Join(transactionColumns, ", "),
		strings.Join(tuples, ",\n"),
	)
	return query, params
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	txs, err := r.ListByIDs(ctx, []string{id})
	if err != nil {
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	if len(txs) == 0 {
		return nil, store.ErrNotFound
	}
	return txs[0], nil
}

func (r *TransactionRepository) ListByIDs(ctx context.Context, ids []string) ([]*domain.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	q := r.store.client.Query(fmt.Sprintf(`
		SELECT *
		FROM %s
		WHERE transaction_id IN UNNEST(@ids)
		ORDER BY transaction_date, line_no
	`, r.store.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "ids", Value: ids},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListByIDs: query read: %w", err)
	}

	var txs []*domain.Transaction
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListByIDs: iter next: %w", err)
		}
		txs = append(txs, row.toDomain())
	}
	return txs, nil
}

// Update rewrites the enrichment fields of one transaction. Only the fields
// the background processor owns are touched.
func (r *TransactionRepository) Update(ctx context.Context, tx *domain.Transaction) error {
	q := r.store.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET category_id = @category_id,
		    counterparty_account_id = @counterparty_account_id,
		    status = @status,
		    confidence = @confidence,
		    updated_ts = @updated_ts
		WHERE transaction_id = @transaction_id
	`, r.store.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "category_id", Value: nullString(tx.CategoryID)},
		{Name: "counterparty_account_id", Value: nullString(tx.CounterpartyAccountID)},
		{Name: "status", Value: string(tx.Status)},
		{Name: "confidence", Value: nullFloat(tx.Confidence)},
		{Name: "updated_ts", Value: time.Now()},
		{Name: "transaction_id", Value: tx.ID},
	}

	affected, err := r.store.runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ExistingKeys returns which dedup keys already have a persisted transaction.
func (r *TransactionRepository) ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(keys) == 0 {
		return existing, nil
	}

	q := r.store.client.Query(fmt.Sprintf(`
		SELECT DISTINCT dedup_key
		FROM %s
		WHERE dedup_key IN UNNEST(@keys)
	`, r.store.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "keys", Value: keys},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ExistingKeys: query read: %w", err)
	}
	for {
		var row struct {
			DedupKey string `bigquery:"dedup_key"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ExistingKeys: iter next: %w", err)
		}
		existing[row.DedupKey] = true
	}
	return existing, nil
}

var _ store.TransactionRepository = (*TransactionRepository)(nil)
