// Package bigquery implements the persistence contracts on BigQuery.
// Tables live in a single dataset; claims and rule creation rely on DML
// (conditional UPDATE, MERGE) so concurrent workers stay correct without
// any coordination outside the warehouse.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

const (
	transactionsTable   = "transactions"
	rulesTable          = "enhancement_rules"
	jobsTable           = "background_jobs"
	filesTable          = "uploaded_files"
	categoriesTable     = "categories"
	counterpartiesTable = "counterparty_accounts"

	dateFormat = "2006-01-02"

	// BigQuery NUMERIC scale, used when converting back to decimals.
	numericScale = 9
)

// Store holds the shared client and table coordinates for all repositories.
type Store struct {
	client  *bigquery.Client
	project string
	dataset string
}

func NewStore(ctx context.Context, project, dataset string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("NewStore: bigquery client: %w", err)
	}
	return NewStoreWithClient(client, project, dataset), nil
}

// NewStoreWithClient wraps an existing client, which the caller still owns.
func NewStoreWithClient(client *bigquery.Client, project, dataset string) *Store {
	return &Store{client: client, project: project, dataset: dataset}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Transactions() *TransactionRepository {
	return &TransactionRepository{store: s}
}

func (s *Store) Rules() *RuleRepository {
	return &RuleRepository{store: s}
}

func (s *Store) Jobs() *JobRepository {
	return &JobRepository{store: s}
}

func (s *Store) Files() *FileRepository {
	return &FileRepository{store: s}
}

func (s *Store) Categories() *CategoryRepository {
	return &CategoryRepository{store: s}
}

func (s *Store) Counterparties() *CounterpartyRepository {
	return &CounterpartyRepository{store: s}
}

func (s *Store) table(name string) string {
	return fmt.Sprintf("%s.%s", s.dataset, name)
}

func (s *Store) inserter(name string) *bigquery.Inserter {
	return s.client.DatasetInProject(s.project, s.dataset).Table(name).Inserter()
}

// runDML executes a DML statement and returns the number of affected rows.
// The row count is what claim and merge operations hinge on.
func (s *Store) runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}

	if stats, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		return stats.NumDMLAffectedRows, nil
	}
	return 0, nil
}
