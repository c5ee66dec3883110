package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"bankfeed/internal/domain"
	"bankfeed/internal/store"
)

// FileRepository is the BigQuery-backed file registry.
type FileRepository struct {
	store *Store
}

func (r *FileRepository) Create(ctx context.Context, f *domain.UploadedFile) error {
	row, err := toFileRow(f)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	if err := r.store.inserter(filesTable).Put(ctx, []*FileRow{row}); err != nil {
		return fmt.Errorf("Create: inserting file: %w", err)
	}
	return nil
}

func (r *FileRepository) FindByContentHash(ctx context.Context, hash string) (*domain.UploadedFile, error) {
	q := r.store.client.Query(fmt.Sprintf(`
		SELECT * FROM %s
		WHERE content_hash = @content_hash
		ORDER BY uploaded_ts
		LIMIT 1
	`, r.store.table(filesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "content_hash", Value: hash},
	}
	f, err := r.readOne(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("FindByContentHash: %w", err)
	}
	return f, nil
}

func (r *FileRepository) Get(ctx context.Context, id string) (*domain.UploadedFile, error) {
	q := r.store.client.Query(fmt.Sprintf(`
		SELECT * FROM %s WHERE file_id = @file_id
	`, r.store.table(filesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "file_id", Value: id},
	}
	f, err := r.readOne(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return f, nil
}

func (r *FileRepository) readOne(ctx context.Context, q *bigquery.Query) (*domain.UploadedFile, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}
	var row FileRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("iter next: %w", err)
	}
	return row.toDomain()
}

var _ store.FileRepository = (*FileRepository)(nil)

// CategoryRepository reads the taxonomy table.
type CategoryRepository struct {
	store *Store
}

func (r *CategoryRepository) ListActive(ctx context.Context) ([]domain.Category, error) {
	q := r.store.client.Query(fmt.Sprintf(`
		SELECT * FROM %s WHERE is_active ORDER BY name
	`, r.store.table(categoriesTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListActive: query read: %w", err)
	}
	var categories []domain.Category
	for {
		var row CategoryRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListActive: iter next: %w", err)
		}
		categories = append(categories, domain.Category{
			ID:       row.CategoryID,
			Name:     row.Name,
			ParentID: row.ParentID.StringVal,
			IsActive: row.IsActive,
		})
	}
	return categories, nil
}

var _ store.CategoryRepository = (*CategoryRepository)(nil)

// CounterpartyRepository reads the known-accounts table.
type CounterpartyRepository struct {
	store *Store
}

func (r *CounterpartyRepository) ListAll(ctx context.Context) ([]domain.CounterpartyAccount, error) {
	q := r.store.client.Query(fmt.Sprintf(`
		SELECT * FROM %s ORDER BY name
	`, r.store.table(counterpartiesTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListAll: query read: %w", err)
	}
	var accounts []domain.CounterpartyAccount
	for {
		var row CounterpartyRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListAll: iter next: %w", err)
		}
		accounts = append(accounts, domain.CounterpartyAccount{
			ID:     row.AccountID,
			Name:   row.Name,
			Number: row.Number.StringVal,
			IBAN:   row.IBAN.StringVal,
		})
	}
	return accounts, nil
}

var _ store.CounterpartyRepository = (*CounterpartyRepository)(nil)
