// Package memory holds in-memory implementations of the store contracts.
// They are safe for concurrent use and back tests and single-instance
// deployments; data is lost on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"bankfeed/internal/dedup"
	"bankfeed/internal/domain"
	"bankfeed/internal/store"
)

// TransactionRepository is the in-memory store.TransactionRepository.
type TransactionRepository struct {
	mu  sync.RWMutex
	txs map[string]*domain.Transaction
}

func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{txs: make(map[string]*domain.Transaction)}
}

// InsertBatch implements the single-write batch persist. All rows land or
// none do.
func (r *TransactionRepository) InsertBatch(ctx context.Context, txs []*domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range txs {
		cp := *tx
		r.txs[tx.ID] = &cp
	}
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.txs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (r *TransactionRepository) ListByIDs(ctx context.Context, ids []string) ([]*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Transaction, 0, len(ids))
	for _, id := range ids {
		if tx, ok := r.txs[id]; ok {
			cp := *tx
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *TransactionRepository) Update(ctx context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.txs[tx.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *tx
	cp.UpdatedAt = time.Now()
	r.txs[tx.ID] = &cp
	return nil
}

func (r *TransactionRepository) ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	found := make(map[string]bool)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, tx := range r.txs {
		k := dedup.TransactionKey(tx.Date, tx.Amount, tx.NormalizedDescription)
		if want[k] {
			found[k] = true
		}
	}
	return found, nil
}

var _ store.TransactionRepository = (*TransactionRepository)(nil)
