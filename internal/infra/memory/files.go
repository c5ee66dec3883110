package memory

import (
	"context"
	"sync"

	"bankfeed/internal/domain"
	"bankfeed/internal/store"
)

// FileRepository is the in-memory store.FileRepository.
type FileRepository struct {
	mu     sync.RWMutex
	files  map[string]*domain.UploadedFile // by id
	byHash map[string]string               // content hash -> id
}

func NewFileRepository() *FileRepository {
	return &FileRepository{
		files:  make(map[string]*domain.UploadedFile),
		byHash: make(map[string]string),
	}
}

func (r *FileRepository) Create(ctx context.Context, f *domain.UploadedFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *f
	r.files[f.ID] = &cp
	r.byHash[f.ContentHash] = f.ID
	return nil
}

func (r *FileRepository) FindByContentHash(ctx context.Context, hash string) (*domain.UploadedFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byHash[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r.files[id]
	return &cp, nil
}

func (r *FileRepository) Get(ctx context.Context, id string) (*domain.UploadedFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.files[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

var _ store.FileRepository = (*FileRepository)(nil)

// CategoryRepository is a fixed in-memory taxonomy.
type CategoryRepository struct {
	mu         sync.RWMutex
	categories []domain.Category
}

func NewCategoryRepository(categories []domain.Category) *CategoryRepository {
	return &CategoryRepository{categories: categories}
}

func (r *CategoryRepository) ListActive(ctx context.Context) ([]domain.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Category, 0, len(r.categories))
	for _, c := range r.categories {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

var _ store.CategoryRepository = (*CategoryRepository)(nil)

// CounterpartyRepository is a fixed in-memory account registry.
type CounterpartyRepository struct {
	mu       sync.RWMutex
	accounts []domain.CounterpartyAccount
}

func NewCounterpartyRepository(accounts []domain.CounterpartyAccount) *CounterpartyRepository {
	return &CounterpartyRepository{accounts: accounts}
}

func (r *CounterpartyRepository) ListAll(ctx context.Context) ([]domain.CounterpartyAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.CounterpartyAccount(nil), r.accounts...), nil
}

var _ store.CounterpartyRepository = (*CounterpartyRepository)(nil)
