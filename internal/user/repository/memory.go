package repository

import (
	"context"
	"sync"

	"marketplace/backend/internal/user/domain"
)

// MemoryRepository keeps users in process memory. It backs the dev-mode server when DATABASE_URL is empty.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]domain.User
	byEmail map[string]string
}

// NewMemoryRepository returns an empty in-memory user repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]domain.User),
		byEmail: make(map[string]string),
	}
}

// GetByID returns a copy of the user for id, or nil if not found.
func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// GetByEmail returns a copy of the user for the normalized email, or nil if not found.
func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[domain.NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	u := r.byID[id]
	return &u, nil
}

// Create stores u. Returns ErrEmailTaken when the email is already registered.
func (r *MemoryRepository) Create(ctx context.Context, u *domain.User) error {
	u.Email = domain.NormalizeEmail(u.Email)
	if err := u.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[u.Email]; ok {
		return ErrEmailTaken
	}
	r.byID[u.ID] = *u
	r.byEmail[u.Email] = u.ID
	return nil
}

// Update replaces the stored user with u. Unknown ids are ignored, matching an UPDATE that hits no row.
func (r *MemoryRepository) Update(ctx context.Context, u *domain.User) error {
	u.Email = domain.NormalizeEmail(u.Email)
	if err := u.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.byID[u.ID]
	if !ok {
		return nil
	}
	if owner, taken := r.byEmail[u.Email]; taken && owner != u.ID {
		return ErrEmailTaken
	}
	delete(r.byEmail, prev.Email)
	r.byID[u.ID] = *u
	r.byEmail[u.Email] = u.ID
	return nil
}
