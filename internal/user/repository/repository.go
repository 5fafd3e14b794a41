package repository

import (
	"context"
	"errors"

	"marketplace/backend/internal/user/domain"
)

// ErrEmailTaken is returned by Create and Update when another account already holds the email.
var ErrEmailTaken = errors.New("email already registered")

// Repository defines persistence for users. Getters return nil, nil when no row matches.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	Update(ctx context.Context, u *domain.User) error
}
