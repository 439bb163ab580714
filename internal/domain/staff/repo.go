package staff

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/clinic/internal/platform/apperr"
	"github.com/ehr/clinic/internal/platform/auth"
)

var (
	ErrEmailTaken         = fmt.Errorf("%w: email already registered", apperr.ErrConflict)
	ErrUserNotFound       = fmt.Errorf("%w: user not found", apperr.ErrNotFound)
	ErrInvalidCredentials = fmt.Errorf("%w: incorrect email or password", apperr.ErrUnauthorized)
	ErrWrongPassword      = fmt.Errorf("%w: old password is incorrect", apperr.ErrUnauthorized)
)

// Repository is the credential store. Email is unique; Create reports a
// duplicate as ErrEmailTaken and lookups report a miss as ErrUserNotFound.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ListByRole(ctx context.Context, role auth.Role, limit, offset int) ([]*User, int, error)
	CountByRole(ctx context.Context, role auth.Role) (int, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
}
