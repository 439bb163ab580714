package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/clinic/internal/platform/apperr"
)

var (
	ErrMedicineNotFound  = fmt.Errorf("%w: medicine not found", apperr.ErrNotFound)
	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", apperr.ErrConflict)
)

// Repository is the inventory store. Nurse-scoped methods treat a medicine
// owned by someone else exactly like a missing one.
type Repository interface {
	Create(ctx context.Context, m *Medicine) error
	GetByID(ctx context.Context, id uuid.UUID) (*Medicine, error)
	GetForNurse(ctx context.Context, id, nurseID uuid.UUID) (*Medicine, error)
	ListByNurse(ctx context.Context, nurseID uuid.UUID, limit, offset int) ([]*Medicine, int, error)
	UpdateDetails(ctx context.Context, id, nurseID uuid.UUID, d Details) error
	// AdjustStock atomically applies quantity -= delta when the result stays
	// non-negative and returns the new quantity. It fails with
	// ErrInsufficientStock otherwise and ErrMedicineNotFound when id is absent.
	AdjustStock(ctx context.Context, id uuid.UUID, delta int) (int, error)
	DeleteForNurse(ctx context.Context, id, nurseID uuid.UUID) error
}
