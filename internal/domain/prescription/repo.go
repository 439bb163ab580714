package prescription

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/clinic/internal/platform/apperr"
)

// ErrNotFoundOrUnauthorized covers both a missing prescription and one owned
// by another doctor.
var ErrNotFoundOrUnauthorized = fmt.Errorf("%w: prescription not found or not authorized", apperr.ErrNotFound)

// Repository is the prescription store. Every doctor-scoped method returns
// ErrNotFoundOrUnauthorized when id does not belong to doctorID.
type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	GetForDoctor(ctx context.Context, id, doctorID uuid.UUID) (*Prescription, error)
	// ListByDoctor returns a page of prescriptions, newest first, and the
	// doctor's total.
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Prescription, int, error)
	// Update writes description, completed and the medicine list of p.
	Update(ctx context.Context, p *Prescription) error
	DeleteForDoctor(ctx context.Context, id, doctorID uuid.UUID) error
	// ListDetailsByDoctor joins medicine details in the store in one query,
	// newest first. Medicines that no longer exist are left out.
	ListDetailsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Detail, int, error)
}
