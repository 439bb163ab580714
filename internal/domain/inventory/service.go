package inventory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinic/internal/platform/apperr"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// ListMedicines returns one page of the nurse's inventory, newest first. An
// empty inventory is an empty page, not an error.
func (s *Service) ListMedicines(ctx context.Context, nurseID uuid.UUID, limit, offset int) ([]*Medicine, int, error) {
	return s.repo.ListByNurse(ctx, nurseID, limit, offset)
}

func (s *Service) GetMedicine(ctx context.Context, nurseID, id uuid.UUID) (*Medicine, error) {
	return s.repo.GetForNurse(ctx, id, nurseID)
}

func (s *Service) CreateMedicine(ctx context.Context, nurseID uuid.UUID, in MedicineCreate) (*Medicine, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}
	if in.Quantity < 0 {
		return nil, apperr.Validation("quantity must not be negative")
	}
	if in.Expiry.IsZero() {
		return nil, apperr.Validation("expiry is required")
	}

	m := &Medicine{
		ID:        uuid.New(),
		Name:      name,
		Quantity:  in.Quantity,
		Expiry:    in.Expiry.UTC(),
		CreatedAt: s.now().UTC(),
		NurseID:   nurseID,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateMedicine applies a partial update. A new quantity is written as a
// stock adjustment so that it races safely with prescription reservations.
func (s *Service) UpdateMedicine(ctx context.Context, nurseID, id uuid.UUID, in MedicineUpdate) (*Medicine, error) {
	if in.IsEmpty() {
		return nil, apperr.Validation("no fields to update")
	}
	var d Details
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperr.Validation("name must not be empty")
		}
		d.Name = &name
	}
	if in.Expiry != nil {
		if in.Expiry.IsZero() {
			return nil, apperr.Validation("expiry must not be empty")
		}
		exp := in.Expiry.UTC()
		d.Expiry = &exp
	}
	if in.Quantity != nil && *in.Quantity < 0 {
		return nil, apperr.Validation("quantity must not be negative")
	}

	current, err := s.repo.GetForNurse(ctx, id, nurseID)
	if err != nil {
		return nil, err
	}
	if in.Quantity != nil {
		if delta := current.Quantity - *in.Quantity; delta != 0 {
			if _, err := s.repo.AdjustStock(ctx, id, delta); err != nil {
				return nil, err
			}
		}
	}
	if d.Name != nil || d.Expiry != nil {
		if err := s.repo.UpdateDetails(ctx, id, nurseID, d); err != nil {
			return nil, err
		}
	}
	return s.repo.GetForNurse(ctx, id, nurseID)
}

func (s *Service) DeleteMedicine(ctx context.Context, nurseID, id uuid.UUID) error {
	return s.repo.DeleteForNurse(ctx, id, nurseID)
}
