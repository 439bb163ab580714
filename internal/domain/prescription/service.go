package prescription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinic/internal/domain/inventory"
	"github.com/ehr/clinic/internal/platform/apperr"
)

type Service struct {
	repo            Repository
	stock           Stock
	rec             *Reconciler
	logger          zerolog.Logger
	restockOnDelete bool
	now             func() time.Time
}

// NewService wires the prescription lifecycle. With restockOnDelete unset a
// deleted prescription keeps its reservations: the medicines count as
// dispensed.
func NewService(repo Repository, stock Stock, logger zerolog.Logger, restockOnDelete bool) *Service {
	return &Service{
		repo:            repo,
		stock:           stock,
		rec:             NewReconciler(stock, logger),
		logger:          logger,
		restockOnDelete: restockOnDelete,
		now:             time.Now,
	}
}

// parseItems validates and merges submitted items. Repeated ids are summed
// into the position of their first appearance. When allowZero is set a zero
// quantity is accepted and the item dropped.
func parseItems(in []ItemRequest, allowZero bool) ([]Item, error) {
	items := make([]Item, 0, len(in))
	index := make(map[uuid.UUID]int)
	for _, r := range in {
		id, err := uuid.Parse(strings.TrimSpace(r.MedicineID))
		if err != nil {
			return nil, apperr.Validation("invalid medicine id %q", r.MedicineID)
		}
		switch {
		case r.Quantity < 0:
			return nil, apperr.Validation("quantity for medicine %s must not be negative", id)
		case r.Quantity == 0 && !allowZero:
			return nil, apperr.Validation("quantity for medicine %s must be positive", id)
		}
		if i, ok := index[id]; ok {
			items[i].Quantity += r.Quantity
			continue
		}
		index[id] = len(items)
		items = append(items, Item{MedicineID: id, Quantity: r.Quantity})
	}

	kept := items[:0]
	for _, it := range items {
		if it.Quantity > 0 {
			kept = append(kept, it)
		}
	}
	return kept, nil
}

// Create checks stock for every item, stores the prescription and then
// reserves the stock item by item. A reservation that fails after the store
// write leaves the prescription and the other reservations in place; it is
// logged for manual reconciliation and reported as a store error.
func (s *Service) Create(ctx context.Context, doctorID uuid.UUID, in PrescriptionCreate) (*Prescription, error) {
	p := &Prescription{
		PatientID:   strings.TrimSpace(in.PatientID),
		PatientName: strings.TrimSpace(in.PatientName),
		Description: strings.TrimSpace(in.Description),
		Expiry:      in.Expiry.UTC(),
		DoctorID:    doctorID,
	}
	if p.PatientID == "" {
		return nil, apperr.Validation("patient_id is required")
	}
	if p.PatientName == "" {
		return nil, apperr.Validation("patient_name is required")
	}
	if in.Expiry.IsZero() {
		return nil, apperr.Validation("expiry is required")
	}
	items, err := parseItems(in.Medicines, false)
	if err != nil {
		return nil, err
	}
	p.Medicines = items

	deltas := Reserve(items)
	if err := s.rec.Check(ctx, deltas); err != nil {
		return nil, err
	}

	p.ID = uuid.New()
	p.CreatedAt = s.now().UTC()
	p.UpdatedAt = p.CreatedAt
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	if err := s.rec.ApplyEach(ctx, deltas); err != nil {
		s.logger.Error().Err(err).
			Str("prescription_id", p.ID.String()).
			Str("doctor_id", doctorID.String()).
			Msg("prescription stored but stock reservation failed")
		return nil, fmt.Errorf("%w: prescription %s stored but stock not reserved: %v", apperr.ErrStore, p.ID, err)
	}
	return p, nil
}

// Get returns the doctor's prescription with medicine details joined in.
func (s *Service) Get(ctx context.Context, doctorID, id uuid.UUID) (*Detail, error) {
	p, err := s.repo.GetForDoctor(ctx, id, doctorID)
	if err != nil {
		return nil, err
	}
	return s.join(ctx, p, make(map[uuid.UUID]*inventory.Medicine))
}

func (s *Service) List(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	return s.repo.ListByDoctor(ctx, doctorID, limit, offset)
}

// Update applies a partial update. A new medicine list is reconciled against
// stock before anything is written; if the write then fails the stock
// changes are reverted. Releases of medicines that have since been deleted
// are skipped.
func (s *Service) Update(ctx context.Context, doctorID, id uuid.UUID, in PrescriptionUpdate) (*Prescription, error) {
	p, err := s.repo.GetForDoctor(ctx, id, doctorID)
	if err != nil {
		return nil, err
	}
	if in.IsEmpty() {
		return nil, apperr.Validation("no data provided for update")
	}

	var deltas []Delta
	if in.Medicines != nil {
		items, err := parseItems(*in.Medicines, true)
		if err != nil {
			return nil, err
		}
		deltas = Diff(p.Medicines, items)
		p.Medicines = items
	}
	if in.Description != nil {
		p.Description = strings.TrimSpace(*in.Description)
	}
	if in.Completed != nil {
		p.Completed = *in.Completed
	}

	if err := s.rec.Check(ctx, deltas); err != nil {
		return nil, err
	}
	applied, err := s.rec.Apply(ctx, deltas)
	if err != nil {
		return nil, err
	}

	p.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, p); err != nil {
		s.rec.Revert(ctx, applied)
		return nil, err
	}
	return p, nil
}

// Delete removes the doctor's prescription. Stock is only given back when
// the service was built with restockOnDelete.
func (s *Service) Delete(ctx context.Context, doctorID, id uuid.UUID) error {
	p, err := s.repo.GetForDoctor(ctx, id, doctorID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteForDoctor(ctx, id, doctorID); err != nil {
		return err
	}
	if !s.restockOnDelete {
		return nil
	}

	if err := s.rec.ApplyEach(ctx, Release(p.Medicines)); err != nil {
		s.logger.Error().Err(err).
			Str("prescription_id", id.String()).
			Msg("prescription deleted but stock not restored")
		return fmt.Errorf("%w: prescription %s deleted but stock not restored: %v", apperr.ErrStore, id, err)
	}
	return nil
}

// ListDetailsByDoctor is the management view of a doctor's prescriptions,
// joined one medicine lookup at a time.
func (s *Service) ListDetailsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Detail, int, error) {
	ps, total, err := s.repo.ListByDoctor(ctx, doctorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	cache := make(map[uuid.UUID]*inventory.Medicine)
	out := make([]*Detail, 0, len(ps))
	for _, p := range ps {
		d, err := s.join(ctx, p, cache)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, nil
}

// AggregateByDoctor is ListDetailsByDoctor with the join done by the store.
func (s *Service) AggregateByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Detail, int, error) {
	return s.repo.ListDetailsByDoctor(ctx, doctorID, limit, offset)
}

// join resolves every item of p. Medicines that no longer exist are logged
// and skipped.
func (s *Service) join(ctx context.Context, p *Prescription, cache map[uuid.UUID]*inventory.Medicine) (*Detail, error) {
	d := newDetail(p)
	for _, it := range p.Medicines {
		m, ok := cache[it.MedicineID]
		if !ok {
			var err error
			m, err = s.stock.GetByID(ctx, it.MedicineID)
			if errors.Is(err, inventory.ErrMedicineNotFound) {
				s.logger.Warn().
					Str("prescription_id", p.ID.String()).
					Str("medicine_id", it.MedicineID.String()).
					Msg("medicine not found, skipped")
				m = nil
			} else if err != nil {
				return nil, err
			}
			cache[it.MedicineID] = m
		}
		if m == nil {
			continue
		}
		d.Medicines = append(d.Medicines, JoinedMedicine{
			MedicineID:   m.ID,
			MedicineName: m.Name,
			Quantity:     it.Quantity,
			Expiry:       m.Expiry,
			CreatedAt:    m.CreatedAt,
		})
	}
	return d, nil
}
