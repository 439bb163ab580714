package prescription

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinic/internal/domain/inventory"
)

// Stock is the part of the inventory store reconciliation needs.
type Stock interface {
	GetByID(ctx context.Context, id uuid.UUID) (*inventory.Medicine, error)
	AdjustStock(ctx context.Context, id uuid.UUID, delta int) (int, error)
}

// Delta is a change in the quantity a prescription holds of one medicine.
// Positive reserves stock, negative releases it.
type Delta struct {
	MedicineID uuid.UUID
	Quantity   int
}

// Diff returns the deltas that turn the reservations of old into those of
// next. Ids repeated within a list are summed, zero deltas are dropped and
// the result follows first appearance, old before next.
func Diff(old, next []Item) []Delta {
	var order []uuid.UUID
	sums := make(map[uuid.UUID]int)
	add := func(items []Item, sign int) {
		for _, it := range items {
			if _, seen := sums[it.MedicineID]; !seen {
				order = append(order, it.MedicineID)
			}
			sums[it.MedicineID] += sign * it.Quantity
		}
	}
	add(old, -1)
	add(next, 1)

	var deltas []Delta
	for _, id := range order {
		if q := sums[id]; q != 0 {
			deltas = append(deltas, Delta{MedicineID: id, Quantity: q})
		}
	}
	return deltas
}

// Reserve returns the deltas for reserving every item of a new prescription.
func Reserve(items []Item) []Delta { return Diff(nil, items) }

// Release returns the deltas that give back every item of a prescription.
func Release(items []Item) []Delta { return Diff(items, nil) }

type Reconciler struct {
	stock  Stock
	logger zerolog.Logger
}

func NewReconciler(stock Stock, logger zerolog.Logger) *Reconciler {
	return &Reconciler{stock: stock, logger: logger}
}

// Check verifies that every reservation in deltas refers to an existing
// medicine with enough stock. It writes nothing; Apply still enforces the
// bound atomically per medicine.
func (r *Reconciler) Check(ctx context.Context, deltas []Delta) error {
	for _, d := range deltas {
		if d.Quantity <= 0 {
			continue
		}
		m, err := r.stock.GetByID(ctx, d.MedicineID)
		if errors.Is(err, inventory.ErrMedicineNotFound) {
			return fmt.Errorf("%w: %s", inventory.ErrMedicineNotFound, d.MedicineID)
		}
		if err != nil {
			return err
		}
		if d.Quantity > m.Quantity {
			return fmt.Errorf("%w: %s low stock, available %d", inventory.ErrInsufficientStock, m.Name, m.Quantity)
		}
	}
	return nil
}

// releasesFirst orders deltas so that stock is given back before any is
// taken.
func releasesFirst(deltas []Delta) []Delta {
	ordered := make([]Delta, 0, len(deltas))
	for _, d := range deltas {
		if d.Quantity < 0 {
			ordered = append(ordered, d)
		}
	}
	for _, d := range deltas {
		if d.Quantity > 0 {
			ordered = append(ordered, d)
		}
	}
	return ordered
}

// adjust applies one delta. Releasing stock of a medicine that no longer
// exists is skipped with a warning and reported as not applied.
func (r *Reconciler) adjust(ctx context.Context, d Delta) (bool, error) {
	_, err := r.stock.AdjustStock(ctx, d.MedicineID, d.Quantity)
	if d.Quantity < 0 && errors.Is(err, inventory.ErrMedicineNotFound) {
		r.logger.Warn().
			Str("medicine_id", d.MedicineID.String()).
			Int("delta", d.Quantity).
			Msg("medicine not found, release skipped")
		return false, nil
	}
	if err != nil {
		if errors.Is(err, inventory.ErrInsufficientStock) {
			return false, fmt.Errorf("%w: medicine %s", inventory.ErrInsufficientStock, d.MedicineID)
		}
		return false, err
	}
	return true, nil
}

// Apply adjusts stock by every delta, releases before reservations, and
// returns the deltas it applied. If one adjustment fails the ones already
// made are reverted and the failure is returned.
func (r *Reconciler) Apply(ctx context.Context, deltas []Delta) ([]Delta, error) {
	var applied []Delta
	for _, d := range releasesFirst(deltas) {
		ok, err := r.adjust(ctx, d)
		if err != nil {
			r.Revert(ctx, applied)
			return nil, err
		}
		if ok {
			applied = append(applied, d)
		}
	}
	return applied, nil
}

// ApplyEach adjusts stock by every delta independently, releases first. A
// failed adjustment is logged and does not undo the others; all failures
// are returned joined. It is meant for records that are already written.
func (r *Reconciler) ApplyEach(ctx context.Context, deltas []Delta) error {
	var errs []error
	for _, d := range releasesFirst(deltas) {
		if _, err := r.adjust(ctx, d); err != nil {
			r.logger.Error().Err(err).
				Str("medicine_id", d.MedicineID.String()).
				Int("delta", d.Quantity).
				Msg("stock adjustment failed, manual reconciliation required")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Revert undoes applied deltas in reverse order. It is best effort: a
// failed step is logged and the rest still run. It ignores cancellation of
// ctx so that an expired request still gives its stock back.
func (r *Reconciler) Revert(ctx context.Context, applied []Delta) {
	ctx = context.WithoutCancel(ctx)
	for i := len(applied) - 1; i >= 0; i-- {
		d := applied[i]
		if _, err := r.stock.AdjustStock(ctx, d.MedicineID, -d.Quantity); err != nil {
			r.logger.Error().Err(err).
				Str("medicine_id", d.MedicineID.String()).
				Int("delta", -d.Quantity).
				Msg("stock revert failed, manual reconciliation required")
		}
	}
}
