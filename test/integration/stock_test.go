package integration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/ehr/clinic/internal/domain/inventory"
	"github.com/ehr/clinic/internal/platform/auth"
)

func TestAdjustStock(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)
			nurse := createStaff(t, ctx, s.users, auth.RoleNurse)
			med := createMedicine(t, ctx, s.medicines, nurse.ID, "Amoxicillin", 5, base)

			quantity := func() int {
				t.Helper()
				m, err := s.medicines.GetByID(ctx, med.ID)
				if err != nil {
					t.Fatalf("GetByID: %v", err)
				}
				return m.Quantity
			}

			t.Run("Reserve", func(t *testing.T) {
				left, err := s.medicines.AdjustStock(ctx, med.ID, 3)
				if err != nil {
					t.Fatalf("AdjustStock: %v", err)
				}
				if left != 2 || quantity() != 2 {
					t.Errorf("expected 2 left, got %d (stored %d)", left, quantity())
				}
			})

			t.Run("Insufficient", func(t *testing.T) {
				_, err := s.medicines.AdjustStock(ctx, med.ID, 3)
				if !errors.Is(err, inventory.ErrInsufficientStock) {
					t.Fatalf("expected ErrInsufficientStock, got %v", err)
				}
				if quantity() != 2 {
					t.Errorf("expected stock untouched at 2, got %d", quantity())
				}
			})

			t.Run("Release", func(t *testing.T) {
				left, err := s.medicines.AdjustStock(ctx, med.ID, -4)
				if err != nil {
					t.Fatalf("AdjustStock: %v", err)
				}
				if left != 6 {
					t.Errorf("expected 6, got %d", left)
				}
			})

			t.Run("DownToZero", func(t *testing.T) {
				left, err := s.medicines.AdjustStock(ctx, med.ID, 6)
				if err != nil {
					t.Fatalf("AdjustStock: %v", err)
				}
				if left != 0 || quantity() != 0 {
					t.Errorf("expected 0, got %d (stored %d)", left, quantity())
				}
			})

			t.Run("MissingMedicine", func(t *testing.T) {
				_, err := s.medicines.AdjustStock(ctx, uuid.New(), 1)
				if !errors.Is(err, inventory.ErrMedicineNotFound) {
					t.Errorf("expected ErrMedicineNotFound, got %v", err)
				}
			})
		})
	}
}

func TestAdjustStock_ConcurrentReservationsNeverGoNegative(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)
			nurse := createStaff(t, ctx, s.users, auth.RoleNurse)
			med := createMedicine(t, ctx, s.medicines, nurse.ID, "Paracetamol", 10, base)

			const workers = 25
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				reserved int
				refused  int
				failures []error
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.medicines.AdjustStock(ctx, med.ID, 1)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						reserved++
					case errors.Is(err, inventory.ErrInsufficientStock):
						refused++
					default:
						failures = append(failures, err)
					}
				}()
			}
			wg.Wait()

			if len(failures) > 0 {
				t.Fatalf("unexpected errors: %v", failures)
			}
			if reserved != 10 || refused != workers-10 {
				t.Errorf("expected 10 reserved and %d refused, got %d and %d", workers-10, reserved, refused)
			}
			m, err := s.medicines.GetByID(ctx, med.ID)
			if err != nil {
				t.Fatalf("GetByID: %v", err)
			}
			if m.Quantity != 0 {
				t.Errorf("expected stock 0, got %d", m.Quantity)
			}
		})
	}
}
