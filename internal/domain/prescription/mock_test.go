package prescription

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinic/internal/domain/inventory"
)

var testExpiry = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

// -- Mock Stock --

type mockStock struct {
	mu        sync.Mutex
	medicines map[uuid.UUID]*inventory.Medicine
	failOn    map[uuid.UUID]error
	adjusts   []Delta
}

func newMockStock() *mockStock {
	return &mockStock{
		medicines: make(map[uuid.UUID]*inventory.Medicine),
		failOn:    make(map[uuid.UUID]error),
	}
}

func (s *mockStock) add(name string, qty int) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.medicines[id] = &inventory.Medicine{ID: id, Name: name, Quantity: qty, Expiry: testExpiry}
	return id
}

func (s *mockStock) qty(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.medicines[id].Quantity
}

func (s *mockStock) remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.medicines, id)
}

func (s *mockStock) GetByID(_ context.Context, id uuid.UUID) (*inventory.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.medicines[id]
	if !ok {
		return nil, inventory.ErrMedicineNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *mockStock) AdjustStock(_ context.Context, id uuid.UUID, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn[id]; err != nil {
		return 0, err
	}
	m, ok := s.medicines[id]
	if !ok {
		return 0, inventory.ErrMedicineNotFound
	}
	if m.Quantity-delta < 0 {
		return 0, inventory.ErrInsufficientStock
	}
	m.Quantity -= delta
	s.adjusts = append(s.adjusts, Delta{MedicineID: id, Quantity: delta})
	return m.Quantity, nil
}

// -- Mock Repository --

type mockRepo struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*Prescription
	stock *mockStock
}

func newMockRepo(stock *mockStock) *mockRepo {
	return &mockRepo{byID: make(map[uuid.UUID]*Prescription), stock: stock}
}

func clonePrescription(p *Prescription) *Prescription {
	cp := *p
	cp.Medicines = append([]Item{}, p.Medicines...)
	return &cp
}

func (r *mockRepo) Create(_ context.Context, p *Prescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.byID[p.ID] = clonePrescription(p)
	return nil
}

func (r *mockRepo) GetForDoctor(_ context.Context, id, doctorID uuid.UUID) (*Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok || p.DoctorID != doctorID {
		return nil, ErrNotFoundOrUnauthorized
	}
	return clonePrescription(p), nil
}

func (r *mockRepo) newestFirst(doctorID uuid.UUID) []*Prescription {
	var out []*Prescription
	for _, p := range r.byID {
		if p.DoctorID == doctorID {
			out = append(out, clonePrescription(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func page[T any](all []T, limit, offset int) []T {
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return append([]T{}, all[offset:end]...)
}

func (r *mockRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.newestFirst(doctorID)
	return page(all, limit, offset), len(all), nil
}

func (r *mockRepo) Update(_ context.Context, p *Prescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[p.ID]
	if !ok || cur.DoctorID != p.DoctorID {
		return ErrNotFoundOrUnauthorized
	}
	r.byID[p.ID] = clonePrescription(p)
	return nil
}

func (r *mockRepo) DeleteForDoctor(_ context.Context, id, doctorID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok || p.DoctorID != doctorID {
		return ErrNotFoundOrUnauthorized
	}
	delete(r.byID, id)
	return nil
}

// ListDetailsByDoctor joins against the mock stock the way the store
// pipelines do: unresolved medicines are dropped, newest first.
func (r *mockRepo) ListDetailsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Detail, int, error) {
	r.mu.Lock()
	all := r.newestFirst(doctorID)
	r.mu.Unlock()

	var out []*Detail
	for _, p := range page(all, limit, offset) {
		d := newDetail(p)
		for _, it := range p.Medicines {
			m, err := r.stock.GetByID(ctx, it.MedicineID)
			if err != nil {
				continue
			}
			d.Medicines = append(d.Medicines, JoinedMedicine{
				MedicineID: m.ID, MedicineName: m.Name, Quantity: it.Quantity, Expiry: m.Expiry, CreatedAt: m.CreatedAt,
			})
		}
		out = append(out, d)
	}
	return out, len(all), nil
}

func (r *mockRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// safeBuffer collects log output written from several goroutines.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *safeBuffer) contains(s string) bool {
	return strings.Contains(b.String(), s)
}
