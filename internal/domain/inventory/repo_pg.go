package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/clinic/internal/platform/apperr"
	"github.com/ehr/clinic/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type medicineRepoPG struct{ conn queryable }

func NewMedicineRepoPG(pool *pgxpool.Pool) Repository {
	return &medicineRepoPG{conn: pool}
}

const medicineCols = `id, name, quantity, expiry, created_at, updated_at, nurse_id`

func scanMedicine(row pgx.Row) (*Medicine, error) {
	var m Medicine
	err := row.Scan(&m.ID, &m.Name, &m.Quantity, &m.Expiry, &m.CreatedAt, &m.UpdatedAt, &m.NurseID)
	return &m, err
}

func (r *medicineRepoPG) Create(ctx context.Context, m *Medicine) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = m.CreatedAt
	_, err := r.conn.Exec(ctx, `
		INSERT INTO medicine (id, name, quantity, expiry, created_at, updated_at, nurse_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.Name, m.Quantity, m.Expiry, m.CreatedAt, m.UpdatedAt, m.NurseID)
	return db.Classify("insert medicine", err)
}

func (r *medicineRepoPG) getOne(ctx context.Context, sql string, args ...interface{}) (*Medicine, error) {
	m, err := scanMedicine(r.conn.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMedicineNotFound
	}
	if err != nil {
		return nil, db.Classify("select medicine", err)
	}
	return m, nil
}

func (r *medicineRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	return r.getOne(ctx, `SELECT `+medicineCols+` FROM medicine WHERE id = $1`, id)
}

func (r *medicineRepoPG) GetForNurse(ctx context.Context, id, nurseID uuid.UUID) (*Medicine, error) {
	return r.getOne(ctx, `SELECT `+medicineCols+` FROM medicine WHERE id = $1 AND nurse_id = $2`, id, nurseID)
}

func (r *medicineRepoPG) ListByNurse(ctx context.Context, nurseID uuid.UUID, limit, offset int) ([]*Medicine, int, error) {
	var total int
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM medicine WHERE nurse_id = $1`, nurseID).Scan(&total); err != nil {
		return nil, 0, db.Classify("count medicines", err)
	}
	rows, err := r.conn.Query(ctx,
		`SELECT `+medicineCols+` FROM medicine WHERE nurse_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		nurseID, limit, offset)
	if err != nil {
		return nil, 0, db.Classify("list medicines", err)
	}
	defer rows.Close()

	items := []*Medicine{}
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, 0, db.Classify("scan medicine", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Store("list medicines", err)
	}
	return items, total, nil
}

func (r *medicineRepoPG) UpdateDetails(ctx context.Context, id, nurseID uuid.UUID, d Details) error {
	tag, err := r.conn.Exec(ctx, `
		UPDATE medicine SET
			name = COALESCE($3, name),
			expiry = COALESCE($4, expiry),
			updated_at = NOW()
		WHERE id = $1 AND nurse_id = $2`,
		id, nurseID, d.Name, d.Expiry)
	if err != nil {
		return db.Classify("update medicine", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMedicineNotFound
	}
	return nil
}

func (r *medicineRepoPG) AdjustStock(ctx context.Context, id uuid.UUID, delta int) (int, error) {
	var qty int
	err := r.conn.QueryRow(ctx, `
		UPDATE medicine SET quantity = quantity - $2, updated_at = NOW()
		WHERE id = $1 AND quantity - $2 >= 0
		RETURNING quantity`, id, delta).Scan(&qty)
	if err == nil {
		return qty, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, db.Classify("adjust stock", err)
	}

	var exists bool
	if err := r.conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM medicine WHERE id = $1)`, id).Scan(&exists); err != nil {
		return 0, db.Classify("adjust stock", err)
	}
	if !exists {
		return 0, ErrMedicineNotFound
	}
	return 0, ErrInsufficientStock
}

func (r *medicineRepoPG) DeleteForNurse(ctx context.Context, id, nurseID uuid.UUID) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM medicine WHERE id = $1 AND nurse_id = $2`, id, nurseID)
	if err != nil {
		return db.Classify("delete medicine", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMedicineNotFound
	}
	return nil
}
