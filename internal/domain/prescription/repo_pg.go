package prescription

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/clinic/internal/platform/apperr"
	"github.com/ehr/clinic/internal/platform/db"
)

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

// NewPrescriptionRepoPG stores prescriptions in prescription and their items
// in prescription_medicine, ordered by position.
func NewPrescriptionRepoPG(pool *pgxpool.Pool) Repository {
	return &prescriptionRepoPG{pool: pool}
}

const prescriptionCols = `id, patient_id, patient_name, description, completed, expiry, created_at, updated_at, doctor_id`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.PatientID, &p.PatientName, &p.Description, &p.Completed,
		&p.Expiry, &p.CreatedAt, &p.UpdatedAt, &p.DoctorID)
	p.Medicines = []Item{}
	return &p, err
}

func (r *prescriptionRepoPG) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return db.Classify(op, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return db.Classify(op, tx.Commit(ctx))
}

func insertItems(ctx context.Context, tx pgx.Tx, id uuid.UUID, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([][]interface{}, len(items))
	for i, it := range items {
		rows[i] = []interface{}{id, i, it.MedicineID, it.Quantity}
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"prescription_medicine"},
		[]string{"prescription_id", "position", "medicine_id", "quantity"},
		pgx.CopyFromRows(rows))
	return db.Classify("insert prescription items", err)
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.inTx(ctx, "create prescription", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO prescription (`+prescriptionCols+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			p.ID, p.PatientID, p.PatientName, p.Description, p.Completed,
			p.Expiry, p.CreatedAt, p.UpdatedAt, p.DoctorID)
		if err != nil {
			return db.Classify("insert prescription", err)
		}
		return insertItems(ctx, tx, p.ID, p.Medicines)
	})
}

func (r *prescriptionRepoPG) GetForDoctor(ctx context.Context, id, doctorID uuid.UUID) (*Prescription, error) {
	p, err := scanPrescription(r.pool.QueryRow(ctx,
		`SELECT `+prescriptionCols+` FROM prescription WHERE id = $1 AND doctor_id = $2`, id, doctorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFoundOrUnauthorized
	}
	if err != nil {
		return nil, db.Classify("select prescription", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT medicine_id, quantity FROM prescription_medicine WHERE prescription_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, db.Classify("select prescription items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.MedicineID, &it.Quantity); err != nil {
			return nil, db.Classify("scan prescription item", err)
		}
		p.Medicines = append(p.Medicines, it)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store("select prescription items", err)
	}
	return p, nil
}

func (r *prescriptionRepoPG) count(ctx context.Context, doctorID uuid.UUID) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM prescription WHERE doctor_id = $1`, doctorID).Scan(&total)
	return total, db.Classify("count prescriptions", err)
}

func (r *prescriptionRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	total, err := r.count(ctx, doctorID)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+prescriptionCols+` FROM prescription
		WHERE doctor_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, doctorID, limit, offset)
	if err != nil {
		return nil, 0, db.Classify("list prescriptions", err)
	}
	page := []*Prescription{}
	byID := make(map[uuid.UUID]*Prescription)
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			rows.Close()
			return nil, 0, db.Classify("scan prescription", err)
		}
		page = append(page, p)
		byID[p.ID] = p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Store("list prescriptions", err)
	}
	if len(page) == 0 {
		return page, total, nil
	}

	rows, err = r.pool.Query(ctx, `
		SELECT pm.prescription_id, pm.medicine_id, pm.quantity
		FROM prescription_medicine pm
		WHERE pm.prescription_id IN (
			SELECT id FROM prescription WHERE doctor_id = $1
			ORDER BY created_at DESC, id LIMIT $2 OFFSET $3)
		ORDER BY pm.prescription_id, pm.position`, doctorID, limit, offset)
	if err != nil {
		return nil, 0, db.Classify("list prescription items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pid uuid.UUID
		var it Item
		if err := rows.Scan(&pid, &it.MedicineID, &it.Quantity); err != nil {
			return nil, 0, db.Classify("scan prescription item", err)
		}
		if p, ok := byID[pid]; ok {
			p.Medicines = append(p.Medicines, it)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Store("list prescription items", err)
	}
	return page, total, nil
}

func (r *prescriptionRepoPG) Update(ctx context.Context, p *Prescription) error {
	return r.inTx(ctx, "update prescription", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE prescription SET description = $3, completed = $4, updated_at = $5
			WHERE id = $1 AND doctor_id = $2`,
			p.ID, p.DoctorID, p.Description, p.Completed, p.UpdatedAt)
		if err != nil {
			return db.Classify("update prescription", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFoundOrUnauthorized
		}
		if _, err := tx.Exec(ctx, `DELETE FROM prescription_medicine WHERE prescription_id = $1`, p.ID); err != nil {
			return db.Classify("replace prescription items", err)
		}
		return insertItems(ctx, tx, p.ID, p.Medicines)
	})
}

func (r *prescriptionRepoPG) DeleteForDoctor(ctx context.Context, id, doctorID uuid.UUID) error {
	// prescription_medicine rows go with the prescription (ON DELETE CASCADE).
	tag, err := r.pool.Exec(ctx, `DELETE FROM prescription WHERE id = $1 AND doctor_id = $2`, id, doctorID)
	if err != nil {
		return db.Classify("delete prescription", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFoundOrUnauthorized
	}
	return nil
}

func (r *prescriptionRepoPG) ListDetailsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Detail, int, error) {
	total, err := r.count(ctx, doctorID)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.patient_id, p.patient_name, p.description, p.completed,
		       p.expiry, p.created_at, p.doctor_id,
		       COALESCE(
		           json_agg(json_build_object(
		               'medicine_id', m.id,
		               'medicine_name', m.name,
		               'quantity', pm.quantity,
		               'expiry', m.expiry,
		               'created_at', m.created_at
		           ) ORDER BY pm.position) FILTER (WHERE m.id IS NOT NULL),
		           '[]'::json)
		FROM (
		    SELECT * FROM prescription
		    WHERE doctor_id = $1
		    ORDER BY created_at DESC, id
		    LIMIT $2 OFFSET $3
		) p
		LEFT JOIN prescription_medicine pm ON pm.prescription_id = p.id
		LEFT JOIN medicine m ON m.id = pm.medicine_id
		GROUP BY p.id, p.patient_id, p.patient_name, p.description, p.completed,
		         p.expiry, p.created_at, p.doctor_id
		ORDER BY p.created_at DESC, p.id`, doctorID, limit, offset)
	if err != nil {
		return nil, 0, db.Classify("aggregate prescriptions", err)
	}
	defer rows.Close()

	out := []*Detail{}
	for rows.Next() {
		var d Detail
		if err := rows.Scan(&d.ID, &d.PatientID, &d.PatientName, &d.Description, &d.Completed,
			&d.Expiry, &d.CreatedAt, &d.DoctorID, &d.Medicines); err != nil {
			return nil, 0, db.Classify("scan aggregate", err)
		}
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Store("aggregate prescriptions", err)
	}
	return out, total, nil
}
