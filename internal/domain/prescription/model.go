package prescription

import (
	"time"

	"github.com/google/uuid"
)

// Item is one medicine line of a prescription. Quantity is the amount
// reserved from stock for it.
type Item struct {
	MedicineID uuid.UUID `json:"medicine_id"`
	Quantity   int       `json:"quantity"`
}

type Prescription struct {
	ID          uuid.UUID `json:"id"`
	PatientID   string    `json:"patient_id"`
	PatientName string    `json:"patient_name"`
	Description string    `json:"description"`
	Medicines   []Item    `json:"medicines"`
	Completed   bool      `json:"completed"`
	Expiry      time.Time `json:"expiry"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	DoctorID    uuid.UUID `json:"doctor_id"`
}

// ItemRequest is an Item as submitted by a client; the id is parsed by the
// service so a bad id surfaces as a validation error.
type ItemRequest struct {
	MedicineID string `json:"medicine_id"`
	Quantity   int    `json:"quantity"`
}

type PrescriptionCreate struct {
	PatientID   string        `json:"patient_id"`
	PatientName string        `json:"patient_name"`
	Description string        `json:"description"`
	Expiry      time.Time     `json:"expiry"`
	Medicines   []ItemRequest `json:"medicines"`
}

// PrescriptionUpdate is a partial update. A medicine with quantity 0 is
// removed from the prescription and its reservation released.
type PrescriptionUpdate struct {
	Medicines   *[]ItemRequest `json:"medicines,omitempty"`
	Description *string        `json:"description,omitempty"`
	Completed   *bool          `json:"completed,omitempty"`
}

func (u PrescriptionUpdate) IsEmpty() bool {
	return u.Medicines == nil && u.Description == nil && u.Completed == nil
}

// JoinedMedicine is an Item with the medicine's details copied in.
type JoinedMedicine struct {
	MedicineID   uuid.UUID `json:"medicine_id"`
	MedicineName string    `json:"medicine_name"`
	Quantity     int       `json:"quantity"`
	Expiry       time.Time `json:"expiry"`
	CreatedAt    time.Time `json:"created_at"`
}

// Detail is the denormalized read shape of a prescription.
type Detail struct {
	ID          uuid.UUID        `json:"id"`
	PatientID   string           `json:"patient_id"`
	PatientName string           `json:"patient_name"`
	Description string           `json:"description"`
	Completed   bool             `json:"completed"`
	Medicines   []JoinedMedicine `json:"medicines"`
	Expiry      time.Time        `json:"expiry"`
	CreatedAt   time.Time        `json:"created_at"`
	DoctorID    uuid.UUID        `json:"doctor_id"`
}

func newDetail(p *Prescription) *Detail {
	return &Detail{
		ID:          p.ID,
		PatientID:   p.PatientID,
		PatientName: p.PatientName,
		Description: p.Description,
		Completed:   p.Completed,
		Medicines:   []JoinedMedicine{},
		Expiry:      p.Expiry,
		CreatedAt:   p.CreatedAt,
		DoctorID:    p.DoctorID,
	}
}
