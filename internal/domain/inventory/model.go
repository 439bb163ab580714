package inventory

import (
	"time"

	"github.com/google/uuid"
)

// Medicine is a stock line owned by the nurse who created it.
type Medicine struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Quantity  int       `json:"quantity"`
	Expiry    time.Time `json:"expiry"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	NurseID   uuid.UUID `json:"nurse_id"`
}

type MedicineCreate struct {
	Name     string    `json:"name"`
	Quantity int       `json:"quantity"`
	Expiry   time.Time `json:"expiry"`
}

// MedicineUpdate is a partial update; nil fields are left unchanged.
type MedicineUpdate struct {
	Name     *string    `json:"name,omitempty"`
	Quantity *int       `json:"quantity,omitempty"`
	Expiry   *time.Time `json:"expiry,omitempty"`
}

func (u MedicineUpdate) IsEmpty() bool {
	return u.Name == nil && u.Quantity == nil && u.Expiry == nil
}

// Details are the fields a nurse may edit directly. Quantity is not among
// them; it only moves through AdjustStock.
type Details struct {
	Name   *string
	Expiry *time.Time
}
