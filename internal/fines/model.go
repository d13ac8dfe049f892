package fines

import "time"

const (
	StatusPending = "PENDING"
	StatusPaid    = "PAID"
)

// FineRecord mirrors one pending transaction reported by the traffic
// authority, keyed by the authority's reference number per vehicle.
type FineRecord struct {
	ID        uint64  `gorm:"primaryKey" json:"id"`
	Vehicle   string  `gorm:"index:idx_fines_vehicle_ref,unique;not null" json:"vehicle"`
	Reference string  `gorm:"index:idx_fines_vehicle_ref,unique;not null" json:"reference"`
	Amount    float64 `json:"amount"`
	Currency  string  `gorm:"not null;default:'TZS'" json:"currency"`
	Offence   string  `json:"offence"`
	Location  string  `json:"location,omitempty"`
	Status    string  `gorm:"index;not null;default:'PENDING'" json:"status"`
	// IssuedOn is kept verbatim as reported; the upstream date format
	// is not documented.
	IssuedOn  string    `json:"issued_on"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// ReportedFine is one entry of the offence API's pending_transactions
// array.
type ReportedFine struct {
	Reference string  `json:"reference"`
	Amount    float64 `json:"amount"`
	Offence   string  `json:"offence"`
	Location  string  `json:"location"`
	Status    string  `json:"status"`
	Date      string  `json:"date"`
}
