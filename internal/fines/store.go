package fines

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewStore(db *gorm.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log.With().Str("component", "fines").Logger()}
}

// ApplyResult summarizes one reconciliation of a vehicle's records
// against the authority's response.
type ApplyResult struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Resolved int `json:"resolved"`
}

// Apply upserts the reported transactions for one vehicle. Records are
// matched by (vehicle, reference); mutable fields are only written when
// they changed, so replaying the same response is a no-op. An empty
// report means every open fine has been settled and is marked PAID.
func (s *Store) Apply(vehicle string, reported []ReportedFine) (ApplyResult, error) {
	var res ApplyResult

	if len(reported) == 0 {
		upd := s.db.Model(&FineRecord{}).
			Where("vehicle = ? AND status <> ?", vehicle, StatusPaid).
			Update("status", StatusPaid)
		if upd.Error != nil {
			return res, fmt.Errorf("resolve fines for %s: %w", vehicle, upd.Error)
		}
		res.Resolved = int(upd.RowsAffected)
		return res, nil
	}

	for _, tx := range reported {
		if tx.Reference == "" {
			s.log.Warn().Str("vehicle", vehicle).Msg("skipping reported fine without reference")
			continue
		}
		if err := s.applyOne(vehicle, tx, &res); err != nil {
			// One bad record must not lose the rest of the report.
			s.log.Error().Err(err).
				Str("vehicle", vehicle).
				Str("reference", tx.Reference).
				Msg("fine record upsert failed")
		}
	}
	return res, nil
}

func (s *Store) applyOne(vehicle string, tx ReportedFine, res *ApplyResult) error {
	status := tx.Status
	if status == "" {
		status = StatusPending
	}

	var existing FineRecord
	err := s.db.Where("vehicle = ? AND reference = ?", vehicle, tx.Reference).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		rec := FineRecord{
			Vehicle:   vehicle,
			Reference: tx.Reference,
			Amount:    tx.Amount,
			Offence:   tx.Offence,
			Location:  tx.Location,
			Status:    status,
			IssuedOn:  tx.Date,
		}
		if err := s.db.Create(&rec).Error; err != nil {
			return err
		}
		res.Created++
		return nil
	}
	if err != nil {
		return err
	}

	changes := map[string]any{}
	if existing.Amount != tx.Amount {
		changes["amount"] = tx.Amount
	}
	if existing.Offence != tx.Offence {
		changes["offence"] = tx.Offence
	}
	if existing.Location != tx.Location {
		changes["location"] = tx.Location
	}
	if existing.Status != status {
		changes["status"] = status
	}
	if existing.IssuedOn != tx.Date {
		changes["issued_on"] = tx.Date
	}
	if len(changes) == 0 {
		return nil
	}

	if err := s.db.Model(&FineRecord{}).Where("id = ?", existing.ID).Updates(changes).Error; err != nil {
		return err
	}
	res.Updated++
	return nil
}

func (s *Store) ListByVehicle(vehicle string) ([]FineRecord, error) {
	var recs []FineRecord
	err := s.db.Where("vehicle = ?", vehicle).
		Order("created_at desc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}
