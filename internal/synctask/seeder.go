package synctask

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"finesync/internal/fleet"
)

// Seeder reconciles the task table against the fleet: every registered
// vehicle gets exactly one active task, vanished vehicles get
// tombstoned, returning vehicles get their row reactivated. Safe to run
// any number of times; an unchanged fleet is all skips.
type Seeder struct {
	db  *gorm.DB
	log zerolog.Logger
	now func() time.Time
}

func NewSeeder(db *gorm.DB, log zerolog.Logger) *Seeder {
	return &Seeder{
		db:  db,
		log: log.With().Str("component", "seeder").Logger(),
		now: time.Now,
	}
}

type SeedResult struct {
	Status           string `json:"status"`
	Created          int    `json:"created"`
	Skipped          int    `json:"skipped"`
	Invalid          int    `json:"invalid"`
	Reactivated      int    `json:"reactivated"`
	DeletedMarked    int    `json:"deleted_marked"`
	TotalVehicles    int    `json:"total_vehicles"`
	TotalValidPlates int    `json:"total_valid_plates"`
}

func (s *Seeder) Seed() (SeedResult, error) {
	plates, err := fleet.ListPlates(s.db)
	if err != nil {
		return SeedResult{}, fmt.Errorf("seed: list fleet: %w", err)
	}

	var existing []Task
	if err := s.db.Select("id", "vehicle_no", "status", "is_deleted").Find(&existing).Error; err != nil {
		return SeedResult{}, fmt.Errorf("seed: list tasks: %w", err)
	}
	byPlate := make(map[string]Task, len(existing))
	for _, t := range existing {
		byPlate[t.VehicleNo] = t
	}

	res := SeedResult{Status: "success", TotalVehicles: len(plates)}
	valid := make(map[string]struct{}, len(plates))

	for _, plate := range plates {
		if !fleet.ValidPlate(plate) {
			res.Invalid++
			continue
		}
		valid[plate] = struct{}{}

		t, ok := byPlate[plate]
		switch {
		case !ok:
			if _, err := s.CreateTask(plate, 0, false); err != nil {
				s.log.Error().Err(err).Str("vehicle", plate).Msg("seed create failed")
				continue
			}
			res.Created++
		case t.IsDeleted:
			if _, err := s.CreateTask(plate, 0, false); err != nil {
				s.log.Error().Err(err).Str("vehicle", plate).Msg("seed reactivate failed")
				continue
			}
			res.Reactivated++
		default:
			res.Skipped++
		}
	}
	res.TotalValidPlates = len(valid)

	// Tombstone active tasks whose vehicle left the fleet.
	for plate, t := range byPlate {
		if t.IsDeleted {
			continue
		}
		if _, ok := valid[plate]; ok {
			continue
		}
		err := s.db.Model(&Task{}).Where("id = ?", t.ID).
			Update("is_deleted", true).Error
		if err != nil {
			s.log.Error().Err(err).Str("vehicle", plate).Msg("seed tombstone failed")
			continue
		}
		res.DeletedMarked++
	}

	s.log.Info().
		Int("created", res.Created).
		Int("reactivated", res.Reactivated).
		Int("skipped", res.Skipped).
		Int("invalid", res.Invalid).
		Int("deleted_marked", res.DeletedMarked).
		Msg("seed completed")
	return res, nil
}

// CreateTask registers one vehicle with the queue. A plate only ever
// has one row: an active row is deduplicated (optionally promoted when
// immediate or high priority), a tombstoned or terminal row is revived
// with fresh retry state.
func (s *Seeder) CreateTask(plate string, priority int, immediate bool) (*Task, error) {
	if !fleet.ValidPlate(plate) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlate, plate)
	}
	now := s.now()
	var nextRun *time.Time
	if immediate {
		nextRun = &now
	}

	var t Task
	err := s.db.Where("vehicle_no = ?", plate).First(&t).Error
	if err == gorm.ErrRecordNotFound {
		t = Task{
			VehicleNo: plate,
			Status:    StatusPending,
			Priority:  priority,
			NextRunAt: nextRun,
		}
		if err := s.db.Create(&t).Error; err != nil {
			return nil, fmt.Errorf("create task %s: %w", plate, err)
		}
		return &t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup task %s: %w", plate, err)
	}

	if !t.IsDeleted && (t.Status == StatusPending || t.Status == StatusProcessing) {
		// Already in flight; optionally jump the queue.
		if immediate || priority > 5 {
			p := priority
			if p < 5 {
				p = 5
			}
			err := s.db.Model(&Task{}).Where("id = ?", t.ID).Updates(map[string]any{
				"priority":    p,
				"next_run_at": now,
			}).Error
			if err != nil {
				return nil, fmt.Errorf("promote task %s: %w", plate, err)
			}
		}
		return &t, nil
	}

	// Tombstoned, Done, or Failed: revive with a clean slate.
	err = s.db.Model(&Task{}).Where("id = ?", t.ID).Updates(map[string]any{
		"is_deleted":  false,
		"status":      StatusPending,
		"priority":    priority,
		"attempts":    0,
		"backoff_exp": 0,
		"next_run_at": nextRun,
		"claimed_by":  "",
		"claimed_at":  nil,
		"last_error":  "",
	}).Error
	if err != nil {
		return nil, fmt.Errorf("reactivate task %s: %w", plate, err)
	}
	return &t, nil
}
