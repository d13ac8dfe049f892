package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"finesync/internal/fines"
	"finesync/internal/fleet"
	"finesync/internal/synctask"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&fleet.Vehicle{},
		&synctask.Task{},
		&fines.FineRecord{},
	); err != nil {
		return err
	}

	// Claim and reap both scan on (status, time); keep those paths off
	// a full table walk.
	stmts := []string{
		`create index if not exists idx_sync_tasks_due on sync_tasks(status, next_run_at) where is_deleted = false;`,
		`create index if not exists idx_sync_tasks_lease on sync_tasks(status, claimed_at) where is_deleted = false;`,
		`create index if not exists idx_sync_tasks_order on sync_tasks(priority desc, vehicle_no asc);`,
		`create index if not exists idx_fines_open on fine_records(vehicle, status);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}
