package synctask

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"finesync/internal/fines"
	"finesync/internal/fleet"
)

// openTestDB gives each test its own shared-cache in-memory database.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&fleet.Vehicle{}, &Task{}, &fines.FineRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

// fakeClock keeps queue, processor, and assertions on the same
// controllable timeline.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(t *testing.T, gdb *gorm.DB, clock *fakeClock) *Queue {
	t.Helper()
	q := NewQueue(gdb, zerolog.Nop(), "worker-test", DefaultMaxAttempts)
	q.now = clock.Now
	q.rnd = rand.New(rand.NewSource(42))
	return q
}

func mustCreateTask(t *testing.T, gdb *gorm.DB, task Task) Task {
	t.Helper()
	if task.Status == "" {
		task.Status = StatusPending
	}
	if err := gdb.Create(&task).Error; err != nil {
		t.Fatalf("create task %s: %v", task.VehicleNo, err)
	}
	return task
}

func reload(t *testing.T, gdb *gorm.DB, id uint64) Task {
	t.Helper()
	var task Task
	if err := gdb.First(&task, id).Error; err != nil {
		t.Fatalf("reload task %d: %v", id, err)
	}
	return task
}
