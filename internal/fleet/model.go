package fleet

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Vehicle is the authoritative fleet table the sync queue is
// reconciled against.
type Vehicle struct {
	ID           uint64    `gorm:"primaryKey"`
	LicensePlate string    `gorm:"uniqueIndex;not null"`
	Status       string    `gorm:"index;not null;default:'RUNNING'"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// MinPlateLen is the shortest license plate the offence API accepts.
const MinPlateLen = 7

func ValidPlate(plate string) bool {
	return len(strings.TrimSpace(plate)) >= MinPlateLen
}

// ListPlates returns every registered license plate, valid or not.
// Validity filtering is the caller's concern so it can be counted.
func ListPlates(db *gorm.DB) ([]string, error) {
	var plates []string
	err := db.Model(&Vehicle{}).
		Where("license_plate <> ''").
		Order("license_plate asc").
		Pluck("license_plate", &plates).Error
	if err != nil {
		return nil, err
	}
	return plates, nil
}
