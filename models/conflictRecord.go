package models

import (
	"context"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/strandworks/salonsync_backend/config"
)

// ConflictRecord is the append-only audit trail of detected double-bookings.
// Rows are never mutated after insert except for the operator acknowledgement.
type ConflictRecord struct {
	ID           uint      `gorm:"primary_key" json:"id"`
	SyncRunId    uint      `gorm:"index;not null" json:"sync_run_id"`
	Kind         string    `gorm:"size:20;not null" json:"kind"`
	Resolution   string    `gorm:"size:30;not null" json:"resolution"`
	Reason       string    `gorm:"type:text" json:"reason"`
	FirstOrigin  string    `gorm:"size:10;not null" json:"first_origin"`
	FirstId      string    `gorm:"size:128;not null" json:"first_id"`
	FirstStart   time.Time `gorm:"not null" json:"first_start"`
	FirstEnd     time.Time `gorm:"not null" json:"first_end"`
	FirstLabel   string    `gorm:"size:255" json:"first_label"`
	SecondOrigin string    `gorm:"size:10;not null" json:"second_origin"`
	SecondId     string    `gorm:"size:128;not null" json:"second_id"`
	SecondStart  time.Time `gorm:"not null" json:"second_start"`
	SecondEnd    time.Time `gorm:"not null" json:"second_end"`
	SecondLabel  string    `gorm:"size:255" json:"second_label"`
	Acknowledged bool      `gorm:"index;not null;default:false" json:"acknowledged"`
	AckedBy      *int      `json:"acked_by"`
	AckedAt      *time.Time `json:"acked_at"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// GetConflicts lists conflict records, newest first, optionally filtered by
// acknowledgement state.
func GetConflicts(ctx context.Context, acknowledged *bool, limit int) ([]ConflictRecord, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Order("id DESC")
	if acknowledged != nil {
		dbCtx = dbCtx.Where("acknowledged = ?", *acknowledged)
	}
	if limit > 0 {
		dbCtx = dbCtx.Limit(limit)
	}
	var conflicts []ConflictRecord
	if err := dbCtx.Find(&conflicts).Error; err != nil {
		return nil, err
	}
	return conflicts, nil
}

// AcknowledgeConflict sets the operator acknowledgement on one conflict row.
func AcknowledgeConflict(ctx context.Context, id uint, userId int) error {
	db := config.GetDB()
	now := time.Now().UTC()
	result := db.WithContext(ctx).Model(&ConflictRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"acknowledged": true,
			"acked_by":     userId,
			"acked_at":     now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
