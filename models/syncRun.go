package models

import (
	"context"
	"time"

	"bitbucket.org/strandworks/salonsync_backend/config"
)

// SyncRun is one reconciliation cycle. A row exists for every cycle, including
// aborted ones; the report counters are filled in as the cycle finishes.
type SyncRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	TriggeredBy   string     `gorm:"size:20;not null" json:"triggered_by"`
	Status        string     `gorm:"index;size:20;not null" json:"status"`
	Created       int        `json:"created"`
	Updated       int        `json:"updated"`
	Deleted       int        `json:"deleted"`
	Conflicts     int        `json:"conflicts"`
	Failures      int        `json:"failures"`
	Warnings      int        `json:"warnings"`
	WarningsJSON  []byte     `gorm:"type:json" json:"warning_messages"`
	AbortReason   string     `gorm:"type:text" json:"abort_reason"`
	PortalCount   int        `json:"portal_count"`
	CalendarCount int        `json:"calendar_count"`
	ArchiveObject string     `gorm:"size:255" json:"archive_object"`
	CorrelationId string     `gorm:"size:64;index" json:"correlation_id"`
	StartedAt     time.Time  `gorm:"index;not null" json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetSyncRuns lists recent runs, newest first.
func GetSyncRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	db := config.GetDB()
	if limit <= 0 || limit > config.SearchLimit {
		limit = config.SearchLimit
	}
	var runs []SyncRun
	err := db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// GetSyncRun loads one run row.
func GetSyncRun(ctx context.Context, id uint) (*SyncRun, error) {
	db := config.GetDB()
	var run SyncRun
	if err := db.WithContext(ctx).First(&run, id).Error; err != nil {
		return nil, err
	}
	return &run, nil
}
