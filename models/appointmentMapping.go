package models

import (
	"context"
	"time"

	"bitbucket.org/strandworks/salonsync_backend/config"
)

// AppointmentMapping is the durable correlation between a portal booking and
// its Google Calendar event, plus the fingerprint of the last synced state.
// It is the only state the engine keeps about an appointment between cycles;
// the appointment snapshots themselves are rebuilt from fresh fetches.
//
// Invariants (enforced in the executor transaction, checked by cmd/mapping-audit):
//   - at most one non-retired row per portal_id
//   - at most one non-retired row per calendar_event_id
type AppointmentMapping struct {
	ID              uint       `gorm:"primary_key" json:"id"`
	PortalId        string     `gorm:"index;size:128;not null" json:"portal_id"`
	CalendarEventId string     `gorm:"index;size:128" json:"calendar_event_id"`
	LastFingerprint string     `gorm:"size:64;not null" json:"last_fingerprint"`
	LastSyncedAt    *time.Time `json:"last_synced_at"`
	Retired         bool       `gorm:"index;not null;default:false" json:"retired"`
	RetiredAt       *time.Time `json:"retired_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetMappings lists mappings for the dashboard, optionally filtered by the
// retired flag.
func GetMappings(ctx context.Context, retired *bool) ([]AppointmentMapping, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Order("portal_id")
	if retired != nil {
		dbCtx = dbCtx.Where("retired = ?", *retired)
	}
	var mappings []AppointmentMapping
	if err := dbCtx.Find(&mappings).Error; err != nil {
		return nil, err
	}
	return mappings, nil
}
