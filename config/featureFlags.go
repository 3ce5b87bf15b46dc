package config

import (
	"os"
	"strings"
)

func boolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// AutoRecreateExternallyDeleted makes the planner re-create calendar events that
// were deleted outside the system while the portal still confirms the booking.
// Default (false) leaves them flagged for the operator; unattended installs can
// opt in.
//
// Set via env:
// - AUTO_RECREATE_EXTERNALLY_DELETED=true
func AutoRecreateExternallyDeleted() bool {
	return boolFromEnv("AUTO_RECREATE_EXTERNALLY_DELETED")
}

// ArchiveSnapshots stores each cycle's raw portal/calendar payloads through the
// configured storage provider (GCS bucket or local dir).
//
// Set via env:
// - ARCHIVE_SNAPSHOTS=true
func ArchiveSnapshots() bool {
	return boolFromEnv("ARCHIVE_SNAPSHOTS")
}

// NotifyDisabled suppresses Pub/Sub report publication (local dev, tests).
//
// Set via env:
// - DISABLE_NOTIFY=true
func NotifyDisabled() bool {
	return boolFromEnv("DISABLE_NOTIFY")
}
