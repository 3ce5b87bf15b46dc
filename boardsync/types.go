package boardsync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/strandworks/salonsync_backend/models"
)

// RawPortalAppointment is one booking row as the scraper agent reports it.
// Times are portal-local strings ("2006-01-02 15:04", JST); the normalizer
// owns the conversion to UTC.
type RawPortalAppointment struct {
	ExternalId    string `json:"external_id"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	CustomerEmail string `json:"customer_email"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	ServiceName   string `json:"service_name"`
	ServicePrice  string `json:"service_price"`
	StaffName     string `json:"staff_name"`
	Status        string `json:"status"`
}

// RawCalendarEvent is one Google Calendar event flattened to the fields the
// engine cares about. The calendar client does the flattening so the
// normalizer stays free of API types.
type RawCalendarEvent struct {
	EventId     string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Status      string
	PortalId    string // from private extended properties, "" for manual entries
	SyncToken   string // idempotency token the executor stamped at create time
}

// AppointmentRecord is the normalized, origin-neutral appointment. Records are
// ephemeral: rebuilt from fresh fetches every cycle, never persisted.
//
// CustomerLabel is the display label the calendar event is titled from
// (customer plus service for portal records); it feeds the fingerprint, so a
// renamed service surfaces as MODIFIED. Contact details only dress the event
// body and stay outside the hash.
type AppointmentRecord struct {
	SourceId      string
	Origin        string
	Start         time.Time
	End           time.Time
	CustomerLabel string
	Status        string
	Fingerprint   string

	// carried for event bodies and reporting, excluded from the fingerprint
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	ServiceName   string
	ServicePrice  decimal.Decimal
	StaffName     string

	// PortalRef is set on calendar-origin records that this engine created:
	// the portal id stamped into the event's private properties. Empty for
	// manually added calendar entries.
	PortalRef string
}

// ComputeFingerprint hashes the identity-bearing fields. Identical inputs
// always produce identical fingerprints; any change to start, end, label or
// status changes the hash.
func ComputeFingerprint(start, end time.Time, customerLabel, status string) string {
	canonical := start.UTC().Format(time.RFC3339) + "|" +
		end.UTC().Format(time.RFC3339) + "|" +
		customerLabel + "|" +
		status
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// MatchResult is one classified portal appointment (or mapping remnant).
type MatchResult struct {
	PortalId       string
	Classification string
	Record         *AppointmentRecord
	Mapping        *models.AppointmentMapping
}

// Conflict is a detected double-booking plus the policy decision taken.
type Conflict struct {
	Kind       string
	Resolution string
	Reason     string
	First      AppointmentRecord
	Second     AppointmentRecord
}

// PlanItem is one intended calendar mutation (or an explicit skip).
type PlanItem struct {
	Action   string
	PortalId string
	Record   *AppointmentRecord
	Mapping  *models.AppointmentMapping
	Reason   string
}

// NormalizationWarning is a per-record, non-fatal normalization problem.
type NormalizationWarning struct {
	Origin   string
	SourceId string
	Field    string
	Message  string
}

func (w NormalizationWarning) String() string {
	return fmt.Sprintf("%s %s: %s (%s)", w.Origin, w.SourceId, w.Message, w.Field)
}

// SyncReport is the per-cycle outcome summary.
type SyncReport struct {
	RunId           uint     `json:"run_id"`
	Status          string   `json:"status"`
	Created         int      `json:"created"`
	Updated         int      `json:"updated"`
	Deleted         int      `json:"deleted"`
	Conflicts       int      `json:"conflicts"`
	Failures        int      `json:"failures"`
	Warnings        int      `json:"warnings"`
	WarningMessages []string `json:"warning_messages,omitempty"`
	AbortReason     string   `json:"abort_reason,omitempty"`
	DurationMs      int64    `json:"duration_ms"`
}

/* error taxonomy */

// ScrapeError aborts the cycle before any mutation; durable state is untouched.
type ScrapeError struct {
	Err error
}

func (e *ScrapeError) Error() string { return "portal snapshot fetch failed: " + e.Err.Error() }
func (e *ScrapeError) Unwrap() error { return e.Err }

// CalendarFetchError aborts the cycle before any mutation.
type CalendarFetchError struct {
	Err error
}

func (e *CalendarFetchError) Error() string {
	return "calendar snapshot fetch failed: " + e.Err.Error()
}
func (e *CalendarFetchError) Unwrap() error { return e.Err }

// TransientWriteError marks a calendar write worth retrying (rate limit,
// network, timeout, 5xx).
type TransientWriteError struct {
	Err error
}

func (e *TransientWriteError) Error() string { return "transient calendar error: " + e.Err.Error() }
func (e *TransientWriteError) Unwrap() error { return e.Err }

// NotFoundError reports that the targeted calendar event no longer exists.
type NotFoundError struct {
	EventId string
}

func (e *NotFoundError) Error() string { return "calendar event not found: " + e.EventId }

// AuthError is fatal: the engine stops starting cycles until the operator
// refreshes credentials and clears the halt.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "calendar authorization failed: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }
