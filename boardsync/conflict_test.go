package boardsync

import (
	"strings"
	"testing"
	"time"

	"bitbucket.org/strandworks/salonsync_backend/models"
)

func TestDetectConflicts_BackToBackBookingsDoNotCollide(t *testing.T) {
	portal := []AppointmentRecord{
		portalRecord("HB1", matchBase, time.Hour, "A / Cut", models.AppointmentStatusConfirmed),
		portalRecord("HB2", matchBase.Add(time.Hour), time.Hour, "B / Cut", models.AppointmentStatusConfirmed),
	}

	conflicts, excluded := DetectConflicts(portal, nil, nil)
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts for [10:00,11:00) and [11:00,12:00), got %+v", conflicts)
	}
	if len(excluded) != 0 {
		t.Fatalf("expected nothing excluded, got %v", excluded)
	}
}

func TestDetectConflicts_OverlappingPortalBookingsNeedReview(t *testing.T) {
	portal := []AppointmentRecord{
		portalRecord("HB1", matchBase, time.Hour, "A / Cut", models.AppointmentStatusConfirmed),
		portalRecord("HB2", matchBase.Add(30*time.Minute), time.Hour, "B / Cut", models.AppointmentStatusConfirmed),
	}

	conflicts, excluded := DetectConflicts(portal, nil, nil)
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	c := conflicts[0]
	if c.Kind != models.ConflictKindPortalPortal {
		t.Fatalf("expected PORTAL_PORTAL, got %s", c.Kind)
	}
	if c.Resolution != models.ResolutionManualReviewRequired {
		t.Fatalf("expected MANUAL_REVIEW_REQUIRED, got %s", c.Resolution)
	}
	if !excluded["HB1"] || !excluded["HB2"] || len(excluded) != 2 {
		t.Fatalf("expected both bookings withheld, got %v", excluded)
	}
	if !strings.Contains(c.Reason, "overlaps") {
		t.Fatalf("expected a readable reason, got %q", c.Reason)
	}
}

func TestDetectConflicts_PortalWinsAgainstManualEntry(t *testing.T) {
	portal := []AppointmentRecord{
		portalRecord("HB1", matchBase, time.Hour, "A / Cut", models.AppointmentStatusConfirmed),
	}
	manual := AppointmentRecord{
		SourceId:      "evt-manual",
		Origin:        models.OriginCalendar,
		Start:         matchBase.Add(30 * time.Minute),
		End:           matchBase.Add(90 * time.Minute),
		CustomerLabel: "Blocked off",
		Status:        models.AppointmentStatusConfirmed,
	}

	conflicts, excluded := DetectConflicts(portal, []AppointmentRecord{manual}, nil)
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	c := conflicts[0]
	if c.Kind != models.ConflictKindPortalCalendar {
		t.Fatalf("expected PORTAL_CALENDAR, got %s", c.Kind)
	}
	if c.Resolution != models.ResolutionPortalWins {
		t.Fatalf("expected PORTAL_WINS, got %s", c.Resolution)
	}
	if len(excluded) != 0 {
		t.Fatalf("portal booking must still sync, got exclusions %v", excluded)
	}
}

func TestDetectConflicts_EngineOwnedEventsAreNotOpponents(t *testing.T) {
	portal := []AppointmentRecord{
		portalRecord("HB1", matchBase, time.Hour, "A / Cut", models.AppointmentStatusConfirmed),
	}
	// same slot, but both events belong to the engine: one stamped with a
	// portal ref, one tracked through a mapping row
	stamped := calendarRecord("evt-1", matchBase, time.Hour, "Appointment: A / Cut", "HB1")
	mapped := calendarRecord("evt-2", matchBase, time.Hour, "Appointment: old", "")
	mappings := []models.AppointmentMapping{activeMapping("HB9", "evt-2", "fp")}

	conflicts, excluded := DetectConflicts(portal, []AppointmentRecord{stamped, mapped}, mappings)
	if len(conflicts) != 0 {
		t.Fatalf("engine-owned events must not conflict with their own bookings, got %+v", conflicts)
	}
	if len(excluded) != 0 {
		t.Fatalf("expected nothing excluded, got %v", excluded)
	}
}

func TestDetectConflicts_CancelledBookingsDoNotOccupySlots(t *testing.T) {
	portal := []AppointmentRecord{
		portalRecord("HB1", matchBase, time.Hour, "A / Cut", models.AppointmentStatusConfirmed),
		portalRecord("HB2", matchBase, time.Hour, "B / Cut", models.AppointmentStatusCancelled),
	}

	conflicts, _ := DetectConflicts(portal, nil, nil)
	if len(conflicts) != 0 {
		t.Fatalf("a cancelled booking frees its slot, got %+v", conflicts)
	}
}

func TestDetectConflicts_ChainOfOverlapsExcludesEveryParticipant(t *testing.T) {
	portal := []AppointmentRecord{
		portalRecord("HB1", matchBase, 2*time.Hour, "A / Cut", models.AppointmentStatusConfirmed),
		portalRecord("HB2", matchBase.Add(30*time.Minute), 30*time.Minute, "B / Cut", models.AppointmentStatusConfirmed),
		portalRecord("HB3", matchBase.Add(75*time.Minute), time.Hour, "C / Cut", models.AppointmentStatusConfirmed),
	}

	conflicts, excluded := DetectConflicts(portal, nil, nil)
	// HB1 overlaps HB2 and HB3; HB2 ends before HB3 starts
	if len(conflicts) != 2 {
		t.Fatalf("expected 2 pairwise conflicts, got %d: %+v", len(conflicts), conflicts)
	}
	if len(excluded) != 3 {
		t.Fatalf("expected all three bookings withheld, got %v", excluded)
	}
}
