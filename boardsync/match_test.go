package boardsync

import (
	"fmt"
	"testing"
	"time"

	"bitbucket.org/strandworks/salonsync_backend/models"
)

var matchBase = time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)

func portalRecord(id string, start time.Time, dur time.Duration, label, status string) AppointmentRecord {
	end := start.Add(dur)
	return AppointmentRecord{
		SourceId:      id,
		Origin:        models.OriginPortal,
		Start:         start,
		End:           end,
		CustomerLabel: label,
		Status:        status,
		Fingerprint:   ComputeFingerprint(start, end, label, status),
	}
}

func calendarRecord(eventId string, start time.Time, dur time.Duration, label, portalRef string) AppointmentRecord {
	end := start.Add(dur)
	return AppointmentRecord{
		SourceId:      eventId,
		Origin:        models.OriginCalendar,
		Start:         start,
		End:           end,
		CustomerLabel: label,
		Status:        models.AppointmentStatusConfirmed,
		Fingerprint:   ComputeFingerprint(start, end, label, models.AppointmentStatusConfirmed),
		PortalRef:     portalRef,
	}
}

func activeMapping(portalId, eventId, fingerprint string) models.AppointmentMapping {
	return models.AppointmentMapping{PortalId: portalId, CalendarEventId: eventId, LastFingerprint: fingerprint}
}

func soleResult(t *testing.T, results []MatchResult) MatchResult {
	t.Helper()
	if len(results) != 1 {
		t.Fatalf("expected exactly 1 result, got %d: %+v", len(results), results)
	}
	return results[0]
}

func TestClassify_NewBookingWithoutMapping(t *testing.T) {
	portal := []AppointmentRecord{portalRecord("HB1", matchBase, time.Hour, "Tanaka / Cut", models.AppointmentStatusConfirmed)}

	r := soleResult(t, Classify(portal, nil, nil))
	if r.Classification != models.ClassificationNew {
		t.Fatalf("expected NEW, got %s", r.Classification)
	}
	if r.Record == nil || r.Record.SourceId != "HB1" {
		t.Fatalf("expected record attached, got %+v", r.Record)
	}
	if r.Mapping != nil {
		t.Fatalf("expected no mapping on a new booking")
	}
}

func TestClassify_UnchangedWhenFingerprintMatches(t *testing.T) {
	rec := portalRecord("HB1", matchBase, time.Hour, "Tanaka / Cut", models.AppointmentStatusConfirmed)
	portal := []AppointmentRecord{rec}
	calendar := []AppointmentRecord{calendarRecord("evt-1", matchBase, time.Hour, "Appointment: Tanaka / Cut", "HB1")}
	mappings := []models.AppointmentMapping{activeMapping("HB1", "evt-1", rec.Fingerprint)}

	r := soleResult(t, Classify(portal, calendar, mappings))
	if r.Classification != models.ClassificationUnchanged {
		t.Fatalf("expected UNCHANGED, got %s", r.Classification)
	}
}

func TestClassify_ModifiedWhenDetailsChange(t *testing.T) {
	old := portalRecord("HB1", matchBase, time.Hour, "Tanaka / Cut", models.AppointmentStatusConfirmed)
	moved := portalRecord("HB1", matchBase.Add(30*time.Minute), time.Hour, "Tanaka / Cut", models.AppointmentStatusConfirmed)
	calendar := []AppointmentRecord{calendarRecord("evt-1", matchBase, time.Hour, "Appointment: Tanaka / Cut", "HB1")}
	mappings := []models.AppointmentMapping{activeMapping("HB1", "evt-1", old.Fingerprint)}

	r := soleResult(t, Classify([]AppointmentRecord{moved}, calendar, mappings))
	if r.Classification != models.ClassificationModified {
		t.Fatalf("expected MODIFIED, got %s", r.Classification)
	}
	if r.Mapping == nil || r.Mapping.CalendarEventId != "evt-1" {
		t.Fatalf("expected mapping attached for the update, got %+v", r.Mapping)
	}
}

func TestClassify_ServiceRenameSurfacesAsModified(t *testing.T) {
	old := portalRecord("HB1", matchBase, time.Hour, "Tanaka / Cut", models.AppointmentStatusConfirmed)
	renamed := portalRecord("HB1", matchBase, time.Hour, "Tanaka / Cut + Color", models.AppointmentStatusConfirmed)
	calendar := []AppointmentRecord{calendarRecord("evt-1", matchBase, time.Hour, "Appointment: Tanaka / Cut", "HB1")}
	mappings := []models.AppointmentMapping{activeMapping("HB1", "evt-1", old.Fingerprint)}

	r := soleResult(t, Classify([]AppointmentRecord{renamed}, calendar, mappings))
	if r.Classification != models.ClassificationModified {
		t.Fatalf("expected MODIFIED on service rename, got %s", r.Classification)
	}
}

func TestClassify_RemovedWhenCancelledUpstream(t *testing.T) {
	active := portalRecord("HB1", matchBase, time.Hour, "Tanaka / Cut", models.AppointmentStatusConfirmed)
	cancelled := portalRecord("HB1", matchBase, time.Hour, "Tanaka / Cut", models.AppointmentStatusCancelled)
	calendar := []AppointmentRecord{calendarRecord("evt-1", matchBase, time.Hour, "Appointment: Tanaka / Cut", "HB1")}
	mappings := []models.AppointmentMapping{activeMapping("HB1", "evt-1", active.Fingerprint)}

	r := soleResult(t, Classify([]AppointmentRecord{cancelled}, calendar, mappings))
	if r.Classification != models.ClassificationRemoved {
		t.Fatalf("expected REMOVED, got %s", r.Classification)
	}
}

func TestClassify_CancelledNeverSyncedNeedsNothing(t *testing.T) {
	cancelled := portalRecord("HB1", matchBase, time.Hour, "Tanaka / Cut", models.AppointmentStatusCancelled)

	r := soleResult(t, Classify([]AppointmentRecord{cancelled}, nil, nil))
	if r.Classification != models.ClassificationUnchanged {
		t.Fatalf("expected UNCHANGED for a cancelled booking that never had an event, got %s", r.Classification)
	}
}

func TestClassify_ExternallyDeletedWhenEventVanishes(t *testing.T) {
	rec := portalRecord("HB1", matchBase, time.Hour, "Tanaka / Cut", models.AppointmentStatusConfirmed)
	mappings := []models.AppointmentMapping{activeMapping("HB1", "evt-1", rec.Fingerprint)}

	// calendar snapshot no longer contains evt-1
	r := soleResult(t, Classify([]AppointmentRecord{rec}, nil, mappings))
	if r.Classification != models.ClassificationExternallyDeleted {
		t.Fatalf("expected EXTERNALLY_DELETED, got %s", r.Classification)
	}
}

func TestClassify_RemovedWhenBookingVanishesFromBoard(t *testing.T) {
	calendar := []AppointmentRecord{calendarRecord("evt-1", matchBase, time.Hour, "Appointment: Tanaka / Cut", "HB1")}
	mappings := []models.AppointmentMapping{activeMapping("HB1", "evt-1", "old-fp")}

	r := soleResult(t, Classify(nil, calendar, mappings))
	if r.Classification != models.ClassificationRemoved {
		t.Fatalf("expected REMOVED, got %s", r.Classification)
	}
	if r.Record != nil {
		t.Fatalf("a vanished booking has no record, got %+v", r.Record)
	}
	if r.Mapping == nil || r.Mapping.CalendarEventId != "evt-1" {
		t.Fatalf("expected mapping attached for the delete, got %+v", r.Mapping)
	}
}

func TestClassify_LeavesOutOfWindowMappingsAlone(t *testing.T) {
	// mapping exists but neither snapshot mentions it: the appointment slid out
	// of the sync window and its past event must not be deleted
	mappings := []models.AppointmentMapping{activeMapping("HB1", "evt-1", "old-fp")}

	results := Classify(nil, nil, mappings)
	if len(results) != 0 {
		t.Fatalf("expected no results for an out-of-window mapping, got %+v", results)
	}
}

func TestClassify_Property_DeterministicAndSorted(t *testing.T) {
	unchanged := portalRecord("HB20", matchBase, time.Hour, "B / Cut", models.AppointmentStatusConfirmed)
	portal := []AppointmentRecord{
		portalRecord("HB40", matchBase.Add(4*time.Hour), time.Hour, "D / Cut", models.AppointmentStatusConfirmed),
		portalRecord("HB10", matchBase, time.Hour, "A / Cut", models.AppointmentStatusConfirmed),
		unchanged,
		portalRecord("HB30", matchBase.Add(2*time.Hour), time.Hour, "C / Cut", models.AppointmentStatusCancelled),
	}
	calendar := []AppointmentRecord{
		calendarRecord("evt-20", matchBase, time.Hour, "Appointment: B / Cut", "HB20"),
		calendarRecord("evt-30", matchBase.Add(2*time.Hour), time.Hour, "Appointment: C / Cut", "HB30"),
		calendarRecord("evt-50", matchBase.Add(6*time.Hour), time.Hour, "Appointment: E / Cut", "HB50"),
	}
	mappings := []models.AppointmentMapping{
		activeMapping("HB50", "evt-50", "fp-e"),
		activeMapping("HB20", "evt-20", unchanged.Fingerprint),
		activeMapping("HB30", "evt-30", "fp-c"),
		activeMapping("HB40", "evt-40", "fp-d"),
		activeMapping("HB60", "evt-gone", "fp-f"),
	}

	serialize := func(results []MatchResult) string {
		out := ""
		for _, r := range results {
			out += fmt.Sprintf("%s=%s;", r.PortalId, r.Classification)
		}
		return out
	}

	first := serialize(Classify(portal, calendar, mappings))
	want := "HB10=NEW;HB20=UNCHANGED;HB30=REMOVED;HB40=EXTERNALLY_DELETED;HB50=REMOVED;"
	if first != want {
		t.Fatalf("classification expected %q, got %q", want, first)
	}

	for run := 0; run < 100; run++ {
		if got := serialize(Classify(portal, calendar, mappings)); got != first {
			t.Fatalf("run=%d expected stable output %q, got %q", run, first, got)
		}
	}
}
