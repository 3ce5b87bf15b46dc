package boardsync

import (
	"strings"
	"testing"
	"time"

	"bitbucket.org/strandworks/salonsync_backend/models"
)

func classified(id, classification string) MatchResult {
	rec := portalRecord(id, matchBase, time.Hour, id+" / Cut", models.AppointmentStatusConfirmed)
	return MatchResult{PortalId: id, Classification: classification, Record: &rec}
}

func TestBuildPlan_MapsClassificationsToActions(t *testing.T) {
	cases := []struct {
		classification string
		action         string
	}{
		{models.ClassificationNew, models.ActionCreate},
		{models.ClassificationModified, models.ActionUpdate},
		{models.ClassificationRemoved, models.ActionDelete},
		{models.ClassificationUnchanged, models.ActionSkip},
		{models.ClassificationExternallyDeleted, models.ActionSkip},
	}

	for _, tc := range cases {
		items := BuildPlan([]MatchResult{classified("HB1", tc.classification)}, nil, PlanOptions{})
		if len(items) != 1 {
			t.Fatalf("%s: expected 1 item, got %d", tc.classification, len(items))
		}
		if items[0].Action != tc.action {
			t.Fatalf("%s: expected %s, got %s", tc.classification, tc.action, items[0].Action)
		}
	}
}

func TestBuildPlan_ExternallyDeletedIsNotRecreatedByDefault(t *testing.T) {
	result := classified("HB1", models.ClassificationExternallyDeleted)

	items := BuildPlan([]MatchResult{result}, nil, PlanOptions{})
	if items[0].Action != models.ActionSkip {
		t.Fatalf("default policy must skip, got %s", items[0].Action)
	}
	if items[0].Reason == reasonNoChange {
		t.Fatalf("the skip must carry a visible reason, got %q", items[0].Reason)
	}

	items = BuildPlan([]MatchResult{result}, nil, PlanOptions{AutoRecreateExternallyDeleted: true})
	if items[0].Action != models.ActionCreate {
		t.Fatalf("auto-recreate policy must create, got %s", items[0].Action)
	}
}

func TestBuildPlan_ConflictExclusionOverridesChanges(t *testing.T) {
	excluded := map[string]bool{"HB1": true}

	items := BuildPlan([]MatchResult{classified("HB1", models.ClassificationModified)}, excluded, PlanOptions{})
	if items[0].Action != models.ActionSkip {
		t.Fatalf("excluded booking must be skipped, got %s", items[0].Action)
	}
	if !strings.Contains(items[0].Reason, "manual review") {
		t.Fatalf("expected a review reason, got %q", items[0].Reason)
	}
}

func TestBuildPlan_DeletesBeforeUpdatesBeforeCreates(t *testing.T) {
	results := []MatchResult{
		classified("HB1", models.ClassificationNew),
		classified("HB2", models.ClassificationRemoved),
		classified("HB3", models.ClassificationModified),
		classified("HB4", models.ClassificationUnchanged),
		classified("HB0", models.ClassificationRemoved),
	}

	items := BuildPlan(results, nil, PlanOptions{})
	got := make([]string, 0, len(items))
	for _, item := range items {
		got = append(got, item.Action+":"+item.PortalId)
	}
	want := "DELETE:HB0,DELETE:HB2,UPDATE:HB3,CREATE:HB1,SKIP:HB4"
	if strings.Join(got, ",") != want {
		t.Fatalf("plan order expected %s, got %s", want, strings.Join(got, ","))
	}
}

func TestBuildPlan_OnePlanItemPerBooking(t *testing.T) {
	results := []MatchResult{
		classified("HB1", models.ClassificationModified),
		classified("HB1", models.ClassificationRemoved),
	}

	items := BuildPlan(results, nil, PlanOptions{})
	if len(items) != 1 {
		t.Fatalf("expected duplicate portal ids collapsed, got %d items", len(items))
	}
	if items[0].Action != models.ActionUpdate {
		t.Fatalf("first classification must win, got %s", items[0].Action)
	}
}

// A cycle run right after a successful one must not touch the calendar: every
// booking classifies UNCHANGED and the whole plan collapses to skips.
func TestConvergedStateProducesNoWork(t *testing.T) {
	a := portalRecord("HB1", matchBase, time.Hour, "Tanaka / Cut", models.AppointmentStatusConfirmed)
	b := portalRecord("HB2", matchBase.Add(2*time.Hour), time.Hour, "Suzuki / Color", models.AppointmentStatusConfirmed)
	portal := []AppointmentRecord{a, b}
	calendar := []AppointmentRecord{
		calendarRecord("evt-1", matchBase, time.Hour, "Appointment: Tanaka / Cut", "HB1"),
		calendarRecord("evt-2", matchBase.Add(2*time.Hour), time.Hour, "Appointment: Suzuki / Color", "HB2"),
		// an operator's own entry elsewhere in the day stays out of the plan
		{SourceId: "evt-manual", Origin: models.OriginCalendar, Start: matchBase.Add(5 * time.Hour),
			End: matchBase.Add(6 * time.Hour), CustomerLabel: "Staff meeting", Status: models.AppointmentStatusConfirmed},
	}
	mappings := []models.AppointmentMapping{
		activeMapping("HB1", "evt-1", a.Fingerprint),
		activeMapping("HB2", "evt-2", b.Fingerprint),
	}

	conflicts, excluded := DetectConflicts(portal, calendar, mappings)
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts in a converged window, got %+v", conflicts)
	}

	items := BuildPlan(Classify(portal, calendar, mappings), excluded, PlanOptions{})
	for _, item := range items {
		if item.Action != models.ActionSkip {
			t.Fatalf("converged state must plan no mutations, got %s for %s", item.Action, item.PortalId)
		}
	}
}
