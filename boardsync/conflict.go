package boardsync

import (
	"fmt"
	"sort"

	"bitbucket.org/strandworks/salonsync_backend/models"
)

// DetectConflicts inspects every CONFIRMED appointment that will occupy the
// calendar after the cycle applies its changes: the portal snapshot plus
// calendar entries someone added by hand. Two occupants conflict when their
// [start, end) ranges overlap, so back-to-back bookings never collide.
//
// Policy: against a manual calendar entry the portal booking proceeds and the
// overlap is recorded for the operator. Two overlapping portal bookings are a
// double-booking upstream; both are excluded from the plan and flagged for
// manual review. Returns the conflicts plus the portal ids to withhold.
func DetectConflicts(portal []AppointmentRecord, calendar []AppointmentRecord, mappings []models.AppointmentMapping) ([]Conflict, map[string]bool) {
	mappedEvent := make(map[string]bool, len(mappings))
	for i := range mappings {
		if mappings[i].CalendarEventId != "" {
			mappedEvent[mappings[i].CalendarEventId] = true
		}
	}

	candidates := make([]AppointmentRecord, 0, len(portal)+len(calendar))
	for _, r := range portal {
		if r.Status == models.AppointmentStatusConfirmed {
			candidates = append(candidates, r)
		}
	}
	for _, r := range calendar {
		if r.Status != models.AppointmentStatusConfirmed {
			continue
		}
		if r.PortalRef != "" || mappedEvent[r.SourceId] {
			// engine-owned event, already represented by its portal record
			continue
		}
		candidates = append(candidates, r)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.Origin != b.Origin {
			return a.Origin < b.Origin
		}
		return a.SourceId < b.SourceId
	})

	conflicts := []Conflict{}
	excluded := map[string]bool{}

	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if !candidates[j].Start.Before(candidates[i].End) {
				break
			}
			a, b := candidates[i], candidates[j]
			bothPortal := a.Origin == models.OriginPortal && b.Origin == models.OriginPortal
			if !bothPortal && a.Origin == b.Origin {
				// two manual calendar entries overlapping each other is the
				// calendar owner's business, not the sync engine's
				continue
			}

			conflict := Conflict{
				First:  a,
				Second: b,
				Reason: fmt.Sprintf("%s overlaps %s", occupancyWindow(a), occupancyWindow(b)),
			}
			if bothPortal {
				conflict.Kind = models.ConflictKindPortalPortal
				conflict.Resolution = models.ResolutionManualReviewRequired
				excluded[a.SourceId] = true
				excluded[b.SourceId] = true
			} else {
				conflict.Kind = models.ConflictKindPortalCalendar
				conflict.Resolution = models.ResolutionPortalWins
			}
			conflicts = append(conflicts, conflict)
		}
	}

	return conflicts, excluded
}

func occupancyWindow(r AppointmentRecord) string {
	loc := portalLocation()
	return fmt.Sprintf("%s [%s %s-%s]",
		r.CustomerLabel,
		r.Start.In(loc).Format("2006-01-02"),
		r.Start.In(loc).Format("15:04"),
		r.End.In(loc).Format("15:04"))
}
