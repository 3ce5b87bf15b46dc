package boardsync

import (
	"sort"

	"bitbucket.org/strandworks/salonsync_backend/models"
)

// Classify pairs every portal record with its mapping and decides what, if
// anything, changed. It is a pure function of the two snapshots and the
// active mapping rows: no clock, no randomness, output sorted by portal id.
//
// Mappings referenced by neither snapshot are left unclassified; their
// appointments have moved outside the sync window and must not be touched.
func Classify(portal []AppointmentRecord, calendar []AppointmentRecord, mappings []models.AppointmentMapping) []MatchResult {
	byPortalId := make(map[string]*models.AppointmentMapping, len(mappings))
	for i := range mappings {
		byPortalId[mappings[i].PortalId] = &mappings[i]
	}

	eventPresent := make(map[string]bool, len(calendar))
	for i := range calendar {
		eventPresent[calendar[i].SourceId] = true
	}

	results := make([]MatchResult, 0, len(portal))
	claimed := make(map[string]bool, len(portal))

	for i := range portal {
		record := &portal[i]
		claimed[record.SourceId] = true
		mapping := byPortalId[record.SourceId]

		switch {
		case mapping == nil || mapping.CalendarEventId == "":
			if record.Status == models.AppointmentStatusCancelled {
				// cancelled before we ever created an event: nothing to do
				results = append(results, MatchResult{
					PortalId:       record.SourceId,
					Classification: models.ClassificationUnchanged,
					Record:         record,
					Mapping:        mapping,
				})
				continue
			}
			results = append(results, MatchResult{
				PortalId:       record.SourceId,
				Classification: models.ClassificationNew,
				Record:         record,
				Mapping:        mapping,
			})
		case record.Status == models.AppointmentStatusCancelled:
			results = append(results, MatchResult{
				PortalId:       record.SourceId,
				Classification: models.ClassificationRemoved,
				Record:         record,
				Mapping:        mapping,
			})
		case !eventPresent[mapping.CalendarEventId]:
			results = append(results, MatchResult{
				PortalId:       record.SourceId,
				Classification: models.ClassificationExternallyDeleted,
				Record:         record,
				Mapping:        mapping,
			})
		case record.Fingerprint == mapping.LastFingerprint:
			results = append(results, MatchResult{
				PortalId:       record.SourceId,
				Classification: models.ClassificationUnchanged,
				Record:         record,
				Mapping:        mapping,
			})
		default:
			results = append(results, MatchResult{
				PortalId:       record.SourceId,
				Classification: models.ClassificationModified,
				Record:         record,
				Mapping:        mapping,
			})
		}
	}

	// Mappings whose booking vanished from the board while the calendar event
	// is still inside the window: the booking was deleted upstream.
	for i := range mappings {
		mapping := &mappings[i]
		if claimed[mapping.PortalId] {
			continue
		}
		if mapping.CalendarEventId == "" || !eventPresent[mapping.CalendarEventId] {
			continue
		}
		results = append(results, MatchResult{
			PortalId:       mapping.PortalId,
			Classification: models.ClassificationRemoved,
			Mapping:        mapping,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].PortalId < results[j].PortalId })
	return results
}
