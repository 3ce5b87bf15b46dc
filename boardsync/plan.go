package boardsync

import (
	"sort"

	"bitbucket.org/strandworks/salonsync_backend/models"
)

// PlanOptions carries the policy switches that shape a plan.
type PlanOptions struct {
	// AutoRecreateExternallyDeleted turns externally deleted events back into
	// CREATE items instead of flag-and-skip.
	AutoRecreateExternallyDeleted bool
}

// reasonNoChange marks the one skip variety that is not worth a warning.
const reasonNoChange = "no change"

// actionRank orders execution so a freed slot is emptied before anything new
// lands in it: deletes, then updates, then creates, skips trailing.
var actionRank = map[string]int{
	models.ActionDelete: 0,
	models.ActionUpdate: 1,
	models.ActionCreate: 2,
	models.ActionSkip:   3,
}

// BuildPlan turns classifications into intended calendar mutations. At most
// one item per portal id survives; the first classification for an id wins.
func BuildPlan(results []MatchResult, excluded map[string]bool, opts PlanOptions) []PlanItem {
	items := make([]PlanItem, 0, len(results))
	planned := make(map[string]bool, len(results))

	for i := range results {
		result := results[i]
		if planned[result.PortalId] {
			continue
		}
		planned[result.PortalId] = true

		if excluded[result.PortalId] {
			items = append(items, PlanItem{
				Action:   models.ActionSkip,
				PortalId: result.PortalId,
				Record:   result.Record,
				Mapping:  result.Mapping,
				Reason:   "withheld pending manual review of a double-booking",
			})
			continue
		}

		switch result.Classification {
		case models.ClassificationNew:
			items = append(items, PlanItem{
				Action:   models.ActionCreate,
				PortalId: result.PortalId,
				Record:   result.Record,
				Mapping:  result.Mapping,
				Reason:   "new booking",
			})
		case models.ClassificationModified:
			items = append(items, PlanItem{
				Action:   models.ActionUpdate,
				PortalId: result.PortalId,
				Record:   result.Record,
				Mapping:  result.Mapping,
				Reason:   "booking details changed",
			})
		case models.ClassificationRemoved:
			items = append(items, PlanItem{
				Action:   models.ActionDelete,
				PortalId: result.PortalId,
				Record:   result.Record,
				Mapping:  result.Mapping,
				Reason:   "booking cancelled or withdrawn",
			})
		case models.ClassificationExternallyDeleted:
			if opts.AutoRecreateExternallyDeleted {
				items = append(items, PlanItem{
					Action:   models.ActionCreate,
					PortalId: result.PortalId,
					Record:   result.Record,
					Mapping:  result.Mapping,
					Reason:   "recreating event deleted outside the engine",
				})
				continue
			}
			items = append(items, PlanItem{
				Action:   models.ActionSkip,
				PortalId: result.PortalId,
				Record:   result.Record,
				Mapping:  result.Mapping,
				Reason:   "calendar event deleted outside the engine, awaiting confirmation",
			})
		default:
			items = append(items, PlanItem{
				Action:   models.ActionSkip,
				PortalId: result.PortalId,
				Record:   result.Record,
				Mapping:  result.Mapping,
				Reason:   reasonNoChange,
			})
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if actionRank[items[i].Action] != actionRank[items[j].Action] {
			return actionRank[items[i].Action] < actionRank[items[j].Action]
		}
		return items[i].PortalId < items[j].PortalId
	})
	return items
}
