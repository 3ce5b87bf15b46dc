// mapping-audit checks sync bookkeeping for rows the engine can no longer
// repair itself. Two scans:
//
//   - duplicate active mappings: the executor keeps at most one non-retired
//     mapping per portal booking and per calendar event; a crash at the wrong
//     moment or a hand-edited table can break that, which makes the matcher
//     double-classify the booking.
//   - orphaned tasks: open tasks (PENDING, IN_FLIGHT, RETRY_WAIT) whose run
//     already finished, or whose run has been RUNNING longer than -stale-after
//     (a crashed process never finalizes its run). The dispatcher would still
//     pick these up and apply a stale plan.
//
// By default the tool only reports. With --repair it retires every duplicate
// except the most recently synced row in each group, and fails the orphans.
//
// Usage (from backend directory):
//   DB_USER=... go run ./cmd/mapping-audit
//   DB_USER=... go run ./cmd/mapping-audit --repair --dry-run=false --confirm=REPAIR_SYNC_STATE
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/strandworks/salonsync_backend/config"
	"bitbucket.org/strandworks/salonsync_backend/models"
)

type orphanedTask struct {
	ID           uint
	SyncRunId    uint
	PortalId     string
	Action       string
	Status       string
	Attempts     int
	RunStatus    string
	RunStartedAt time.Time
}

func main() {
	repair := flag.Bool("repair", false, "Retire duplicate active mappings and fail orphaned tasks")
	dryRun := flag.Bool("dry-run", true, "Report only (no writes)")
	confirm := flag.String("confirm", "", "Type REPAIR_SYNC_STATE to proceed when dry-run=false")
	staleAfter := flag.Duration("stale-after", time.Hour, "Treat a still-RUNNING run older than this as crashed")
	flag.Parse()

	if *repair && !*dryRun && strings.TrimSpace(*confirm) != "REPAIR_SYNC_STATE" {
		fmt.Fprintln(os.Stderr, "set --confirm=REPAIR_SYNC_STATE to proceed")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	var active []models.AppointmentMapping
	if err := db.Where("retired = ?", false).Order("portal_id").Find(&active).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to load mappings: %v\n", err)
		os.Exit(1)
	}

	byPortal := groupBy(active, func(m models.AppointmentMapping) string { return m.PortalId })
	byEvent := groupBy(active, func(m models.AppointmentMapping) string { return m.CalendarEventId })

	var retire []models.AppointmentMapping
	violations := 0
	for key, group := range byPortal {
		if len(group) < 2 {
			continue
		}
		violations++
		fmt.Printf("portal_id %q has %d active mappings:\n", key, len(group))
		retire = append(retire, reportGroup(group)...)
	}
	for key, group := range byEvent {
		if key == "" || len(group) < 2 {
			continue
		}
		violations++
		fmt.Printf("calendar_event_id %q claimed by %d active mappings:\n", key, len(group))
		retire = append(retire, reportGroup(group)...)
	}

	orphans, err := loadOrphanedTasks(db, *staleAfter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to scan tasks: %v\n", err)
		os.Exit(1)
	}
	if len(orphans) > 0 {
		violations++
		fmt.Printf("%d orphaned task(s) still open on finished or stale runs:\n", len(orphans))
		for _, t := range orphans {
			fmt.Printf("  task=%d run=%d(%s started %s) portal_id=%s action=%s status=%s attempts=%d\n",
				t.ID, t.SyncRunId, t.RunStatus, t.RunStartedAt.Format(time.RFC3339),
				t.PortalId, t.Action, t.Status, t.Attempts)
		}
	}

	if violations == 0 {
		fmt.Printf("ok: %d active mappings, no duplicates, no orphaned tasks\n", len(active))
		return
	}
	if !*repair || *dryRun {
		fmt.Printf("%d violation group(s); rerun with --repair --dry-run=false --confirm=REPAIR_SYNC_STATE to fix\n", violations)
		os.Exit(2)
	}

	retired := 0
	failed := 0
	err = db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		seen := map[uint]bool{}
		for _, m := range retire {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			res := tx.Model(&models.AppointmentMapping{}).
				Where("id = ? AND retired = ?", m.ID, false).
				Updates(map[string]interface{}{"retired": true, "retired_at": now})
			if res.Error != nil {
				return res.Error
			}
			retired += int(res.RowsAffected)
		}
		for _, t := range orphans {
			res := tx.Model(&models.SyncTask{}).
				Where("id = ? AND status IN ?", t.ID, []string{
					models.TaskStatusPending, models.TaskStatusInFlight, models.TaskStatusRetryWait,
				}).
				Updates(map[string]interface{}{
					"status":      models.TaskStatusFailed,
					"last_error":  "orphaned: run finished without this task",
					"finished_at": now,
					"locked_at":   nil,
					"locked_by":   nil,
				})
			if res.Error != nil {
				return res.Error
			}
			failed += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "repair failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("retired %d duplicate mapping(s), failed %d orphaned task(s)\n", retired, failed)
}

func loadOrphanedTasks(db *gorm.DB, staleAfter time.Duration) ([]orphanedTask, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	var orphans []orphanedTask
	err := db.Table("sync_tasks").
		Select("sync_tasks.id, sync_tasks.sync_run_id, sync_tasks.portal_id, sync_tasks.action, sync_tasks.status, sync_tasks.attempts, sync_runs.status AS run_status, sync_runs.started_at AS run_started_at").
		Joins("JOIN sync_runs ON sync_runs.id = sync_tasks.sync_run_id").
		Where("sync_tasks.status IN ?", []string{
			models.TaskStatusPending, models.TaskStatusInFlight, models.TaskStatusRetryWait,
		}).
		Where("sync_runs.status <> ? OR sync_runs.started_at < ?", models.RunStatusRunning, cutoff).
		Order("sync_tasks.id").
		Scan(&orphans).Error
	return orphans, err
}

func groupBy(mappings []models.AppointmentMapping, key func(models.AppointmentMapping) string) map[string][]models.AppointmentMapping {
	out := map[string][]models.AppointmentMapping{}
	for _, m := range mappings {
		out[key(m)] = append(out[key(m)], m)
	}
	return out
}

// reportGroup prints every row in a duplicate group and returns all but the
// row to keep: latest last_synced_at wins, then highest id.
func reportGroup(group []models.AppointmentMapping) []models.AppointmentMapping {
	sort.Slice(group, func(i, j int) bool {
		a, b := group[i], group[j]
		switch {
		case a.LastSyncedAt == nil && b.LastSyncedAt != nil:
			return false
		case a.LastSyncedAt != nil && b.LastSyncedAt == nil:
			return true
		case a.LastSyncedAt != nil && b.LastSyncedAt != nil && !a.LastSyncedAt.Equal(*b.LastSyncedAt):
			return a.LastSyncedAt.After(*b.LastSyncedAt)
		}
		return a.ID > b.ID
	})
	for i, m := range group {
		verdict := "retire"
		if i == 0 {
			verdict = "keep"
		}
		syncedAt := "never"
		if m.LastSyncedAt != nil {
			syncedAt = m.LastSyncedAt.Format(time.RFC3339)
		}
		fmt.Printf("  id=%d portal_id=%s event_id=%s last_synced=%s -> %s\n",
			m.ID, m.PortalId, m.CalendarEventId, syncedAt, verdict)
	}
	return group[1:]
}
