package boardsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"bitbucket.org/strandworks/salonsync_backend/config"
	"bitbucket.org/strandworks/salonsync_backend/models"
	"bitbucket.org/strandworks/salonsync_backend/utils"
)

// cycleLockKey serializes cycles across instances. The lease TTL outlives the
// longest legitimate cycle; a crashed holder simply lets it expire.
const cycleLockKey = "boardsync:cycle"

var ErrCycleInFlight = errors.New("a sync cycle is already running")

// Engine owns one full reconciliation cycle: fetch both snapshots, classify,
// detect conflicts, plan, persist tasks and wait for the dispatcher to drain
// them. The engine is the only writer of the mapping table (through the
// executor); everything before task persistence is pure computation.
//
// The zero value is usable. Unset fields resolve at use time to the shared
// config handles (database, logger, Google calendar) and a scraper client
// built from the environment, so the engine can be constructed before the
// connections come up. Tests inject fakes through the fields.
type Engine struct {
	DB       *gorm.DB
	Portal   PortalSource
	Calendar CalendarAPI
	Logger   *logrus.Logger

	portalOnce sync.Once
	portalEnv  PortalSource
	portalErr  error

	mu           sync.Mutex
	cancelActive context.CancelFunc
	activeRunId  uint
}

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) database() *gorm.DB {
	if e.DB != nil {
		return e.DB
	}
	return config.GetDB()
}

func (e *Engine) logger() *logrus.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return config.GetLogger()
}

func (e *Engine) portalSource() (PortalSource, error) {
	if e.Portal != nil {
		return e.Portal, nil
	}
	e.portalOnce.Do(func() {
		e.portalEnv, e.portalErr = newScraperClientFromEnv()
	})
	return e.portalEnv, e.portalErr
}

func (e *Engine) calendarAPI() CalendarAPI {
	if e.Calendar != nil {
		return e.Calendar
	}
	return &GoogleCalendar{}
}

func cycleLockTTL() time.Duration {
	return envSeconds("CYCLE_LOCK_TTL_SECONDS", 10*time.Minute)
}

func syncWindowDays() int {
	return envInt("SYNC_WINDOW_DAYS", 30)
}

// CycleBusy reports whether the cycle lease is currently held. The trigger
// endpoint uses it to answer 409 instead of silently queueing.
func CycleBusy(ctx context.Context) bool {
	rdb := config.GetRedisDB()
	if rdb == nil {
		return false
	}
	n, err := rdb.Exists(ctx, cycleLockKey).Result()
	return err == nil && n > 0
}

// CancelActive stops the running cycle at the next plan-item boundary.
// Returns the run id that was told to stop, or false when nothing runs.
func (e *Engine) CancelActive() (uint, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelActive == nil {
		return 0, false
	}
	e.cancelActive()
	return e.activeRunId, true
}

func (e *Engine) registerActive(runId uint, cancel context.CancelFunc) {
	e.mu.Lock()
	e.activeRunId = runId
	e.cancelActive = cancel
	e.mu.Unlock()
}

func (e *Engine) clearActive() {
	e.mu.Lock()
	e.activeRunId = 0
	e.cancelActive = nil
	e.mu.Unlock()
}

// RunCycle executes one reconciliation cycle and always leaves a SyncRun row
// behind, aborted or completed. It refuses to start while the auth halt is
// latched or another cycle holds the lease.
func (e *Engine) RunCycle(ctx context.Context, trigger string) (*models.SyncRun, error) {
	if halted, reason := AuthHalted(); halted {
		return nil, fmt.Errorf("%w: %s", ErrSyncHalted, reason)
	}

	lock, err := utils.AcquireLease(ctx, cycleLockKey, cycleLockTTL(), "boardsync", "RunCycle")
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrCycleInFlight
		}
		return nil, err
	}
	defer func() {
		if releaseErr := lock.Release(context.Background()); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
			config.LogError(e.logger(), "boardsync", "RunCycle", "release cycle lease", nil, releaseErr)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startedAt := time.Now().UTC()
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	run := &models.SyncRun{
		TriggeredBy:   trigger,
		Status:        models.RunStatusRunning,
		CorrelationId: correlationId,
		StartedAt:     startedAt,
	}
	if err := e.database().WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("create run row: %w", err)
	}

	e.registerActive(run.ID, cancel)
	defer e.clearActive()

	log := e.logger().WithFields(logrus.Fields{
		"run_id":  run.ID,
		"trigger": trigger,
	})
	log.Info("sync cycle started")

	report, err := e.runPhases(ctx, run, startedAt)
	if err != nil {
		e.abortRun(ctx, run, startedAt, err)
		e.notify(run, report)
		return run, err
	}

	e.notify(run, report)
	log.WithFields(logrus.Fields{
		"created":   run.Created,
		"updated":   run.Updated,
		"deleted":   run.Deleted,
		"conflicts": run.Conflicts,
		"failures":  run.Failures,
		"warnings":  run.Warnings,
	}).Info("sync cycle finished")
	return run, nil
}

// runPhases is the cycle body between run-row creation and finalization.
func (e *Engine) runPhases(ctx context.Context, run *models.SyncRun, startedAt time.Time) (*SyncReport, error) {
	windowFrom := startedAt
	windowTo := startedAt.AddDate(0, 0, syncWindowDays())

	portal, portalErr := e.portalSource()
	if portalErr != nil {
		return nil, &ScrapeError{Err: portalErr}
	}
	cal := e.calendarAPI()

	// both snapshots are independent reads, fetch them side by side
	var (
		rawPortal []RawPortalAppointment
		rawEvents []RawCalendarEvent
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		appointments, err := portal.FetchAppointments(groupCtx, windowFrom, windowTo)
		if err != nil {
			return &ScrapeError{Err: err}
		}
		rawPortal = appointments
		return nil
	})
	group.Go(func() error {
		events, err := cal.ListEvents(groupCtx, windowFrom, windowTo)
		if err != nil {
			var authErr *AuthError
			if errors.As(err, &authErr) {
				return err
			}
			return &CalendarFetchError{Err: err}
		}
		rawEvents = events
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	if config.ArchiveSnapshots() {
		e.archiveSnapshots(ctx, run, rawPortal, rawEvents)
	}

	portalRecords, portalWarnings := NormalizePortal(rawPortal)
	calendarRecords, calendarWarnings := NormalizeCalendar(rawEvents)
	warnings := append(portalWarnings, calendarWarnings...)

	var mappings []models.AppointmentMapping
	err := e.database().WithContext(ctx).
		Where("retired = ?", false).
		Order("portal_id").
		Find(&mappings).Error
	if err != nil {
		return nil, fmt.Errorf("load mappings: %w", err)
	}

	results := Classify(portalRecords, calendarRecords, mappings)
	conflicts, excluded := DetectConflicts(portalRecords, calendarRecords, mappings)
	if err := e.persistConflicts(ctx, run.ID, conflicts); err != nil {
		return nil, fmt.Errorf("persist conflicts: %w", err)
	}

	plan := BuildPlan(results, excluded, PlanOptions{
		AutoRecreateExternallyDeleted: config.AutoRecreateExternallyDeleted(),
	})
	for _, item := range plan {
		if item.Action == models.ActionSkip && item.Reason != reasonNoChange {
			warnings = append(warnings, NormalizationWarning{
				Origin:   models.OriginPortal,
				SourceId: item.PortalId,
				Field:    "plan",
				Message:  item.Reason,
			})
		}
	}

	taskCount, err := e.persistTasks(ctx, run.ID, plan)
	if err != nil {
		return nil, fmt.Errorf("persist tasks: %w", err)
	}

	if taskCount > 0 {
		if err := e.waitForDrain(ctx, run.ID); err != nil {
			return nil, err
		}
	}

	return e.finalizeRun(ctx, run, startedAt, len(rawPortal), len(rawEvents), len(conflicts), warnings)
}

// persistConflicts appends this cycle's conflict records to the audit trail.
func (e *Engine) persistConflicts(ctx context.Context, runId uint, conflicts []Conflict) error {
	if len(conflicts) == 0 {
		return nil
	}
	rows := make([]models.ConflictRecord, 0, len(conflicts))
	for _, c := range conflicts {
		rows = append(rows, models.ConflictRecord{
			SyncRunId:    runId,
			Kind:         c.Kind,
			Resolution:   c.Resolution,
			Reason:       c.Reason,
			FirstOrigin:  c.First.Origin,
			FirstId:      c.First.SourceId,
			FirstStart:   c.First.Start,
			FirstEnd:     c.First.End,
			FirstLabel:   c.First.CustomerLabel,
			SecondOrigin: c.Second.Origin,
			SecondId:     c.Second.SourceId,
			SecondStart:  c.Second.Start,
			SecondEnd:    c.Second.End,
			SecondLabel:  c.Second.CustomerLabel,
		})
	}
	return e.database().WithContext(ctx).Create(&rows).Error
}

// persistTasks turns actionable plan items into PENDING task rows for the
// dispatcher. Skips never become tasks.
func (e *Engine) persistTasks(ctx context.Context, runId uint, plan []PlanItem) (int, error) {
	tasks := make([]models.SyncTask, 0, len(plan))
	for _, item := range plan {
		if item.Action == models.ActionSkip {
			continue
		}

		task := models.SyncTask{
			SyncRunId:        runId,
			PortalId:         item.PortalId,
			Action:           item.Action,
			IdempotencyToken: newSyncToken(),
			Status:           models.TaskStatusPending,
		}
		if item.Mapping != nil {
			task.MappingId = &item.Mapping.ID
			task.CalendarEventId = item.Mapping.CalendarEventId
		}
		if item.Action != models.ActionDelete {
			payloadJSON, err := utils.MarshalToJSON(BuildEventPayload(item.Record))
			if err != nil {
				return 0, err
			}
			task.PayloadJSON = []byte(payloadJSON)
		}
		tasks = append(tasks, task)
	}

	if len(tasks) == 0 {
		return 0, nil
	}
	if err := e.database().WithContext(ctx).Create(&tasks).Error; err != nil {
		return 0, err
	}
	return len(tasks), nil
}

// waitForDrain blocks until every task of the run reaches DONE or FAILED.
// Cancellation releases the wait; the abort path then fails leftover tasks so
// nothing from a dead run fires later.
func (e *Engine) waitForDrain(ctx context.Context, runId uint) error {
	deadline := time.Now().Add(drainTimeout())
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			open, err := models.CountOpenTasksForRun(ctx, runId)
			if err != nil {
				return fmt.Errorf("count open tasks: %w", err)
			}
			if open == 0 {
				return nil
			}
			if halted, reason := AuthHalted(); halted {
				return fmt.Errorf("%w: %s", ErrSyncHalted, reason)
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("run %d still has %d open tasks after %s", runId, open, drainTimeout())
			}
		}
	}
}

func drainTimeout() time.Duration {
	ttl := cycleLockTTL()
	if ttl > 2*time.Minute {
		return ttl - time.Minute
	}
	return ttl / 2
}

// finalizeRun tallies task outcomes into the run row and builds the report.
func (e *Engine) finalizeRun(ctx context.Context, run *models.SyncRun, startedAt time.Time, portalCount, calendarCount, conflictCount int, warnings []NormalizationWarning) (*SyncReport, error) {
	type tally struct {
		Action string
		Status string
		N      int
	}
	var tallies []tally
	err := e.database().WithContext(ctx).Model(&models.SyncTask{}).
		Select("action, status, count(*) as n").
		Where("sync_run_id = ?", run.ID).
		Group("action, status").
		Scan(&tallies).Error
	if err != nil {
		return nil, fmt.Errorf("tally tasks: %w", err)
	}

	var created, updated, deleted, failures int
	for _, t := range tallies {
		if t.Status == models.TaskStatusDone {
			switch t.Action {
			case models.ActionCreate:
				created += t.N
			case models.ActionUpdate:
				updated += t.N
			case models.ActionDelete:
				deleted += t.N
			}
			continue
		}
		failures += t.N
	}

	warningMessages := make([]string, 0, len(warnings))
	for _, w := range warnings {
		warningMessages = append(warningMessages, w.String())
	}
	warningsJSON, err := utils.MarshalToJSON(warningMessages)
	if err != nil {
		return nil, err
	}

	finishedAt := time.Now().UTC()
	durationMs := finishedAt.Sub(startedAt).Milliseconds()

	run.Status = models.RunStatusCompleted
	run.Created = created
	run.Updated = updated
	run.Deleted = deleted
	run.Conflicts = conflictCount
	run.Failures = failures
	run.Warnings = len(warnings)
	run.WarningsJSON = []byte(warningsJSON)
	run.PortalCount = portalCount
	run.CalendarCount = calendarCount
	run.FinishedAt = &finishedAt
	run.DurationMs = durationMs

	err = e.database().WithContext(ctx).Model(&models.SyncRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"status":         run.Status,
			"created":        created,
			"updated":        updated,
			"deleted":        deleted,
			"conflicts":      conflictCount,
			"failures":       failures,
			"warnings":       len(warnings),
			"warnings_json":  run.WarningsJSON,
			"portal_count":   portalCount,
			"calendar_count": calendarCount,
			"finished_at":    finishedAt,
			"duration_ms":    durationMs,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("finalize run: %w", err)
	}

	return &SyncReport{
		RunId:           run.ID,
		Status:          run.Status,
		Created:         created,
		Updated:         updated,
		Deleted:         deleted,
		Conflicts:       conflictCount,
		Failures:        failures,
		Warnings:        len(warnings),
		WarningMessages: warningMessages,
		DurationMs:      durationMs,
	}, nil
}

// abortRun marks the run ABORTED, fails its leftover tasks and latches the
// auth halt when credentials were the cause. Uses a fresh context because the
// cycle context may already be cancelled.
func (e *Engine) abortRun(ctx context.Context, run *models.SyncRun, startedAt time.Time, cause error) {
	dbCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var authErr *AuthError
	if errors.As(cause, &authErr) {
		if err := SetAuthHalt(cause.Error()); err != nil {
			config.LogError(e.logger(), "boardsync", "abortRun", "set auth halt", nil, err)
		}
	}

	reason := cause.Error()
	if errors.Is(cause, context.Canceled) {
		reason = "cancelled by operator"
	}

	err := e.database().WithContext(dbCtx).Model(&models.SyncTask{}).
		Where("sync_run_id = ?", run.ID).
		Where("status IN ?", []string{models.TaskStatusPending, models.TaskStatusInFlight, models.TaskStatusRetryWait}).
		Updates(map[string]interface{}{
			"status":      models.TaskStatusFailed,
			"last_error":  "run aborted: " + truncateError(reason, 1900),
			"finished_at": time.Now().UTC(),
			"locked_at":   nil,
			"locked_by":   nil,
		}).Error
	if err != nil {
		config.LogError(e.logger(), "boardsync", "abortRun", "fail leftover tasks", run.ID, err)
	}

	finishedAt := time.Now().UTC()
	err = e.database().WithContext(dbCtx).Model(&models.SyncRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"status":       models.RunStatusAborted,
			"abort_reason": reason,
			"finished_at":  finishedAt,
			"duration_ms":  finishedAt.Sub(startedAt).Milliseconds(),
		}).Error
	if err != nil {
		config.LogError(e.logger(), "boardsync", "abortRun", "mark run aborted", run.ID, err)
	}

	run.Status = models.RunStatusAborted
	run.AbortReason = reason
	run.FinishedAt = &finishedAt

	e.logger().WithFields(logrus.Fields{
		"run_id": run.ID,
		"reason": reason,
	}).Error("sync cycle aborted")
}

// archiveSnapshots stores the raw payloads for later diagnosis. Failures only
// log; archiving never blocks a cycle.
func (e *Engine) archiveSnapshots(ctx context.Context, run *models.SyncRun, rawPortal []RawPortalAppointment, rawEvents []RawCalendarEvent) {
	snapshot := map[string]interface{}{
		"run_id":   run.ID,
		"taken_at": time.Now().UTC(),
		"portal":   rawPortal,
		"calendar": rawEvents,
	}
	payload, err := utils.MarshalToJSON(snapshot)
	if err != nil {
		config.LogError(e.logger(), "boardsync", "archiveSnapshots", "marshal snapshot", run.ID, err)
		return
	}

	objectName := fmt.Sprintf("snapshots/%s/run-%d.json", run.StartedAt.Format("2006/01/02"), run.ID)
	if err := utils.ArchiveBytes(ctx, objectName, []byte(payload), "application/json"); err != nil {
		config.LogError(e.logger(), "boardsync", "archiveSnapshots", "store snapshot", objectName, err)
		return
	}

	if err := e.database().WithContext(ctx).Model(&models.SyncRun{}).
		Where("id = ?", run.ID).
		Update("archive_object", objectName).Error; err != nil {
		config.LogError(e.logger(), "boardsync", "archiveSnapshots", "record archive object", run.ID, err)
	}
}

// notify publishes the report; a publish failure is logged, never fatal.
func (e *Engine) notify(run *models.SyncRun, report *SyncReport) {
	if report == nil {
		report = &SyncReport{
			RunId:       run.ID,
			Status:      run.Status,
			AbortReason: run.AbortReason,
		}
	}
	PublishReport(e.logger(), report)
}

func newSyncToken() string {
	return uuid.NewString()
}
