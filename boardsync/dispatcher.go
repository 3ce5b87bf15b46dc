package boardsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bitbucket.org/strandworks/salonsync_backend/config"
	"bitbucket.org/strandworks/salonsync_backend/models"
)

// TaskDispatcher polls the sync_tasks table and drives claimed tasks through
// the executor. Claiming uses row locks with SKIP LOCKED so several instances
// can run side by side without double-applying, and IN_FLIGHT rows whose lock
// has gone stale (a crashed worker) are reclaimed after LockTimeout.
type TaskDispatcher struct {
	DB             *gorm.DB
	Calendar       CalendarAPI
	Logger         *logrus.Logger
	DispatcherID   string
	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	BackoffCeiling time.Duration
}

func NewTaskDispatcher(db *gorm.DB, cal CalendarAPI, logger *logrus.Logger) *TaskDispatcher {
	host, _ := os.Hostname()
	return &TaskDispatcher{
		DB:             db,
		Calendar:       cal,
		Logger:         logger,
		DispatcherID:   fmt.Sprintf("%s-%d", host, os.Getpid()),
		BatchSize:      envInt("DISPATCHER_BATCH_SIZE", 20),
		PollInterval:   envSeconds("DISPATCHER_POLL_SECONDS", 5*time.Second),
		LockTimeout:    envSeconds("DISPATCHER_LOCK_TIMEOUT_SECONDS", 2*time.Minute),
		MaxAttempts:    envInt("SYNC_MAX_ATTEMPTS", 5),
		InitialBackoff: envSeconds("RETRY_INITIAL_BACKOFF_SECONDS", 30*time.Second),
		BackoffCeiling: envSeconds("RETRY_BACKOFF_CAP_SECONDS", 5*time.Minute),
	}
}

// Run polls until the context is cancelled.
func (d *TaskDispatcher) Run(ctx context.Context) {
	d.Logger.WithFields(logrus.Fields{
		"dispatcher_id": d.DispatcherID,
		"poll_interval": d.PollInterval.String(),
		"batch_size":    d.BatchSize,
	}).Info("task dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.Logger.Info("task dispatcher stopped")
			return
		case <-time.After(d.PollInterval):
			n, err := d.DispatchOnce(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				config.LogError(d.Logger, "boardsync", "DispatchOnce", "claim batch", nil, err)
			}
			if n > 0 {
				d.Logger.WithField("tasks", n).Debug("dispatched batch")
			}
		}
	}
}

// DispatchOnce claims one batch and executes it. Exported so the one-shot
// cycle command can drain its own tasks without a background loop.
func (d *TaskDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	staleBefore := now.Add(-d.LockTimeout)

	var claimed []models.SyncTask
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tasks []models.SyncTask
		err := tx.
			Where("(status = ?) OR (status = ? AND next_attempt_at <= ?) OR (status = ? AND locked_at <= ?)",
				models.TaskStatusPending,
				models.TaskStatusRetryWait, now,
				models.TaskStatusInFlight, staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Find(&tasks).Error
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}

		ids := make([]uint, 0, len(tasks))
		for i := range tasks {
			ids = append(ids, tasks[i].ID)
		}
		err = tx.Model(&models.SyncTask{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":          models.TaskStatusInFlight,
				"locked_at":       now,
				"locked_by":       d.DispatcherID,
				"attempts":        gorm.Expr("attempts + 1"),
				"next_attempt_at": nil,
			}).Error
		if err != nil {
			return err
		}

		for i := range tasks {
			tasks[i].Status = models.TaskStatusInFlight
			tasks[i].LockedAt = &now
			tasks[i].Attempts++
		}
		claimed = tasks
		return nil
	})
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range claimed {
		task := &claimed[i]
		if ctx.Err() != nil {
			// boundary cancellation: release unstarted work, finished items stay finished
			d.applyDecision(task, failureDecision{Status: models.TaskStatusPending}, ctx.Err())
			continue
		}
		if err := ExecuteTask(ctx, d.DB, d.Calendar, task); err != nil {
			d.handleFailure(task, err)
			continue
		}
		processed++
		d.Logger.WithFields(logrus.Fields{
			"task_id":   task.ID,
			"portal_id": task.PortalId,
			"action":    task.Action,
			"attempt":   task.Attempts,
		}).Debug("task applied")
	}
	return processed, nil
}

func (d *TaskDispatcher) handleFailure(task *models.SyncTask, taskErr error) {
	decision := decideFailure(taskErr, task.Attempts, d.MaxAttempts, d.InitialBackoff, d.BackoffCeiling)

	if decision.Halt {
		if err := SetAuthHalt(taskErr.Error()); err != nil {
			config.LogError(d.Logger, "boardsync", "handleFailure", "set auth halt", nil, err)
		}
		d.Logger.WithFields(logrus.Fields{
			"task_id":   task.ID,
			"portal_id": task.PortalId,
		}).Error("calendar authorization failed, halting sync")
	}

	d.applyDecision(task, decision, taskErr)
}

func (d *TaskDispatcher) applyDecision(task *models.SyncTask, decision failureDecision, taskErr error) {
	updates := map[string]interface{}{
		"status":    decision.Status,
		"locked_at": nil,
		"locked_by": nil,
	}
	if taskErr != nil {
		updates["last_error"] = truncateError(taskErr.Error(), 2000)
	}
	if decision.Status == models.TaskStatusRetryWait {
		updates["next_attempt_at"] = time.Now().UTC().Add(decision.Delay)
	}
	if decision.Status == models.TaskStatusFailed {
		updates["finished_at"] = time.Now().UTC()
	}

	err := d.DB.Model(&models.SyncTask{}).
		Where("id = ?", task.ID).
		Updates(updates).Error
	if err != nil {
		// the stale-lock reclaim picks the row up again after LockTimeout
		config.LogError(d.Logger, "boardsync", "applyDecision", "persist task state", task.ID, err)
		return
	}

	d.Logger.WithFields(logrus.Fields{
		"task_id":   task.ID,
		"portal_id": task.PortalId,
		"action":    task.Action,
		"attempt":   task.Attempts,
		"status":    decision.Status,
	}).Warn("task not applied")
}

// failureDecision is the dispatcher's verdict on one failed execution.
type failureDecision struct {
	Status string
	Delay  time.Duration
	Halt   bool
}

// decideFailure maps an execution error onto the task state machine:
// cancellation releases the claim, credential failures fail the task and halt
// the engine, transient trouble waits out a growing backoff until the attempt
// ceiling, anything else fails immediately.
func decideFailure(taskErr error, attempts, maxAttempts int, initialBackoff, backoffCeiling time.Duration) failureDecision {
	if errors.Is(taskErr, context.Canceled) {
		return failureDecision{Status: models.TaskStatusPending}
	}

	var authErr *AuthError
	if errors.As(taskErr, &authErr) {
		return failureDecision{Status: models.TaskStatusFailed, Halt: true}
	}

	var transient *TransientWriteError
	if errors.As(taskErr, &transient) {
		if attempts < maxAttempts {
			return failureDecision{
				Status: models.TaskStatusRetryWait,
				Delay:  retryBackoff(initialBackoff, backoffCeiling, attempts),
			}
		}
		return failureDecision{Status: models.TaskStatusFailed}
	}

	return failureDecision{Status: models.TaskStatusFailed}
}

// retryBackoff doubles the initial backoff per prior attempt, capped at the
// ceiling. Attempt 1 waits the initial backoff.
func retryBackoff(initial, ceiling time.Duration, attempt int) time.Duration {
	backoff := initial
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > ceiling {
			backoff = ceiling
			break
		}
	}
	if backoff > ceiling {
		backoff = ceiling
	}
	return backoff
}

func truncateError(message string, limit int) string {
	if len(message) <= limit {
		return message
	}
	return message[:limit]
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envSeconds(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return def
}
