package models

import (
	"context"
	"time"

	"bitbucket.org/strandworks/salonsync_backend/config"
)

// SyncTask is a plan item made durable so the dispatcher can drive it through
// the retry state machine (PENDING -> IN_FLIGHT -> RETRY_WAIT -> FAILED|DONE).
// One task per portal id per run; the planner's dedupe guarantees the insert
// side, the unique index guarantees it against races.
type SyncTask struct {
	ID               uint       `gorm:"primary_key" json:"id"`
	SyncRunId        uint       `gorm:"uniqueIndex:idx_task_run_portal,priority:1;not null" json:"sync_run_id"`
	PortalId         string     `gorm:"uniqueIndex:idx_task_run_portal,priority:2;size:128;not null" json:"portal_id"`
	Action           string     `gorm:"size:10;not null" json:"action"`
	MappingId        *uint      `gorm:"index" json:"mapping_id"`
	CalendarEventId  string     `gorm:"size:128" json:"calendar_event_id"`
	PayloadJSON      []byte     `gorm:"type:json" json:"payload"`
	IdempotencyToken string     `gorm:"size:64;not null" json:"idempotency_token"`
	Status           string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_task_dispatch,priority:1" json:"status"`
	Attempts         int        `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_task_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastError        *string    `gorm:"type:text" json:"last_error"`
	FinishedAt       *time.Time `json:"finished_at"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetTasksForRun loads every task row belonging to one run.
func GetTasksForRun(ctx context.Context, runId uint) ([]SyncTask, error) {
	db := config.GetDB()
	var tasks []SyncTask
	err := db.WithContext(ctx).
		Where("sync_run_id = ?", runId).
		Order("id").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// CountOpenTasksForRun reports how many of a run's tasks are still undecided.
// Zero means the dispatcher has drained the run.
func CountOpenTasksForRun(ctx context.Context, runId uint) (int64, error) {
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&SyncTask{}).
		Where("sync_run_id = ?", runId).
		Where("status IN ?", []string{TaskStatusPending, TaskStatusInFlight, TaskStatusRetryWait}).
		Count(&count).Error
	return count, err
}
