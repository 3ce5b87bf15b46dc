package boardsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/strandworks/salonsync_backend/models"
	"bitbucket.org/strandworks/salonsync_backend/utils"
)

// calendarCallTimeout bounds every single remote calendar call. A call that
// outlives it is treated as transient and retried, not as a cycle failure.
func calendarCallTimeout() time.Duration {
	return envSeconds("CALENDAR_CALL_TIMEOUT_SECONDS", 20*time.Second)
}

// remoteOutcome reports what a successful remote application did.
type remoteOutcome struct {
	EventId     string
	Adopted     bool // CREATE found the event a previous attempt already made
	AlreadyGone bool // DELETE target no longer existed
}

// applyRemote performs the calendar side of one task without touching the
// database. A CREATE searches for its idempotency token before inserting, so
// a retry after a crash adopts the event it already made instead of
// duplicating it. A DELETE whose target is already gone counts as done.
func applyRemote(ctx context.Context, cal CalendarAPI, task *models.SyncTask, payload *EventPayload) (*remoteOutcome, error) {
	switch task.Action {
	case models.ActionCreate:
		existing, err := cal.FindEventBySyncToken(ctx, task.IdempotencyToken)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &remoteOutcome{EventId: existing.EventId, Adopted: true}, nil
		}
		eventId, err := cal.InsertEvent(ctx, *payload, task.PortalId, task.IdempotencyToken)
		if err != nil {
			return nil, err
		}
		return &remoteOutcome{EventId: eventId}, nil

	case models.ActionUpdate:
		if err := cal.UpdateEvent(ctx, task.CalendarEventId, *payload, task.PortalId, task.IdempotencyToken); err != nil {
			return nil, err
		}
		return &remoteOutcome{EventId: task.CalendarEventId}, nil

	case models.ActionDelete:
		err := cal.DeleteEvent(ctx, task.CalendarEventId)
		var notFound *NotFoundError
		if errors.As(err, &notFound) {
			return &remoteOutcome{EventId: task.CalendarEventId, AlreadyGone: true}, nil
		}
		if err != nil {
			return nil, err
		}
		return &remoteOutcome{EventId: task.CalendarEventId}, nil

	default:
		return nil, fmt.Errorf("unknown task action %q", task.Action)
	}
}

// ExecuteTask drives one claimed task end to end: the remote write under the
// per-call timeout, then mapping and task state persisted in one transaction.
// Remote errors come back unchanged so the dispatcher can decide retry,
// fail or halt.
func ExecuteTask(ctx context.Context, db *gorm.DB, cal CalendarAPI, task *models.SyncTask) error {
	var payload *EventPayload
	if task.Action == models.ActionCreate || task.Action == models.ActionUpdate {
		var decoded EventPayload
		if err := utils.UnmarshalFromJSON(task.PayloadJSON, &decoded); err != nil {
			return fmt.Errorf("undecodable task payload: %w", err)
		}
		payload = &decoded
	}

	callCtx, cancel := context.WithTimeout(ctx, calendarCallTimeout())
	defer cancel()
	outcome, err := applyRemote(callCtx, cal, task, payload)
	if err != nil {
		return err
	}

	return finalizeTask(ctx, db, task, payload, outcome)
}

// finalizeTask commits the durable side of a successful remote write. Mapping
// and task move together or not at all; a crash in between leaves the task
// claimable and the idempotency token makes the replay harmless.
func finalizeTask(ctx context.Context, db *gorm.DB, task *models.SyncTask, payload *EventPayload, outcome *remoteOutcome) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch task.Action {
		case models.ActionCreate:
			if task.MappingId != nil {
				err := tx.Model(&models.AppointmentMapping{}).
					Where("id = ?", *task.MappingId).
					Updates(map[string]interface{}{
						"calendar_event_id": outcome.EventId,
						"last_fingerprint":  payload.Fingerprint,
						"last_synced_at":    now,
						"retired":           false,
						"retired_at":        nil,
					}).Error
				if err != nil {
					return err
				}
				break
			}
			// keep the one-active-row-per-portal-id invariant before inserting
			err := tx.Model(&models.AppointmentMapping{}).
				Where("portal_id = ? AND retired = ?", task.PortalId, false).
				Updates(map[string]interface{}{"retired": true, "retired_at": now}).Error
			if err != nil {
				return err
			}
			mapping := models.AppointmentMapping{
				PortalId:        task.PortalId,
				CalendarEventId: outcome.EventId,
				LastFingerprint: payload.Fingerprint,
				LastSyncedAt:    &now,
			}
			if err := tx.Create(&mapping).Error; err != nil {
				return err
			}

		case models.ActionUpdate:
			err := mappingScope(tx, task).
				Updates(map[string]interface{}{
					"last_fingerprint": payload.Fingerprint,
					"last_synced_at":   now,
				}).Error
			if err != nil {
				return err
			}

		case models.ActionDelete:
			err := mappingScope(tx, task).
				Updates(map[string]interface{}{
					"retired":        true,
					"retired_at":     now,
					"last_synced_at": now,
				}).Error
			if err != nil {
				return err
			}
		}

		return tx.Model(&models.SyncTask{}).
			Where("id = ?", task.ID).
			Updates(map[string]interface{}{
				"status":            models.TaskStatusDone,
				"calendar_event_id": outcome.EventId,
				"finished_at":       now,
				"locked_at":         nil,
				"locked_by":         nil,
				"last_error":        nil,
			}).Error
	})
}

func mappingScope(tx *gorm.DB, task *models.SyncTask) *gorm.DB {
	scope := tx.Model(&models.AppointmentMapping{})
	if task.MappingId != nil {
		return scope.Where("id = ?", *task.MappingId)
	}
	return scope.Where("portal_id = ? AND retired = ?", task.PortalId, false)
}
