package boardsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"bitbucket.org/strandworks/salonsync_backend/config"
	"bitbucket.org/strandworks/salonsync_backend/models"
	"bitbucket.org/strandworks/salonsync_backend/models/reports"
	"bitbucket.org/strandworks/salonsync_backend/utils"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var vErrs validator.ValidationErrors
			if errors.As(err, &vErrs) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			} else {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			}
			return
		}

		info, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

// HealthHandler reports dependency reachability plus the auth-halt state and
// the latest run, so one request tells the operator whether sync is alive.
func HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		dbOk := false
		if db := config.GetDB(); db != nil {
			if sqlDB, err := db.DB(); err == nil && sqlDB.PingContext(ctx) == nil {
				dbOk = true
			}
		}

		redisOk := false
		if rdb := config.GetRedisDB(); rdb != nil {
			if err := rdb.Ping(ctx).Err(); err == nil {
				redisOk = true
			}
		}

		halted, haltReason := AuthHalted()

		status := "ok"
		if !dbOk || !redisOk || halted {
			status = "degraded"
		}

		body := gin.H{
			"status":   status,
			"database": dbOk,
			"redis":    redisOk,
			"halted":   halted,
		}
		if halted {
			body["halt_reason"] = haltReason
		}
		if dbOk {
			if runs, err := models.GetSyncRuns(ctx, 1); err == nil && len(runs) > 0 {
				body["last_run"] = runs[0]
			}
		}
		c.JSON(http.StatusOK, body)
	}
}

// TriggerSyncHandler starts a manual cycle in the background. It answers 409
// while another cycle holds the lease or while sync is halted, so the
// dashboard button cannot silently queue work.
func TriggerSyncHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if halted, reason := AuthHalted(); halted {
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("sync halted: %s", reason)})
			return
		}
		if CycleBusy(c.Request.Context()) {
			c.JSON(http.StatusConflict, gin.H{"error": "a sync cycle is already running"})
			return
		}

		// detach from the request but keep its correlation id
		runCtx := context.Background()
		if correlationId, ok := utils.GetCorrelationIdFromContext(c.Request.Context()); ok {
			runCtx = utils.SetCorrelationIdInContext(runCtx, correlationId)
		}
		go func() {
			if _, err := engine.RunCycle(runCtx, models.TriggerManual); err != nil &&
				!errors.Is(err, ErrCycleInFlight) && !errors.Is(err, ErrSyncHalted) {
				config.LogError(engine.logger(), "boardsync", "TriggerSyncHandler", "manual cycle", nil, err)
			}
		}()

		c.JSON(http.StatusAccepted, gin.H{"message": "sync cycle started"})
	}
}

func CancelSyncHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		runId, ok := engine.CancelActive()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no sync cycle is running"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": runId, "message": "cancellation requested"})
	}
}

func SyncRunsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		runs, err := models.GetSyncRuns(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": runs})
	}
}

func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		run, err := models.GetSyncRun(c.Request.Context(), uint(id))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		tasks, err := models.GetTasksForRun(c.Request.Context(), run.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"run": run, "tasks": tasks})
	}
}

func ConflictsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var acknowledged *bool
		if v := strings.TrimSpace(c.Query("acknowledged")); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid acknowledged filter"})
				return
			}
			acknowledged = &parsed
		}

		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		conflicts, err := models.GetConflicts(c.Request.Context(), acknowledged, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": conflicts})
	}
}

func AcknowledgeConflictHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conflict id"})
			return
		}

		userId, _ := utils.GetUserIdFromContext(c.Request.Context())
		err = models.AcknowledgeConflict(c.Request.Context(), uint(id), userId)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func MappingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var retired *bool
		if v := strings.TrimSpace(c.Query("retired")); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid retired filter"})
				return
			}
			retired = &parsed
		}

		mappings, err := models.GetMappings(c.Request.Context(), retired)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": mappings})
	}
}

// RecreateMappingHandler is the operator's confirmation for an externally
// deleted event: retiring the mapping makes the next cycle classify the
// booking as NEW and create a fresh event.
func RecreateMappingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		portalId := strings.TrimSpace(c.Param("portalId"))
		if portalId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid portal id"})
			return
		}

		db := config.GetDB().WithContext(c.Request.Context())
		result := db.Model(&models.AppointmentMapping{}).
			Where("portal_id = ? AND retired = ?", portalId, false).
			Updates(map[string]interface{}{
				"retired":    true,
				"retired_at": time.Now().UTC(),
			})
		if result.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": result.Error.Error()})
			return
		}
		if result.RowsAffected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active mapping for that booking"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "mapping retired, the event will be recreated on the next cycle",
		})
	}
}

// SyncActivityHandler returns the per-day rollup the dashboard chart reads.
func SyncActivityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		days := 14
		if v := strings.TrimSpace(c.Query("days")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 90 {
				days = n
			}
		}

		items, err := reports.GetSyncActivityReport(c.Request.Context(), days)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

func ExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := config.SearchLimit
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}

		filename := "sync_activity_" + utils.GenerateUniqueFilename() + ".xlsx"
		c.Header("Content-Description", "File Transfer")
		c.Header("Content-Disposition", "attachment; filename="+filename)
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")

		if err := reports.ExportSyncActivityExcel(c.Request.Context(), c.Writer, limit); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
}

// UnhaltHandler clears the auth halt once an admin has refreshed credentials.
func UnhaltHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		halted, reason := AuthHalted()
		if !halted {
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "sync was not halted"})
			return
		}
		if err := ClearAuthHalt(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":        true,
			"cleared_reason": reason,
		})
	}
}
