package boardsync

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"bitbucket.org/strandworks/salonsync_backend/models"
)

// RunScheduler fires a cycle every SYNC_INTERVAL_MINUTES (default 15).
// Zero disables scheduling; manual triggers and the CLI still work. A tick
// that finds another cycle running or the engine halted is skipped.
func (e *Engine) RunScheduler(ctx context.Context) {
	interval := time.Duration(envIntAllowZero("SYNC_INTERVAL_MINUTES", 15)) * time.Minute
	if interval <= 0 {
		e.logger().Info("sync scheduler disabled (SYNC_INTERVAL_MINUTES=0)")
		return
	}

	e.logger().WithField("interval", interval.String()).Info("sync scheduler started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger().Info("sync scheduler stopped")
			return
		case <-ticker.C:
			if halted, reason := AuthHalted(); halted {
				e.logger().WithField("reason", reason).Warn("scheduled cycle skipped, sync halted")
				continue
			}
			_, err := e.RunCycle(ctx, models.TriggerScheduled)
			if errors.Is(err, ErrCycleInFlight) {
				e.logger().Info("scheduled cycle skipped, another cycle is running")
			}
			// other failures already logged their abort inside RunCycle
		}
	}
}

func envIntAllowZero(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
