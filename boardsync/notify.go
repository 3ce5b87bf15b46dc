package boardsync

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/strandworks/salonsync_backend/config"
)

// PublishReport pushes a cycle report onto the report topic for downstream
// consumers. Publishing is optional twice over: DISABLE_NOTIFY or an unset
// topic switch it off, and failures only log, because the report already
// lives in the sync_runs table.
func PublishReport(logger *logrus.Logger, report *SyncReport) {
	if config.NotifyDisabled() {
		return
	}
	if os.Getenv("PUBSUB_REPORT_TOPIC") == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	messageId, err := config.PublishSyncReport(ctx, report)
	if err != nil {
		config.LogError(logger, "boardsync", "PublishReport", "publish cycle report", report.RunId, err)
		return
	}
	logger.WithFields(logrus.Fields{
		"run_id":     report.RunId,
		"message_id": messageId,
	}).Debug("cycle report published")
}
