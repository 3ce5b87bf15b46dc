// run-cycle executes a single reconciliation cycle and exits. Meant for cron
// or manual operation when the long-running service is not deployed.
//
// Exit codes: 0 cycle completed, 1 cycle aborted, 2 another cycle was already
// running, 3 sync is halted pending operator attention.
//
// Usage (from backend directory):
//   DB_USER=... REDIS_ADDRESS=... SCRAPER_BASE_URL=... go run ./cmd/run-cycle
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bitbucket.org/strandworks/salonsync_backend/boardsync"
	"bitbucket.org/strandworks/salonsync_backend/config"
	"bitbucket.org/strandworks/salonsync_backend/models"
	"bitbucket.org/strandworks/salonsync_backend/utils"
)

func main() {
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	logger := config.GetLogger()
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	engine := boardsync.NewEngine()

	// the cycle persists tasks and waits for a dispatcher to drain them
	dispCtx, stopDispatcher := context.WithCancel(sigCtx)
	defer stopDispatcher()
	dispatcher := boardsync.NewTaskDispatcher(config.GetDB(), &boardsync.GoogleCalendar{}, logger)
	go dispatcher.Run(dispCtx)

	run, err := engine.RunCycle(sigCtx, models.TriggerCLI)
	stopDispatcher()

	switch {
	case errors.Is(err, boardsync.ErrCycleInFlight):
		fmt.Fprintln(os.Stderr, "another sync cycle is already running")
		os.Exit(2)
	case errors.Is(err, boardsync.ErrSyncHalted):
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(3)
	}

	if run != nil {
		summary, marshalErr := utils.MarshalToJSON(run)
		if marshalErr == nil {
			fmt.Println(summary)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "cycle aborted: %v\n", err)
		os.Exit(1)
	}
}
