package boardsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"bitbucket.org/strandworks/salonsync_backend/models"
)

func TestRetryBackoff_DoublesPerAttemptAndCaps(t *testing.T) {
	initial := 30 * time.Second
	ceiling := 5 * time.Minute

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{4, 240 * time.Second},
		{5, 5 * time.Minute},
		{6, 5 * time.Minute},
		{12, 5 * time.Minute},
	}
	for _, tc := range cases {
		if got := retryBackoff(initial, ceiling, tc.attempt); got != tc.want {
			t.Fatalf("attempt %d expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}

func TestDecideFailure_Matrix(t *testing.T) {
	initial := 30 * time.Second
	ceiling := 5 * time.Minute

	cases := []struct {
		name     string
		err      error
		attempts int
		status   string
		halt     bool
		delay    time.Duration
	}{
		{
			name:     "cancellation releases the claim",
			err:      context.Canceled,
			attempts: 1,
			status:   models.TaskStatusPending,
		},
		{
			name:     "auth failure fails and halts",
			err:      &AuthError{Err: errors.New("invalid_grant")},
			attempts: 1,
			status:   models.TaskStatusFailed,
			halt:     true,
		},
		{
			name:     "wrapped auth failure still halts",
			err:      fmt.Errorf("task 9: %w", &AuthError{Err: errors.New("invalid_grant")}),
			attempts: 1,
			status:   models.TaskStatusFailed,
			halt:     true,
		},
		{
			name:     "transient waits out a backoff",
			err:      &TransientWriteError{Err: errors.New("429")},
			attempts: 1,
			status:   models.TaskStatusRetryWait,
			delay:    30 * time.Second,
		},
		{
			name:     "transient at the attempt ceiling fails",
			err:      &TransientWriteError{Err: errors.New("429")},
			attempts: 5,
			status:   models.TaskStatusFailed,
		},
		{
			name:     "anything else fails immediately",
			err:      errors.New("undecodable task payload"),
			attempts: 1,
			status:   models.TaskStatusFailed,
		},
	}

	for _, tc := range cases {
		decision := decideFailure(tc.err, tc.attempts, 5, initial, ceiling)
		if decision.Status != tc.status {
			t.Fatalf("%s: status expected %s, got %s", tc.name, tc.status, decision.Status)
		}
		if decision.Halt != tc.halt {
			t.Fatalf("%s: halt expected %v, got %v", tc.name, tc.halt, decision.Halt)
		}
		if decision.Delay != tc.delay {
			t.Fatalf("%s: delay expected %v, got %v", tc.name, tc.delay, decision.Delay)
		}
	}
}

func TestTruncateError_BoundsStoredMessage(t *testing.T) {
	long := strings.Repeat("x", 3000)
	if got := truncateError(long, 2000); len(got) != 2000 {
		t.Fatalf("expected 2000 chars, got %d", len(got))
	}
	if got := truncateError("short", 2000); got != "short" {
		t.Fatalf("short messages must pass through, got %q", got)
	}
}
