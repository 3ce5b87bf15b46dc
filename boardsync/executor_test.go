package boardsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/strandworks/salonsync_backend/models"
)

// NOTE: These tests are intentionally DB-free. They validate the remote half
// of task execution (idempotent create, tolerant delete) against an in-memory
// calendar; the transactional mapping updates need MySQL and are covered by
// the running service.

type fakeCalendar struct {
	events     map[string]EventPayload
	tokenIndex map[string]string
	inserts    int
	updates    int
	deletes    int
	nextId     int

	findErr   error
	insertErr error
	updateErr error
	deleteErr error
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{
		events:     map[string]EventPayload{},
		tokenIndex: map[string]string{},
	}
}

func (f *fakeCalendar) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]RawCalendarEvent, error) {
	events := make([]RawCalendarEvent, 0, len(f.events))
	for id, payload := range f.events {
		events = append(events, RawCalendarEvent{
			EventId: id,
			Summary: payload.Summary,
			Start:   payload.Start,
			End:     payload.End,
			Status:  "confirmed",
		})
	}
	return events, nil
}

func (f *fakeCalendar) FindEventBySyncToken(ctx context.Context, syncToken string) (*RawCalendarEvent, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	id, ok := f.tokenIndex[syncToken]
	if !ok {
		return nil, nil
	}
	return &RawCalendarEvent{EventId: id, SyncToken: syncToken}, nil
}

func (f *fakeCalendar) InsertEvent(ctx context.Context, payload EventPayload, portalId, syncToken string) (string, error) {
	if f.insertErr != nil {
		return "", f.insertErr
	}
	f.inserts++
	f.nextId++
	id := fmt.Sprintf("evt-%d", f.nextId)
	f.events[id] = payload
	f.tokenIndex[syncToken] = id
	return id, nil
}

func (f *fakeCalendar) UpdateEvent(ctx context.Context, eventId string, payload EventPayload, portalId, syncToken string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.events[eventId]; !ok {
		return &NotFoundError{EventId: eventId}
	}
	f.updates++
	f.events[eventId] = payload
	return nil
}

func (f *fakeCalendar) DeleteEvent(ctx context.Context, eventId string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.events[eventId]; !ok {
		return &NotFoundError{EventId: eventId}
	}
	f.deletes++
	delete(f.events, eventId)
	return nil
}

func createTask(token string) *models.SyncTask {
	return &models.SyncTask{Action: models.ActionCreate, PortalId: "HB1", IdempotencyToken: token}
}

func testPayload() *EventPayload {
	start := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	return &EventPayload{
		Summary:     "Appointment: Tanaka / Cut",
		Description: "Customer: Tanaka",
		Start:       start,
		End:         start.Add(time.Hour),
		Fingerprint: "fp-1",
	}
}

func TestApplyRemote_CreateInsertsOnce(t *testing.T) {
	cal := newFakeCalendar()

	outcome, err := applyRemote(context.Background(), cal, createTask("tok-1"), testPayload())
	if err != nil {
		t.Fatalf("applyRemote: %v", err)
	}
	if outcome.EventId != "evt-1" || outcome.Adopted {
		t.Fatalf("expected fresh insert evt-1, got %+v", outcome)
	}
	if cal.inserts != 1 {
		t.Fatalf("expected 1 insert, got %d", cal.inserts)
	}
}

func TestApplyRemote_RetriedCreateAdoptsSurvivor(t *testing.T) {
	cal := newFakeCalendar()
	task := createTask("tok-1")

	// first attempt wrote the event but the process died before the mapping
	// landed; the reclaimed task must find the event by its token
	first, err := applyRemote(context.Background(), cal, task, testPayload())
	if err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	second, err := applyRemote(context.Background(), cal, task, testPayload())
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if !second.Adopted {
		t.Fatalf("expected the retry to adopt, got %+v", second)
	}
	if second.EventId != first.EventId {
		t.Fatalf("expected the same event adopted, got %s vs %s", second.EventId, first.EventId)
	}
	if cal.inserts != 1 {
		t.Fatalf("retry must not duplicate the event, inserts=%d", cal.inserts)
	}
}

func TestApplyRemote_DeleteOfMissingEventCountsAsDone(t *testing.T) {
	cal := newFakeCalendar()
	task := &models.SyncTask{Action: models.ActionDelete, PortalId: "HB1", CalendarEventId: "evt-ghost"}

	outcome, err := applyRemote(context.Background(), cal, task, nil)
	if err != nil {
		t.Fatalf("deleting an already-gone event must succeed, got %v", err)
	}
	if !outcome.AlreadyGone {
		t.Fatalf("expected AlreadyGone, got %+v", outcome)
	}
}

func TestApplyRemote_DeleteRemovesEvent(t *testing.T) {
	cal := newFakeCalendar()
	created, err := applyRemote(context.Background(), cal, createTask("tok-1"), testPayload())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	task := &models.SyncTask{Action: models.ActionDelete, PortalId: "HB1", CalendarEventId: created.EventId}
	outcome, err := applyRemote(context.Background(), cal, task, nil)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if outcome.AlreadyGone {
		t.Fatalf("event existed, outcome should not be AlreadyGone")
	}
	if len(cal.events) != 0 {
		t.Fatalf("expected event removed, still have %d", len(cal.events))
	}
}

func TestApplyRemote_UpdateReportsVanishedTarget(t *testing.T) {
	cal := newFakeCalendar()
	task := &models.SyncTask{Action: models.ActionUpdate, PortalId: "HB1", CalendarEventId: "evt-ghost"}

	_, err := applyRemote(context.Background(), cal, task, testPayload())
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestApplyRemote_TransientErrorsPassThrough(t *testing.T) {
	cal := newFakeCalendar()
	cal.insertErr = &TransientWriteError{Err: errors.New("rate limited")}

	_, err := applyRemote(context.Background(), cal, createTask("tok-1"), testPayload())
	var transient *TransientWriteError
	if !errors.As(err, &transient) {
		t.Fatalf("expected the transient error unchanged, got %v", err)
	}
}

func TestBuildEventPayload_RendersContactBlock(t *testing.T) {
	start := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	record := &AppointmentRecord{
		SourceId:      "HB1",
		Origin:        models.OriginPortal,
		Start:         start,
		End:           start.Add(time.Hour),
		CustomerLabel: "Tanaka / Cut",
		Status:        models.AppointmentStatusConfirmed,
		Fingerprint:   "fp-1",
		CustomerName:  "Tanaka",
		CustomerPhone: "+819012345678",
		CustomerEmail: "tanaka@example.com",
		StaffName:     "Sato",
		ServicePrice:  decimal.NewFromInt(5500),
	}

	payload := BuildEventPayload(record)
	if payload.Summary != "Appointment: Tanaka / Cut" {
		t.Fatalf("summary expected %q, got %q", "Appointment: Tanaka / Cut", payload.Summary)
	}
	wantLines := []string{
		"Customer: Tanaka",
		"Phone: +819012345678",
		"Email: tanaka@example.com",
		"Staff: Sato",
		"Price: ¥5500",
	}
	if payload.Description != strings.Join(wantLines, "\n") {
		t.Fatalf("description expected %q, got %q", strings.Join(wantLines, "\n"), payload.Description)
	}
	if payload.Fingerprint != "fp-1" {
		t.Fatalf("payload must carry the record fingerprint")
	}
}

func TestBuildEventPayload_MissingContactDetails(t *testing.T) {
	start := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	record := &AppointmentRecord{
		SourceId:      "HB2",
		Start:         start,
		End:           start.Add(time.Hour),
		CustomerLabel: "(no name)",
		CustomerName:  "(no name)",
	}

	payload := BuildEventPayload(record)
	if payload.Description != "Customer: (no name)\nPhone: N/A" {
		t.Fatalf("expected minimal contact block, got %q", payload.Description)
	}
}
