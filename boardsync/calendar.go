package boardsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"bitbucket.org/strandworks/salonsync_backend/config"
)

// Private extended property keys stamped on every event the engine owns.
// portalId ties the event back to its booking; syncToken is the per-task
// idempotency token that lets a retried CREATE adopt an event it already made.
const (
	propPortalId  = "portalId"
	propSyncToken = "syncToken"
)

// EventPayload is the calendar-facing shape of one appointment. It is also the
// task payload persisted for the dispatcher, so it carries the fingerprint the
// mapping must record once the write lands.
type EventPayload struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Fingerprint string    `json:"fingerprint"`
}

// BuildEventPayload renders a portal record into the event template used on
// the calendar: "Appointment: <label>" plus a contact block.
func BuildEventPayload(record *AppointmentRecord) EventPayload {
	phone := record.CustomerPhone
	if phone == "" {
		phone = "N/A"
	}
	lines := []string{
		"Customer: " + record.CustomerName,
		"Phone: " + phone,
	}
	if record.CustomerEmail != "" {
		lines = append(lines, "Email: "+record.CustomerEmail)
	}
	if record.StaffName != "" {
		lines = append(lines, "Staff: "+record.StaffName)
	}
	if record.ServicePrice.IsPositive() {
		lines = append(lines, "Price: ¥"+record.ServicePrice.StringFixed(0))
	}

	return EventPayload{
		Summary:     "Appointment: " + record.CustomerLabel,
		Description: strings.Join(lines, "\n"),
		Start:       record.Start.UTC(),
		End:         record.End.UTC(),
		Fingerprint: record.Fingerprint,
	}
}

// CalendarAPI is the calendar collaborator the executor and cycle talk to.
// The production implementation wraps the Google Calendar API; tests swap in
// an in-memory fake.
type CalendarAPI interface {
	ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]RawCalendarEvent, error)
	FindEventBySyncToken(ctx context.Context, syncToken string) (*RawCalendarEvent, error)
	InsertEvent(ctx context.Context, payload EventPayload, portalId, syncToken string) (string, error)
	UpdateEvent(ctx context.Context, eventId string, payload EventPayload, portalId, syncToken string) error
	DeleteEvent(ctx context.Context, eventId string) error
}

// GoogleCalendar implements CalendarAPI against one Google calendar. The
// zero value resolves the shared service and target calendar from config on
// first use, so construction never needs credentials; a credential problem
// surfaces as an AuthError on the call that hits it.
type GoogleCalendar struct {
	Service    *calendar.Service
	CalendarId string
}

func (g *GoogleCalendar) service(ctx context.Context) (*calendar.Service, error) {
	if g.Service != nil {
		return g.Service, nil
	}
	svc, err := config.GetCalendarService(ctx)
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	return svc, nil
}

func (g *GoogleCalendar) calendarId() string {
	if g.CalendarId != "" {
		return g.CalendarId
	}
	return config.GetCalendarID()
}

func (g *GoogleCalendar) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]RawCalendarEvent, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return nil, err
	}

	var events []RawCalendarEvent
	pageToken := ""
	for {
		call := svc.Events.List(g.calendarId()).
			ShowDeleted(false).
			SingleEvents(true).
			OrderBy("startTime").
			TimeMin(timeMin.UTC().Format(time.RFC3339)).
			TimeMax(timeMax.UTC().Format(time.RFC3339)).
			MaxResults(250).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			return nil, classifyCalendarError(err, "")
		}
		for _, item := range page.Items {
			events = append(events, flattenEvent(item))
		}
		if page.NextPageToken == "" {
			return events, nil
		}
		pageToken = page.NextPageToken
	}
}

func (g *GoogleCalendar) FindEventBySyncToken(ctx context.Context, syncToken string) (*RawCalendarEvent, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return nil, err
	}

	page, err := svc.Events.List(g.calendarId()).
		PrivateExtendedProperty(propSyncToken + "=" + syncToken).
		ShowDeleted(false).
		SingleEvents(true).
		MaxResults(2).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classifyCalendarError(err, "")
	}
	if len(page.Items) == 0 {
		return nil, nil
	}
	event := flattenEvent(page.Items[0])
	return &event, nil
}

func (g *GoogleCalendar) InsertEvent(ctx context.Context, payload EventPayload, portalId, syncToken string) (string, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return "", err
	}

	created, err := svc.Events.Insert(g.calendarId(), buildEvent(payload, portalId, syncToken)).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		return "", classifyCalendarError(err, "")
	}
	return created.Id, nil
}

func (g *GoogleCalendar) UpdateEvent(ctx context.Context, eventId string, payload EventPayload, portalId, syncToken string) error {
	svc, err := g.service(ctx)
	if err != nil {
		return err
	}

	_, err = svc.Events.Update(g.calendarId(), eventId, buildEvent(payload, portalId, syncToken)).
		SendUpdates("none").
		Context(ctx).
		Do()
	return classifyCalendarError(err, eventId)
}

func (g *GoogleCalendar) DeleteEvent(ctx context.Context, eventId string) error {
	svc, err := g.service(ctx)
	if err != nil {
		return err
	}

	err = svc.Events.Delete(g.calendarId(), eventId).
		SendUpdates("none").
		Context(ctx).
		Do()
	return classifyCalendarError(err, eventId)
}

func buildEvent(payload EventPayload, portalId, syncToken string) *calendar.Event {
	return &calendar.Event{
		Summary:     payload.Summary,
		Description: payload.Description,
		Location:    eventLocation(),
		Start: &calendar.EventDateTime{
			DateTime: payload.Start.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: &calendar.EventDateTime{
			DateTime: payload.End.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{
				propPortalId:  portalId,
				propSyncToken: syncToken,
			},
		},
	}
}

func eventLocation() string {
	if v := os.Getenv("EVENT_LOCATION"); v != "" {
		return v
	}
	return "Salon"
}

// flattenEvent reduces a Google event to the fields the engine reads, keeping
// API types out of the normalizer.
func flattenEvent(event *calendar.Event) RawCalendarEvent {
	flat := RawCalendarEvent{
		EventId:     event.Id,
		Summary:     event.Summary,
		Description: event.Description,
		Status:      event.Status,
	}
	flat.Start, _ = parseEventTime(event.Start)
	flat.End, _ = parseEventTime(event.End)
	if event.ExtendedProperties != nil && event.ExtendedProperties.Private != nil {
		flat.PortalId = event.ExtendedProperties.Private[propPortalId]
		flat.SyncToken = event.ExtendedProperties.Private[propSyncToken]
	}
	return flat
}

// parseEventTime handles both timed events (DateTime) and all-day entries
// (Date, interpreted in the salon's timezone).
func parseEventTime(edt *calendar.EventDateTime) (time.Time, error) {
	if edt == nil {
		return time.Time{}, errors.New("missing event time")
	}
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return time.Time{}, fmt.Errorf("unparseable event time %q", edt.DateTime)
		}
		return t.UTC(), nil
	}
	if edt.Date != "" {
		t, err := time.ParseInLocation("2006-01-02", edt.Date, portalLocation())
		if err != nil {
			return time.Time{}, fmt.Errorf("unparseable event date %q", edt.Date)
		}
		return t.UTC(), nil
	}
	return time.Time{}, errors.New("missing event time")
}

// classifyCalendarError maps Google API failures onto the engine's taxonomy:
// credential problems halt, rate limits and server or network trouble retry,
// missing events get their own type so callers can adopt or skip. A timed-out
// call counts as transient.
func classifyCalendarError(err error, eventId string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientWriteError{Err: err}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401:
			return &AuthError{Err: err}
		case apiErr.Code == 403 && rateLimited(apiErr):
			return &TransientWriteError{Err: err}
		case apiErr.Code == 403:
			return &AuthError{Err: err}
		case apiErr.Code == 404 || apiErr.Code == 410:
			return &NotFoundError{EventId: eventId}
		case apiErr.Code == 408 || apiErr.Code == 429 || apiErr.Code >= 500:
			return &TransientWriteError{Err: err}
		default:
			return err
		}
	}

	// anything else is the network misbehaving
	return &TransientWriteError{Err: err}
}

func rateLimited(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}
