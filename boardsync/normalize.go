package boardsync

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/strandworks/salonsync_backend/models"
	"bitbucket.org/strandworks/salonsync_backend/utils"
)

// portalTimeLayout is the wall-clock format the booking board renders and the
// scraper agent passes through unchanged.
const portalTimeLayout = "2006-01-02 15:04"

var (
	portalLocOnce sync.Once
	portalLoc     *time.Location
)

// portalLocation resolves PORTAL_TIMEZONE once (default Asia/Tokyo). Falls
// back to a fixed UTC+9 zone when tzdata is unavailable.
func portalLocation() *time.Location {
	portalLocOnce.Do(func() {
		name := os.Getenv("PORTAL_TIMEZONE")
		if name == "" {
			name = "Asia/Tokyo"
		}
		loc, err := time.LoadLocation(name)
		if err != nil {
			loc = time.FixedZone("JST", 9*60*60)
		}
		portalLoc = loc
	})
	return portalLoc
}

// NormalizePortal converts the scraper agent's snapshot into appointment
// records. Rows without a usable id or time range are dropped and reported as
// warnings; cosmetic problems (phone, price, email) only warn.
func NormalizePortal(raws []RawPortalAppointment) ([]AppointmentRecord, []NormalizationWarning) {
	records := make([]AppointmentRecord, 0, len(raws))
	warnings := []NormalizationWarning{}
	seen := map[string]bool{}

	for _, raw := range raws {
		id := strings.TrimSpace(raw.ExternalId)
		if id == "" {
			warnings = append(warnings, NormalizationWarning{
				Origin:  models.OriginPortal,
				Field:   "external_id",
				Message: "row without a booking id dropped",
			})
			continue
		}
		if seen[id] {
			warnings = append(warnings, NormalizationWarning{
				Origin:   models.OriginPortal,
				SourceId: id,
				Field:    "external_id",
				Message:  "duplicate booking id, keeping first occurrence",
			})
			continue
		}

		start, err := parsePortalTime(raw.StartTime)
		if err != nil {
			warnings = append(warnings, NormalizationWarning{
				Origin:   models.OriginPortal,
				SourceId: id,
				Field:    "start_time",
				Message:  err.Error(),
			})
			continue
		}
		end, err := parsePortalTime(raw.EndTime)
		if err != nil {
			warnings = append(warnings, NormalizationWarning{
				Origin:   models.OriginPortal,
				SourceId: id,
				Field:    "end_time",
				Message:  err.Error(),
			})
			continue
		}
		if !end.After(start) {
			warnings = append(warnings, NormalizationWarning{
				Origin:   models.OriginPortal,
				SourceId: id,
				Field:    "end_time",
				Message:  "end is not after start, row dropped",
			})
			continue
		}

		status, ok := portalStatus(raw.Status)
		if !ok {
			warnings = append(warnings, NormalizationWarning{
				Origin:   models.OriginPortal,
				SourceId: id,
				Field:    "status",
				Message:  fmt.Sprintf("unknown status %q treated as confirmed", raw.Status),
			})
		}

		phone := strings.TrimSpace(raw.CustomerPhone)
		if phone != "" {
			normalized, err := utils.NormalizePhoneNumber(phone, utils.CountryCode)
			if err != nil {
				warnings = append(warnings, NormalizationWarning{
					Origin:   models.OriginPortal,
					SourceId: id,
					Field:    "customer_phone",
					Message:  "phone not normalizable, kept as scraped",
				})
			} else {
				phone = normalized
			}
		}

		email := strings.TrimSpace(raw.CustomerEmail)
		if email != "" && !utils.IsValidEmail(email) {
			warnings = append(warnings, NormalizationWarning{
				Origin:   models.OriginPortal,
				SourceId: id,
				Field:    "customer_email",
				Message:  "email failed format check, kept as scraped",
			})
		}

		price := decimal.Zero
		if strings.TrimSpace(raw.ServicePrice) != "" {
			parsed, err := utils.ParsePriceString(raw.ServicePrice)
			if err != nil {
				warnings = append(warnings, NormalizationWarning{
					Origin:   models.OriginPortal,
					SourceId: id,
					Field:    "service_price",
					Message:  "price not parseable, recorded as zero",
				})
			} else {
				price = parsed
			}
		}

		name := strings.Join(strings.Fields(raw.CustomerName), " ")
		if name == "" {
			name = "(no name)"
		}
		service := strings.TrimSpace(raw.ServiceName)
		label := name
		if service != "" {
			label = name + " / " + service
		}

		seen[id] = true
		records = append(records, AppointmentRecord{
			SourceId:      id,
			Origin:        models.OriginPortal,
			Start:         start,
			End:           end,
			CustomerLabel: label,
			Status:        status,
			Fingerprint:   ComputeFingerprint(start, end, label, status),
			CustomerName:  name,
			CustomerPhone: phone,
			CustomerEmail: email,
			ServiceName:   service,
			ServicePrice:  price,
			StaffName:     strings.TrimSpace(raw.StaffName),
		})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].SourceId < records[j].SourceId })
	return records, warnings
}

// NormalizeCalendar converts flattened calendar events into appointment
// records. Events Google already marked cancelled become CANCELLED records so
// the conflict detector ignores them.
func NormalizeCalendar(raws []RawCalendarEvent) ([]AppointmentRecord, []NormalizationWarning) {
	records := make([]AppointmentRecord, 0, len(raws))
	warnings := []NormalizationWarning{}

	for _, raw := range raws {
		if raw.EventId == "" {
			warnings = append(warnings, NormalizationWarning{
				Origin:  models.OriginCalendar,
				Field:   "event_id",
				Message: "event without an id dropped",
			})
			continue
		}
		if raw.Start.IsZero() || raw.End.IsZero() {
			warnings = append(warnings, NormalizationWarning{
				Origin:   models.OriginCalendar,
				SourceId: raw.EventId,
				Field:    "start",
				Message:  "event without a resolvable time range dropped",
			})
			continue
		}
		start := raw.Start.UTC()
		end := raw.End.UTC()
		if !end.After(start) {
			warnings = append(warnings, NormalizationWarning{
				Origin:   models.OriginCalendar,
				SourceId: raw.EventId,
				Field:    "end",
				Message:  "end is not after start, event dropped",
			})
			continue
		}

		status := models.AppointmentStatusConfirmed
		if strings.EqualFold(raw.Status, "cancelled") {
			status = models.AppointmentStatusCancelled
		}

		label := strings.Join(strings.Fields(raw.Summary), " ")
		if label == "" {
			label = "(untitled)"
		}

		records = append(records, AppointmentRecord{
			SourceId:      raw.EventId,
			Origin:        models.OriginCalendar,
			Start:         start,
			End:           end,
			CustomerLabel: label,
			Status:        status,
			Fingerprint:   ComputeFingerprint(start, end, label, status),
			PortalRef:     raw.PortalId,
		})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].SourceId < records[j].SourceId })
	return records, warnings
}

func parsePortalTime(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("missing time")
	}
	t, err := time.ParseInLocation(portalTimeLayout, trimmed, portalLocation())
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable time %q", trimmed)
	}
	return t.UTC(), nil
}

// portalStatus maps the board's lowercase status text onto the two-state
// model. Anything unrecognized keeps its slot occupied.
func portalStatus(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "confirmed", "pending", "completed":
		return models.AppointmentStatusConfirmed, true
	case "cancelled", "canceled":
		return models.AppointmentStatusCancelled, true
	default:
		return models.AppointmentStatusConfirmed, false
	}
}
