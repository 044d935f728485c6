package claims

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/claimdesk/claimdesk/internal/backend"
)

// DateRange narrows claims to those submitted since a calendar boundary.
type DateRange string

const (
	RangeAll   DateRange = ""
	RangeToday DateRange = "today"
	RangeWeek  DateRange = "week"
	RangeMonth DateRange = "month"
)

// DateRanges lists the selectable ranges after "all".
func DateRanges() []DateRange {
	return []DateRange{RangeToday, RangeWeek, RangeMonth}
}

// ParseDateRange maps unknown input to RangeAll.
func ParseDateRange(raw string) DateRange {
	switch r := DateRange(strings.ToLower(strings.TrimSpace(raw))); r {
	case RangeToday, RangeWeek, RangeMonth:
		return r
	default:
		return RangeAll
	}
}

// Label renders the range for the filter select.
func (d DateRange) Label() string {
	switch d {
	case RangeToday:
		return "Today"
	case RangeWeek:
		return "This week"
	case RangeMonth:
		return "This month"
	default:
		return "All time"
	}
}

// Since is the inclusive lower bound of the range relative to now. Week
// means the seven days before today's midnight; month starts on the 1st.
func (d DateRange) Since(now time.Time) time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch d {
	case RangeToday:
		return today
	case RangeWeek:
		return today.AddDate(0, 0, -7)
	case RangeMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	default:
		return time.Time{}
	}
}

// Filter is the claims list query.
type Filter struct {
	Status backend.ClaimStatus
	Query  string
	Range  DateRange
}

// FilterFromQuery reads status, q and range, dropping unknown values.
func FilterFromQuery(q url.Values) Filter {
	f := Filter{
		Status: backend.ClaimStatus(q.Get("status")),
		Query:  strings.TrimSpace(q.Get("q")),
		Range:  ParseDateRange(q.Get("range")),
	}
	if !validStatus(f.Status) {
		f.Status = ""
	}
	return f
}

// Narrowed reports whether the filter needs claims the backend cannot
// select for us.
func (f Filter) Narrowed() bool {
	return f.Query != "" || f.Range != RangeAll
}

// Match applies the search and date range to one claim. Status is left to
// the backend.
func (f Filter) Match(c backend.Claim, now time.Time) bool {
	if f.Query != "" {
		needle := strings.ToLower(f.Query)
		hit := strings.Contains(strconv.FormatInt(c.ID, 10), needle)
		for _, field := range []string{c.ClaimNumber, c.CarBrand, c.CarType, c.Description, c.AdminNotes} {
			hit = hit || strings.Contains(strings.ToLower(field), needle)
		}
		if !hit {
			return false
		}
	}
	if f.Range != RangeAll {
		created, ok := parseTimestamp(c.CreatedAt, now.Location())
		if !ok || created.Before(f.Range.Since(now)) {
			return false
		}
	}
	return true
}

// Encode renders the filter as query parameters for pager and export links.
func (f Filter) Encode() string {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.Query != "" {
		q.Set("q", f.Query)
	}
	if f.Range != RangeAll {
		q.Set("range", string(f.Range))
	}
	return q.Encode()
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
}

// parseTimestamp accepts the backend's ISO timestamps, with or without a
// zone. Zoneless values are read in loc.
func parseTimestamp(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
