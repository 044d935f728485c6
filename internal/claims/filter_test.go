package claims

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/claimdesk/claimdesk/internal/backend"
)

func TestDateRangeSince(t *testing.T) {
	now := time.Date(2024, 5, 15, 16, 30, 0, 0, time.UTC)

	assert.True(t, RangeAll.Since(now).IsZero())
	assert.Equal(t, time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC), RangeToday.Since(now))
	assert.Equal(t, time.Date(2024, 5, 8, 0, 0, 0, 0, time.UTC), RangeWeek.Since(now))
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), RangeMonth.Since(now))
	assert.Equal(t, RangeAll, ParseDateRange("year"))
	assert.Equal(t, RangeWeek, ParseDateRange(" Week "))
}

func TestFilterMatch(t *testing.T) {
	now := time.Date(2024, 5, 15, 16, 30, 0, 0, time.UTC)
	claim := backend.Claim{
		ID:          42,
		CarBrand:    "Toyota",
		CarType:     "SUV",
		Description: "Hail damage on roof",
		AdminNotes:  "Awaiting adjuster",
		CreatedAt:   "2024-05-10T08:00:00.123456",
	}

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"id", Filter{Query: "42"}, true},
		{"brand case folded", Filter{Query: "toyOTA"}, true},
		{"description", Filter{Query: "hail"}, true},
		{"admin notes", Filter{Query: "adjuster"}, true},
		{"no hit", Filter{Query: "honda"}, false},
		{"this week", Filter{Range: RangeWeek}, true},
		{"today", Filter{Range: RangeToday}, false},
		{"search and range", Filter{Query: "roof", Range: RangeMonth}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.filter.Match(claim, now))
		})
	}
}

func TestFilterRejectsUnparseableDateInRange(t *testing.T) {
	now := time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)
	claim := backend.Claim{ID: 1, CreatedAt: "yesterday"}

	assert.True(t, Filter{}.Match(claim, now))
	assert.False(t, Filter{Range: RangeMonth}.Match(claim, now))
}

func TestFilterFromQueryRoundTrip(t *testing.T) {
	f := FilterFromQuery(url.Values{"status": {"bogus"}, "q": {"  dent "}, "range": {"month"}})

	assert.Equal(t, Filter{Query: "dent", Range: RangeMonth}, f)
	assert.True(t, f.Narrowed())
	assert.Equal(t, "q=dent&range=month", f.Encode())
	assert.False(t, Filter{Status: backend.StatusPending}.Narrowed())
	assert.Equal(t, "/claims?status=pending&page=3", pageURL(Filter{Status: backend.StatusPending}, 3))
}
