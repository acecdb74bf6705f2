package features

import (
	"testing"
	"time"

	"ClinicPulse/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestTruncate(t *testing.T) {
	ts := time.Date(2024, 3, 14, 17, 45, 0, 0, time.UTC) // Thursday

	assert.Equal(t, date(2024, 3, 14), Truncate(ts, models.GranularityDaily))
	assert.Equal(t, date(2024, 3, 11), Truncate(ts, models.GranularityWeekly))
	assert.Equal(t, date(2024, 3, 1), Truncate(ts, models.GranularityMonthly))

	sunday := date(2024, 3, 17)
	assert.Equal(t, date(2024, 3, 11), Truncate(sunday, models.GranularityWeekly))
}

func TestAdvanceMonthly(t *testing.T) {
	assert.Equal(t, date(2024, 4, 1), Advance(date(2024, 1, 1), models.GranularityMonthly, 3))
	assert.Equal(t, date(2023, 12, 1), Advance(date(2024, 1, 1), models.GranularityMonthly, -1))
}

func TestBuckets(t *testing.T) {
	t.Run("daily half-open", func(t *testing.T) {
		bs := Buckets(date(2024, 1, 1), date(2024, 1, 8), models.GranularityDaily)
		require.Len(t, bs, 7)
		assert.Equal(t, date(2024, 1, 1), bs[0].Start)
		assert.Equal(t, date(2024, 1, 8), bs[6].End)
	})

	t.Run("monthly rounds partial month up", func(t *testing.T) {
		bs := Buckets(date(2024, 1, 15), date(2024, 3, 10), models.GranularityMonthly)
		require.Len(t, bs, 3)
		assert.Equal(t, date(2024, 1, 1), bs[0].Start)
		assert.Equal(t, date(2024, 4, 1), bs[2].End)
	})

	t.Run("empty range", func(t *testing.T) {
		assert.Empty(t, Buckets(date(2024, 1, 1), date(2024, 1, 1), models.GranularityDaily))
	})
}

func TestTags(t *testing.T) {
	b := models.Bucket{Start: date(2024, 6, 1), End: date(2024, 6, 2)} // Saturday
	events := []models.CalendarEvent{
		{Kind: models.EventCampaign, Name: "summer-checkup", StartsAt: date(2024, 5, 28), EndsAt: date(2024, 6, 5)},
		{Kind: models.EventRelease, Name: "booking-v2", StartsAt: date(2024, 6, 3)},
	}

	tags := Tags(b, models.GranularityDaily, events)

	assert.Equal(t, 6.0, tags["month"])
	assert.Equal(t, 2.0, tags["quarter"])
	assert.Equal(t, 1.0, tags["season:summer"])
	assert.Equal(t, float64(time.Saturday), tags["day_of_week"])
	assert.Equal(t, 1.0, tags["is_weekend"])
	assert.Equal(t, 1.0, tags["campaign:summer-checkup"])
	_, ok := tags["release:booking-v2"]
	assert.False(t, ok)

	monthly := Tags(models.Bucket{Start: date(2024, 12, 1), End: date(2025, 1, 1)}, models.GranularityMonthly, nil)
	_, hasDow := monthly["day_of_week"]
	assert.False(t, hasDow)
	assert.Equal(t, 1.0, monthly["season:winter"])
}
