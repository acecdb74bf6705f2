package features

import (
	"time"

	"ClinicPulse/internal/domain/models"
)

// Truncate rounds t down to the start of its bucket in UTC.
// Weekly buckets start on Monday, monthly buckets on the 1st.
func Truncate(t time.Time, g models.Granularity) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch g {
	case models.GranularityWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case models.GranularityMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return day
	}
}

// Advance moves a bucket start n buckets forward (or backward when n < 0).
func Advance(start time.Time, g models.Granularity, n int) time.Time {
	switch g {
	case models.GranularityWeekly:
		return start.AddDate(0, 0, 7*n)
	case models.GranularityMonthly:
		return start.AddDate(0, n, 0)
	default:
		return start.AddDate(0, 0, n)
	}
}

// AlignFromTo rounds a range to bucket boundaries. to is rounded up so the
// bucket holding it is included.
func AlignFromTo(from, to time.Time, g models.Granularity) (time.Time, time.Time) {
	from = Truncate(from, g)
	end := Truncate(to, g)
	if end.Before(to.UTC()) {
		end = Advance(end, g, 1)
	}
	return from, end
}

// Buckets enumerates the buckets covering [from, to) after alignment.
func Buckets(from, to time.Time, g models.Granularity) []models.Bucket {
	from, to = AlignFromTo(from, to, g)
	out := make([]models.Bucket, 0, 64)
	for cur := from; cur.Before(to); {
		next := Advance(cur, g, 1)
		out = append(out, models.Bucket{Start: cur, End: next})
		cur = next
	}
	return out
}

// Season returns the meteorological season of a month (northern hemisphere).
func Season(m time.Month) string {
	switch m {
	case time.December, time.January, time.February:
		return "winter"
	case time.March, time.April, time.May:
		return "spring"
	case time.June, time.July, time.August:
		return "summer"
	default:
		return "autumn"
	}
}

// Tags returns the exogenous dimension tags of a bucket.
// Calendar events overlapping the bucket add a "<kind>:<name>" flag.
func Tags(b models.Bucket, g models.Granularity, events []models.CalendarEvent) map[string]float64 {
	start := b.Start.UTC()
	tags := map[string]float64{
		"month":   float64(start.Month()),
		"quarter": float64((int(start.Month())-1)/3 + 1),
	}
	tags["season:"+Season(start.Month())] = 1
	if g == models.GranularityDaily {
		wd := start.Weekday()
		tags["day_of_week"] = float64(wd)
		if wd == time.Saturday || wd == time.Sunday {
			tags["is_weekend"] = 1
		} else {
			tags["is_weekend"] = 0
		}
	}
	for _, ev := range events {
		end := ev.EndsAt
		if end.IsZero() {
			end = ev.StartsAt.AddDate(0, 0, 1)
		}
		if ev.StartsAt.Before(b.End) && end.After(b.Start) {
			tags[ev.Kind+":"+ev.Name] = 1
		}
	}
	return tags
}
