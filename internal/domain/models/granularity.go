package models

// Granularity is the bucket resolution of a series.
type Granularity string

const (
	GranularityDaily   Granularity = "daily"
	GranularityWeekly  Granularity = "weekly"
	GranularityMonthly Granularity = "monthly"
)

// IsValidGranularity returns true if g is a supported granularity.
func IsValidGranularity(g Granularity) bool {
	switch g {
	case GranularityDaily, GranularityWeekly, GranularityMonthly:
		return true
	default:
		return false
	}
}

// NormalizeGranularity converts a raw string to a valid granularity, or def.
func NormalizeGranularity(s string, def Granularity) Granularity {
	if s == "" {
		return def
	}
	g := Granularity(s)
	if IsValidGranularity(g) {
		return g
	}
	return def
}
