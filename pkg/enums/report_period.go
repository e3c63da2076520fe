package enums

import (
	"fmt"
	"time"
)

// ReportPeriod selects the rolling window statistics are computed over.
type ReportPeriod string

const (
	ReportPeriodWeek    ReportPeriod = "week"
	ReportPeriodMonth   ReportPeriod = "month"
	ReportPeriodQuarter ReportPeriod = "quarter"
	ReportPeriodYear    ReportPeriod = "year"
	ReportPeriodAll     ReportPeriod = "all"
)

var validReportPeriods = []ReportPeriod{
	ReportPeriodWeek,
	ReportPeriodMonth,
	ReportPeriodQuarter,
	ReportPeriodYear,
	ReportPeriodAll,
}

// String implements fmt.Stringer.
func (p ReportPeriod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known ReportPeriod.
func (p ReportPeriod) IsValid() bool {
	for _, candidate := range validReportPeriods {
		if candidate == p {
			return true
		}
	}
	return false
}

// WindowStart resolves the inclusive lower bound of the period relative to
// now. The "all" period starts at the Unix epoch.
func (p ReportPeriod) WindowStart(now time.Time) time.Time {
	switch p {
	case ReportPeriodWeek:
		return now.Add(-7 * 24 * time.Hour)
	case ReportPeriodMonth:
		return now.Add(-30 * 24 * time.Hour)
	case ReportPeriodQuarter:
		return now.Add(-90 * 24 * time.Hour)
	case ReportPeriodYear:
		return now.Add(-365 * 24 * time.Hour)
	default:
		return time.Unix(0, 0).UTC()
	}
}

// ParseReportPeriod converts the raw string to ReportPeriod, defaulting to
// month when empty.
func ParseReportPeriod(value string) (ReportPeriod, error) {
	if value == "" {
		return ReportPeriodMonth, nil
	}
	for _, candidate := range validReportPeriods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid report period %q", value)
}

// AllReportPeriods returns every period variant; cache invalidation clears
// all of them for a tutor.
func AllReportPeriods() []ReportPeriod {
	periods := make([]ReportPeriod, len(validReportPeriods))
	copy(periods, validReportPeriods)
	return periods
}
