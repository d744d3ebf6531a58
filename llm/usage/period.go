package usage

import (
	"fmt"
	"time"
)

// Period maps an instant to its bucket label.
type Period func(t time.Time) string

// Daily buckets by UTC calendar day.
func Daily(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Monthly buckets by UTC calendar month.
func Monthly(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// ParsePeriod resolves a configured period name.
func ParsePeriod(name string) (Period, error) {
	switch name {
	case "", "day", "daily":
		return Daily, nil
	case "month", "monthly":
		return Monthly, nil
	default:
		return nil, fmt.Errorf("unknown usage period %q", name)
	}
}
