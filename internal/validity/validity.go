// Package validity maps voucher profiles to access validity windows and
// formats them for the voucher provider.
package validity

import (
	"fmt"
	"strings"
	"time"
)

var profileDurations = map[string]time.Duration{
	"student_1gb":  24 * time.Hour,
	"standard_day": 24 * time.Hour,
	"premium_week": 7 * 24 * time.Hour,
}

const defaultDuration = 24 * time.Hour

// SetProfileDurations replaces the profile→duration mapping used by ForProfile.
func SetProfileDurations(m map[string]time.Duration) {
	if m == nil {
		return
	}
	profileDurations = m
}

// ForProfile returns the validity duration for a profile unless override>0.
func ForProfile(profile string, override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if d, ok := profileDurations[strings.ToLower(profile)]; ok {
		return d
	}
	return defaultDuration
}

// Label renders a duration the way the voucher API expects it, e.g.
// "1 day", "7 days", "12 hours".
func Label(d time.Duration) string {
	if d >= 24*time.Hour && d%(24*time.Hour) == 0 {
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	hours := int(d / time.Hour)
	if hours <= 1 {
		return "1 hour"
	}
	return fmt.Sprintf("%d hours", hours)
}

// ExpiresAt returns the absolute instant a voucher issued now stops working.
func ExpiresAt(issued time.Time, d time.Duration) time.Time {
	return issued.Add(d)
}
