package validity

import (
	"testing"
	"time"
)

func TestForProfile(t *testing.T) {
	cases := []struct {
		profile  string
		override time.Duration
		want     time.Duration
	}{
		{"student_1gb", 0, 24 * time.Hour},
		{"Premium_Week", 0, 7 * 24 * time.Hour},
		{"unknown", 0, 24 * time.Hour},
		{"student_1gb", 12 * time.Hour, 12 * time.Hour},
	}
	for _, c := range cases {
		if got := ForProfile(c.profile, c.override); got != c.want {
			t.Fatalf("ForProfile(%q, %s) = %s, want %s", c.profile, c.override, got, c.want)
		}
	}
}

func TestLabel(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{24 * time.Hour, "1 day"},
		{7 * 24 * time.Hour, "7 days"},
		{12 * time.Hour, "12 hours"},
		{time.Hour, "1 hour"},
		{30 * time.Minute, "1 hour"},
	}
	for _, c := range cases {
		if got := Label(c.d); got != c.want {
			t.Fatalf("Label(%s) = %q, want %q", c.d, got, c.want)
		}
	}
}

func TestExpiresAt(t *testing.T) {
	issued := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	want := time.Date(2025, time.March, 2, 12, 0, 0, 0, time.UTC)
	if got := ExpiresAt(issued, 24*time.Hour); !got.Equal(want) {
		t.Fatalf("ExpiresAt = %v, want %v", got, want)
	}
}
