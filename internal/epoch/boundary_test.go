package epoch

import (
	"testing"
	"time"
)

func TestNextBoundaryOnAnchorSkipsAWeek(t *testing.T) {
	// 2024-01-04 is a Thursday.
	now := time.Date(2024, 1, 4, 15, 30, 0, 0, time.UTC)
	got := NextBoundary(now, time.Thursday)
	want := time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("boundary mismatch: %s != %s", got, want)
	}
}

func TestNextBoundaryDayBefore(t *testing.T) {
	now := time.Date(2024, 1, 3, 23, 59, 59, 0, time.UTC)
	got := NextBoundary(now, time.Thursday)
	want := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("boundary mismatch: %s != %s", got, want)
	}
	if diff := got.Sub(Midnight(now)); diff != 24*time.Hour {
		t.Fatalf("expected one day ahead, got %s", diff)
	}
}

func TestNextBoundaryEveryWeekday(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) // Monday
	for i := 0; i < 14; i++ {
		now := start.AddDate(0, 0, i)
		got := NextBoundary(now, time.Thursday)
		if got.Weekday() != time.Thursday {
			t.Fatalf("%s: boundary on %s", now, got.Weekday())
		}
		days := got.Sub(Midnight(now)) / (24 * time.Hour)
		if days < 1 || days > 7 {
			t.Fatalf("%s: boundary %d days ahead", now, days)
		}
		if now.Weekday() == time.Thursday && days != 7 {
			t.Fatalf("%s: anchor day must resolve 7 days ahead, got %d", now, days)
		}
	}
}

func TestNextBoundaryNonUTCInput(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	// Thursday 02:00 in UTC+9 is still Wednesday in UTC.
	now := time.Date(2024, 1, 4, 2, 0, 0, 0, loc)
	got := NextBoundary(now, time.Thursday)
	want := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("boundary mismatch: %s != %s", got, want)
	}
}

func TestParseWeekday(t *testing.T) {
	for _, input := range []string{"Thursday", "thu", " THURSDAY "} {
		d, err := ParseWeekday(input)
		if err != nil {
			t.Fatalf("parse %q: %v", input, err)
		}
		if d != time.Thursday {
			t.Fatalf("parse %q: got %s", input, d)
		}
	}
	if _, err := ParseWeekday("someday"); err == nil {
		t.Fatalf("expected error for invalid weekday")
	}
}
