package cron

import (
	"errors"
	"testing"
	"time"
)

func TestParseTimezone(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		tz   string
		want int
	}{
		{tz: "", want: 0},
		{tz: "UTC", want: 0},
		{tz: "9", want: 540},
		{tz: "5.5", want: 330},
		{tz: "-3.75", want: -225},
		{tz: "+05:45", want: 345},
		{tz: "-02:30", want: -150},
		{tz: "Asia/Kolkata", want: 330},
		{tz: "Asia/Seoul", want: 540},
	}
	for _, tt := range tests {
		got, err := ParseTimezoneAt(tt.tz, false, now)
		if err != nil {
			t.Fatalf("ParseTimezoneAt(%q) error: %v", tt.tz, err)
		}
		if got != tt.want {
			t.Fatalf("ParseTimezoneAt(%q) = %d, want %d", tt.tz, got, tt.want)
		}
	}
}

func TestParseTimezoneRejects(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, tz := range []string{"5.1", "15", "-14.25", "+05:20", "Mars/Olympus"} {
		if _, err := ParseTimezoneAt(tz, false, now); !errors.Is(err, ErrInvalidTimezone) {
			t.Fatalf("ParseTimezoneAt(%q) error = %v, want ErrInvalidTimezone", tz, err)
		}
	}
	if _, err := ParseTimezoneAt("America/New_York", false, now); !errors.Is(err, ErrDSTZone) {
		t.Fatalf("DST zone error = %v, want ErrDSTZone", err)
	}
	got, err := ParseTimezoneAt("America/New_York", true, now)
	if err != nil {
		t.Fatalf("DST zone with opt-in error: %v", err)
	}
	if got != -300 {
		t.Fatalf("America/New_York in March = %d, want -300", got)
	}
}

func TestToUTC(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		raw    string
		offset int
		want   string
	}{
		{name: "zero offset", raw: "*/5 * * * *", offset: 0, want: "*/5 * * * *"},
		{name: "whole hours", raw: "0 9 * * *", offset: 540, want: "0 0 * * *"},
		{name: "half hour carry", raw: "30 14 * * *", offset: 330, want: "0 9 * * *"},
		{name: "previous day", raw: "0 1 * * 1", offset: 120, want: "0 23 * * 0"},
		{name: "next day", raw: "0 22 * * 6", offset: -300, want: "0 3 * * 0"},
		{name: "dom carry", raw: "0 2 15 * *", offset: 180, want: "0 23 14 * *"},
		{name: "dom carry keeps month", raw: "0 2 15 3 *", offset: 180, want: "0 23 14 3 *"},
		{name: "hour list", raw: "0 9,18 * * *", offset: 60, want: "0 8,17 * * *"},
		{name: "wildcard hour keeps", raw: "15 * * * *", offset: 120, want: "15 * * * *"},
		{name: "stepped minute survives", raw: "*/15 * * * *", offset: 330, want: "*/15 * * * *"},
		{name: "stepped minute shifts", raw: "*/20 * * * *", offset: 15, want: "5,25,45 * * * *"},
		{name: "all wildcards", raw: "* * * * *", offset: -90, want: "* * * * *"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ToUTC(tt.raw, tt.offset)
			if err != nil {
				t.Fatalf("ToUTC(%q, %d) error: %v", tt.raw, tt.offset, err)
			}
			if got != tt.want {
				t.Fatalf("ToUTC(%q, %d) = %q, want %q", tt.raw, tt.offset, got, tt.want)
			}
		})
	}
}

func TestToUTCRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw    string
		offset int
	}{
		{raw: "* 9 * * *", offset: 330},    // minute wildcard over a half hour shift
		{raw: "*/20 9 * * *", offset: 15},  // stepped minute splits across hours
		{raw: "0 1,23 * * 1", offset: 120}, // hours carry into different days
		{raw: "0 1 1 * *", offset: 120},    // day of month 1 moves to 0
		{raw: "0 23 31 * *", offset: -120}, // day of month 31 moves to 32
		{raw: "30 * * * 1", offset: 60},    // wildcard hour with a weekday
		{raw: "0 1 * 3 *", offset: 120},    // month boundary
		{raw: "0 1 * 3 1", offset: 120},    // weekday carry inside a month
		{raw: "0 1 15 3 1", offset: 120},   // weekday half of a day union
	}
	for _, tt := range tests {
		if _, err := ToUTC(tt.raw, tt.offset); !errors.Is(err, ErrInvalidInterval) {
			t.Fatalf("ToUTC(%q, %d) error = %v, want ErrInvalidInterval", tt.raw, tt.offset, err)
		}
	}
}

func TestToUTCRoundTrip(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"30 14 * * *", "0 1 * * 1", "0 9,18 * * 1-5", "45 23 10 * *"} {
		for _, k := range []int{60, -60, 330, -330, 585, -720} {
			there, err := ToUTC(raw, k)
			if err != nil {
				continue
			}
			back, err := ToUTC(there, -k)
			if err != nil {
				t.Fatalf("ToUTC(%q, %d) error: %v", there, -k, err)
			}
			want, _ := Normalize(raw)
			if back != want {
				t.Fatalf("round trip %q by %d: got %q via %q", raw, k, back, there)
			}
		}
	}
}
