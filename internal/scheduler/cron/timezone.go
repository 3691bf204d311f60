package cron

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // container images often ship without zoneinfo
)

const maxOffsetMinutes = 14 * 60

// ParseTimezone resolves tz to a fixed offset east of UTC in minutes. tz is
// empty or "UTC", a number of hours with quarter hour resolution ("5.5",
// "-3"), an "+HH:MM" offset, or an IANA name. IANA zones that observe DST
// are rejected unless allowDST is set; the offset in effect now is used.
func ParseTimezone(tz string, allowDST bool) (int, error) {
	return ParseTimezoneAt(tz, allowDST, time.Now())
}

func ParseTimezoneAt(tz string, allowDST bool, now time.Time) (int, error) {
	tz = strings.TrimSpace(tz)
	switch strings.ToUpper(tz) {
	case "", "UTC", "Z", "GMT", "ETC/UTC":
		return 0, nil
	}

	if hours, err := strconv.ParseFloat(tz, 64); err == nil {
		return hoursToMinutes(hours, tz)
	}
	if minutes, ok, err := parseClockOffset(tz); ok {
		return minutes, err
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}
	year := now.In(loc).Year()
	_, winter := time.Date(year, time.January, 1, 12, 0, 0, 0, loc).Zone()
	_, summer := time.Date(year, time.July, 1, 12, 0, 0, 0, loc).Zone()
	if winter != summer && !allowDST {
		return 0, fmt.Errorf("%w: %q", ErrDSTZone, tz)
	}
	_, offset := now.In(loc).Zone()
	return offset / 60, nil
}

func hoursToMinutes(hours float64, raw string) (int, error) {
	quarters := hours * 4
	if math.IsNaN(hours) || math.IsInf(hours, 0) || quarters != math.Trunc(quarters) {
		return 0, fmt.Errorf("%w: %q is not a multiple of 0.25 hours", ErrInvalidTimezone, raw)
	}
	minutes := int(quarters) * 15
	if minutes > maxOffsetMinutes || minutes < -maxOffsetMinutes {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidTimezone, raw)
	}
	return minutes, nil
}

// parseClockOffset handles "+05:30" and "-03:00". ok is false when tz does
// not look like a clock offset.
func parseClockOffset(tz string) (minutes int, ok bool, err error) {
	if len(tz) < 2 || (tz[0] != '+' && tz[0] != '-') || !strings.Contains(tz, ":") {
		return 0, false, nil
	}
	parts := strings.SplitN(tz[1:], ":", 2)
	h, herr := strconv.Atoi(parts[0])
	m, merr := strconv.Atoi(parts[1])
	if herr != nil || merr != nil || m < 0 || m >= 60 || m%15 != 0 {
		return 0, true, fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}
	minutes = h*60 + m
	if tz[0] == '-' {
		minutes = -minutes
	}
	if minutes > maxOffsetMinutes || minutes < -maxOffsetMinutes {
		return 0, true, fmt.Errorf("%w: %q out of range", ErrInvalidTimezone, tz)
	}
	return minutes, true, nil
}

// ToUTC rewrites a local interval written for a zone offsetMinutes east of
// UTC into the UTC interval that fires at the same instants. Minute and hour
// are shifted; a day carry moves day-of-month and day-of-week. Wildcards stay
// wildcards. Shifts that cannot be expressed as a single crontab line are
// rejected with ErrInvalidInterval.
func ToUTC(interval string, offsetMinutes int) (string, error) {
	fields, err := parseFields(interval)
	if err != nil {
		return "", err
	}
	if offsetMinutes == 0 {
		return renderFields(fields), nil
	}

	shift := -offsetMinutes
	hourShift := floorDiv(shift, 60)
	minuteShift := shift - hourShift*60

	minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4]

	// Minute: every value moves by minuteShift and may carry into the hour.
	minuteCarry, minuteUniform := 0, true
	if minuteShift != 0 {
		if minute.isStar() {
			minuteUniform = false
		} else {
			var shifted []int
			shifted, minuteCarry, minuteUniform = shiftValues(minute.expandValues(minuteBounds), minuteShift, 60, 0)
			minute = keepOrExplicit(minute, shifted, minuteBounds)
		}
		if !minuteUniform && !hour.isStar() {
			return "", fmt.Errorf("%w: minute shift of %d splits %q across hours", ErrInvalidInterval, minuteShift, interval)
		}
	}

	// Hour: shift by whole hours plus the minute carry, carrying into the day.
	dayCarry, dayUniform := 0, true
	totalHourShift := hourShift + minuteCarry
	switch {
	case hour.isStar():
		if totalHourShift%24 != 0 || !minuteUniform {
			dayUniform = false
		}
	case totalHourShift != 0:
		var shifted []int
		shifted, dayCarry, dayUniform = shiftValues(hour.expandValues(hourBounds), totalHourShift, 24, 0)
		hour = keepOrExplicit(hour, shifted, hourBounds)
	}

	dayRestricted := !dom.isStar() || !dow.isStar()
	if !dayUniform {
		if dayRestricted || !month.isStar() {
			return "", fmt.Errorf("%w: shift splits %q across days", ErrInvalidInterval, interval)
		}
		return renderFields([5]field{minute, hour, dom, month, dow}), nil
	}

	if dayCarry != 0 {
		// Only a day of month that stays in range keeps its month. Any
		// weekday match can fall on the first or last day of a month.
		if !month.isStar() && (dom.isStar() || !dow.isStar()) {
			return "", fmt.Errorf("%w: shift moves %q across a month boundary", ErrInvalidInterval, interval)
		}
		if !dom.isStar() {
			values := dom.expandValues(domBounds)
			shifted := make([]int, 0, len(values))
			for _, v := range values {
				nv := v + dayCarry
				if nv < domBounds.min || nv > domBounds.max {
					return "", fmt.Errorf("%w: day of month %d shifts out of range", ErrInvalidInterval, v)
				}
				shifted = append(shifted, nv)
			}
			dom = keepOrExplicit(dom, shifted, domBounds)
		}
		if !dow.isStar() {
			shifted, _, _ := shiftValues(dow.expandValues(dowBounds), dayCarry, 7, 0)
			dow = keepOrExplicit(dow, shifted, dowBounds)
		}
	}

	return renderFields([5]field{minute, hour, dom, month, dow}), nil
}

// shiftValues adds delta to each value modulo size (values start at base)
// and reports the carry when every value carries the same amount.
func shiftValues(values []int, delta, size, base int) (shifted []int, carry int, uniform bool) {
	uniform = true
	for i, v := range values {
		raw := v - base + delta
		c := floorDiv(raw, size)
		if i == 0 {
			carry = c
		} else if c != carry {
			uniform = false
		}
		shifted = append(shifted, raw-c*size+base)
	}
	return shifted, carry, uniform
}

// keepOrExplicit keeps a stepped wildcard when shifting did not change the
// set it matches; otherwise the field becomes the explicit shifted set.
func keepOrExplicit(f field, shifted []int, b bounds) field {
	set := make(map[int]struct{}, len(shifted))
	for _, v := range shifted {
		set[v] = struct{}{}
	}
	values := sortedSet(set)
	if f.wildcard && equalInts(values, f.expandValues(b)) {
		return f
	}
	return field{values: values}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
