package cron

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type bounds struct {
	min, max int
	names    map[string]int
}

var (
	minuteBounds = bounds{min: 0, max: 59}
	hourBounds   = bounds{min: 0, max: 23}
	domBounds    = bounds{min: 1, max: 31}
	monthBounds  = bounds{min: 1, max: 12, names: map[string]int{
		"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
		"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
	}}
	dowBounds = bounds{min: 0, max: 6, names: map[string]int{
		"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
	}}

	fieldBounds = [5]bounds{minuteBounds, hourBounds, domBounds, monthBounds, dowBounds}
)

// field is one parsed crontab column. A wildcard is "*" or "*/step"; any
// other field is held as its explicit value set.
type field struct {
	wildcard bool
	step     int
	values   []int
}

func (f field) isStar() bool {
	return f.wildcard && f.step <= 1
}

// expandValues lists every value the field matches.
func (f field) expandValues(b bounds) []int {
	if !f.wildcard {
		return f.values
	}
	step := f.step
	if step < 1 {
		step = 1
	}
	var out []int
	for v := b.min; v <= b.max; v += step {
		out = append(out, v)
	}
	return out
}

func (f field) String() string {
	if f.wildcard {
		if f.step > 1 {
			return "*/" + strconv.Itoa(f.step)
		}
		return "*"
	}
	return renderValues(f.values)
}

// Normalize validates an interval and returns its canonical form: shorthands
// expanded, names turned into numbers, lists sorted and deduplicated, runs of
// three or more consecutive values written as ranges. Normalize is
// idempotent.
func Normalize(interval string) (string, error) {
	fields, err := parseFields(interval)
	if err != nil {
		return "", err
	}
	return renderFields(fields), nil
}

func parseFields(interval string) ([5]field, error) {
	var fields [5]field
	if err := NewParser().Validate(interval); err != nil {
		return fields, err
	}
	expanded, err := expand(interval)
	if err != nil {
		return fields, err
	}
	for i, raw := range strings.Fields(expanded) {
		f, err := parseField(raw, fieldBounds[i])
		if err != nil {
			return fields, err
		}
		fields[i] = f
	}
	return fields, nil
}

func renderFields(fields [5]field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.String()
	}
	return strings.Join(parts, " ")
}

func parseField(raw string, b bounds) (field, error) {
	if raw == "?" {
		raw = "*"
	}
	if raw == "*" {
		return field{wildcard: true}, nil
	}
	if strings.HasPrefix(raw, "*/") && !strings.Contains(raw, ",") {
		step, err := strconv.Atoi(raw[2:])
		if err != nil || step < 1 {
			return field{}, fmt.Errorf("%w: bad step in %q", ErrInvalidInterval, raw)
		}
		if step == 1 {
			return field{wildcard: true}, nil
		}
		return field{wildcard: true, step: step}, nil
	}

	set := make(map[int]struct{})
	for _, part := range strings.Split(raw, ",") {
		values, err := expandPart(part, b)
		if err != nil {
			return field{}, err
		}
		for _, v := range values {
			set[v] = struct{}{}
		}
	}
	return field{values: sortedSet(set)}, nil
}

func expandPart(part string, b bounds) ([]int, error) {
	rangePart, step := part, 1
	if i := strings.Index(part, "/"); i >= 0 {
		n, err := strconv.Atoi(part[i+1:])
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: bad step in %q", ErrInvalidInterval, part)
		}
		rangePart, step = part[:i], n
	}

	var lo, hi int
	switch {
	case rangePart == "*" || rangePart == "?":
		lo, hi = b.min, b.max
	case strings.Contains(rangePart, "-"):
		ends := strings.SplitN(rangePart, "-", 2)
		var err error
		if lo, err = parseValue(ends[0], b); err != nil {
			return nil, err
		}
		if hi, err = parseValue(ends[1], b); err != nil {
			return nil, err
		}
	default:
		v, err := parseValue(rangePart, b)
		if err != nil {
			return nil, err
		}
		lo, hi = v, v
		if step > 1 {
			hi = b.max
		}
	}
	if lo > hi || lo < b.min || hi > b.max {
		return nil, fmt.Errorf("%w: %q out of range", ErrInvalidInterval, part)
	}

	var out []int
	for v := lo; v <= hi; v += step {
		out = append(out, v)
	}
	return out, nil
}

func parseValue(s string, b bounds) (int, error) {
	if v, ok := b.names[s]; ok {
		return v, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: bad value %q", ErrInvalidInterval, s)
	}
	return v, nil
}

func sortedSet(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// renderValues writes a sorted set, collapsing runs of three or more.
func renderValues(values []int) string {
	var parts []string
	for i := 0; i < len(values); {
		j := i
		for j+1 < len(values) && values[j+1] == values[j]+1 {
			j++
		}
		if j-i >= 2 {
			parts = append(parts, fmt.Sprintf("%d-%d", values[i], values[j]))
		} else {
			for k := i; k <= j; k++ {
				parts = append(parts, strconv.Itoa(values[k]))
			}
		}
		i = j + 1
	}
	return strings.Join(parts, ",")
}
