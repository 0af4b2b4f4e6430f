package statedoc

import (
	"strings"
	"time"
)

var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
}

// Mirrors usually emit local wall-clock stamps without a zone.
var localLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime parses a mirror timestamp. Stamps without a zone are read in loc
// (UTC when nil).
func ParseTime(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// laterStamp picks the later of two lastSync stamps and returns it verbatim.
// Parsed comparison is used when both parse; otherwise the strings are
// compared, which matches chronological order for fixed-width stamps.
func laterStamp(current, candidate string, loc *time.Location) string {
	if strings.TrimSpace(candidate) == "" {
		return current
	}
	if strings.TrimSpace(current) == "" {
		return candidate
	}
	ct, cok := ParseTime(current, loc)
	nt, nok := ParseTime(candidate, loc)
	if cok && nok {
		if nt.After(ct) {
			return candidate
		}
		return current
	}
	if candidate > current {
		return candidate
	}
	return current
}

// TimeOfDay returns the clock part of a stamp for compact listings.
func TimeOfDay(raw string) string {
	raw = strings.TrimSpace(raw)
	if _, clock, ok := strings.Cut(raw, " "); ok {
		return clock
	}
	if _, clock, ok := strings.Cut(raw, "T"); ok {
		return clock
	}
	return raw
}
