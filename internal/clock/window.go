package clock

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

var ErrInvalidRange = errors.New("invalid time range")

// layouts without an offset are interpreted in the caller supplied location
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Window is a range of UTC instants.
type Window struct {
	From time.Time
	To   time.Time
}

// LoadLocation resolves an IANA zone name, treating the empty string as UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "UTC") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidRange, name)
	}
	return loc, nil
}

// ParseInstant parses an ISO-8601 date-time and normalizes it to UTC.
// Values carrying an explicit offset keep it; values without one are read in loc.
func ParseInstant(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", ErrInvalidRange)
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse %q", ErrInvalidRange, raw)
}

// ParseWindow builds a Window from optional raw bounds. A missing from defaults to now,
// a missing to defaults to from+span. The resulting To must be strictly after From.
func ParseWindow(from, to, timezone string, now time.Time, span time.Duration) (Window, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return Window{}, err
	}

	w := Window{From: now.UTC()}
	if strings.TrimSpace(from) != "" {
		if w.From, err = ParseInstant(from, loc); err != nil {
			return Window{}, err
		}
	}

	if strings.TrimSpace(to) != "" {
		if w.To, err = ParseInstant(to, loc); err != nil {
			return Window{}, err
		}
	} else {
		w.To = w.From.Add(span)
	}

	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

func (w Window) Validate() error {
	if !w.To.After(w.From) {
		return fmt.Errorf("%w: end %s is not after start %s", ErrInvalidRange,
			w.To.Format(time.RFC3339), w.From.Format(time.RFC3339))
	}
	return nil
}

// Intersects reports whether the closed interval [start, end] overlaps the window.
func (w Window) Intersects(start, end time.Time) bool {
	return !start.After(w.To) && !end.Before(w.From)
}
