package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors for the two normalization failure modes. Callers use
// errors.Is to distinguish a phrase with no interpretation from one with
// several conflicting interpretations.
var (
	ErrUnparsableDate = errors.New("unparsable date phrase")
	ErrAmbiguousDate  = errors.New("ambiguous date phrase")
)

// Kind discriminates the two NormalizedTime variants.
type Kind int

const (
	KindInstant Kind = iota
	KindRecurrence
)

// NormalizedTime is the canonical temporal representation: either a single
// timezone-aware instant or a recurrence rule anchored at its first
// occurrence. LowConfidence marks phrases resolved via fallback heuristics
// (bare weekday names, day-part words) rather than an explicit calendar date.
type NormalizedTime struct {
	Kind          Kind
	Instant       time.Time
	Recurrence    *Recurrence
	LowConfidence bool
}

// Start returns the instant for KindInstant, or the recurrence anchor.
func (n *NormalizedTime) Start() time.Time {
	if n.Kind == KindRecurrence {
		return n.Recurrence.Start()
	}
	return n.Instant
}

// Canonical returns a deterministic string form used for identity hashing.
// Equivalent phrases ("next Tue at 3pm" vs "Tuesday 15:00") canonicalize to
// the same value.
func (n *NormalizedTime) Canonical() string {
	if n.Kind == KindRecurrence {
		return n.Recurrence.Signature()
	}
	return n.Instant.UTC().Format(time.RFC3339)
}

// Normalize converts a free-text date phrase and an optional recurrence
// phrase into a NormalizedTime. Relative phrases resolve against the given
// reference instant, never wall-clock time. Phrases without an explicit zone
// resolve in loc; loc must not be nil.
func Normalize(dateText, recurrenceText string, now time.Time, loc *time.Location) (*NormalizedTime, error) {
	if loc == nil {
		return nil, fmt.Errorf("normalize: nil location")
	}
	now = now.In(loc)

	if strings.TrimSpace(recurrenceText) != "" {
		anchor := now
		lowConf := false
		// A date phrase alongside a recurrence phrase supplies the
		// time-of-day anchor ("3pm" + "every Tuesday").
		if strings.TrimSpace(dateText) != "" {
			inst, err := parseInstant(dateText, now, loc)
			if err == nil {
				anchor = inst.Instant
				lowConf = inst.LowConfidence
			}
		}
		rec, err := ParseRecurrence(recurrenceText, anchor, loc)
		if err != nil {
			return nil, err
		}
		return &NormalizedTime{Kind: KindRecurrence, Recurrence: rec, LowConfidence: lowConf}, nil
	}

	if strings.TrimSpace(dateText) == "" {
		return nil, fmt.Errorf("%w: empty phrase", ErrUnparsableDate)
	}
	return parseInstant(dateText, now, loc)
}

// Absolute layouts tried in order. All are interpreted in the default
// location unless the layout carries its own offset.
var instantLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"January 2, 2006 at 3:04pm",
	"January 2, 2006 at 3pm",
	"January 2, 2006 3:04pm",
	"January 2, 2006 15:04",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006 3:04pm",
	"Jan 2, 2006 15:04",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 January 2006 15:04",
	"2 January 2006",
	"02 Jan 2006 15:04",
	"02 Jan 2006",
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

var numberWords = map[string]int{
	"one": 1, "a": 1, "an": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

var (
	slashDateRe = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	inRelRe     = regexp.MustCompile(`^in\s+(\w+)\s+(day|days|week|weeks|month|months|hour|hours)$`)
	timeRe      = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
	dayPartRe   = regexp.MustCompile(`^(\d{1,2})\s+in\s+the\s+(morning|afternoon|evening)$`)
)

func parseInstant(text string, now time.Time, loc *time.Location) (*NormalizedTime, error) {
	trimmed := strings.TrimSpace(text)

	// Explicit calendar formats first.
	for _, layout := range instantLayouts {
		if t, err := time.ParseInLocation(layout, trimmed, loc); err == nil {
			return &NormalizedTime{Kind: KindInstant, Instant: t}, nil
		}
	}

	lower := strings.ToLower(trimmed)
	lower = strings.Join(strings.Fields(lower), " ")

	// Numeric slash dates: reject when day and month are interchangeable.
	if m := slashDateRe.FindStringSubmatch(lower); m != nil {
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		switch {
		case a <= 12 && b <= 12 && a != b:
			return nil, fmt.Errorf("%w: %q could be day/month or month/day", ErrAmbiguousDate, trimmed)
		case a <= 12 && b <= 31:
			// Month first is the only reading left.
			return &NormalizedTime{Kind: KindInstant, Instant: time.Date(y, time.Month(a), b, 0, 0, 0, 0, loc)}, nil
		case b <= 12 && a <= 31:
			return &NormalizedTime{Kind: KindInstant, Instant: time.Date(y, time.Month(b), a, 0, 0, 0, 0, loc)}, nil
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnparsableDate, trimmed)
		}
	}

	// Bare period words have no single resolvable instant.
	switch lower {
	case "next week", "next month", "soon", "later":
		return nil, fmt.Errorf("%w: %q has no single interpretation", ErrAmbiguousDate, trimmed)
	}

	return parseRelative(lower, trimmed, now, loc)
}

// parseRelative handles today/tomorrow, weekday names and "in N units"
// phrases, each with an optional trailing time of day.
func parseRelative(lower, orig string, now time.Time, loc *time.Location) (*NormalizedTime, error) {
	datePart := lower
	timePart := ""
	if i := strings.Index(lower, " at "); i >= 0 {
		datePart, timePart = lower[:i], lower[i+4:]
	} else if flds := strings.Fields(lower); len(flds) >= 2 {
		// "tuesday 15:00" style, with no "at" separator.
		if _, _, ok := parseClock(flds[len(flds)-1]); ok {
			datePart = strings.Join(flds[:len(flds)-1], " ")
			timePart = flds[len(flds)-1]
		}
	}

	base := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	lowConf := false

	var day time.Time
	switch {
	case datePart == "today":
		day = base
	case datePart == "tomorrow":
		day = base.AddDate(0, 0, 1)
	case datePart == "day after tomorrow" || datePart == "the day after tomorrow":
		day = base.AddDate(0, 0, 2)
	case strings.HasPrefix(datePart, "next "):
		wd, ok := weekdays[strings.TrimPrefix(datePart, "next ")]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnparsableDate, orig)
		}
		day = nextWeekday(base, wd)
	default:
		if wd, ok := weekdays[datePart]; ok {
			// A bare weekday resolves forward, but the sender may have
			// meant a past reference; flag it for downstream filtering.
			day = nextWeekday(base, wd)
			lowConf = true
		} else if m := inRelRe.FindStringSubmatch(datePart); m != nil {
			n, err := parseCount(m[1])
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrUnparsableDate, orig)
			}
			switch {
			case strings.HasPrefix(m[2], "hour"):
				t := now.Add(time.Duration(n) * time.Hour)
				return &NormalizedTime{Kind: KindInstant, Instant: t, LowConfidence: true}, nil
			case strings.HasPrefix(m[2], "day"):
				day = base.AddDate(0, 0, n)
			case strings.HasPrefix(m[2], "week"):
				day = base.AddDate(0, 0, 7*n)
			case strings.HasPrefix(m[2], "month"):
				day = base.AddDate(0, n, 0)
			}
			lowConf = true
		} else if hour, min, ok := parseClock(datePart); ok {
			// A bare time of day means the next such time after now.
			t := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, loc)
			if !t.After(now) {
				t = t.AddDate(0, 0, 1)
			}
			return &NormalizedTime{Kind: KindInstant, Instant: t, LowConfidence: true}, nil
		} else {
			return nil, fmt.Errorf("%w: %q", ErrUnparsableDate, orig)
		}
	}

	hour, min := 0, 0
	if timePart != "" {
		h, m, ok := parseClock(timePart)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnparsableDate, orig)
		}
		hour, min = h, m
	}

	t := time.Date(day.Year(), day.Month(), day.Day(), hour, min, 0, 0, loc)
	return &NormalizedTime{Kind: KindInstant, Instant: t, LowConfidence: lowConf}, nil
}

// parseClock parses "3pm", "3:30pm", "15:00", "noon", "midnight" and
// "8 in the evening" style phrases into an hour and minute.
func parseClock(s string) (hour, min int, ok bool) {
	s = strings.TrimSpace(s)
	switch s {
	case "noon", "midday":
		return 12, 0, true
	case "midnight":
		return 0, 0, true
	}
	if m := dayPartRe.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		if h < 1 || h > 12 {
			return 0, 0, false
		}
		switch m[2] {
		case "morning":
			if h == 12 {
				return 0, 0, false
			}
		case "afternoon", "evening":
			if h != 12 {
				h += 12
			}
		}
		return h, 0, true
	}
	m := timeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	h, _ := strconv.Atoi(m[1])
	if m[2] != "" {
		min, _ = strconv.Atoi(m[2])
	}
	if min > 59 {
		return 0, 0, false
	}
	switch m[3] {
	case "pm":
		if h > 12 {
			return 0, 0, false
		}
		if h != 12 {
			h += 12
		}
	case "am":
		if h > 12 {
			return 0, 0, false
		}
		if h == 12 {
			h = 0
		}
	default:
		// No meridiem and no colon reads as a bare number, not a time.
		if m[2] == "" {
			return 0, 0, false
		}
		if h > 23 {
			return 0, 0, false
		}
	}
	return h, min, true
}

func parseCount(word string) (int, error) {
	if n, err := strconv.Atoi(word); err == nil {
		if n < 1 {
			return 0, fmt.Errorf("count %d out of range", n)
		}
		return n, nil
	}
	if n, ok := numberWords[word]; ok {
		return n, nil
	}
	return 0, fmt.Errorf("unknown count word %q", word)
}

// nextWeekday returns the first day strictly after base that falls on wd.
func nextWeekday(base time.Time, wd time.Weekday) time.Time {
	delta := (int(wd) - int(base.Weekday()) + 7) % 7
	if delta == 0 {
		delta = 7
	}
	return base.AddDate(0, 0, delta)
}
