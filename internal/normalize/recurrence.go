package normalize

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// Recurrence is a validated recurrence rule anchored at its first qualifying
// occurrence. The embedded rrule handles enumeration; the parsed fields are
// kept so the signature stays deterministic across library versions.
type Recurrence struct {
	rule     *rrule.RRule
	freq     rrule.Frequency
	interval int
	byDay    []rrule.Weekday
	monthDay int
	until    time.Time
}

// Start returns the anchor instant (first occurrence).
func (r *Recurrence) Start() time.Time {
	return r.rule.OrigOptions.Dtstart
}

// Until returns the rule's end instant, zero when open-ended.
func (r *Recurrence) Until() time.Time {
	return r.until
}

// Occurrences enumerates the first n occurrences starting at the anchor.
func (r *Recurrence) Occurrences(n int) []time.Time {
	iter := r.rule.Iterator()
	out := make([]time.Time, 0, n)
	for len(out) < n {
		t, ok := iter()
		if !ok {
			break
		}
		out = append(out, t)
	}
	return out
}

// Between enumerates occurrences inside [after, before], inclusive.
func (r *Recurrence) Between(after, before time.Time) []time.Time {
	return r.rule.Between(after, before, true)
}

// RRuleString returns the RFC 5545 RRULE line for the calendar API.
// DTSTART is deliberately absent: the calendar event's start supplies it.
func (r *Recurrence) RRuleString() string {
	parts := []string{"FREQ=" + freqNames[r.freq]}
	if r.interval > 1 {
		parts = append(parts, fmt.Sprintf("INTERVAL=%d", r.interval))
	}
	if len(r.byDay) > 0 {
		days := make([]string, len(r.byDay))
		for i, d := range r.byDay {
			days[i] = d.String()
		}
		sort.Strings(days)
		parts = append(parts, "BYDAY="+strings.Join(days, ","))
	}
	if r.monthDay > 0 {
		parts = append(parts, fmt.Sprintf("BYMONTHDAY=%d", r.monthDay))
	}
	if !r.until.IsZero() {
		parts = append(parts, "UNTIL="+r.until.UTC().Format("20060102T150405Z"))
	}
	return "RRULE:" + strings.Join(parts, ";")
}

// Signature is the deterministic canonical form used for identity hashing.
func (r *Recurrence) Signature() string {
	parts := []string{
		"DTSTART=" + r.Start().UTC().Format("20060102T150405Z"),
		"FREQ=" + freqNames[r.freq],
		fmt.Sprintf("INTERVAL=%d", r.interval),
	}
	if len(r.byDay) > 0 {
		days := make([]string, len(r.byDay))
		for i, d := range r.byDay {
			days[i] = d.String()
		}
		sort.Strings(days)
		parts = append(parts, "BYDAY="+strings.Join(days, ","))
	}
	if r.monthDay > 0 {
		parts = append(parts, fmt.Sprintf("BYMONTHDAY=%d", r.monthDay))
	}
	if !r.until.IsZero() {
		parts = append(parts, "UNTIL="+r.until.UTC().Format("20060102T150405Z"))
	}
	return strings.Join(parts, ";")
}

var freqNames = map[rrule.Frequency]string{
	rrule.DAILY:   "DAILY",
	rrule.WEEKLY:  "WEEKLY",
	rrule.MONTHLY: "MONTHLY",
	rrule.YEARLY:  "YEARLY",
}

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

var (
	everyNRe   = regexp.MustCompile(`^every\s+(\w+)\s+(day|days|week|weeks|month|months|year|years)$`)
	monthDayRe = regexp.MustCompile(`^(?:every\s+month|monthly)\s+on\s+(?:the\s+)?(\d{1,2})(?:st|nd|rd|th)?$`)
)

// ParseRecurrence converts a recurrence phrase ("every Tuesday", "monthly on
// the 1st", "every 2 weeks until June 1, 2026") into a rule whose start is
// the first qualifying occurrence at or after the anchor instant.
func ParseRecurrence(text string, anchor time.Time, loc *time.Location) (*Recurrence, error) {
	anchor = anchor.In(loc).Truncate(time.Minute)
	lower := strings.ToLower(strings.TrimSpace(text))
	lower = strings.Join(strings.Fields(lower), " ")
	if lower == "" {
		return nil, fmt.Errorf("%w: empty recurrence phrase", ErrUnparsableDate)
	}

	// Optional "until <date>" suffix.
	var until time.Time
	if i := strings.Index(lower, " until "); i >= 0 {
		endPhrase := lower[i+7:]
		lower = lower[:i]
		end, err := parseInstant(endPhrase, anchor, loc)
		if err != nil {
			return nil, fmt.Errorf("recurrence end: %w", err)
		}
		until = end.Instant
		if until.Hour() == 0 && until.Minute() == 0 {
			// A bare end date means through that whole day.
			until = until.AddDate(0, 0, 1).Add(-time.Second)
		}
	}

	freq, interval, byDay, monthDay, err := parseRecurrenceClause(lower)
	if err != nil {
		return nil, err
	}
	if interval < 1 {
		return nil, fmt.Errorf("%w: interval must be at least 1", ErrUnparsableDate)
	}

	opt := rrule.ROption{
		Freq:     freq,
		Interval: interval,
		Dtstart:  anchor,
	}
	if len(byDay) > 0 {
		opt.Byweekday = byDay
	}
	if monthDay > 0 {
		opt.Bymonthday = []int{monthDay}
	}
	if !until.IsZero() {
		opt.Until = until
	}

	probe, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("build recurrence rule: %w", err)
	}

	// Anchor the rule at its first qualifying occurrence >= the reference.
	first := probe.After(anchor, true)
	if first.IsZero() {
		return nil, fmt.Errorf("%w: recurrence %q has no occurrence at or after %s",
			ErrUnparsableDate, text, anchor.Format(time.RFC3339))
	}
	if !until.IsZero() && !first.Before(until) {
		return nil, fmt.Errorf("%w: recurrence %q ends before it starts", ErrUnparsableDate, text)
	}
	opt.Dtstart = first

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("build recurrence rule: %w", err)
	}

	return &Recurrence{
		rule:     rule,
		freq:     freq,
		interval: interval,
		byDay:    byDay,
		monthDay: monthDay,
		until:    until,
	}, nil
}

func parseRecurrenceClause(lower string) (freq rrule.Frequency, interval int, byDay []rrule.Weekday, monthDay int, err error) {
	interval = 1

	switch lower {
	case "daily", "every day", "each day":
		return rrule.DAILY, 1, nil, 0, nil
	case "every other day":
		return rrule.DAILY, 2, nil, 0, nil
	case "weekly", "every week":
		return rrule.WEEKLY, 1, nil, 0, nil
	case "every other week", "biweekly", "fortnightly":
		return rrule.WEEKLY, 2, nil, 0, nil
	case "monthly", "every month":
		return rrule.MONTHLY, 1, nil, 0, nil
	case "every other month":
		return rrule.MONTHLY, 2, nil, 0, nil
	case "yearly", "annually", "every year":
		return rrule.YEARLY, 1, nil, 0, nil
	case "every weekday", "weekdays", "every week day":
		return rrule.WEEKLY, 1, []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR}, 0, nil
	}

	if m := monthDayRe.FindStringSubmatch(lower); m != nil {
		d, _ := strconv.Atoi(m[1])
		if d < 1 || d > 31 {
			return 0, 0, nil, 0, fmt.Errorf("%w: month day %d out of range", ErrUnparsableDate, d)
		}
		return rrule.MONTHLY, 1, nil, d, nil
	}

	if m := everyNRe.FindStringSubmatch(lower); m != nil {
		n, cerr := parseCount(m[1])
		if cerr == nil {
			switch {
			case strings.HasPrefix(m[2], "day"):
				return rrule.DAILY, n, nil, 0, nil
			case strings.HasPrefix(m[2], "week"):
				return rrule.WEEKLY, n, nil, 0, nil
			case strings.HasPrefix(m[2], "month"):
				return rrule.MONTHLY, n, nil, 0, nil
			case strings.HasPrefix(m[2], "year"):
				return rrule.YEARLY, n, nil, 0, nil
			}
		}
	}

	// Weekday lists: "every tuesday", "every tuesday and thursday",
	// "weekly on monday, wednesday".
	clause := lower
	for _, prefix := range []string{"every ", "weekly on ", "on "} {
		if strings.HasPrefix(clause, prefix) {
			clause = strings.TrimPrefix(clause, prefix)
			break
		}
	}
	clause = strings.ReplaceAll(clause, " and ", ",")
	clause = strings.ReplaceAll(clause, " ", "")
	var days []rrule.Weekday
	for _, name := range strings.Split(clause, ",") {
		if name == "" {
			continue
		}
		name = strings.TrimSuffix(name, "s")
		wd, ok := weekdays[name]
		if !ok {
			return 0, 0, nil, 0, fmt.Errorf("%w: recurrence %q", ErrUnparsableDate, lower)
		}
		days = append(days, rruleWeekdays[wd])
	}
	if len(days) == 0 {
		return 0, 0, nil, 0, fmt.Errorf("%w: recurrence %q", ErrUnparsableDate, lower)
	}
	return rrule.WEEKLY, 1, days, 0, nil
}
