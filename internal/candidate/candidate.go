// Package candidate turns raw LLM extractions into canonical event
// candidates with a stable identity key, so that semantically identical
// events from reworded emails collide on purpose.
package candidate

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/samfawaz/mailcal/internal/extractor"
	"github.com/samfawaz/mailcal/internal/normalize"
)

// ErrInsufficientData marks extractions that cannot become a candidate:
// missing title or no producible normalized time.
var ErrInsufficientData = errors.New("insufficient event data")

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// EventCandidate is an event inferred from one email, not yet reconciled
// against history.
type EventCandidate struct {
	IdentityKey     string
	Title           string
	Description     string
	Location        string
	Time            *normalize.NormalizedTime
	DurationMinutes int
	Attendees       []string
	SourceMessageID string
	SourceThreadID  string
	Confidence      float64
	ExtractedAt     time.Time
}

// StateHash covers the fields a user would notice changing: title, time,
// location and duration. Two candidates with equal identity keys but
// different state hashes represent an update to the same logical event.
func (c *EventCandidate) StateHash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%s\n%d", canonicalTitle(c.Title), c.Time.Canonical(), strings.TrimSpace(c.Location), c.DurationMinutes)
	return hex.EncodeToString(h.Sum(nil))
}

// Source identifies the email a candidate came from.
type Source struct {
	MessageID string
	ThreadID  string
	Sender    string
}

type Builder struct {
	minConfidence   float64
	defaultDuration int // minutes
	agentAddress    string
	location        *time.Location
}

// NewBuilder configures a pure candidate builder. agentAddress is excluded
// from attendee lists (the organizer is implicit on the calendar).
func NewBuilder(minConfidence float64, defaultDurationMinutes int, agentAddress string, loc *time.Location) *Builder {
	return &Builder{
		minConfidence:   minConfidence,
		defaultDuration: defaultDurationMinutes,
		agentAddress:    agentAddress,
		location:        loc,
	}
}

// Build merges one extraction with its source metadata into a candidate.
// Returns (nil, nil) when the extraction's confidence is below the
// configured threshold: low-confidence extractions are expected noise, not
// errors. Normalizer failures and missing titles wrap ErrInsufficientData.
func (b *Builder) Build(ex extractor.RawExtraction, src Source, now time.Time) (*EventCandidate, error) {
	if ex.Confidence < b.minConfidence {
		return nil, nil
	}

	title := strings.TrimSpace(ex.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: no title", ErrInsufficientData)
	}

	nt, err := normalize.Normalize(ex.DateText, ex.RecurrenceText, now, b.location)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInsufficientData, err)
	}

	duration := ex.DurationMinutes
	if duration <= 0 {
		duration = b.defaultDuration
	}

	return &EventCandidate{
		IdentityKey:     identityKey(title, nt),
		Title:           title,
		Description:     strings.TrimSpace(ex.Description),
		Location:        strings.TrimSpace(ex.Location),
		Time:            nt,
		DurationMinutes: duration,
		Attendees:       b.attendees(ex.Attendees, src.Sender),
		SourceMessageID: src.MessageID,
		SourceThreadID:  src.ThreadID,
		Confidence:      ex.Confidence,
		ExtractedAt:     now,
	}, nil
}

// attendees keeps only valid addresses, adds the sender unless it is the
// agent itself, and sorts for deterministic output.
func (b *Builder) attendees(extracted []string, sender string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(addr string) {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr == "" || !emailRe.MatchString(addr) {
			return
		}
		if addr == strings.ToLower(b.agentAddress) {
			return
		}
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}
	for _, a := range extracted {
		add(a)
	}
	add(sender)
	sort.Strings(out)
	return out
}

// identityKey hashes the normalized title and the canonical temporal form,
// never free text, so rewordings of the same event produce the same key.
func identityKey(title string, nt *normalize.NormalizedTime) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s", canonicalTitle(title), nt.Canonical())
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}
