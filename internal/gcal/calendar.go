// Package gcal wraps the Google Calendar API for the reconciler: create,
// update and cancel with classified transient/permanent failures. The
// candidate's identity key is stored in the event's private extended
// properties so externally-created events stay distinguishable.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/samfawaz/mailcal/internal/candidate"
	"github.com/samfawaz/mailcal/internal/normalize"
)

const identityKeyProperty = "mailcalIdentityKey"

type Client struct {
	service    *calendar.Service
	calendarID string
	timezone   string
}

// NewClient builds a calendar client from an OAuth-authenticated HTTP
// client. calendarID is usually "primary".
func NewClient(ctx context.Context, httpClient *http.Client, calendarID, timezone string) (*Client, error) {
	service, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &Client{service: service, calendarID: calendarID, timezone: timezone}, nil
}

// CreateEvent inserts the candidate as a new calendar event and returns the
// external event id.
func (c *Client) CreateEvent(ctx context.Context, cand *candidate.EventCandidate) (string, error) {
	created, err := c.service.Events.Insert(c.calendarID, c.eventBody(cand)).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		return "", classify("create", err)
	}
	return created.Id, nil
}

// UpdateEvent replaces the external event's user-visible fields with the
// candidate's current state.
func (c *Client) UpdateEvent(ctx context.Context, externalID string, cand *candidate.EventCandidate) error {
	_, err := c.service.Events.Update(c.calendarID, externalID, c.eventBody(cand)).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		return classify("update", err)
	}
	return nil
}

// CancelEvent deletes the external event. A 404 or 410 means someone
// removed it already, which is the outcome cancel wants anyway.
func (c *Client) CancelEvent(ctx context.Context, externalID string) error {
	err := c.service.Events.Delete(c.calendarID, externalID).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		classified := classify("cancel", err)
		if gone(err) {
			return nil
		}
		return classified
	}
	return nil
}

func gone(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone
	}
	return false
}

func (c *Client) eventBody(cand *candidate.EventCandidate) *calendar.Event {
	start := cand.Time.Start()
	end := start.Add(time.Duration(cand.DurationMinutes) * time.Minute)

	ev := &calendar.Event{
		Summary:     cand.Title,
		Description: cand.Description,
		Location:    cand.Location,
		Start: &calendar.EventDateTime{
			DateTime: start.Format(time.RFC3339),
			TimeZone: c.timezone,
		},
		End: &calendar.EventDateTime{
			DateTime: end.Format(time.RFC3339),
			TimeZone: c.timezone,
		},
		Reminders: &calendar.EventReminders{
			UseDefault:      true,
			ForceSendFields: []string{"UseDefault"},
		},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{
				identityKeyProperty: cand.IdentityKey,
			},
		},
	}

	if cand.Time.Kind == normalize.KindRecurrence {
		ev.Recurrence = []string{cand.Time.Recurrence.RRuleString()}
	}

	for _, addr := range cand.Attendees {
		ev.Attendees = append(ev.Attendees, &calendar.EventAttendee{Email: addr})
	}

	return ev
}
