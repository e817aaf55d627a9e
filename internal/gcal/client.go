// Package gcal wraps the Google Calendar API surface the app consumes:
// free/busy queries, event listing and creation, and ACL grants.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ora-app/orasync/internal/errs"
	"github.com/ora-app/orasync/internal/model"
)

const primaryCalendar = "primary"

// Client is a per-session calendar client bound to one bearer credential.
type Client struct {
	service *calendar.Service
}

// New builds a Client from an authenticated HTTP client.
func New(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &Client{service: service}, nil
}

// NewWithToken builds a Client from a bare access token, the shape the
// sweep uses after a refresh exchange.
func NewWithToken(ctx context.Context, accessToken string, opts ...option.ClientOption) (*Client, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	return New(ctx, oauth2.NewClient(ctx, src), opts...)
}

// FreeBusy returns the primary calendar's busy blocks within [timeMin, timeMax).
func (c *Client) FreeBusy(ctx context.Context, timeMin, timeMax time.Time) ([]model.BusyInterval, error) {
	resp, err := c.service.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: timeMin.Format(time.RFC3339),
		TimeMax: timeMax.Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: primaryCalendar}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, wrapErr("freebusy query", err)
	}

	cal, ok := resp.Calendars[primaryCalendar]
	if !ok {
		return nil, nil
	}
	var out []model.BusyInterval
	for _, period := range cal.Busy {
		start, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			return nil, fmt.Errorf("parsing busy start %q: %w", period.Start, err)
		}
		end, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			return nil, fmt.Errorf("parsing busy end %q: %w", period.End, err)
		}
		out = append(out, model.BusyInterval{Start: start, End: end})
	}
	return out, nil
}

// ListEvents returns the primary calendar's events overlapping
// [timeMin, timeMax), expanded to single instances and ordered by start
// time. Cancelled items are filtered out.
func (c *Client) ListEvents(ctx context.Context, timeMin, timeMax time.Time, maxResults int64) ([]model.Event, error) {
	call := c.service.Events.List(primaryCalendar).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime")
	if maxResults > 0 {
		call = call.MaxResults(maxResults)
	}
	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, wrapErr("events list", err)
	}

	var out []model.Event
	for _, item := range resp.Items {
		if item.Status == "cancelled" {
			continue
		}
		ev, err := mapEvent(item)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// CreateEvent inserts a new event on the primary calendar.
func (c *Client) CreateEvent(ctx context.Context, draft model.EventDraft) (*model.Event, error) {
	ev := &calendar.Event{
		Summary:     draft.Summary,
		Description: draft.Description,
		Location:    draft.Location,
	}
	if draft.AllDay {
		ev.Start = &calendar.EventDateTime{Date: draft.Start.Format("2006-01-02")}
		ev.End = &calendar.EventDateTime{Date: draft.End.Format("2006-01-02")}
	} else {
		ev.Start = &calendar.EventDateTime{DateTime: draft.Start.Format(time.RFC3339)}
		ev.End = &calendar.EventDateTime{DateTime: draft.End.Format(time.RFC3339)}
	}

	created, err := c.service.Events.Insert(primaryCalendar, ev).Context(ctx).Do()
	if err != nil {
		return nil, wrapErr("event insert", err)
	}
	mapped, err := mapEvent(created)
	if err != nil {
		return nil, err
	}
	return &mapped, nil
}

// GrantReader inserts a reader ACL rule for email on the primary calendar.
// A duplicate grant (HTTP 409 or reason "duplicate") is success: the grant
// is idempotent.
func (c *Client) GrantReader(ctx context.Context, email string) error {
	_, err := c.service.Acl.Insert(primaryCalendar, &calendar.AclRule{
		Role:  "reader",
		Scope: &calendar.AclRuleScope{Type: "user", Value: email},
	}).Context(ctx).Do()
	if err != nil {
		if isDuplicateGrant(err) {
			return nil
		}
		return wrapErr("acl insert", err)
	}
	return nil
}

func isDuplicateGrant(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	if gerr.Code == http.StatusConflict {
		return true
	}
	for _, e := range gerr.Errors {
		if e.Reason == "duplicate" {
			return true
		}
	}
	return false
}

// mapEvent converts a provider event into the canonical shape. All-day
// events carry date-only boundaries; a missing timed end is synthesized an
// hour after start so End > Start always holds.
func mapEvent(item *calendar.Event) (model.Event, error) {
	ev := model.Event{
		ID:           item.Id,
		Summary:      item.Summary,
		Description:  item.Description,
		Location:     item.Location,
		Status:       item.Status,
		HTMLLink:     item.HtmlLink,
		Transparency: item.Transparency,
		Visibility:   item.Visibility,
	}

	start, allDay, err := parseEventTime(item.Start)
	if err != nil {
		return model.Event{}, fmt.Errorf("event %s: %w", item.Id, err)
	}
	end, _, err := parseEventTime(item.End)
	if err != nil {
		return model.Event{}, fmt.Errorf("event %s: %w", item.Id, err)
	}
	ev.Start, ev.AllDay = start, allDay
	if end.IsZero() || !end.After(start) {
		if allDay {
			end = start.AddDate(0, 0, 1)
		} else {
			end = start.Add(time.Hour)
		}
	}
	ev.End = end
	return ev, nil
}

func parseEventTime(edt *calendar.EventDateTime) (time.Time, bool, error) {
	if edt == nil {
		return time.Time{}, false, nil
	}
	if edt.Date != "" {
		t, err := time.Parse("2006-01-02", edt.Date)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parsing date %q: %w", edt.Date, err)
		}
		return t, true, nil
	}
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parsing datetime %q: %w", edt.DateTime, err)
		}
		return t, false, nil
	}
	return time.Time{}, false, nil
}

// wrapErr maps provider failures into the typed error taxonomy, preserving
// the HTTP status and raw body.
func wrapErr(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return fmt.Errorf("%s: %w", op, &errs.ProviderError{Status: gerr.Code, Body: gerr.Message})
	}
	return fmt.Errorf("%s: %w", op, err)
}
