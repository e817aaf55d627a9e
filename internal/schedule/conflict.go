// Package schedule detects conflicts for candidate events and creates them,
// with an explicit override so conflicts warn rather than block.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/ora-app/orasync/internal/availability"
	"github.com/ora-app/orasync/internal/config"
	"github.com/ora-app/orasync/internal/model"
)

// EventsAPI is the provider slice the checker needs.
type EventsAPI interface {
	ListEvents(ctx context.Context, timeMin, timeMax time.Time, maxResults int64) ([]model.Event, error)
	CreateEvent(ctx context.Context, draft model.EventDraft) (*model.Event, error)
}

// ConflictError reports that a candidate event overlaps existing ones. It is
// advisory: callers surface the list and may re-create with allowConflicts.
type ConflictError struct {
	Conflicts []model.Event
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("event conflicts with %d existing event(s)", len(e.Conflicts))
}

// Checker probes the provider for events overlapping a candidate window.
type Checker struct {
	api EventsAPI
	cfg config.Sync
}

func NewChecker(api EventsAPI, cfg config.Sync) *Checker {
	return &Checker{api: api, cfg: cfg}
}

// Window normalizes a draft into the concrete half-open probe window.
// All-day drafts span full days end-exclusive; a missing timed end defaults
// to one hour; end <= start is forced to a 15 minute minimum so the probe
// is never empty.
func (c *Checker) Window(draft model.EventDraft) (time.Time, time.Time) {
	if draft.AllDay {
		start := availability.DayStart(draft.Start)
		end := availability.DayStart(draft.End)
		if !end.After(start) {
			end = start.AddDate(0, 0, 1)
		}
		return start, end
	}

	start := draft.Start
	end := draft.End
	if end.IsZero() {
		end = start.Add(c.cfg.DefaultEventDuration())
	}
	if !end.After(start) {
		end = start.Add(c.cfg.MinConflictWindow())
	}
	return start, end
}

// Check returns the existing events overlapping the draft's normalized
// window, verbatim. Empty means no conflicts.
func (c *Checker) Check(ctx context.Context, draft model.EventDraft) ([]model.Event, error) {
	timeMin, timeMax := c.Window(draft)
	return c.api.ListEvents(ctx, timeMin, timeMax, 0)
}

// Create inserts the draft unless it conflicts. With allowConflicts the
// caller has already warned the user and forces creation; without it a
// conflicting draft fails with *ConflictError carrying the overlap list.
func (c *Checker) Create(ctx context.Context, draft model.EventDraft, allowConflicts bool) (*model.Event, error) {
	if !allowConflicts {
		conflicts, err := c.Check(ctx, draft)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			return nil, &ConflictError{Conflicts: conflicts}
		}
	}

	normalized := draft
	normalized.Start, normalized.End = c.Window(draft)
	return c.api.CreateEvent(ctx, normalized)
}
