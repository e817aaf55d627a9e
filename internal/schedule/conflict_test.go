package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ora-app/orasync/internal/config"
	"github.com/ora-app/orasync/internal/model"
)

type fakeEventsAPI struct {
	listMin, listMax time.Time
	listOut          []model.Event
	listErr          error

	createIn  *model.EventDraft
	createOut *model.Event
	createErr error
}

func (f *fakeEventsAPI) ListEvents(_ context.Context, timeMin, timeMax time.Time, _ int64) ([]model.Event, error) {
	f.listMin, f.listMax = timeMin, timeMax
	return f.listOut, f.listErr
}

func (f *fakeEventsAPI) CreateEvent(_ context.Context, draft model.EventDraft) (*model.Event, error) {
	f.createIn = &draft
	if f.createOut != nil {
		return f.createOut, f.createErr
	}
	return &model.Event{ID: "created", Start: draft.Start, End: draft.End}, f.createErr
}

func syncDefaults() config.Sync {
	var c config.Config
	c.Normalize()
	return c.Sync
}

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return v
}

func TestWindow_MissingEndDefaultsToOneHour(t *testing.T) {
	c := NewChecker(&fakeEventsAPI{}, syncDefaults())
	start := ts(t, "2024-05-01T10:00:00Z")

	min, max := c.Window(model.EventDraft{Start: start})
	assert.True(t, min.Equal(start))
	assert.True(t, max.Equal(start.Add(time.Hour)))
}

func TestWindow_DegenerateEndForcedToFifteenMinutes(t *testing.T) {
	c := NewChecker(&fakeEventsAPI{}, syncDefaults())
	start := ts(t, "2024-05-01T10:00:00Z")

	min, max := c.Window(model.EventDraft{Start: start, End: start})
	assert.True(t, min.Equal(start))
	assert.True(t, max.Equal(start.Add(15*time.Minute)))

	_, max = c.Window(model.EventDraft{Start: start, End: start.Add(-time.Hour)})
	assert.True(t, max.Equal(start.Add(15*time.Minute)))
}

func TestWindow_AllDayIsEndExclusiveNextDay(t *testing.T) {
	c := NewChecker(&fakeEventsAPI{}, syncDefaults())
	start := ts(t, "2024-05-01T15:30:00Z")

	min, max := c.Window(model.EventDraft{Start: start, AllDay: true})
	assert.True(t, min.Equal(ts(t, "2024-05-01T00:00:00Z")))
	assert.True(t, max.Equal(ts(t, "2024-05-02T00:00:00Z")))
}

func TestCheck_ReturnsOverlapsVerbatim(t *testing.T) {
	existing := []model.Event{{ID: "e1", Summary: "standup"}}
	api := &fakeEventsAPI{listOut: existing}
	c := NewChecker(api, syncDefaults())

	got, err := c.Check(context.Background(), model.EventDraft{Start: ts(t, "2024-05-01T10:00:00Z")})
	require.NoError(t, err)
	assert.Equal(t, existing, got)
	assert.True(t, api.listMin.Equal(ts(t, "2024-05-01T10:00:00Z")))
	assert.True(t, api.listMax.Equal(ts(t, "2024-05-01T11:00:00Z")))
}

func TestCreate_BlockedByConflictUnlessOverridden(t *testing.T) {
	existing := []model.Event{{ID: "e1"}, {ID: "e2"}}
	api := &fakeEventsAPI{listOut: existing}
	c := NewChecker(api, syncDefaults())
	draft := model.EventDraft{Summary: "lunch", Start: ts(t, "2024-05-01T12:00:00Z")}

	_, err := c.Create(context.Background(), draft, false)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, existing, ce.Conflicts)
	assert.Nil(t, api.createIn, "must not create when conflicting")

	created, err := c.Create(context.Background(), draft, true)
	require.NoError(t, err)
	assert.NotNil(t, created)
	require.NotNil(t, api.createIn)
	assert.True(t, api.createIn.End.Equal(ts(t, "2024-05-01T13:00:00Z")), "created draft carries the normalized end")
}

func TestCreate_ProbeErrorPropagates(t *testing.T) {
	api := &fakeEventsAPI{listErr: errors.New("boom")}
	c := NewChecker(api, syncDefaults())

	_, err := c.Create(context.Background(), model.EventDraft{Start: ts(t, "2024-05-01T12:00:00Z")}, false)
	require.Error(t, err)
	assert.Nil(t, api.createIn)
}
