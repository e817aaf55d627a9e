package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ora-app/orasync/internal/config"
	"github.com/ora-app/orasync/internal/errs"
	"github.com/ora-app/orasync/internal/model"
)

type fakeUsers struct {
	users   map[string]*model.User
	consent map[string]model.ConsentStatus
	listErr error
}

func newFakeUsers(users ...*model.User) *fakeUsers {
	f := &fakeUsers{users: map[string]*model.User{}, consent: map[string]model.ConsentStatus{}}
	for _, u := range users {
		f.users[u.UID] = u
	}
	return f
}

func (f *fakeUsers) Get(_ context.Context, uid string) (*model.User, error) {
	u, ok := f.users[uid]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) Upsert(_ context.Context, u *model.User) error {
	f.users[u.UID] = u
	return nil
}

func (f *fakeUsers) FindByEmail(context.Context, string) (*model.User, error) {
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) SetConsent(_ context.Context, uid string, status model.ConsentStatus, syncEnabled bool) error {
	f.consent[uid] = status
	if u, ok := f.users[uid]; ok {
		u.CalendarConsentStatus = status
		u.CalendarSyncEnabled = syncEnabled
	}
	return nil
}

func (f *fakeUsers) SetConnected(_ context.Context, uid string, connected bool) error {
	if u, ok := f.users[uid]; ok {
		u.Connected = connected
	}
	return nil
}

func (f *fakeUsers) ListSyncable(_ context.Context, limit int) ([]model.User, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.User
	for _, u := range f.users {
		if u.CalendarConsentStatus == model.ConsentGranted && u.CalendarSyncEnabled {
			out = append(out, *u)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeTokens struct {
	refresh map[string]string
}

func (f *fakeTokens) SessionToken(context.Context, string) (*model.SessionToken, error) {
	return nil, errs.ErrNotFound
}
func (f *fakeTokens) PutSessionToken(context.Context, string, *model.SessionToken) error { return nil }
func (f *fakeTokens) DeleteSessionToken(context.Context, string) error                   { return nil }
func (f *fakeTokens) RefreshToken(_ context.Context, uid string) (string, error) {
	tok, ok := f.refresh[uid]
	if !ok {
		return "", errs.ErrNotFound
	}
	return tok, nil
}
func (f *fakeTokens) PutRefreshToken(_ context.Context, uid, tok string) error {
	f.refresh[uid] = tok
	return nil
}
func (f *fakeTokens) DeleteRefreshToken(_ context.Context, uid string) error {
	delete(f.refresh, uid)
	return nil
}

type putDaysCall struct {
	uid      string
	days     []model.AvailabilityDay
	syncedAt time.Time
}

type fakeAvail struct {
	calls  []putDaysCall
	putErr error
}

func (f *fakeAvail) PutDays(_ context.Context, uid string, days []model.AvailabilityDay, syncedAt time.Time) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.calls = append(f.calls, putDaysCall{uid: uid, days: days, syncedAt: syncedAt})
	return nil
}

func (f *fakeAvail) Day(context.Context, string, string, string) (*model.AvailabilityDay, error) {
	return nil, errs.ErrNotFound
}

type fakeExchanger struct {
	errs map[string]error // keyed by refresh token
}

func (f *fakeExchanger) Refresh(_ context.Context, refreshToken string) (*model.SessionToken, error) {
	if err, ok := f.errs[refreshToken]; ok {
		return nil, err
	}
	return &model.SessionToken{AccessToken: "at-" + refreshToken, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type fakeProvider struct {
	busy []model.BusyInterval
	err  error
}

func (f *fakeProvider) FreeBusy(context.Context, time.Time, time.Time) ([]model.BusyInterval, error) {
	return f.busy, f.err
}

func testSyncer(users *fakeUsers, tokens *fakeTokens, avail *fakeAvail,
	ex *fakeExchanger, prov FreeBusyProvider) *Syncer {
	var c config.Config
	c.Normalize()
	factory := func(context.Context, string) (FreeBusyProvider, error) { return prov, nil }
	return New(users, tokens, avail, ex, factory, c.Sync, nil)
}

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return v
}

func TestSyncUser_EndToEnd(t *testing.T) {
	users := newFakeUsers(&model.User{
		UID: "U", CalendarConsentStatus: model.ConsentGranted, CalendarSyncEnabled: true,
	})
	tokens := &fakeTokens{refresh: map[string]string{"U": "rt"}}
	avail := &fakeAvail{}
	prov := &fakeProvider{busy: []model.BusyInterval{{
		Start: ts(t, "2024-01-10T09:00:00Z"),
		End:   ts(t, "2024-01-10T10:00:00Z"),
	}}}

	s := testSyncer(users, tokens, avail, &fakeExchanger{}, prov)
	s.now = func() time.Time { return ts(t, "2024-01-10T06:00:00Z") }

	outcome, err := s.SyncUser(context.Background(), "U", true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSynced, outcome)
	assert.Equal(t, StateConnected, s.State("U"))

	require.Len(t, avail.calls, 1)
	call := avail.calls[0]
	assert.Equal(t, "U", call.uid)
	require.Len(t, call.days, 14)

	var jan10 *model.AvailabilityDay
	for i := range call.days {
		if call.days[i].Day == "2024-01-10" {
			jan10 = &call.days[i]
		}
	}
	require.NotNil(t, jan10)
	require.Len(t, jan10.Slots, 48)
	for i, slot := range jan10.Slots {
		want := model.SlotFree
		if i == 18 || i == 19 { // 09:00 and 09:30
			want = model.SlotBusy
		}
		assert.Equal(t, want, slot.State, "slot %d", i)
	}
}

func TestSweep_Summary(t *testing.T) {
	users := newFakeUsers(
		&model.User{UID: "ok", CalendarConsentStatus: model.ConsentGranted, CalendarSyncEnabled: true},
		&model.User{UID: "gone", CalendarConsentStatus: model.ConsentGranted, CalendarSyncEnabled: true},
		&model.User{UID: "broken", CalendarConsentStatus: model.ConsentGranted, CalendarSyncEnabled: true},
		&model.User{UID: "optout", CalendarConsentStatus: model.ConsentGranted, CalendarSyncEnabled: false},
	)
	tokens := &fakeTokens{refresh: map[string]string{
		"ok": "rt-ok", "gone": "rt-gone", "broken": "rt-broken",
	}}
	ex := &fakeExchanger{errs: map[string]error{
		"rt-gone":   errors.New(`oauth2: "invalid_grant" "Token has been expired or revoked."`),
		"rt-broken": errors.New("502 bad gateway"),
	}}
	avail := &fakeAvail{}
	s := testSyncer(users, tokens, avail, ex, &fakeProvider{})

	summary := s.Sweep(context.Background())

	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, []string{"gone"}, summary.Revoked)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, "broken", summary.Failed[0].UID)

	// Revocation is reclassified, not recorded as a failure.
	assert.Equal(t, model.ConsentRevoked, users.users["gone"].CalendarConsentStatus)
	assert.False(t, users.users["gone"].CalendarSyncEnabled)
}

func TestSyncUser_CooldownSkips(t *testing.T) {
	now := ts(t, "2024-01-10T12:00:00Z")
	users := newFakeUsers(&model.User{
		UID:                   "U",
		CalendarConsentStatus: model.ConsentGranted,
		CalendarSyncEnabled:   true,
		LastCalendarSyncAt:    now.Add(-time.Hour),
	})
	tokens := &fakeTokens{refresh: map[string]string{"U": "rt"}}
	avail := &fakeAvail{}
	s := testSyncer(users, tokens, avail, &fakeExchanger{}, &fakeProvider{})
	s.now = func() time.Time { return now }

	outcome, err := s.SyncUser(context.Background(), "U", false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Empty(t, avail.calls)

	// force bypasses the advisory cooldown
	outcome, err = s.SyncUser(context.Background(), "U", true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSynced, outcome)
	require.Len(t, avail.calls, 1)
}

func TestSyncUser_NoRefreshCredential(t *testing.T) {
	users := newFakeUsers(&model.User{UID: "U"})
	s := testSyncer(users, &fakeTokens{refresh: map[string]string{}}, &fakeAvail{}, &fakeExchanger{}, &fakeProvider{})

	_, err := s.SyncUser(context.Background(), "U", true)
	require.ErrorIs(t, err, errs.ErrAuthRequired)
	assert.Equal(t, StateError, s.State("U"))
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	users := newFakeUsers()
	s := testSyncer(users, &fakeTokens{refresh: map[string]string{}}, &fakeAvail{}, &fakeExchanger{}, &fakeProvider{})
	sched := NewScheduler(s, nil)

	require.NoError(t, sched.Start("@hourly"))
	require.NoError(t, sched.Start("@hourly"))
	sched.Stop()
	sched.Stop()
}
