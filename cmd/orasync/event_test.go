package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/ora-app/orasync/internal/config"
	"github.com/ora-app/orasync/internal/errs"
	"github.com/ora-app/orasync/internal/model"
	"github.com/ora-app/orasync/internal/schedule"
	"github.com/ora-app/orasync/internal/token"
)

type memTokenStore struct {
	session map[string]*model.SessionToken
	refresh map[string]string
}

func (m *memTokenStore) SessionToken(_ context.Context, uid string) (*model.SessionToken, error) {
	tok, ok := m.session[uid]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return tok, nil
}
func (m *memTokenStore) PutSessionToken(_ context.Context, uid string, tok *model.SessionToken) error {
	m.session[uid] = tok
	return nil
}
func (m *memTokenStore) DeleteSessionToken(_ context.Context, uid string) error {
	delete(m.session, uid)
	return nil
}
func (m *memTokenStore) RefreshToken(_ context.Context, uid string) (string, error) {
	tok, ok := m.refresh[uid]
	if !ok {
		return "", errs.ErrNotFound
	}
	return tok, nil
}
func (m *memTokenStore) PutRefreshToken(_ context.Context, uid, tok string) error {
	m.refresh[uid] = tok
	return nil
}
func (m *memTokenStore) DeleteRefreshToken(_ context.Context, uid string) error {
	delete(m.refresh, uid)
	return nil
}

type memUserStore struct {
	connected map[string]bool
}

func (m *memUserStore) Get(context.Context, string) (*model.User, error) {
	return nil, errs.ErrNotFound
}
func (m *memUserStore) Upsert(context.Context, *model.User) error { return nil }
func (m *memUserStore) FindByEmail(context.Context, string) (*model.User, error) {
	return nil, errs.ErrNotFound
}
func (m *memUserStore) SetConsent(context.Context, string, model.ConsentStatus, bool) error {
	return nil
}
func (m *memUserStore) SetConnected(_ context.Context, uid string, connected bool) error {
	m.connected[uid] = connected
	return nil
}
func (m *memUserStore) ListSyncable(context.Context, int) ([]model.User, error) { return nil, nil }

type rejectingEventsAPI struct{}

func (rejectingEventsAPI) ListEvents(context.Context, time.Time, time.Time, int64) ([]model.Event, error) {
	return nil, fmt.Errorf("events list: %w", &errs.ProviderError{Status: 401, Body: "Invalid Credentials"})
}
func (rejectingEventsAPI) CreateEvent(context.Context, model.EventDraft) (*model.Event, error) {
	return nil, fmt.Errorf("event insert: %w", &errs.ProviderError{Status: 401, Body: "Invalid Credentials"})
}

type conflictingEventsAPI struct {
	events []model.Event
}

func (c conflictingEventsAPI) ListEvents(context.Context, time.Time, time.Time, int64) ([]model.Event, error) {
	return c.events, nil
}
func (conflictingEventsAPI) CreateEvent(context.Context, model.EventDraft) (*model.Event, error) {
	return &model.Event{ID: "created"}, nil
}

func syncDefaults() config.Sync {
	var c config.Config
	c.Normalize()
	return c.Sync
}

func TestCreateWithSession_ProviderRejectionClearsSession(t *testing.T) {
	tokens := &memTokenStore{
		session: map[string]*model.SessionToken{"U": {AccessToken: "stale", ExpiresAt: time.Now().Add(time.Hour)}},
		refresh: map[string]string{},
	}
	manager := token.NewManager(&oauth2.Config{ClientID: "id"}, tokens,
		&memUserStore{connected: map[string]bool{}}, "U", time.Minute, nil)
	checker := schedule.NewChecker(rejectingEventsAPI{}, syncDefaults())

	_, err := createWithSession(context.Background(), manager, checker,
		model.EventDraft{Summary: "standup", Start: time.Now()}, false)
	assert.ErrorIs(t, err, errs.ErrSessionExpired)

	_, ok := tokens.session["U"]
	assert.False(t, ok, "stale session token must not survive a provider 401")
}

func TestCreateWithSession_ConflictPassesThrough(t *testing.T) {
	tokens := &memTokenStore{
		session: map[string]*model.SessionToken{"U": {AccessToken: "at", ExpiresAt: time.Now().Add(time.Hour)}},
		refresh: map[string]string{},
	}
	manager := token.NewManager(&oauth2.Config{ClientID: "id"}, tokens,
		&memUserStore{connected: map[string]bool{}}, "U", time.Minute, nil)
	existing := []model.Event{{ID: "e1", Summary: "standup"}}
	checker := schedule.NewChecker(conflictingEventsAPI{events: existing}, syncDefaults())

	_, err := createWithSession(context.Background(), manager, checker,
		model.EventDraft{Summary: "lunch", Start: time.Now()}, false)
	var conflict *schedule.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, existing, conflict.Conflicts)

	_, ok := tokens.session["U"]
	assert.True(t, ok, "a conflict is not an auth failure")
}
