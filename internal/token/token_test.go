package token

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/ora-app/orasync/internal/errs"
	"github.com/ora-app/orasync/internal/model"
)

type fakeTokens struct {
	session map[string]*model.SessionToken
	refresh map[string]string
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{session: map[string]*model.SessionToken{}, refresh: map[string]string{}}
}

func (f *fakeTokens) SessionToken(_ context.Context, uid string) (*model.SessionToken, error) {
	tok, ok := f.session[uid]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return tok, nil
}
func (f *fakeTokens) PutSessionToken(_ context.Context, uid string, tok *model.SessionToken) error {
	f.session[uid] = tok
	return nil
}
func (f *fakeTokens) DeleteSessionToken(_ context.Context, uid string) error {
	delete(f.session, uid)
	return nil
}
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

type fakeUsers struct {
	connected map[string]bool
}

func (f *fakeUsers) Get(context.Context, string) (*model.User, error) { return nil, errs.ErrNotFound }
func (f *fakeUsers) Upsert(context.Context, *model.User) error        { return nil }
func (f *fakeUsers) FindByEmail(context.Context, string) (*model.User, error) {
	return nil, errs.ErrNotFound
}
func (f *fakeUsers) SetConsent(context.Context, string, model.ConsentStatus, bool) error {
	return nil
}
func (f *fakeUsers) SetConnected(_ context.Context, uid string, connected bool) error {
	f.connected[uid] = connected
	return nil
}
func (f *fakeUsers) ListSyncable(context.Context, int) ([]model.User, error) { return nil, nil }

func TestValid_AppliesExpiryMargin(t *testing.T) {
	m := NewManager(&oauth2.Config{ClientID: "id"}, newFakeTokens(), &fakeUsers{}, "U", time.Minute, nil)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	assert.False(t, m.Valid(nil))
	assert.False(t, m.Valid(&model.SessionToken{}))
	assert.True(t, m.Valid(&model.SessionToken{AccessToken: "a", ExpiresAt: now.Add(2 * time.Minute)}))
	// inside the 60s safety margin counts as expired
	assert.False(t, m.Valid(&model.SessionToken{AccessToken: "a", ExpiresAt: now.Add(30 * time.Second)}))
	assert.False(t, m.Valid(&model.SessionToken{AccessToken: "a", ExpiresAt: now.Add(-time.Minute)}))
}

func TestAcquire_NoClientConfig(t *testing.T) {
	m := NewManager(&oauth2.Config{}, newFakeTokens(), &fakeUsers{}, "U", time.Minute, nil)
	_, err := m.Acquire(context.Background(), Interactive)
	assert.ErrorIs(t, err, errs.ErrNoClientConfig)
}

func TestAcquire_InteractiveCancelled(t *testing.T) {
	prompt := func(string) (string, error) { return "", errors.New("window closed") }
	m := NewManager(&oauth2.Config{ClientID: "id"}, newFakeTokens(), &fakeUsers{}, "U", time.Minute, prompt)
	_, err := m.Acquire(context.Background(), Interactive)
	assert.ErrorIs(t, err, errs.ErrUserCancelled)
}

func TestAcquire_SilentWithoutCredentialIsNotAnError(t *testing.T) {
	m := NewManager(&oauth2.Config{ClientID: "id"}, newFakeTokens(), &fakeUsers{connected: map[string]bool{}}, "U", time.Minute, nil)
	tok, err := m.Acquire(context.Background(), Silent)
	require.NoError(t, err)
	assert.Nil(t, tok, "still disconnected, not a failure")
}

func TestAcquire_SilentDeclineIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been revoked."}`))
	}))
	defer srv.Close()

	tokens := newFakeTokens()
	tokens.refresh["U"] = "rt"
	users := &fakeUsers{connected: map[string]bool{"U": true}}
	cfg := &oauth2.Config{ClientID: "id", Endpoint: oauth2.Endpoint{TokenURL: srv.URL}}
	m := NewManager(cfg, tokens, users, "U", time.Minute, nil)

	tok, err := m.Acquire(context.Background(), Silent)
	require.NoError(t, err)
	assert.Nil(t, tok)
	assert.False(t, users.connected["U"], "revoked grant drops the connected flag")
}

func TestAcquire_SilentSuccessPersists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh","expires_in":3600,"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	tokens := newFakeTokens()
	tokens.refresh["U"] = "rt"
	users := &fakeUsers{connected: map[string]bool{}}
	cfg := &oauth2.Config{ClientID: "id", Endpoint: oauth2.Endpoint{TokenURL: srv.URL}}
	m := NewManager(cfg, tokens, users, "U", time.Minute, nil)

	tok, err := m.Acquire(context.Background(), Silent)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "fresh", tok.AccessToken)
	assert.Equal(t, tok, tokens.session["U"], "session token persisted")
	assert.True(t, users.connected["U"], "durable connected flag set")
}

func TestHandleUnauthorized(t *testing.T) {
	tokens := newFakeTokens()
	tokens.session["U"] = &model.SessionToken{AccessToken: "stale"}
	m := NewManager(&oauth2.Config{ClientID: "id"}, tokens, &fakeUsers{connected: map[string]bool{}}, "U", time.Minute, nil)

	err := m.HandleUnauthorized(context.Background(), &errs.ProviderError{Status: 401, Body: "unauthorized"})
	assert.ErrorIs(t, err, errs.ErrSessionExpired)
	_, ok := tokens.session["U"]
	assert.False(t, ok, "stale token invalidated")

	other := &errs.ProviderError{Status: 503, Body: "try later"}
	assert.Equal(t, error(other), m.HandleUnauthorized(context.Background(), other))
}

func TestIsRevocation(t *testing.T) {
	assert.True(t, IsRevocation(errors.New(`oauth2: "invalid_grant"`)))
	assert.True(t, IsRevocation(errors.New("Token has been expired or revoked.")))
	assert.True(t, IsRevocation(errors.New("INVALID_GRANT")))
	assert.False(t, IsRevocation(errors.New("connection refused")))
	assert.False(t, IsRevocation(nil))
}

func TestExchanger_Refresh(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"client_id":     r.PostForm.Get("client_id"),
			"grant_type":    r.PostForm.Get("grant_type"),
			"refresh_token": r.PostForm.Get("refresh_token"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at","expires_in":3599}`))
	}))
	defer srv.Close()

	e := NewExchanger("cid", "secret")
	e.TokenURL = srv.URL

	tok, err := e.Refresh(context.Background(), "rt")
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
	assert.True(t, tok.ExpiresAt.After(time.Now().Add(59*time.Minute)))
	assert.Equal(t, map[string]string{
		"client_id": "cid", "grant_type": "refresh_token", "refresh_token": "rt",
	}, gotForm)
}

func TestExchanger_RefreshErrorCarriesProviderCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"revoked"}`))
	}))
	defer srv.Close()

	e := NewExchanger("cid", "secret")
	e.TokenURL = srv.URL

	_, err := e.Refresh(context.Background(), "rt")
	require.Error(t, err)
	assert.True(t, IsRevocation(err), "error message must carry the provider code for reclassification")
}
