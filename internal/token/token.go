// Package token manages the provider OAuth token lifecycle: interactive and
// silent acquisition, expiry tracking, invalidation and revocation detection.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ora-app/orasync/internal/errs"
	"github.com/ora-app/orasync/internal/model"
	"github.com/ora-app/orasync/internal/store"
)

// Mode selects how Acquire obtains a token.
type Mode int

const (
	// Interactive always opens the consent prompt.
	Interactive Mode = iota
	// Silent attempts a no-prompt reacquisition from the stored refresh
	// credential. The provider declining silently is not an error.
	Silent
)

// Prompt runs the interactive consent round-trip: it presents authURL to the
// user and returns the authorization code, or an error if the user bailed.
type Prompt func(authURL string) (string, error)

// Manager owns the session token of a single account.
type Manager struct {
	oauth  *oauth2.Config
	tokens store.TokenStore
	users  store.UserStore
	uid    string
	margin time.Duration
	prompt Prompt
	now    func() time.Time
}

// NewManager builds a Manager for uid. margin is the expiry safety margin
// applied by Valid.
func NewManager(oauthCfg *oauth2.Config, tokens store.TokenStore, users store.UserStore, uid string, margin time.Duration, prompt Prompt) *Manager {
	return &Manager{
		oauth:  oauthCfg,
		tokens: tokens,
		users:  users,
		uid:    uid,
		margin: margin,
		prompt: prompt,
		now:    time.Now,
	}
}

// Acquire obtains an access token. Interactive mode runs the consent prompt;
// Silent mode exchanges the stored refresh credential and returns (nil, nil)
// when the provider declines without user interaction; the account is then
// simply still disconnected.
func (m *Manager) Acquire(ctx context.Context, mode Mode) (*model.SessionToken, error) {
	if m.oauth == nil || m.oauth.ClientID == "" {
		return nil, errs.ErrNoClientConfig
	}

	switch mode {
	case Interactive:
		return m.acquireInteractive(ctx)
	case Silent:
		return m.acquireSilent(ctx)
	default:
		return nil, fmt.Errorf("unknown acquire mode %d", mode)
	}
}

func (m *Manager) acquireInteractive(ctx context.Context) (*model.SessionToken, error) {
	authURL := m.oauth.AuthCodeURL("", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	code, err := m.prompt(authURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrUserCancelled, err)
	}
	tok, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, &errs.ProviderError{Status: 0, Body: err.Error()}
	}
	if tok.RefreshToken != "" {
		if err := m.tokens.PutRefreshToken(ctx, m.uid, tok.RefreshToken); err != nil {
			return nil, err
		}
	}
	return m.persist(ctx, tok.AccessToken, tok.Expiry)
}

func (m *Manager) acquireSilent(ctx context.Context) (*model.SessionToken, error) {
	refresh, err := m.tokens.RefreshToken(ctx, m.uid)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	src := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh})
	tok, err := src.Token()
	if err != nil {
		// A silent decline means "still disconnected", never a surfaced
		// failure. A revoked grant additionally drops the connected flag
		// so later loads stop retrying.
		if IsRevocation(err) {
			_ = m.users.SetConnected(ctx, m.uid, false)
		}
		return nil, nil
	}
	return m.persist(ctx, tok.AccessToken, tok.Expiry)
}

// persist stores the session token and sets the durable connected flag.
func (m *Manager) persist(ctx context.Context, accessToken string, expiry time.Time) (*model.SessionToken, error) {
	tok := &model.SessionToken{AccessToken: accessToken, ExpiresAt: expiry}
	if err := m.tokens.PutSessionToken(ctx, m.uid, tok); err != nil {
		return nil, err
	}
	if err := m.users.SetConnected(ctx, m.uid, true); err != nil {
		return nil, err
	}
	return tok, nil
}

// Current returns the stored session token, or nil if none.
func (m *Manager) Current(ctx context.Context) (*model.SessionToken, error) {
	tok, err := m.tokens.SessionToken(ctx, m.uid)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	return tok, err
}

// Valid reports whether tok is usable, applying the expiry safety margin.
func (m *Manager) Valid(tok *model.SessionToken) bool {
	return tok != nil && tok.AccessToken != "" && m.now().Add(m.margin).Before(tok.ExpiresAt)
}

// Invalidate clears the session token but keeps the durable connected flag,
// so the next app load may attempt a silent reacquisition.
func (m *Manager) Invalidate(ctx context.Context) error {
	return m.tokens.DeleteSessionToken(ctx, m.uid)
}

// Disconnect clears the session token, the refresh credential and the
// connected flag. Used on explicit user disconnect.
func (m *Manager) Disconnect(ctx context.Context) error {
	if err := m.tokens.DeleteSessionToken(ctx, m.uid); err != nil {
		return err
	}
	if err := m.tokens.DeleteRefreshToken(ctx, m.uid); err != nil {
		return err
	}
	return m.users.SetConnected(ctx, m.uid, false)
}

// HandleUnauthorized is the single place a provider 401 becomes a session
// expiry: it invalidates the stored token and returns ErrSessionExpired.
// Any other error passes through unchanged.
func (m *Manager) HandleUnauthorized(ctx context.Context, err error) error {
	if !errs.IsUnauthorized(err) {
		return err
	}
	if ierr := m.Invalidate(ctx); ierr != nil {
		return fmt.Errorf("%w (invalidate failed: %v)", errs.ErrSessionExpired, ierr)
	}
	return errs.ErrSessionExpired
}

// IsRevocation reports whether err looks like a revoked or invalidated
// grant rather than a transient failure. Matches the provider's
// "invalid_grant" code and "token ... revoked" phrasing, case-insensitively.
func IsRevocation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "invalid_grant") {
		return true
	}
	return strings.Contains(msg, "token") && strings.Contains(msg, "revoked")
}
