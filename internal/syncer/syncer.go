// Package syncer coordinates the token lifecycle and grid builder to
// republish a user's availability to the shared store, interactively or as
// a scheduled sweep over all opted-in accounts.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ora-app/orasync/internal/availability"
	"github.com/ora-app/orasync/internal/config"
	"github.com/ora-app/orasync/internal/errs"
	"github.com/ora-app/orasync/internal/model"
	"github.com/ora-app/orasync/internal/store"
	"github.com/ora-app/orasync/internal/token"
)

// State is the per-user connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Outcome classifies one sync attempt.
type Outcome string

const (
	OutcomeSynced  Outcome = "synced"
	OutcomeRevoked Outcome = "revoked"
	OutcomeSkipped Outcome = "skipped"
)

// Exchanger turns a stored refresh credential into a short-lived access token.
type Exchanger interface {
	Refresh(ctx context.Context, refreshToken string) (*model.SessionToken, error)
}

// FreeBusyProvider is the provider slice a sync needs.
type FreeBusyProvider interface {
	FreeBusy(ctx context.Context, timeMin, timeMax time.Time) ([]model.BusyInterval, error)
}

// ProviderFactory builds a provider client around an access token.
type ProviderFactory func(ctx context.Context, accessToken string) (FreeBusyProvider, error)

// Failure is one account's error within a sweep.
type Failure struct {
	UID string
	Err error
}

// Summary is the sweep report. A sweep always returns one; per-account
// failures never abort the pass for other accounts.
type Summary struct {
	Synced  int
	Revoked []string
	Failed  []Failure
}

// Syncer drives availability syncs. Writes are idempotent set/merge
// operations keyed by stable document paths, so re-entrant calls for the
// same uid cannot corrupt state.
type Syncer struct {
	users    store.UserStore
	tokens   store.TokenStore
	avail    store.AvailabilityStore
	exchange Exchanger
	provider ProviderFactory
	cfg      config.Sync
	log      *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	states map[string]State
}

func New(users store.UserStore, tokens store.TokenStore, avail store.AvailabilityStore,
	exchange Exchanger, provider ProviderFactory, cfg config.Sync, log *zap.Logger) *Syncer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Syncer{
		users:    users,
		tokens:   tokens,
		avail:    avail,
		exchange: exchange,
		provider: provider,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		states:   make(map[string]State),
	}
}

// State returns uid's current connection state.
func (s *Syncer) State(uid string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[uid]; ok {
		return st
	}
	return StateDisconnected
}

func (s *Syncer) setState(uid string, st State) {
	s.mu.Lock()
	s.states[uid] = st
	s.mu.Unlock()
}

// SyncUser refreshes uid's availability grid for the configured horizon and
// publishes it atomically with the lastCalendarSyncAt marker.
//
// The cooldown is advisory and applies to the interactive path only: when
// the last successful sync is fresher than the window and force is false,
// the sync is skipped to avoid redundant provider calls. Concurrent manual
// syncs are allowed.
func (s *Syncer) SyncUser(ctx context.Context, uid string, force bool) (Outcome, error) {
	user, err := s.users.Get(ctx, uid)
	if err != nil {
		return "", fmt.Errorf("loading user %s: %w", uid, err)
	}

	if !force && !user.LastCalendarSyncAt.IsZero() &&
		s.now().Sub(user.LastCalendarSyncAt) < s.cfg.Cooldown() {
		s.log.Debug("sync skipped by cooldown", zap.String("uid", uid),
			zap.Time("lastSync", user.LastCalendarSyncAt))
		return OutcomeSkipped, nil
	}

	s.setState(uid, StateConnecting)
	outcome, err := s.syncOnce(ctx, uid)
	switch {
	case err != nil:
		s.setState(uid, StateError)
	case outcome == OutcomeRevoked:
		s.setState(uid, StateDisconnected)
	default:
		s.setState(uid, StateConnected)
	}
	return outcome, err
}

func (s *Syncer) syncOnce(ctx context.Context, uid string) (Outcome, error) {
	refresh, err := s.tokens.RefreshToken(ctx, uid)
	if errors.Is(err, errs.ErrNotFound) {
		return "", fmt.Errorf("%w: no refresh credential for %s", errs.ErrAuthRequired, uid)
	}
	if err != nil {
		return "", err
	}

	tok, err := s.exchange.Refresh(ctx, refresh)
	if err != nil {
		if token.IsRevocation(err) {
			return s.markRevoked(ctx, uid, err)
		}
		return "", fmt.Errorf("token refresh: %w", err)
	}

	provider, err := s.provider(ctx, tok.AccessToken)
	if err != nil {
		return "", fmt.Errorf("building provider client: %w", err)
	}

	now := s.now()
	horizonStart := availability.DayStart(now)
	horizonEnd := horizonStart.AddDate(0, 0, s.cfg.HorizonDays)
	busy, err := provider.FreeBusy(ctx, horizonStart, horizonEnd)
	if err != nil {
		if token.IsRevocation(err) {
			return s.markRevoked(ctx, uid, err)
		}
		return "", fmt.Errorf("freebusy: %w", err)
	}

	grid := availability.BuildGrid(busy, horizonStart, s.cfg.HorizonDays, s.cfg.SlotMinutes)
	days := make([]model.AvailabilityDay, 0, len(grid))
	for _, key := range availability.DayKeys(grid) {
		days = append(days, model.AvailabilityDay{
			UID:       uid,
			Day:       key,
			Slots:     grid[key],
			UpdatedAt: now,
			Source:    "google",
		})
	}
	if err := s.avail.PutDays(ctx, uid, days, now); err != nil {
		return "", fmt.Errorf("publishing availability: %w", err)
	}

	s.log.Info("availability synced", zap.String("uid", uid),
		zap.Int("days", len(days)), zap.Int("busyBlocks", len(busy)))
	return OutcomeSynced, nil
}

// markRevoked reclassifies a revocation-looking error: the account's consent
// flips to revoked and sync is disabled so the sweep stops retrying it.
func (s *Syncer) markRevoked(ctx context.Context, uid string, cause error) (Outcome, error) {
	s.log.Warn("calendar grant revoked", zap.String("uid", uid), zap.Error(cause))
	if err := s.users.SetConsent(ctx, uid, model.ConsentRevoked, false); err != nil {
		return "", fmt.Errorf("marking %s revoked: %w", uid, err)
	}
	return OutcomeRevoked, nil
}

// Sweep runs one scheduled pass over all opted-in accounts, sequentially and
// independently. It always returns a summary; one account's failure never
// aborts the others.
func (s *Syncer) Sweep(ctx context.Context) Summary {
	var summary Summary

	accounts, err := s.users.ListSyncable(ctx, s.cfg.SweepPageSize)
	if err != nil {
		s.log.Error("sweep: listing accounts", zap.Error(err))
		return summary
	}

	for _, account := range accounts {
		outcome, err := s.SyncUser(ctx, account.UID, true)
		switch {
		case err != nil:
			s.log.Warn("sweep: account failed", zap.String("uid", account.UID), zap.Error(err))
			summary.Failed = append(summary.Failed, Failure{UID: account.UID, Err: err})
		case outcome == OutcomeRevoked:
			summary.Revoked = append(summary.Revoked, account.UID)
		case outcome == OutcomeSynced:
			summary.Synced++
		}
	}

	s.log.Info("sweep finished", zap.Int("synced", summary.Synced),
		zap.Int("revoked", len(summary.Revoked)), zap.Int("failed", len(summary.Failed)))
	return summary
}
