// Package friends implements the symmetric request/accept/decline/cancel/
// remove protocol between two user identities and the per-direction
// calendar-share flags gated behind it.
package friends

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ora-app/orasync/internal/errs"
	"github.com/ora-app/orasync/internal/model"
	"github.com/ora-app/orasync/internal/store"
)

// ShareStarter kicks off the asynchronous calendar-share consent flow after
// an accept. Decoupled on purpose: acceptance must never block on an OAuth
// round trip, and a failed start leaves the friendship accepted with the
// share flag false and a retry affordance.
type ShareStarter interface {
	StartShare(ctx context.Context, uid, friendUID string)
}

// Service maintains the friend-request state machine.
type Service struct {
	store store.FriendStore
	users store.UserStore
	share ShareStarter
	log   *zap.Logger
	now   func() time.Time
}

func New(friendStore store.FriendStore, users store.UserStore, share ShareStarter, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: friendStore, users: users, share: share, log: log, now: time.Now}
}

// SendRequest creates a pending request from → to.
//
// Idempotency and race handling: an existing pending from_to yields
// ErrAlreadyPending without a duplicate; an accepted record in either
// direction yields ErrAlreadyFriends; a pending reverse record to_from
// yields ErrIncomingExists so the caller accepts that one instead of racing
// a second outgoing request.
func (s *Service) SendRequest(ctx context.Context, from, to string) (*model.FriendRequest, error) {
	if from == to {
		return nil, errs.ErrSelfRequest
	}

	own, err := s.load(ctx, model.RequestID(from, to))
	if err != nil {
		return nil, err
	}
	if own != nil {
		switch own.Status {
		case model.RequestPending:
			return nil, errs.ErrAlreadyPending
		case model.RequestAccepted:
			return nil, errs.ErrAlreadyFriends
		}
	}

	reverse, err := s.loadBestEffort(ctx, model.RequestID(to, from))
	if err != nil {
		return nil, err
	}
	if reverse != nil {
		switch reverse.Status {
		case model.RequestPending:
			return nil, errs.ErrIncomingExists
		case model.RequestAccepted:
			return nil, errs.ErrAlreadyFriends
		}
	}

	r := &model.FriendRequest{
		ID:        model.RequestID(from, to),
		FromUID:   from,
		ToUID:     to,
		Status:    model.RequestPending,
		CreatedAt: s.now(),
	}
	if err := s.store.PutFriendRequest(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Accept transitions from_viewer to accepted and starts the viewer's
// calendar-share consent flow as a detached side effect.
func (s *Service) Accept(ctx context.Context, from, viewer string) (*model.FriendRequest, error) {
	r, err := s.store.FriendRequest(ctx, model.RequestID(from, viewer))
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.ErrFriendshipNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.Status != model.RequestPending {
		return nil, fmt.Errorf("cannot accept request in state %q", r.Status)
	}

	r.Status = model.RequestAccepted
	r.RespondedAt = s.now()
	// The accepting side's own share flag resets until its OAuth consent
	// round-trip completes.
	r.ToCalendarShared = false
	if err := s.store.PutFriendRequest(ctx, r); err != nil {
		return nil, err
	}

	if s.share != nil {
		s.share.StartShare(ctx, viewer, from)
	}
	return r, nil
}

// Decline moves a pending from_viewer request to declined.
func (s *Service) Decline(ctx context.Context, from, viewer string) error {
	return s.close(ctx, model.RequestID(from, viewer), model.RequestDeclined)
}

// Cancel withdraws the caller's own pending from → to request.
func (s *Service) Cancel(ctx context.Context, from, to string) error {
	return s.close(ctx, model.RequestID(from, to), model.RequestCancelled)
}

func (s *Service) close(ctx context.Context, id string, status model.RequestStatus) error {
	r, err := s.store.FriendRequest(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return errs.ErrFriendshipNotFound
	}
	if err != nil {
		return err
	}
	if r.Status != model.RequestPending {
		return fmt.Errorf("cannot move request from %q to %q", r.Status, status)
	}
	r.Status = status
	r.RespondedAt = s.now()
	// Each side resets only its own flag: the decliner is the to party, the
	// canceller the from party.
	if status == model.RequestDeclined {
		r.ToCalendarShared = false
	} else {
		r.FromCalendarShared = false
	}
	return s.store.PutFriendRequest(ctx, r)
}

// Remove ends an accepted friendship in whichever direction it was recorded,
// clearing both share flags. ErrFriendshipNotFound if neither direction is
// accepted.
func (s *Service) Remove(ctx context.Context, uid, friendUID string) error {
	r, err := s.accepted(ctx, uid, friendUID)
	if err != nil {
		return err
	}
	r.Status = model.RequestRemoved
	r.RespondedAt = s.now()
	r.FromCalendarShared = false
	r.ToCalendarShared = false
	return s.store.PutFriendRequest(ctx, r)
}

// CheckOwnShare reports whether uid's own share flag is set on the accepted
// record with friendUID. Used to verify that the server-side consent
// callback, which may race the client's view, actually completed.
func (s *Service) CheckOwnShare(ctx context.Context, uid, friendUID string) (bool, error) {
	r, err := s.accepted(ctx, uid, friendUID)
	if err != nil {
		return false, err
	}
	return r.SharedBy(uid), nil
}

// SetOwnShare records that uid completed (or lost) its calendar-share
// consent toward friendUID. Called from the OAuth callback.
func (s *Service) SetOwnShare(ctx context.Context, uid, friendUID string, shared bool) error {
	r, err := s.accepted(ctx, uid, friendUID)
	if err != nil {
		return err
	}
	if uid == r.FromUID {
		r.FromCalendarShared = shared
	} else {
		r.ToCalendarShared = shared
	}
	return s.store.PutFriendRequest(ctx, r)
}

// accepted finds the accepted record between the two parties, either
// direction.
func (s *Service) accepted(ctx context.Context, uid, friendUID string) (*model.FriendRequest, error) {
	for _, id := range []string{model.RequestID(uid, friendUID), model.RequestID(friendUID, uid)} {
		r, err := s.loadBestEffort(ctx, id)
		if err != nil {
			return nil, err
		}
		if r != nil && r.Status == model.RequestAccepted {
			return r, nil
		}
	}
	return nil, errs.ErrFriendshipNotFound
}

// ListFriends projects uid's accepted relationships into FriendEntry values.
func (s *Service) ListFriends(ctx context.Context, uid string) ([]model.FriendEntry, error) {
	records, err := s.store.ListFriendRequests(ctx, uid)
	if err != nil {
		return nil, err
	}
	var out []model.FriendEntry
	for i := range records {
		if records[i].Status == model.RequestAccepted {
			out = append(out, records[i].EntryFor(uid))
		}
	}
	return out, nil
}

// Incoming returns pending requests addressed to uid.
func (s *Service) Incoming(ctx context.Context, uid string) ([]model.FriendRequest, error) {
	records, err := s.store.ListFriendRequests(ctx, uid)
	if err != nil {
		return nil, err
	}
	var out []model.FriendRequest
	for _, r := range records {
		if r.ToUID == uid && r.Status == model.RequestPending {
			out = append(out, r)
		}
	}
	return out, nil
}

// SearchByEmail finds a user by exact lowercased email equality. Partial or
// prefix matching is deliberately not offered.
func (s *Service) SearchByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.users.FindByEmail(ctx, email)
}

// load reads a record, mapping absence to nil.
func (s *Service) load(ctx context.Context, id string) (*model.FriendRequest, error) {
	r, err := s.store.FriendRequest(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	return r, err
}

// loadBestEffort additionally swallows ACL rejections: a reverse-direction
// document the viewer may not read is treated as absent, logged as a
// warning, never surfaced.
func (s *Service) loadBestEffort(ctx context.Context, id string) (*model.FriendRequest, error) {
	r, err := s.load(ctx, id)
	if errors.Is(err, errs.ErrPermissionDenied) {
		s.log.Warn("friend request read denied, treating as absent", zap.String("id", id))
		return nil, nil
	}
	return r, err
}
