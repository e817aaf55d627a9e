// Package store defines the structured document store the availability and
// friend-graph services read and write, plus its sqlite implementation.
package store

import (
	"context"
	"time"

	"github.com/ora-app/orasync/internal/model"
)

// UserStore provides access to per-account profile documents.
type UserStore interface {
	// Get loads a user by uid. ErrNotFound if absent.
	Get(ctx context.Context, uid string) (*model.User, error)
	// Upsert merges the user document by uid.
	Upsert(ctx context.Context, u *model.User) error
	// FindByEmail matches on exact lowercased email equality only.
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	// SetConsent flips the background-sync grant state.
	SetConsent(ctx context.Context, uid string, status model.ConsentStatus, syncEnabled bool) error
	// SetConnected flips the durable "was connected" flag.
	SetConnected(ctx context.Context, uid string, connected bool) error
	// ListSyncable returns up to limit accounts with consent granted and
	// sync enabled, the sweep's working set.
	ListSyncable(ctx context.Context, limit int) ([]model.User, error)
}

// TokenStore keeps session access tokens and the long-lived refresh
// credential apart: session tokens are scrubbed on invalidation, refresh
// tokens survive until revocation.
type TokenStore interface {
	SessionToken(ctx context.Context, uid string) (*model.SessionToken, error)
	PutSessionToken(ctx context.Context, uid string, tok *model.SessionToken) error
	DeleteSessionToken(ctx context.Context, uid string) error

	RefreshToken(ctx context.Context, uid string) (string, error)
	PutRefreshToken(ctx context.Context, uid, token string) error
	DeleteRefreshToken(ctx context.Context, uid string) error
}

// AvailabilityStore publishes and reads per-day availability documents.
type AvailabilityStore interface {
	// PutDays replaces the given day documents and the owner's
	// lastCalendarSyncAt marker in one atomic commit. A reader never
	// observes updated slots without the updated marker.
	PutDays(ctx context.Context, uid string, days []model.AvailabilityDay, syncedAt time.Time) error
	// Day reads one day document as viewer. Returns ErrPermissionDenied
	// unless viewer is the owner or an accepted friend the owner shares
	// with; ErrNotFound if the document is absent.
	Day(ctx context.Context, viewerUID, ownerUID, day string) (*model.AvailabilityDay, error)
}

// FriendStore provides access to directional friend-request documents.
type FriendStore interface {
	// FriendRequest loads one record by its "{from}_{to}" id. ErrNotFound
	// if absent; ErrPermissionDenied if the viewer may not read it.
	FriendRequest(ctx context.Context, id string) (*model.FriendRequest, error)
	// PutFriendRequest merges the record by id (idempotent set/merge,
	// never an append).
	PutFriendRequest(ctx context.Context, r *model.FriendRequest) error
	// ListFriendRequests returns every record where uid is either party.
	ListFriendRequests(ctx context.Context, uid string) ([]model.FriendRequest, error)
}
