// Package model holds the canonical domain types shared across layers.
package model

import "time"

// SlotState is the availability state of a single grid slot.
type SlotState string

const (
	SlotFree SlotState = "free"
	SlotBusy SlotState = "busy"
)

// Confidence qualifies how trustworthy a slot's state is. Only Medium is
// produced today; Low and High are reserved for future heuristics.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Slot is one fixed-width subdivision of a day. Slots within a day are
// contiguous, non-overlapping and cover [00:00, 24:00) of that day.
type Slot struct {
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`
	State      SlotState  `json:"state"`
	Confidence Confidence `json:"confidenceLevel"`
}

// AvailabilityDay is the per-user, per-day document published to the store.
// Rebuilt wholesale on every sync; never patched slot by slot.
type AvailabilityDay struct {
	UID       string    `json:"uid"`
	Day       string    `json:"day"` // YYYY-MM-DD
	Slots     []Slot    `json:"slots"`
	UpdatedAt time.Time `json:"updatedAt"`
	Source    string    `json:"source"`
}

// BusyInterval is a raw interval from the provider's free/busy query or an
// event stripped down to its timing.
type BusyInterval struct {
	Start       time.Time
	End         time.Time
	AllDay      bool
	Transparent bool
}

// Event is the canonical calendar event shape. Cancelled items are filtered
// out by the provider mapping and never reach this type.
type Event struct {
	ID           string
	Summary      string
	Description  string
	Location     string
	Start        time.Time
	End          time.Time
	AllDay       bool
	Status       string
	HTMLLink     string
	Transparency string
	Visibility   string
}

// Transparent reports whether the event is marked free ("transparent") and
// therefore does not block the owner's presence.
func (e Event) Transparent() bool { return e.Transparency == "transparent" }

// EventDraft is the input to event creation and conflict probing. A zero End
// means "not provided"; the conflict window normalizer synthesizes one.
type EventDraft struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
}

// SessionToken is a short-lived provider access token owned by one browser
// session. Never persisted beyond session-scoped storage.
type SessionToken struct {
	AccessToken string
	ExpiresAt   time.Time
}

// ConsentStatus tracks whether the background sync path holds a usable grant.
type ConsentStatus string

const (
	ConsentNone    ConsentStatus = ""
	ConsentGranted ConsentStatus = "granted"
	ConsentRevoked ConsentStatus = "revoked"
)

// User is the per-account profile document.
type User struct {
	UID                   string
	Email                 string // stored lowercased
	DisplayName           string
	CalendarConsentStatus ConsentStatus
	CalendarSyncEnabled   bool
	Connected             bool // durable "was connected" flag for silent reacquisition
	LastCalendarSyncAt    time.Time
}

// RequestStatus is the state of one directional friend request record.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestDeclined  RequestStatus = "declined"
	RequestCancelled RequestStatus = "cancelled"
	RequestRemoved   RequestStatus = "removed"
)

// FriendRequest is keyed by the deterministic ordered pair "{from}_{to}".
// The two share flags are per-direction and deliberately asymmetric: each
// records whether that side completed its own calendar-share OAuth consent.
type FriendRequest struct {
	ID                 string
	FromUID            string
	ToUID              string
	Status             RequestStatus
	CreatedAt          time.Time
	RespondedAt        time.Time
	FromCalendarShared bool
	ToCalendarShared   bool
}

// RequestID builds the directional document key.
func RequestID(fromUID, toUID string) string { return fromUID + "_" + toUID }

// SharedBy reports whether the given party of this request completed its
// calendar-share consent.
func (r *FriendRequest) SharedBy(uid string) bool {
	switch uid {
	case r.FromUID:
		return r.FromCalendarShared
	case r.ToUID:
		return r.ToCalendarShared
	}
	return false
}

// Other returns the counterpart uid of the request relative to uid.
func (r *FriendRequest) Other(uid string) string {
	if uid == r.FromUID {
		return r.ToUID
	}
	return r.FromUID
}

// FriendEntry is the read-only projection of an accepted relationship as
// seen by one of its two parties.
type FriendEntry struct {
	FriendUID              string
	CalendarSharedByFriend bool
	CalendarSharedByYou    bool
}

// EntryFor projects an accepted request into the viewer's FriendEntry.
func (r *FriendRequest) EntryFor(viewer string) FriendEntry {
	friend := r.Other(viewer)
	return FriendEntry{
		FriendUID:              friend,
		CalendarSharedByFriend: r.SharedBy(friend),
		CalendarSharedByYou:    r.SharedBy(viewer),
	}
}
