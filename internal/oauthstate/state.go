// Package oauthstate signs and verifies the short-lived, tamper-evident
// state tokens that bind an OAuth consent round-trip to a user and flow.
package oauthstate

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ora-app/orasync/internal/errs"
)

// Flow identifies what the consent round-trip is for.
const (
	// FlowConnect grants the background sync a refresh credential.
	FlowConnect = "connect"
	// FlowFriendShare additionally grants a friend read access.
	FlowFriendShare = "friend_share"
)

// Claims is the signed state payload.
type Claims struct {
	UID       string `json:"uid"`
	FriendUID string `json:"friendUid,omitempty"`
	Flow      string `json:"flow"`
	FlowID    string `json:"flowId,omitempty"`
	Nonce     string `json:"nonce"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256-signed state tokens with an expiry.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner builds a Signer. The secret should be at least 32 bytes.
func NewSigner(secret []byte, ttl time.Duration) *Signer {
	return &Signer{secret: secret, ttl: ttl, now: time.Now}
}

// Sign issues a state token for uid and flow. friendUID and flowID are only
// set for the friend-share flow.
func (s *Signer) Sign(uid, friendUID, flow, flowID string) (string, error) {
	now := s.now()
	claims := Claims{
		UID:       uid,
		FriendUID: friendUID,
		Flow:      flow,
		FlowID:    flowID,
		Nonce:     uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses and validates a state token. Any malformed, tampered or
// expired token maps to ErrStateInvalid.
func (s *Signer) Verify(token string) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStateInvalid, err)
	}
	if !parsed.Valid {
		return nil, errs.ErrStateInvalid
	}
	if claims.UID == "" || claims.Flow == "" {
		return nil, fmt.Errorf("%w: missing uid or flow", errs.ErrStateInvalid)
	}
	return &claims, nil
}
