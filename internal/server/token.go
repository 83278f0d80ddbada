package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
)

var ErrMissingCredentials = errors.New("livekit credentials not configured")

// TokenIssuer signs room join tokens for LiveKit participants.
type TokenIssuer struct {
	apiKey    string
	apiSecret string
	room      string
	ttl       time.Duration
}

func NewTokenIssuer(apiKey, apiSecret, room string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{apiKey: apiKey, apiSecret: apiSecret, room: room, ttl: ttl}
}

// Issue returns a token that lets identity join room. Empty values fall back
// to a generated identity and the configured room.
func (t *TokenIssuer) Issue(identity, room string, now time.Time) (token, resolvedIdentity, resolvedRoom string, err error) {
	if t.apiKey == "" || t.apiSecret == "" {
		return "", "", "", ErrMissingCredentials
	}
	if identity == "" {
		identity = fmt.Sprintf("user_%d", now.UnixMilli())
	}
	if room == "" {
		room = t.room
	}

	at := auth.NewAccessToken(t.apiKey, t.apiSecret).
		SetVideoGrant(&auth.VideoGrant{RoomJoin: true, Room: room}).
		SetIdentity(identity).
		SetValidFor(t.ttl)
	token, err = at.ToJWT()
	if err != nil {
		return "", "", "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, identity, room, nil
}
