package services

import (
	"fmt"
	"time"

	"livecast/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

// HostClaims authorizes lifecycle mutations on one stream.
type HostClaims struct {
	StreamID      domain.StreamID      `json:"stream_id"`
	BroadcasterID domain.ParticipantID `json:"broadcaster_id"`
	jwt.RegisteredClaims
}

// TokenService issues and validates host tokens. A host token is scoped
// to a single stream; holding one proves the caller created the stream.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// IssueHostToken mints a signed token for the stream's broadcaster.
func (s *TokenService) IssueHostToken(streamID domain.StreamID, broadcasterID domain.ParticipantID) (string, error) {
	now := time.Now()
	claims := HostClaims{
		StreamID:      streamID,
		BroadcasterID: broadcasterID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(broadcasterID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign host token: %w", err)
	}
	return signed, nil
}

// ValidateHostToken parses the token and checks it authorizes the given
// stream.
func (s *TokenService) ValidateHostToken(tokenString string, streamID domain.StreamID) (*HostClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &HostClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse host token: %w", err)
	}

	claims, ok := token.Claims.(*HostClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid host token")
	}
	if claims.StreamID != streamID {
		return nil, fmt.Errorf("host token not valid for stream %s", streamID)
	}
	return claims, nil
}
