package backend

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AgentBinding is the durable `{active_agent_token -> (agent_id, service_id)}`
// mapping the core consumes from its external collaborator (the store).
// An agent is active when ExpiresAt is nil or in the future.
type AgentBinding struct {
	AgentID   uuid.UUID
	ServiceID uuid.UUID
	Token     string
	ExpiresAt *time.Time
}

func (a AgentBinding) active(now time.Time) bool {
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// StreamClaims is the JWT payload a stream subscriber presents as a bearer
// token. The core only needs the subject; richer claims belong to the
// external auth system that issues the token.
type StreamClaims struct {
	jwt.RegisteredClaims
}

// VerifyBearerToken parses and validates a "Bearer <jwt>" header value
// against secret, returning the parsed claims on success.
func VerifyBearerToken(header, secret string) (*StreamClaims, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
	raw = strings.TrimPrefix(raw, " ")
	if raw == "" {
		return nil, fmt.Errorf("%w: missing bearer token", errUnauthorized)
	}
	claims := &StreamClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUnauthorized, err)
	}
	return claims, nil
}
