/*
auth.go - Bearer token authentication

PURPOSE:
  Every /api request carries "Authorization: Bearer <jwt>". The token is
  HS256-signed and its subject is the participant id the ledger sees as
  the actor. Trip roles are not in the token; the ledger resolves them
  per request through the store.

SEE ALSO:
  - server.go: RequireAuth is mounted on the /api group
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/spend-ledger/ledger"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrMissingToken = errors.New("authorization token required")
)

type contextKey string

const actorKey contextKey = "actor"

// Authenticator signs and validates bearer tokens.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// Issue creates a token for actor valid for ttl.
func (a *Authenticator) Issue(actor ledger.ParticipantID, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   string(actor),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Validate parses token and returns its subject.
func (a *Authenticator) Validate(token string) (ledger.ParticipantID, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return a.secret, nil
		},
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return ledger.ParticipantID(claims.Subject), nil
}

// RequireAuth rejects requests without a valid bearer token and stores
// the actor in the request context.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeMessage(w, http.StatusUnauthorized, "Unauthorized", ErrMissingToken)
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			writeMessage(w, http.StatusUnauthorized, "Unauthorized", ErrInvalidToken)
			return
		}
		actor, err := a.Validate(token)
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "Unauthorized", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// WithActor stores actor in ctx.
func WithActor(ctx context.Context, actor ledger.ParticipantID) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom returns the authenticated actor, or "" before RequireAuth.
func ActorFrom(ctx context.Context) ledger.ParticipantID {
	actor, _ := ctx.Value(actorKey).(ledger.ParticipantID)
	return actor
}
