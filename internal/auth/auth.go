package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/arkline/chatmesh/internal/chat"
	"github.com/arkline/chatmesh/pkg/errors"
)

// Authenticator resolves an inbound connection request to an
// authenticated user identity.
type Authenticator struct {
	secret      []byte
	allowGuests bool
}

// New creates an authenticator. When allowGuests is set, requests
// without a token get a generated guest identity instead of an error.
func New(secret string, allowGuests bool) *Authenticator {
	return &Authenticator{
		secret:      []byte(secret),
		allowGuests: allowGuests,
	}
}

// Authenticate extracts and verifies the bearer token from the request.
// The token's subject is the user id; a "name" claim supplies the
// display name.
func (a *Authenticator) Authenticate(r *http.Request) (*chat.User, error) {
	tokenStr := tokenFromRequest(r)
	if tokenStr == "" {
		if a.allowGuests {
			id := "guest_" + uuid.NewString()
			return &chat.User{ID: id, Name: id}, nil
		}
		return nil, errors.ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, errors.ErrInvalidToken
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, errors.ErrInvalidToken
	}
	name, _ := claims["name"].(string)
	if name == "" {
		name = sub
	}
	return &chat.User{ID: sub, Name: name}, nil
}

// tokenFromRequest reads the bearer token from the Authorization header
// or, for browser WebSocket clients that cannot set headers, the token
// query parameter.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
