package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mcdev12/blitz/go/internal/models"
)

// DefaultCookieName is the cookie the identity token is read from.
const DefaultCookieName = "token"

// Claims carried by an identity token.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Identity is a verified participant.
type Identity struct {
	Subject  string
	Username string
}

// Name is the identity used for seat binding.
func (i Identity) Name() string {
	if i.Username != "" {
		return i.Username
	}
	return i.Subject
}

// Verifier checks HMAC-signed identity tokens.
type Verifier struct {
	secret     []byte
	cookieName string
}

// NewVerifier creates a verifier for tokens signed with secret.
func NewVerifier(secret, cookieName string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret cannot be empty")
	}
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Verifier{secret: []byte(secret), cookieName: cookieName}, nil
}

// Verify parses and validates a token string.
func (v *Verifier) Verify(tokenStr string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: token validation failed: %w", models.ErrUnauthenticated, err)
	}
	if !token.Valid {
		return Identity{}, fmt.Errorf("%w: invalid token", models.ErrUnauthenticated)
	}

	id := Identity{Subject: claims.Subject, Username: claims.Username}
	if id.Name() == "" {
		return Identity{}, fmt.Errorf("%w: token carries no subject or username", models.ErrUnauthenticated)
	}
	return id, nil
}

// FromRequest verifies the token from the identity cookie or, failing that,
// an "Authorization: Bearer" header.
func (v *Verifier) FromRequest(r *http.Request) (Identity, error) {
	tokenStr, err := v.extractToken(r)
	if err != nil {
		return Identity{}, err
	}
	return v.Verify(tokenStr)
}

func (v *Verifier) extractToken(r *http.Request) (string, error) {
	if c, err := r.Cookie(v.cookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("%w: missing token", models.ErrUnauthenticated)
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("%w: %w", models.ErrUnauthenticated, jwt.ErrTokenMalformed)
	}
	return parts[1], nil
}

// Issue signs a token for username. Used by tooling and tests; production
// tokens come from the identity provider.
func (v *Verifier) Issue(subject, username string, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
