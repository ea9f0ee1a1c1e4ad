package ws

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrBadCredential is returned for a missing, malformed or expired token.
// Callers must refuse the connection, nothing is registered on failure.
var ErrBadCredential = errors.New("invalid credential")

// Authenticator validates the bearer token presented during the WebSocket
// handshake and resolves it to a user id. It also issues tokens for the
// login flow so both sides agree on signing and claims.
type Authenticator struct {
	secret []byte
	expiry time.Duration
}

func NewAuthenticator(secret string, expiry time.Duration) *Authenticator {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), expiry: expiry}
}

// Authenticate parses and verifies the token, returning the user id from
// the subject claim. The id is trusted for the connection's lifetime.
func (a *Authenticator) Authenticate(credential string) (string, error) {
	if credential == "" {
		return "", ErrBadCredential
	}
	token, err := jwt.Parse(credential, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", ErrBadCredential
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrBadCredential
	}
	return sub, nil
}

// Issue signs a new token for the given user id.
func (a *Authenticator) Issue(userID string) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("auth issue token: %w", err)
	}
	return signed, nil
}
