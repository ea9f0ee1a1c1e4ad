package ws

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims, method jwt.SigningMethod) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthenticateRoundTrip(t *testing.T) {
	a := NewAuthenticator("test-secret", time.Hour)

	token, err := a.Issue("user-42")
	require.NoError(t, err)

	userID, err := a.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)
}

func TestAuthenticateRejections(t *testing.T) {
	a := NewAuthenticator("test-secret", time.Hour)
	now := time.Now().UTC()

	expired := signToken(t, "test-secret", jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
	}, jwt.SigningMethodHS256)
	wrongKey := signToken(t, "other-secret", jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}, jwt.SigningMethodHS256)
	noSubject := signToken(t, "test-secret", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}, jwt.SigningMethodHS256)
	noExpiry := signToken(t, "test-secret", jwt.RegisteredClaims{
		Subject: "user-42",
	}, jwt.SigningMethodHS256)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"expired", expired},
		{"wrong key", wrongKey},
		{"missing subject", noSubject},
		{"missing expiry", noExpiry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(tt.token)
			assert.ErrorIs(t, err, ErrBadCredential)
		})
	}
}
