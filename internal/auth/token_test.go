package auth

import (
	"errors"
	"testing"
	"time"

	"signaling-service/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:         "test-secret-key",
		ExpirationTime: 15 * time.Minute,
	}
}

func signMapClaims(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func assertRejected(t *testing.T, err error, reason string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthenticationFailed))

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, reason, authErr.Reason)
}

func TestAuthenticate_IssuedToken(t *testing.T) {
	cfg := testJWTConfig()
	token, err := NewTokenIssuer(cfg).Issue("user-123", "client")
	require.NoError(t, err)

	userID, err := NewTokenAuthenticator(cfg).Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestAuthenticate_BearerPrefix(t *testing.T) {
	cfg := testJWTConfig()
	token, err := NewTokenIssuer(cfg).Issue("user-9", "model")
	require.NoError(t, err)

	userID, err := NewTokenAuthenticator(cfg).Authenticate("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "user-9", userID)
}

func TestAuthenticate_NumericIDClaim(t *testing.T) {
	cfg := testJWTConfig()
	token := signMapClaims(t, cfg.Secret, jwt.MapClaims{
		"id":   42,
		"role": "client",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	userID, err := NewTokenAuthenticator(cfg).Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "42", userID)
}

func TestAuthenticate_SubjectFallback(t *testing.T) {
	cfg := testJWTConfig()
	token := signMapClaims(t, cfg.Secret, jwt.MapClaims{
		"sub": "user-sub",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	userID, err := NewTokenAuthenticator(cfg).Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-sub", userID)
}

func TestAuthenticate_Rejections(t *testing.T) {
	cfg := testJWTConfig()
	issuer := NewTokenIssuer(cfg)

	expired, err := issuer.IssueWithTTL("user-1", "client", -time.Hour)
	require.NoError(t, err)

	wrongSecret, err := NewTokenIssuer(config.JWTConfig{Secret: "other-secret", ExpirationTime: time.Hour}).Issue("user-1", "client")
	require.NoError(t, err)

	noExpiry := signMapClaims(t, cfg.Secret, jwt.MapClaims{"id": "user-1"})
	noSubject := signMapClaims(t, cfg.Secret, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"id":  "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name       string
		credential string
		reason     string
	}{
		{"empty", "", ReasonMissingCredential},
		{"bearer only", "Bearer ", ReasonMissingCredential},
		{"malformed", "not-a-jwt", ReasonInvalidCredential},
		{"expired", expired, ReasonInvalidCredential},
		{"wrong secret", wrongSecret, ReasonInvalidCredential},
		{"no expiry", noExpiry, ReasonInvalidCredential},
		{"no subject", noSubject, ReasonInvalidCredential},
		{"alg none", unsigned, ReasonInvalidCredential},
	}

	authenticator := NewTokenAuthenticator(cfg)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, err := authenticator.Authenticate(tt.credential)
			assert.Empty(t, userID)
			assertRejected(t, err, tt.reason)
		})
	}
}

func TestAuthenticate_Issuer(t *testing.T) {
	cfg := testJWTConfig()
	cfg.Issuer = "loverose"

	token, err := NewTokenIssuer(cfg).Issue("user-1", "client")
	require.NoError(t, err)
	_, err = NewTokenAuthenticator(cfg).Authenticate(token)
	require.NoError(t, err)

	foreign := cfg
	foreign.Issuer = "someone-else"
	token, err = NewTokenIssuer(foreign).Issue("user-1", "client")
	require.NoError(t, err)
	_, err = NewTokenAuthenticator(cfg).Authenticate(token)
	assertRejected(t, err, ReasonInvalidCredential)
}

func TestIssue_RequiresUserID(t *testing.T) {
	_, err := NewTokenIssuer(testJWTConfig()).Issue("", "client")
	assert.Error(t, err)
}
