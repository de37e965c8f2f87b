// Package auth validates and issues the signed, time-bound credentials that
// gate every signaling connection.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"signaling-service/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

// Rejection reasons reported to a connecting client.
const (
	ReasonMissingCredential = "missing credential"
	ReasonInvalidCredential = "invalid or expired credential"
)

// ErrAuthenticationFailed is wrapped by every rejection returned from
// TokenAuthenticator.Authenticate.
var ErrAuthenticationFailed = errors.New("authentication failed")

// AuthError carries the human-readable reason a credential was rejected.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrAuthenticationFailed, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrAuthenticationFailed, e.Reason)
}

func (e *AuthError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrAuthenticationFailed, e.Err}
	}
	return []error{ErrAuthenticationFailed}
}

// Claims is the token shape issued by the platform's identity service: the
// user id travels in "id" together with the user's role.
type Claims struct {
	UID  any    `json:"id,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenAuthenticator turns a credential into the user id it certifies.
type TokenAuthenticator struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

func NewTokenAuthenticator(cfg config.JWTConfig) *TokenAuthenticator {
	opts := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{
			jwt.SigningMethodHS256.Alg(),
			jwt.SigningMethodHS384.Alg(),
			jwt.SigningMethodHS512.Alg(),
		}),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &TokenAuthenticator{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		parser: jwt.NewParser(opts...),
	}
}

// Authenticate verifies signature and expiry of credential and returns the
// user id it certifies. An optional "Bearer " prefix is ignored.
func (a *TokenAuthenticator) Authenticate(credential string) (string, error) {
	tokenString := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(credential), "Bearer "))
	if tokenString == "" {
		return "", &AuthError{Reason: ReasonMissingCredential}
	}

	claims := &Claims{}
	token, err := a.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", &AuthError{Reason: ReasonInvalidCredential, Err: err}
	}
	if !token.Valid {
		return "", &AuthError{Reason: ReasonInvalidCredential}
	}

	userID, err := claims.UserID()
	if err != nil {
		return "", &AuthError{Reason: ReasonInvalidCredential, Err: err}
	}
	return userID, nil
}

// UserID extracts the subject of the token, preferring the "id" claim and
// falling back to "sub".
func (c *Claims) UserID() (string, error) {
	switch id := c.UID.(type) {
	case string:
		if strings.TrimSpace(id) != "" {
			return id, nil
		}
	case float64:
		if id == float64(int64(id)) {
			return strconv.FormatInt(int64(id), 10), nil
		}
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	case nil:
	default:
		return "", fmt.Errorf("unsupported id claim type %T", c.UID)
	}

	if c.Subject != "" {
		return c.Subject, nil
	}
	return "", errors.New("token carries no user id")
}

// TokenIssuer signs credentials in the same shape the identity service uses.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(cfg config.JWTConfig) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.ExpirationTime,
		now:    time.Now,
	}
}

// Issue signs an HS256 token for userID valid for the configured duration.
func (i *TokenIssuer) Issue(userID, role string) (string, error) {
	return i.IssueWithTTL(userID, role, i.ttl)
}

// IssueWithTTL signs a token with an explicit lifetime. A non-positive ttl
// produces an already expired token.
func (i *TokenIssuer) IssueWithTTL(userID, role string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}

	now := i.now()
	claims := Claims{
		UID:  userID,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
