package main

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Session purposes. Enrollment and authentication sessions are not
// interchangeable; an access token is only minted after an accepted
// verification.
const (
	purposeEnroll = "enroll"
	purposeAuth   = "auth"
	purposeAccess = "access"
)

// sessionClaims binds a short-lived session token to one user and purpose.
type sessionClaims struct {
	Purpose string `json:"purpose"`
	Prompt  string `json:"prompt,omitempty"`
	jwt.RegisteredClaims
}

// sessionManager issues and validates HS256 session tokens.
type sessionManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func newSessionManager(secret string, ttl time.Duration) *sessionManager {
	return &sessionManager{secret: []byte(secret), issuer: "typeauthd", ttl: ttl}
}

// Issue mints a token for the user scoped to one purpose. The prompt, when
// set, pins the challenge phrase the sample must be typed against.
func (m *sessionManager) Issue(userID, purpose, prompt string) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Purpose: purpose,
		Prompt:  prompt,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Validate parses the token and checks its purpose. Returns the subject user
// id and the pinned prompt.
func (m *sessionManager) Validate(token, purpose string) (userID, prompt string, err error) {
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", "", err
	}
	if !parsed.Valid {
		return "", "", fmt.Errorf("invalid session token")
	}
	if claims.Purpose != purpose {
		return "", "", fmt.Errorf("session token purpose %q, want %q", claims.Purpose, purpose)
	}
	return claims.Subject, claims.Prompt, nil
}
