// jwt.go handles token creation, signing, and verification using a shared
// secret injected from configuration. Two token kinds are issued with the same
// key but distinct purpose claims, so a verification link can never be
// replayed as a session token or vice versa.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "memberbase"

// Token purposes. Parsing rejects a token whose purpose does not match the
// parse call.
const (
	purposeSession     = "session"
	purposeEmailVerify = "email_verify"
)

// ErrInvalidToken is returned for any token that fails signature, expiry, or
// purpose checks. Callers get one error for all failure modes so responses
// cannot leak why a token was rejected.
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims is the claim set carried by all memberbase tokens.
type Claims struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Purpose   string `json:"purpose"`
	// SessionID is set on session tokens only and names the server-side
	// session row the token is bound to.
	SessionID string `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies tokens with a secret from configuration.
type TokenManager struct {
	secret []byte
}

// NewTokenManager creates a TokenManager. The secret must already be
// validated by config loading.
func NewTokenManager(secret string) *TokenManager {
	return &TokenManager{secret: []byte(secret)}
}

// IssueSessionToken creates a signed session token bound to a server-side
// session row. The token is only as valid as that row: revoking the row
// invalidates the token before its expiry.
func (tm *TokenManager) IssueSessionToken(accountID, email, sessionID string, ttl time.Duration) (string, error) {
	return tm.sign(accountID, email, purposeSession, sessionID, ttl)
}

// IssueVerificationToken creates a signed email-verification token. It
// carries no session and grants nothing beyond the verify operation.
func (tm *TokenManager) IssueVerificationToken(accountID, email string, ttl time.Duration) (string, error) {
	return tm.sign(accountID, email, purposeEmailVerify, "", ttl)
}

func (tm *TokenManager) sign(accountID, email, purpose, sessionID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		AccountID: accountID,
		Email:     email,
		Purpose:   purpose,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   accountID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secret)
}

// ParseSessionToken verifies a session token and returns its claims.
func (tm *TokenManager) ParseSessionToken(tokenString string) (*Claims, error) {
	claims, err := tm.parse(tokenString, purposeSession)
	if err != nil {
		return nil, err
	}
	if claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseVerificationToken verifies an email-verification token and returns its
// claims.
func (tm *TokenManager) ParseVerificationToken(tokenString string) (*Claims, error) {
	return tm.parse(tokenString, purposeEmailVerify)
}

func (tm *TokenManager) parse(tokenString, wantPurpose string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Purpose != wantPurpose {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
