// Package auth verifies the bearer token every transport (WebSocket
// handshake, REST) requires before it will attach a caller to a
// UserID. It is deliberately narrow: issuing tokens is somebody else's
// concern (an identity provider upstream of this service); this package
// only checks a token's signature and claims.
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/webitel/journal-sync/internal/apperr"
	"github.com/webitel/journal-sync/internal/domain/model"
)

// Claims is the JWT payload this service expects. Issuers elsewhere in
// the platform are responsible for populating sub with the UserID.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier checks bearer tokens signed with a shared HMAC secret.
type Verifier struct {
	secret []byte
}

func New(signingKey string) *Verifier {
	return &Verifier{secret: []byte(signingKey)}
}

// Verify parses and validates a raw JWT, returning the UserID from its
// subject claim. Any parse failure, signature mismatch, or expiry is
// reported as apperr.Unauthorized so callers can respond uniformly.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (model.UserID, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, v.keyFunc, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return "", apperr.Unauthorizedf("auth: invalid token: %v", err)
	}
	if !token.Valid {
		return "", apperr.Unauthorizedf("auth: token failed validation")
	}
	if claims.Subject == "" {
		return "", apperr.Unauthorizedf("auth: token missing subject claim")
	}
	return model.UserID(claims.Subject), nil
}

func (v *Verifier) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("auth: unexpected signing method %v", token.Header["alg"])
	}
	return v.secret, nil
}

// BearerFromHeader extracts the raw token from a standard
// "Authorization: Bearer <token>" header value.
func BearerFromHeader(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", apperr.Unauthorizedf("auth: missing bearer prefix")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", apperr.Unauthorizedf("auth: empty bearer token")
	}
	return token, nil
}
