package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerifyAcceptsValidToken(t *testing.T) {
	v := New("top-secret")
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	tokenString := signToken(t, "top-secret", claims)

	userID, err := v.Verify(context.Background(), tokenString)

	require.NoError(t, err)
	assert.Equal(t, "user-42", string(userID))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	v := New("top-secret")
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-42"}}
	tokenString := signToken(t, "a-different-secret", claims)

	_, err := v.Verify(context.Background(), tokenString)

	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v := New("top-secret")
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}}
	tokenString := signToken(t, "top-secret", claims)

	_, err := v.Verify(context.Background(), tokenString)

	assert.Error(t, err)
}

func TestVerifyRejectsMissingSubject(t *testing.T) {
	v := New("top-secret")
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	tokenString := signToken(t, "top-secret", claims)

	_, err := v.Verify(context.Background(), tokenString)

	assert.Error(t, err)
}

func TestBearerFromHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid bearer", header: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		{name: "missing prefix", header: "abc.def.ghi", wantErr: true},
		{name: "empty token", header: "Bearer ", wantErr: true},
		{name: "empty header", header: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BearerFromHeader(tt.header)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
