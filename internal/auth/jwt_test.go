package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestTokenRoundTrip(t *testing.T) {
	id := uuid.New()
	tok, err := GenerateToken(id, "ada@example.com", secret, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(tok, secret)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, id.String(), claims.Subject)
}

func TestParseToken_Rejects(t *testing.T) {
	id := uuid.New()
	good, err := GenerateToken(id, "a@b.c", secret, time.Hour)
	require.NoError(t, err)
	expired, err := GenerateToken(id, "a@b.c", secret, -time.Minute)
	require.NoError(t, err)
	noUser, err := GenerateToken(uuid.Nil, "a@b.c", secret, time.Hour)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: id}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	otherIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:           id,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"},
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	cases := map[string]struct {
		token  string
		secret string
	}{
		"wrong secret": {good, "other"},
		"expired":      {expired, secret},
		"nil user":     {noUser, secret},
		"alg none":     {unsigned, secret},
		"other issuer": {otherIssuer, secret},
		"garbage":      {"not.a.token", secret},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseToken(tc.token, tc.secret)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "battery staple"))
}
