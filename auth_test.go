package main

import (
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	jwtSecret = []byte("test-secret")
	os.Exit(m.Run())
}

func TestHashPassword(t *testing.T) {
	h1, err := hashPassword("pw1")
	require.NoError(t, err)
	h2, err := hashPassword("pw1")
	require.NoError(t, err)

	assert.NotEqual(t, "pw1", h1, "hash must not equal the plaintext")
	assert.NotEqual(t, h1, h2, "bcrypt salts per call")

	assert.True(t, comparePassword(h1, "pw1"))
	assert.True(t, comparePassword(h2, "pw1"))
	assert.False(t, comparePassword(h1, "pw2"))
}

func TestGenSecret(t *testing.T) {
	s1, err := genSecret(32)
	require.NoError(t, err)
	s2, err := genSecret(32)
	require.NoError(t, err)

	assert.Len(t, s1, 64, "32 bytes hex-encoded")
	assert.NotEqual(t, s1, s2)
}

func TestUserTokenRoundTrip(t *testing.T) {
	u := &User{ID: 42, Email: "alice@x.com", Username: "alice"}
	token, err := createUserToken(u)
	require.NoError(t, err)

	ident, err := parseToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), ident.ID)
	assert.Equal(t, "alice@x.com", ident.Email)
	assert.Empty(t, ident.Username)
}

func TestAdminTokenRoundTrip(t *testing.T) {
	ad := &Admin{ID: 7, Username: "root"}
	token, err := createAdminToken(ad)
	require.NoError(t, err)

	ident, err := parseToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), ident.ID)
	assert.Equal(t, "root", ident.Username)
	assert.Empty(t, ident.Email)
}

func TestParseTokenExpired(t *testing.T) {
	token, err := signToken(jwt.MapClaims{"id": int64(1), "email": "a@x.com"}, -time.Minute)
	require.NoError(t, err)

	_, err = parseToken(token)
	assert.ErrorIs(t, err, errInvalidToken)
}

func TestParseTokenWrongSecret(t *testing.T) {
	other := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  int64(1),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := other.SignedString([]byte("some-other-secret"))
	require.NoError(t, err)

	_, err = parseToken(signed)
	assert.ErrorIs(t, err, errInvalidToken)
}

func TestParseTokenGarbage(t *testing.T) {
	_, err := parseToken("not.a.jwt")
	assert.ErrorIs(t, err, errInvalidToken)
}
