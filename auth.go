package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// accessTokenTTL bounds every bearer token; there is no refresh mechanism,
// clients re-authenticate when it elapses.
const accessTokenTTL = time.Hour

var errInvalidToken = errors.New("invalid token")

func genSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashPassword(p string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(p), bcrypt.DefaultCost)
	return string(b), err
}

func comparePassword(hash, p string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) == nil
}

func signToken(claims jwt.MapClaims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(ttl).Unix()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

func createUserToken(u *User) (string, error) {
	return signToken(jwt.MapClaims{"id": u.ID, "email": u.Email}, accessTokenTTL)
}

func createAdminToken(ad *Admin) (string, error) {
	return signToken(jwt.MapClaims{"id": ad.ID, "username": ad.Username}, accessTokenTTL)
}

// parseToken verifies signature and expiry and returns the embedded identity.
func parseToken(tokenStr string) (*Identity, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, errInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errInvalidToken
	}
	id, ok := claims["id"].(float64)
	if !ok {
		return nil, errInvalidToken
	}
	ident := &Identity{ID: int64(id)}
	if email, ok := claims["email"].(string); ok {
		ident.Email = email
	}
	if username, ok := claims["username"].(string); ok {
		ident.Username = username
	}
	return ident, nil
}
