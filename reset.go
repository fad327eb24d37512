package main

import (
	"fmt"
	"log"
	"time"
)

// resetTokenTTL bounds the window between requesting a reset and using the
// emailed secret.
const resetTokenTTL = time.Hour

// startPasswordReset generates a fresh reset secret for the user and stores
// only its hash plus the expiry. A repeated request overwrites any pending
// secret, invalidating the previous email. Returns the raw secret for the
// email; it is never persisted.
func (a *App) startPasswordReset(u *User) (string, error) {
	secret, err := genSecret(32)
	if err != nil {
		return "", err
	}
	hash, err := hashPassword(secret)
	if err != nil {
		return "", err
	}
	expires := time.Now().Add(resetTokenTTL).UnixMilli()
	if err := a.DB.SetResetToken(u.ID, hash, expires); err != nil {
		return "", err
	}
	return secret, nil
}

// verifyResetSecret checks a presented secret against the stored hash and
// expiry. Returns the user when the secret is valid so the caller can consume
// it; a nil user means no pending token, a mismatch, or an expired one.
func (a *App) verifyResetSecret(id int64, secret string) (*User, error) {
	u, err := a.DB.GetUserByID(id)
	if err != nil {
		return nil, err
	}
	if u == nil || u.ResetToken == nil || u.ResetTokenExpires == nil {
		return nil, nil
	}
	if !comparePassword(*u.ResetToken, secret) {
		return nil, nil
	}
	if *u.ResetTokenExpires < time.Now().UnixMilli() {
		return nil, nil
	}
	return u, nil
}

// sendResetEmail delivers the reset link. Fire-and-forget: a delivery fault
// is logged and never surfaced to the request, the stored token simply
// expires unused.
func (a *App) sendResetEmail(u *User, secret string) {
	link := fmt.Sprintf("%s/api/users/reset-password?token=%s&id=%d", a.ClientURL, secret, u.ID)
	body := fmt.Sprintf("Hello %s,\n\nPlease use the following link to reset your password: %s\n\nIf you did not request this, please ignore this email.\n\nThank you.", u.Username, link)
	if err := a.Mail.Send(u.Email, "Password Reset Request", body); err != nil {
		log.Printf("reset email to user %d failed: %v", u.ID, err)
	}
}
