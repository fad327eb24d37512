package main

import "time"

// User represents a user account. Deactivation is a soft delete: the row
// stays, IsActive flips to false.
type User struct {
	ID                int64
	Username          string
	Email             string
	Password          string // bcrypt hash, never the plaintext
	IsActive          bool
	ResetToken        *string // bcrypt hash of the emailed reset secret
	ResetTokenExpires *int64  // unix millis; set and cleared together with ResetToken
	CreatedAt         time.Time
}

// Admin represents an administrator account. Admins authenticate with a
// username instead of an email and live in their own table.
type Admin struct {
	ID        int64
	Username  string
	Password  string
	CreatedAt time.Time
}

// Identity is the verified claim set the auth gate attaches to the request
// context. Exactly one of Email/Username is set depending on account type.
type Identity struct {
	ID       int64
	Email    string
	Username string
}
