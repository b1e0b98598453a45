// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered account.
//
// Email is stored lower-cased and is unique across users. PasswordHash is a
// bcrypt hash; the json:"-" tag keeps it out of every API response.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}
