// Package models defines server-side data models persisted in the database.
package models

import "time"

// User is a vault account. Username and Email hold deterministic field
// ciphertext so they can be matched by equality. Secret, Code and Otp hold
// randomized field ciphertext and are empty when unset. Password is a bcrypt
// hash.
type User struct {
	ID        string    `db:"id"`
	Username  string    `db:"username"`
	Email     string    `db:"email"`
	Password  string    `db:"password"`
	Secret    string    `db:"secret"`
	Code      string    `db:"code"`
	Otp       string    `db:"otp"`
	CreatedAt time.Time `db:"created_at"`
}
