package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an account that owns jobs. Passwords are stored as bcrypt hashes;
// the hash never leaves the store layer in API responses.
type User struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	Email        string    `db:"email"         json:"email"`
	FullName     string    `db:"full_name"     json:"full_name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	IsActive     bool      `db:"is_active"     json:"is_active"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updated_at"`
}
