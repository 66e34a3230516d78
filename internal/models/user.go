package models

import "time"

// Role is the authorization role of a user
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User represents a user in the system
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"` // Not serialized
	Role         Role      `db:"role" json:"role"`
	Enabled      bool      `db:"enabled" json:"enabled"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// OwnerRef is the minimal view of a card owner the ledger needs
type OwnerRef struct {
	ID       int64
	Username string
	Email    string
}

// Ref returns the owner view of the user
func (u *User) Ref() OwnerRef {
	return OwnerRef{ID: u.ID, Username: u.Username, Email: u.Email}
}
