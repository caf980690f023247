package domain

import "time"

// User represents an account that owns todos.
type User struct {
	ID           int64
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}
