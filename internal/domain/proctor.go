package domain

import "time"

// Proctor is an authenticated operator who owns sessions.
type Proctor struct {
	ID           string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}
