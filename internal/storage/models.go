package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Transcript is the best-effort record of one chat session.
type Transcript struct {
	ID        string
	SessionID string
	CreatedAt time.Time
	UpdatedAt time.Time
	Locale    string
	Provider  string // provider of the latest answer
	History   string // JSON array of {"user","assistant"} turns stored as text
}
