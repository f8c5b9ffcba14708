package proxy

import (
	"errors"
	"fmt"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a chat completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chunk is one increment of a streamed reply. Text is the concatenation of
// every Delta received so far, including this one.
type Chunk struct {
	Delta string `json:"delta"`
	Text  string `json:"text"`
}

var (
	// ErrMissingCredential is returned when a provider has no API key.
	ErrMissingCredential = errors.New("provider credential not configured")
	// ErrEmptyResponse is returned when a completion carries no choices.
	ErrEmptyResponse = errors.New("provider returned no choices")
	// ErrStreamStalled is returned when a stream goes longer than the client
	// timeout without receiving anything.
	ErrStreamStalled = errors.New("stream stalled")
)

// Error is any failure talking to a provider: transport, timeout, non-2xx
// status, or an unusable response body.
type Error struct {
	Provider   string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
