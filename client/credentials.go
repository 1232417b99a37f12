// Package client provides a Go client for the wellnessid HTTP API: session
// storage, cookie handling, and login/logout helpers for CLI and service
// callers.
package client

import (
	"time"
)

// ServerCredential holds the session for a single server.
type ServerCredential struct {
	SessionToken string    `json:"session_token"`
	AccountID    string    `json:"account_id,omitempty"`
	Handle       string    `json:"handle,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsExpired returns true if the session token has expired.
func (c *ServerCredential) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// IsExpiringSoon returns true if the session expires within the given duration.
func (c *ServerCredential) IsExpiringSoon(within time.Duration) bool {
	return time.Now().Add(within).After(c.ExpiresAt)
}

// CredentialStore defines the interface for storing and retrieving sessions.
type CredentialStore interface {
	// GetCredential retrieves a credential for a server URL.
	// Returns nil, nil if no credential exists for the server.
	GetCredential(serverURL string) (*ServerCredential, error)

	// SetCredential stores a credential for a server URL.
	SetCredential(serverURL string, cred *ServerCredential) error

	// RemoveCredential removes a credential for a server URL.
	RemoveCredential(serverURL string) error

	// ListServers returns all server URLs with stored credentials.
	ListServers() ([]string, error)

	// Save persists any pending changes (for stores that batch writes).
	Save() error
}
