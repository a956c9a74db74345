package principal

import (
	"errors"
	"time"
)

// APIKeyPrefix is prepended to generated API keys for identification.
const APIKeyPrefix = "tgk_"

// APIKey is a service credential. Its tenant is the fourth tenant
// resolution source after the route, the principal and the host.
type APIKey struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	PrincipalID string    `json:"principal_id"`
	Name        string    `json:"name"`
	Prefix      string    `json:"prefix"` // first 8 chars for display
	KeyHash     string    `json:"-"`      // SHA-256 hash, never serialized
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
	CreatedAt   time.Time `json:"created_at"`
}

// Expired reports whether the key is past its expiry.
func (k *APIKey) Expired(now time.Time) bool {
	return !k.ExpiresAt.IsZero() && !now.Before(k.ExpiresAt)
}

// CreateAPIKeyRequest is the input for creating a new API key.
type CreateAPIKeyRequest struct {
	Name      string `json:"name"`
	ExpiresIn int    `json:"expires_in,omitempty"` // seconds; 0 = no expiry
}

// Validate checks that the CreateAPIKeyRequest has all required fields.
func (r *CreateAPIKeyRequest) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	if r.ExpiresIn < 0 {
		return errors.New("expires_in must be >= 0")
	}
	return nil
}

// CreateAPIKeyResponse is returned after creating an API key.
// The PlainKey is only shown once at creation time.
type CreateAPIKeyResponse struct {
	APIKey   APIKey `json:"api_key"`
	PlainKey string `json:"plain_key"`
}
