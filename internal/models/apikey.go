package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// APIKey represents an owner's API key. Secret is the bearer credential;
// it is generated once at creation and never regenerated in place.
type APIKey struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	UserID     uuid.UUID  `json:"user_id" db:"user_id"`
	Name       string     `json:"name" db:"name"`
	Secret     string     `json:"-" db:"secret"`
	Active     bool       `json:"active" db:"active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// MaskedSecret returns the display form of the secret: the prefix plus the
// last four characters, with the random suffix elided.
func (k *APIKey) MaskedSecret() string {
	return MaskSecret(k.Secret)
}

// MaskSecret masks a raw secret for display
func MaskSecret(secret string) string {
	idx := strings.IndexByte(secret, '_')
	if idx < 0 || len(secret) < idx+5 {
		// Too short to mask meaningfully; hide everything
		return "****"
	}
	return secret[:idx+1] + "..." + secret[len(secret)-4:]
}
