package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// HomeClaims is the claim set carried by a home token.
type HomeClaims struct {
	jwt.RegisteredClaims
	HomeID string `json:"homeId,omitempty"`
}

// Expiry returns the expiry time, or the zero time for tokens without one.
func (c *HomeClaims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// MintOptions describes a home token to sign.
type MintOptions struct {
	Secret   string
	Audience string
	Subject  string
	HomeID   string
	// TTL of zero produces a token without an expiry claim.
	TTL time.Duration
	Now time.Time
}

// MintHomeToken signs a home token with HS256.
// Used by the relaytoken provisioning tool and by tests.
func MintHomeToken(opts MintOptions) (string, error) {
	if opts.Secret == "" {
		return "", fmt.Errorf("signing home token: secret is required")
	}
	if opts.Audience == "" {
		opts.Audience = defaultAudience
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	claims := HomeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  opts.Subject,
			Audience: jwt.ClaimStrings{opts.Audience},
			IssuedAt: jwt.NewNumericDate(now),
			ID:       uuid.NewString(),
		},
		HomeID: opts.HomeID,
	}
	if opts.TTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(opts.TTL))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(opts.Secret))
	if err != nil {
		return "", fmt.Errorf("signing home token: %w", err)
	}
	return signed, nil
}
