package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier defaults.
const (
	defaultAudience       = "home"
	defaultMinTokenLength = 16
	jwtSegments           = 3
)

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	Secret         string
	Audience       string
	MinTokenLength int
	// Now overrides the clock used for expiry checks. Tests only.
	Now func() time.Time
}

// Verifier checks home tokens against the server-held secret.
// It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	secret    []byte
	audience  string
	minLength int
	now       func() time.Time
}

// NewVerifier creates a Verifier, applying defaults for zero values.
func NewVerifier(cfg VerifierConfig) *Verifier {
	v := &Verifier{
		secret:    []byte(cfg.Secret),
		audience:  cfg.Audience,
		minLength: cfg.MinTokenLength,
		now:       cfg.Now,
	}
	if v.audience == "" {
		v.audience = defaultAudience
	}
	if v.minLength <= 0 {
		v.minLength = defaultMinTokenLength
	}
	if v.now == nil {
		v.now = time.Now
	}
	return v
}

// CheckFormat rejects tokens that cannot possibly be a JWT: too short, or not
// exactly three non-empty dot-separated segments.
func (v *Verifier) CheckFormat(token string) error {
	if len(token) < v.minLength {
		return fmt.Errorf("%w: shorter than %d characters", ErrTokenFormat, v.minLength)
	}
	parts := strings.Split(token, ".")
	if len(parts) != jwtSegments {
		return fmt.Errorf("%w: %d segments", ErrTokenFormat, len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return fmt.Errorf("%w: empty segment", ErrTokenFormat)
		}
	}
	return nil
}

// hmacMethods are the accepted signing algorithms: any HMAC over the shared
// secret. Asymmetric and "none" tokens are rejected.
var hmacMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

// Verify checks the signature, audience and expiry of a token and returns
// its claims. It does not repeat the shape check.
func (v *Verifier) Verify(token string) (*HomeClaims, error) {
	claims := &HomeClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods(hmacMethods),
		jwt.WithAudience(v.audience),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Authenticate runs the shape check and then the cryptographic check,
// stopping at the first failure.
func (v *Verifier) Authenticate(token string) (*HomeClaims, error) {
	if err := v.CheckFormat(token); err != nil {
		return nil, err
	}
	return v.Verify(token)
}
