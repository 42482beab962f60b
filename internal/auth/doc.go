// Package auth derives relay identities and verifies home tokens.
//
// Every device and app connection presents a home token (an HMAC-signed JWT
// with audience "home") and a device MAC address. The pair is reduced to a
// ScopingKey that partitions all relay state: a device and the apps watching
// it only meet when both derive the same key.
//
// Verification is two-stage so operators can tell garbled input from forged
// or expired credentials:
//
//	v := auth.NewVerifier(auth.VerifierConfig{Secret: secret})
//	claims, err := v.Authenticate(token)
//	switch {
//	case errors.Is(err, auth.ErrTokenFormat):  // not three dot-separated segments
//	case errors.Is(err, auth.ErrTokenInvalid): // bad signature, audience or expiry
//	}
package auth
