package auth

import "github.com/golang-jwt/jwt/v5"

// SessionClaims is the payload of the signed storefront session cookie.
// The session id travels as the registered jti claim.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// SessionID returns the session identifier carried by the claims.
func (c *SessionClaims) SessionID() string {
	if c == nil {
		return ""
	}
	return c.ID
}
