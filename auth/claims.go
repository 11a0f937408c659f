package auth

import "github.com/golang-jwt/jwt/v5"

// Scopes carried by API tokens. ScopeWrite implies ScopeRead.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
)

// Claims is the JWT payload of a domsig API token. The caller identity is
// the registered subject.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// Allows reports whether the claims grant scope.
func (c *Claims) Allows(scope string) bool {
	switch c.Scope {
	case ScopeWrite:
		return scope == ScopeWrite || scope == ScopeRead
	case ScopeRead:
		return scope == ScopeRead
	default:
		return false
	}
}
