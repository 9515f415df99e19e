package auth

import (
	"context"
	"strings"
	"time"
)

const (
	// ScopeRun allows executing tasks and managing the caller's own data.
	ScopeRun = "fpilot:run"
	// ScopeAdmin allows the admin endpoints.
	ScopeAdmin = "fpilot:admin"
)

// Claims represents authentication token claims
type Claims struct {
	Subject   string
	Email     string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Scopes    []string
	Raw       map[string]interface{}
}

// HasScope checks if the claims contain a specific scope
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Owner is the key user data is stored under: the email when present,
// otherwise the subject.
func (c *Claims) Owner() string {
	if c == nil {
		return ""
	}
	if email := strings.TrimSpace(c.Email); email != "" {
		return strings.ToLower(email)
	}
	return strings.TrimSpace(c.Subject)
}

// Role returns the upper-cased "role" claim, or "" when absent.
func (c *Claims) Role() string {
	if c == nil {
		return ""
	}
	v, _ := c.Raw["role"].(string)
	return strings.ToUpper(strings.TrimSpace(v))
}

// Validator validates authentication tokens
type Validator interface {
	Validate(ctx context.Context, token string) (*Claims, error)
}

// Config contains JWKS validator configuration
type Config struct {
	JwksURL     string        `json:"jwksUrl"`
	Issuer      string        `json:"issuer"`
	Audience    string        `json:"audience"`
	ClockSkew   time.Duration `json:"-"`
	HTTPTimeout time.Duration `json:"-"`
}
