package static

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/osvaldoandrade/fpilot/pkg/auth"
)

// tokenConfig describes one accepted bearer token and the identity it maps to.
type tokenConfig struct {
	Token   string         `json:"token"`
	Subject string         `json:"subject,omitempty"`
	Email   string         `json:"email,omitempty"`
	Scopes  []string       `json:"scopes,omitempty"`
	Raw     map[string]any `json:"raw,omitempty"`
}

type validatorConfig struct {
	tokenConfig
	// Tokens lists additional identities, e.g. a user and an admin for local runs.
	Tokens []tokenConfig `json:"tokens,omitempty"`
}

type validator struct {
	tokens []tokenConfig
}

// NewValidatorFromJSON accepts a bare token string, a single token object or
// an object with a "tokens" list. Tokens without scopes get fpilot:run.
func NewValidatorFromJSON(raw json.RawMessage) (auth.Validator, error) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return nil, errors.New("static auth: missing config")
	}

	var cfg validatorConfig
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &cfg.Token); err != nil {
			return nil, fmt.Errorf("static auth: invalid config: %w", err)
		}
	} else if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("static auth: invalid config: %w", err)
	}

	var tokens []tokenConfig
	if strings.TrimSpace(cfg.Token) != "" {
		tokens = append(tokens, cfg.tokenConfig)
	}
	tokens = append(tokens, cfg.Tokens...)
	if len(tokens) == 0 {
		return nil, errors.New("static auth: token is required")
	}

	seen := make(map[string]bool, len(tokens))
	for i := range tokens {
		tc := &tokens[i]
		tc.Token = strings.TrimSpace(tc.Token)
		if tc.Token == "" {
			return nil, fmt.Errorf("static auth: tokens[%d]: token is required", i)
		}
		if seen[tc.Token] {
			return nil, fmt.Errorf("static auth: tokens[%d]: duplicate token", i)
		}
		seen[tc.Token] = true
		tc.Subject = strings.TrimSpace(tc.Subject)
		if tc.Subject == "" {
			tc.Subject = "static"
		}
		if len(tc.Scopes) == 0 {
			tc.Scopes = []string{auth.ScopeRun}
		}
		if tc.Raw == nil {
			tc.Raw = map[string]any{}
		}
	}

	return &validator{tokens: tokens}, nil
}

func (v *validator) Validate(_ context.Context, token string) (*auth.Claims, error) {
	token = strings.TrimSpace(token)
	for _, tc := range v.tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(tc.Token)) == 1 {
			return &auth.Claims{
				Subject: tc.Subject,
				Email:   tc.Email,
				Scopes:  append([]string(nil), tc.Scopes...),
				Raw:     tc.Raw,
			}, nil
		}
	}
	return nil, errors.New("invalid token")
}

func init() {
	auth.RegisterProvider("static", NewValidatorFromJSON)
}
