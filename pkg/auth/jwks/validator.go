package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/osvaldoandrade/fpilot/pkg/auth"
)

const keyCacheTTL = 5 * time.Minute

// Validator validates RS256 tokens issued by an external identity provider
// against its published key set.
type Validator struct {
	jwksURL string
	parser  *jwt.Parser
	client  *http.Client

	keys *expirable.LRU[string, *rsa.PublicKey]
	// fetchMu collapses concurrent key set refreshes into one request.
	fetchMu sync.Mutex
}

// NewValidator creates a new JWKS validator
func NewValidator(cfg auth.Config) (auth.Validator, error) {
	if cfg.JwksURL == "" {
		return nil, errors.New("jwksURL is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}

	return &Validator{
		jwksURL: cfg.JwksURL,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithLeeway(cfg.ClockSkew),
			jwt.WithExpirationRequired(),
		),
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		keys:   expirable.NewLRU[string, *rsa.PublicKey](64, nil, keyCacheTTL),
	}, nil
}

// Validate validates a JWT token
func (v *Validator) Validate(ctx context.Context, tokenString string) (*auth.Claims, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("missing kid in token header")
		}
		return v.publicKey(ctx, kid)
	})
	if err != nil {
		return nil, err
	}

	result := &auth.Claims{
		Subject: getStringClaim(claims, "sub"),
		Email:   getStringClaim(claims, "email"),
		Issuer:  getStringClaim(claims, "iss"),
		Raw:     claims,
	}
	if aud, err := claims.GetAudience(); err == nil {
		result.Audience = aud
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		result.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		result.IssuedAt = iat.Time
	}

	// Providers disagree on the scope claim: "scope" is space separated,
	// "scp" is a list.
	if scope, ok := claims["scope"].(string); ok {
		result.Scopes = strings.Fields(scope)
	}
	if scp, ok := claims["scp"].([]interface{}); ok {
		for _, s := range scp {
			if str, ok := s.(string); ok {
				result.Scopes = append(result.Scopes, str)
			}
		}
	}

	return result, nil
}

func (v *Validator) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok := v.keys.Get(kid); ok {
		return key, nil
	}

	v.fetchMu.Lock()
	defer v.fetchMu.Unlock()
	if key, ok := v.keys.Get(kid); ok {
		return key, nil
	}
	if err := v.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := v.keys.Get(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("key %s not found in JWKS", kid)
}

func (v *Validator) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build JWKS request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read JWKS response: %w", err)
	}

	var set struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.Unmarshal(body, &set); err != nil {
		return fmt.Errorf("failed to parse JWKS: %w", err)
	}

	for _, key := range set.Keys {
		if key.Kty != "RSA" || key.Kid == "" {
			continue
		}
		pubKey, err := parseRSAPublicKey(key.N, key.E)
		if err != nil {
			return fmt.Errorf("failed to parse RSA key %s: %w", key.Kid, err)
		}
		v.keys.Add(key.Kid, pubKey)
	}
	return nil
}

func parseRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode n: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode e: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{
		N: n,
		E: int(e.Int64()),
	}, nil
}

func getStringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

type providerConfig struct {
	auth.Config
	ClockSkewSeconds   int `json:"clockSkewSeconds"`
	HTTPTimeoutSeconds int `json:"httpTimeoutSeconds"`
}

// NewValidatorFromJSON builds a validator from the "jwks" provider settings.
func NewValidatorFromJSON(raw json.RawMessage) (auth.Validator, error) {
	var cfg providerConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("jwks auth: invalid config: %w", err)
	}
	cfg.ClockSkew = time.Duration(cfg.ClockSkewSeconds) * time.Second
	cfg.HTTPTimeout = time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
	return NewValidator(cfg.Config)
}

func init() {
	auth.RegisterProvider("jwks", NewValidatorFromJSON)
}
