package jwks

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/osvaldoandrade/fpilot/pkg/auth"
)

type keyServer struct {
	*httptest.Server
	key  *rsa.PrivateKey
	hits atomic.Int32
}

func newKeyServer(t *testing.T) *keyServer {
	t.Helper()
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	ks := &keyServer{key: privKey}
	ks.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ks.hits.Add(1)
		n := base64.RawURLEncoding.EncodeToString(privKey.PublicKey.N.Bytes())
		e := base64.RawURLEncoding.EncodeToString([]byte{0x01, 0x00, 0x01})
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{
				{"kty": "RSA", "kid": "test-key-1", "n": n, "e": e},
			},
		})
	}))
	t.Cleanup(ks.Close)
	return ks
}

func newTestValidator(t *testing.T, url string, skew time.Duration) auth.Validator {
	t.Helper()
	validator, err := NewValidator(auth.Config{
		JwksURL:     url,
		Issuer:      "test-issuer",
		Audience:    "test-audience",
		ClockSkew:   skew,
		HTTPTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	return validator
}

func TestJWKSValidator(t *testing.T) {
	ks := newKeyServer(t)
	validator := newTestValidator(t, ks.URL, time.Minute)

	now := time.Now().Unix()
	token := signToken(t, ks.key, "test-key-1", map[string]any{
		"iss":   "test-issuer",
		"aud":   "test-audience",
		"sub":   "test-user",
		"exp":   now + 3600,
		"iat":   now,
		"email": "test@example.com",
		"scope": "fpilot:run fpilot:admin",
		"role":  "admin",
	})

	claims, err := validator.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("failed to validate token: %v", err)
	}

	if claims.Subject != "test-user" {
		t.Errorf("expected subject 'test-user', got '%s'", claims.Subject)
	}
	if claims.Owner() != "test@example.com" {
		t.Errorf("expected owner 'test@example.com', got '%s'", claims.Owner())
	}
	if claims.Issuer != "test-issuer" {
		t.Errorf("expected issuer 'test-issuer', got '%s'", claims.Issuer)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != "test-audience" {
		t.Errorf("expected audience ['test-audience'], got %v", claims.Audience)
	}
	if !claims.HasScope(auth.ScopeRun) || !claims.HasScope(auth.ScopeAdmin) {
		t.Errorf("expected both fpilot scopes, got %v", claims.Scopes)
	}
	if claims.Role() != "ADMIN" {
		t.Errorf("expected role ADMIN, got %q", claims.Role())
	}
	if claims.ExpiresAt.Unix() != now+3600 {
		t.Errorf("unexpected expiry %v", claims.ExpiresAt)
	}
}

func TestJWKSValidatorScpListAndKeyCache(t *testing.T) {
	ks := newKeyServer(t)
	validator := newTestValidator(t, ks.URL, time.Minute)

	now := time.Now().Unix()
	token := signToken(t, ks.key, "test-key-1", map[string]any{
		"iss": "test-issuer",
		"aud": []string{"other", "test-audience"},
		"sub": "test-user",
		"exp": now + 3600,
		"scp": []string{"fpilot:run"},
	})

	for i := 0; i < 3; i++ {
		claims, err := validator.Validate(context.Background(), token)
		if err != nil {
			t.Fatalf("validate %d: %v", i, err)
		}
		if !claims.HasScope(auth.ScopeRun) {
			t.Fatalf("expected scp scope, got %v", claims.Scopes)
		}
	}
	if got := ks.hits.Load(); got != 1 {
		t.Fatalf("expected one key set fetch, got %d", got)
	}
}

func TestJWKSValidatorRejects(t *testing.T) {
	ks := newKeyServer(t)
	now := time.Now().Unix()
	base := func() map[string]any {
		return map[string]any{
			"iss": "test-issuer",
			"aud": "test-audience",
			"sub": "test-user",
			"exp": now + 3600,
			"iat": now,
		}
	}

	tests := []struct {
		name   string
		kid    string
		mutate func(map[string]any)
	}{
		{"invalid issuer", "test-key-1", func(c map[string]any) { c["iss"] = "wrong-issuer" }},
		{"invalid audience", "test-key-1", func(c map[string]any) { c["aud"] = "wrong-audience" }},
		{"expired", "test-key-1", func(c map[string]any) { c["exp"] = now - 3600; c["iat"] = now - 7200 }},
		{"missing expiry", "test-key-1", func(c map[string]any) { delete(c, "exp") }},
		{"unknown key", "other-key", func(map[string]any) {}},
		{"missing kid", "", func(map[string]any) {}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator := newTestValidator(t, ks.URL, time.Second)
			claims := base()
			tt.mutate(claims)
			if _, err := validator.Validate(context.Background(), signToken(t, ks.key, tt.kid, claims)); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestJWKSProviderFromJSON(t *testing.T) {
	ks := newKeyServer(t)
	raw, _ := json.Marshal(map[string]any{
		"jwksUrl":          ks.URL,
		"issuer":           "test-issuer",
		"audience":         "test-audience",
		"clockSkewSeconds": 30,
	})
	validator, err := auth.NewValidator(auth.ProviderConfig{Type: "jwks", Config: raw})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	now := time.Now().Unix()
	token := signToken(t, ks.key, "test-key-1", map[string]any{
		"iss": "test-issuer", "aud": "test-audience", "sub": "u-1", "exp": now + 60,
	})
	if _, err := validator.Validate(context.Background(), token); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if _, err := NewValidatorFromJSON(json.RawMessage(`{"jwksUrl":"http://x"}`)); err == nil {
		t.Fatal("expected error for missing issuer")
	}
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims map[string]any) string {
	t.Helper()
	header := map[string]any{"alg": "RS256", "typ": "JWT"}
	if kid != "" {
		header["kid"] = kid
	}
	enc := func(v any) string {
		b, _ := json.Marshal(v)
		return base64.RawURLEncoding.EncodeToString(b)
	}
	signingInput := enc(header) + "." + enc(claims)
	hashed := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hashed[:])
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}
