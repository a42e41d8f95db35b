// Copyright 2025 Meridianstack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const testKeyID = "test-key-id"

func generateRSAKeyPair(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return priv, &priv.PublicKey
}

func jwksServer(t *testing.T, pub *rsa.PublicKey) *httptest.Server {
	t.Helper()
	key, err := jwk.FromRaw(pub)
	if err != nil {
		t.Fatalf("jwk.FromRaw: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, testKeyID); err != nil {
		t.Fatalf("set kid: %v", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		t.Fatalf("set alg: %v", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		t.Fatalf("add key: %v", err)
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := json.Marshal(set)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
}

func signTestToken(t *testing.T, priv *rsa.PrivateKey, issuer, audience, subject string, extra map[string]any) string {
	t.Helper()
	token := jwt.New()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("set claim: %v", err)
		}
	}
	must(token.Set(jwt.IssuerKey, issuer))
	must(token.Set(jwt.AudienceKey, audience))
	must(token.Set(jwt.SubjectKey, subject))
	must(token.Set(jwt.IssuedAtKey, time.Now()))
	must(token.Set(jwt.ExpirationKey, time.Now().Add(time.Hour)))
	for k, v := range extra {
		must(token.Set(k, v))
	}

	key, err := jwk.FromRaw(priv)
	if err != nil {
		t.Fatalf("jwk.FromRaw(priv): %v", err)
	}
	must(key.Set(jwk.KeyIDKey, testKeyID))

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, key))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return string(signed)
}

func setupTestValidator(t *testing.T) (*JWTValidator, *rsa.PrivateKey, string, string) {
	t.Helper()
	priv, pub := generateRSAKeyPair(t)
	server := jwksServer(t, pub)
	t.Cleanup(server.Close)

	const issuer = "https://test-issuer.example"
	const audience = "orchestrator-admin"

	v, err := NewJWTValidator(JWTValidatorConfig{
		JWKSURL:  server.URL,
		Issuer:   issuer,
		Audience: audience,
	})
	if err != nil {
		t.Fatalf("NewJWTValidator: %v", err)
	}
	return v, priv, issuer, audience
}

func TestValidateTokenAcceptsWellFormedToken(t *testing.T) {
	v, priv, issuer, audience := setupTestValidator(t)
	token := signTestToken(t, priv, issuer, audience, "user-1", map[string]any{
		"role": "admin", "email": "user1@example.com", "tenant_id": "acme",
	})

	claims, err := v.ValidateToken(context.Background(), token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "user-1" || claims.Role != "admin" || claims.TenantID != "acme" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateTokenRejectsWrongIssuer(t *testing.T) {
	v, priv, _, audience := setupTestValidator(t)
	token := signTestToken(t, priv, "https://someone-else.example", audience, "user-1", nil)

	if _, err := v.ValidateToken(context.Background(), token); err == nil {
		t.Fatal("expected an error for a mismatched issuer")
	}
}

func TestValidateTokenRejectsExpiredToken(t *testing.T) {
	v, priv, issuer, audience := setupTestValidator(t)
	token := jwt.New()
	token.Set(jwt.IssuerKey, issuer)
	token.Set(jwt.AudienceKey, audience)
	token.Set(jwt.SubjectKey, "user-1")
	token.Set(jwt.ExpirationKey, time.Now().Add(-time.Hour))
	key, _ := jwk.FromRaw(priv)
	key.Set(jwk.KeyIDKey, testKeyID)
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, key))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := v.ValidateToken(context.Background(), string(signed)); err == nil {
		t.Fatal("expected an error for an expired token")
	}
}

func TestValidateTokenRejectsUnknownSigningKey(t *testing.T) {
	v, _, issuer, audience := setupTestValidator(t)
	otherPriv, _ := generateRSAKeyPair(t)
	token := signTestToken(t, otherPriv, issuer, audience, "user-1", nil)

	if _, err := v.ValidateToken(context.Background(), token); err == nil {
		t.Fatal("expected an error for a token signed by an untrusted key")
	}
}
