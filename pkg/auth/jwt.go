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
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// JWTValidator validates bearer tokens against a JWKS endpoint fetched
// over HTTP and cached/auto-refreshed in the background, so a key
// rotation at the identity provider never requires restarting the
// orchestrator process.
type JWTValidator struct {
	jwksURL  string
	cache    *jwk.Cache
	issuer   string
	audience string
}

// JWTValidatorConfig configures NewJWTValidator.
type JWTValidatorConfig struct {
	JWKSURL         string
	Issuer          string
	Audience        string
	RefreshInterval time.Duration
}

// NewJWTValidator constructs a JWTValidator, performing one synchronous
// JWKS fetch to fail fast on a misconfigured URL before the admin surface
// starts serving traffic.
func NewJWTValidator(cfg JWTValidatorConfig) (*JWTValidator, error) {
	ctx := context.Background()
	refresh := cfg.RefreshInterval
	if refresh <= 0 {
		refresh = 15 * time.Minute
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(refresh)); err != nil {
		return nil, fmt.Errorf("auth: register jwks url: %w", err)
	}
	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		return nil, fmt.Errorf("auth: fetch jwks from %s: %w", cfg.JWKSURL, err)
	}

	return &JWTValidator{
		jwksURL:  cfg.JWKSURL,
		cache:    cache,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}, nil
}

// ValidateToken verifies tokenString's signature against the cached JWKS
// and its issuer/audience/expiry, and extracts Claims on success.
func (v *JWTValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("auth: load jwks: %w", err)
	}

	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := &Claims{Subject: token.Subject(), Custom: make(map[string]any)}
	if email, ok := token.Get("email"); ok {
		if s, ok := email.(string); ok {
			claims.Email = s
		}
	}
	if role, ok := token.Get("role"); ok {
		if s, ok := role.(string); ok {
			claims.Role = s
		}
	}
	if tenant, ok := token.Get("tenant_id"); ok {
		if s, ok := tenant.(string); ok {
			claims.TenantID = s
		}
	}

	reserved := map[string]bool{"sub": true, "email": true, "role": true, "tenant_id": true,
		"iss": true, "aud": true, "exp": true, "iat": true, "nbf": true}
	for iter := token.Iterate(ctx); iter.Next(ctx); {
		pair := iter.Pair()
		key, _ := pair.Key.(string)
		if key != "" && !reserved[key] {
			claims.Custom[key] = pair.Value
		}
	}

	return claims, nil
}
