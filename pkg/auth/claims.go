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

// Package auth validates administrative bearer tokens against an external
// identity provider's JWKS and carries the resulting claims through the
// admin HTTP surface's request context.
package auth

import "context"

type contextKey string

const claimsContextKey contextKey = "orchestrator_auth_claims"

// Claims is the validated subset of a bearer token's payload the admin
// surface authorizes against.
type Claims struct {
	Subject  string `json:"sub"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	Custom   map[string]any `json:"-"`
}

// HasRole reports whether the claims carry exactly this role.
func (c *Claims) HasRole(role string) bool { return c.Role == role }

// HasAnyRole reports whether the claims carry any of roles.
func (c *Claims) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	return false
}

// ClaimsFromContext extracts the Claims a prior middleware call attached,
// or nil if the request was never authenticated.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey).(*Claims)
	return claims
}

func contextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
