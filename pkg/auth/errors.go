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

import "errors"

var (
	// ErrUnauthorized describes a request that carries no bearer token.
	// Nothing in this package returns it: Middleware answers such a
	// request with HTTP 401 directly.
	ErrUnauthorized = errors.New("auth: unauthorized, a bearer token is required")

	// ErrForbidden describes a validated caller that lacks a required role.
	// Nothing in this package returns it: RequireRole answers such a
	// request with HTTP 403 directly.
	ErrForbidden = errors.New("auth: forbidden, insufficient role")

	// ErrInvalidToken is returned when a token fails signature, issuer, or
	// audience validation.
	ErrInvalidToken = errors.New("auth: invalid token")
)
