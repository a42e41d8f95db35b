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

package supervisor

import (
	"strings"

	"github.com/meridianstack/orchestrator/pkg/supervisor/policy"
)

// Router dispatches an inbox event's event_type to at most one policy.Policy:
// exact match wins first, then the longest matching prefix (a
// RegisterPrefix registration, e.g. "task."), then the default policy if
// one was registered. This mirrors the teacher's excluded-paths map
// lookup in pkg/ratelimit.Middleware, generalized to three match tiers
// instead of one.
type Router struct {
	exact    map[string]policy.Policy
	prefixes []prefixRoute
	fallback policy.Policy
}

type prefixRoute struct {
	prefix string
	policy policy.Policy
}

// NewRouter constructs an empty Router.
func NewRouter() *Router {
	return &Router{exact: make(map[string]policy.Policy)}
}

// RegisterExact routes eventType, matched exactly, to p.
func (r *Router) RegisterExact(eventType string, p policy.Policy) {
	r.exact[eventType] = p
}

// RegisterPrefix routes any event type beginning with prefix (e.g.
// "TASK_") to p. Longer registered prefixes are preferred over shorter
// ones when more than one matches.
func (r *Router) RegisterPrefix(prefix string, p policy.Policy) {
	r.prefixes = append(r.prefixes, prefixRoute{prefix: prefix, policy: p})
}

// RegisterDefault sets the policy used when no exact or prefix route
// matches.
func (r *Router) RegisterDefault(p policy.Policy) {
	r.fallback = p
}

// Match returns the single policy eventType routes to, or nil if none
// matched and no default was registered.
func (r *Router) Match(eventType string) policy.Policy {
	if p, ok := r.exact[eventType]; ok {
		return p
	}
	var best prefixRoute
	for _, route := range r.prefixes {
		if strings.HasPrefix(eventType, route.prefix) && len(route.prefix) > len(best.prefix) {
			best = route
		}
	}
	if best.policy != nil {
		return best.policy
	}
	return r.fallback
}
