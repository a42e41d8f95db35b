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

package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/meridianstack/orchestrator/pkg/store"
)

// Generator produces an LLM output for a cache miss.
type Generator func(ctx context.Context) (string, error)

// OutputCache is a SHA-256-keyed cache over Store-backed LLM output
// storage, with in-flight collapsing via singleflight so N concurrent
// identical requests trigger exactly one Generator call.
type OutputCache struct {
	store   *store.Store
	logger  *slog.Logger
	flights singleflight.Group
}

// NewOutputCache constructs an OutputCache over s.
func NewOutputCache(s *store.Store, logger *slog.Logger) *OutputCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutputCache{store: s, logger: logger}
}

// Key derives a cache key from the given parts (e.g. model, prompt,
// temperature) by hashing their concatenation.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// GetOrGenerate returns the cached output for key if present; otherwise it
// calls generate exactly once even under concurrent callers sharing key,
// caches the result best-effort, and returns it.
func (c *OutputCache) GetOrGenerate(ctx context.Context, key string, generate Generator) (string, error) {
	if output, ok, err := c.store.GetCachedOutput(ctx, key); err != nil {
		return "", fmt.Errorf("checkpoint: get cached output %s: %w", key, err)
	} else if ok {
		return output, nil
	}

	v, err, _ := c.flights.Do(key, func() (any, error) {
		output, genErr := generate(ctx)
		if genErr != nil {
			return "", genErr
		}
		if putErr := c.store.PutCachedOutput(ctx, key, output); putErr != nil {
			c.logger.Warn("checkpoint: failed to persist cached output", "key", key, "error", putErr)
		}
		return output, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
