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

package store

import (
	"context"
	"fmt"
	"time"
)

// GetCachedOutput returns a previously stored LLM output for cacheKey, or
// ("", false, nil) on a cache miss. pkg/checkpoint.OutputCache builds the
// hashing and singleflight collapsing on top of this DAO.
func (s *Store) GetCachedOutput(ctx context.Context, cacheKey string) (string, bool, error) {
	var output string
	row := s.read.QueryRowContext(ctx, `SELECT output FROM llm_output_cache WHERE cache_key = ?`, cacheKey)
	err := row.Scan(&output)
	if isNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get cached output for %s: %w", cacheKey, err)
	}
	return output, true, nil
}

// PutCachedOutput stores an LLM output under cacheKey. Best-effort: a
// caller that fails to write the cache should still return the generated
// output to its own caller, per spec.md §4.6.
func (s *Store) PutCachedOutput(ctx context.Context, cacheKey, output string) error {
	_, err := s.write.ExecContext(ctx, `
INSERT INTO llm_output_cache (cache_key, output, created_at)
VALUES (?, ?, ?)
ON CONFLICT(cache_key) DO UPDATE SET output = excluded.output, created_at = excluded.created_at
`, cacheKey, output, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: put cached output for %s: %w", cacheKey, err)
	}
	return nil
}
