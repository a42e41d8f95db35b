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

package orcherr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
		want bool
	}{
		{"matching kind", New("store.Get", KindNetwork, "dial failed", nil), KindNetwork, true},
		{"mismatched kind", New("store.Get", KindNetwork, "dial failed", nil), KindTimeout, false},
		{"plain error", errors.New("boom"), KindNetwork, false},
		{"wrapped", fmt.Errorf("wrap: %w", New("x", KindAuth, "bad token", nil)), KindAuth, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsKind(tt.err, tt.kind); got != tt.want {
				t.Errorf("IsKind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDuplicateEventSentinel(t *testing.T) {
	wrapped := New("store.InsertInbox", KindIntegrity, "duplicate event_id: abc", ErrDuplicateEvent)
	if !IsDuplicateEvent(wrapped) {
		t.Error("expected wrapped duplicate error to match sentinel via errors.Is")
	}
	if !errors.Is(fmt.Errorf("insert: %w", wrapped), ErrDuplicateEvent) {
		t.Error("expected double-wrapped error to still match sentinel")
	}
	other := New("store.InsertInbox", KindIntegrity, "some other integrity issue", nil)
	if IsDuplicateEvent(other) {
		t.Error("unrelated integrity error should not match duplicate sentinel")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	e := New("mcp.Connect", KindNetwork, "dial tcp failed", cause)
	if !errors.Is(e, cause) {
		t.Error("expected Unwrap to expose the underlying cause")
	}
}
