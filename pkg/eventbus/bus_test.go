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

package eventbus

import (
	"context"
	"sync"
	"testing"
)

func TestEmitDeliversToSyncSubscribersInOrder(t *testing.T) {
	bus := NewBus(nil)
	var mu sync.Mutex
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		bus.Subscribe(func(Event) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	bus.Emit(New("task.progress", SourceCore, Entity{Kind: "task", ID: "t1"}, nil))

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Errorf("expected in-order delivery [0 1 2], got %v", order)
	}
}

func TestEmitSwallowsSubscriberPanic(t *testing.T) {
	bus := NewBus(nil)
	called := false
	bus.Subscribe(func(Event) { panic("boom") })
	bus.Subscribe(func(Event) { called = true })

	bus.Emit(New("x", SourceCore, Entity{}, nil))
	if !called {
		t.Error("expected second subscriber to still run after first panicked")
	}
}

func TestEmitAsyncWaitsForAsyncSubscribers(t *testing.T) {
	bus := NewBus(nil)
	done := false
	bus.SubscribeAsync(func(ctx context.Context, e Event) {
		done = true
	})
	bus.EmitAsync(context.Background(), New("x", SourceCore, Entity{}, nil))
	if !done {
		t.Error("expected EmitAsync to wait for async subscriber completion")
	}
}

func TestSubscriberCount(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe(func(Event) {})
	bus.SubscribeAsync(func(context.Context, Event) {})
	if got := bus.SubscriberCount(); got != 2 {
		t.Errorf("SubscriberCount() = %d, want 2", got)
	}
}
