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

package task

import (
	"context"
	"sync"

	"github.com/meridianstack/orchestrator/pkg/orcherr"
)

// Service is the Task repository contract. InMemoryService below is its
// only implementation; pkg/store persists tasks through its own
// UpsertTask/GetTask methods on TaskRow and does not implement Service.
type Service interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	Update(ctx context.Context, t *Task) error
	Cancel(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Task, error)
}

// InMemoryService is a process-local Service that keeps tasks in a map
// and needs no SQLite fixture.
type InMemoryService struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewInMemoryService constructs an empty InMemoryService.
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{tasks: make(map[string]*Task)}
}

func (s *InMemoryService) Create(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	return nil
}

func (s *InMemoryService) Get(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, orcherr.New("task.Get", orcherr.KindConfig, "task not found: "+id, nil)
	}
	return t, nil
}

func (s *InMemoryService) Update(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return orcherr.New("task.Update", orcherr.KindConfig, "task not found: "+t.ID, nil)
	}
	s.tasks[t.ID] = t
	return nil
}

func (s *InMemoryService) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return orcherr.New("task.Cancel", orcherr.KindConfig, "task not found: "+id, nil)
	}
	if t.GetStatus().IsTerminal() {
		return orcherr.New("task.Cancel", orcherr.KindFatal, "task already terminal", nil)
	}
	t.WithMetadata(func(m *Metadata) { m.CancelSignal = true })
	return nil
}

func (s *InMemoryService) List(_ context.Context) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out, nil
}

var _ Service = (*InMemoryService)(nil)
