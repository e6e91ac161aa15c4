// Package memstore keeps tasks, artifacts and studio context in memory. It
// backs package tests and local runs without a database.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"photostudio/internal/domain"
)

// clock hands out strictly increasing timestamps so creation order is total
// even when the wall clock does not move between calls.
type clock struct {
	now func() time.Time
	seq int64
}

func (c *clock) tick() (time.Time, int64) {
	c.seq++
	now := c.now
	if now == nil {
		now = time.Now
	}
	return now().Add(time.Duration(c.seq) * time.Microsecond), c.seq
}

// Tasks implements domain.TaskRepository.
type Tasks struct {
	mu    sync.Mutex
	clock clock
	tasks map[string]*domain.Task
	order map[string]int64
}

func NewTasks() *Tasks {
	return &Tasks{
		tasks: map[string]*domain.Task{},
		order: map[string]int64{},
	}
}

func cloneTask(t *domain.Task) *domain.Task {
	cp := *t
	return &cp
}

func (s *Tasks) Create(ctx context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	at, seq := s.clock.tick()
	task.Status = domain.TaskStatusPending
	task.Output = nil
	task.Error = nil
	task.CreatedAt = at
	task.UpdatedAt = at
	s.tasks[task.ID] = cloneTask(task)
	s.order[task.ID] = seq
	return nil
}

func (s *Tasks) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneTask(t), nil
}

func (s *Tasks) List(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Task
	for _, t := range s.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		if filter.RelatedID != "" && (t.RelatedID == nil || *t.RelatedID != filter.RelatedID) {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i].ID] > s.order[out[j].ID] })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Tasks) ClaimNext(ctx context.Context) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next *domain.Task
	for _, t := range s.tasks {
		if t.Status != domain.TaskStatusPending {
			continue
		}
		if next == nil || s.order[t.ID] < s.order[next.ID] {
			next = t
		}
	}
	if next == nil {
		return nil, domain.ErrNoTaskAvailable
	}
	next.Status = domain.TaskStatusRunning
	next.UpdatedAt, _ = s.clock.tick()
	return cloneTask(next), nil
}

func (s *Tasks) Complete(ctx context.Context, id string, output []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = domain.TaskStatusCompleted
	t.Output = append([]byte(nil), output...)
	t.Error = nil
	t.UpdatedAt, _ = s.clock.tick()
	return nil
}

func (s *Tasks) Fail(ctx context.Context, id string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = domain.TaskStatusFailed
	t.Error = &message
	t.Output = nil
	t.UpdatedAt, _ = s.clock.tick()
	return nil
}

func (s *Tasks) FailRunning(ctx context.Context, message string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.tasks {
		if t.Status != domain.TaskStatusRunning {
			continue
		}
		msg := message
		t.Status = domain.TaskStatusFailed
		t.Error = &msg
		t.Output = nil
		t.UpdatedAt, _ = s.clock.tick()
		n++
	}
	return n, nil
}

func (s *Tasks) ResetFailed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	if t.Status != domain.TaskStatusFailed {
		return domain.ErrInvalidTransition
	}
	t.Status = domain.TaskStatusPending
	t.Output = nil
	t.Error = nil
	t.UpdatedAt, _ = s.clock.tick()
	return nil
}

func (s *Tasks) DeleteIdle(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	if t.Status == domain.TaskStatusRunning {
		return domain.ErrTaskRunning
	}
	delete(s.tasks, id)
	delete(s.order, id)
	return nil
}

// PutTask stores a task as-is, bypassing the pending-only Create path.
func (s *Tasks) PutTask(task domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	at, seq := s.clock.tick()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = at
		task.UpdatedAt = at
	}
	s.tasks[task.ID] = &task
	s.order[task.ID] = seq
}

var _ domain.TaskRepository = (*Tasks)(nil)
