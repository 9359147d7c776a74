package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/scrapeflow/internal/task"
)

// TaskStore provides an in-memory task and item store for development/testing.
type TaskStore struct {
	mu     sync.RWMutex
	tasks  map[string]task.Task
	items  map[string][]task.Item
	nextID int64
	now    func() time.Time
}

// NewTaskStore constructs a TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[string]task.Task),
		items: make(map[string][]task.Item),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateTask stores a new task record.
func (s *TaskStore) CreateTask(_ context.Context, t task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; exists {
		return task.ErrConflict
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	s.tasks[t.ID] = t
	return nil
}

// UpdateTask applies u to the stored task and returns the result.
func (s *TaskStore) UpdateTask(_ context.Context, id string, u task.Update) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, task.ErrNotFound
	}
	if err := t.Apply(u, s.now()); err != nil {
		return task.Task{}, err
	}
	s.tasks[id] = t
	return t, nil
}

// GetTask fetches a task by id.
func (s *TaskStore) GetTask(_ context.Context, id string) (task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, task.ErrNotFound
	}
	return t, nil
}

// ListTasks returns up to limit tasks of owner, newest first.
func (s *TaskStore) ListTasks(_ context.Context, owner string, limit int) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]task.Task, 0)
	for _, t := range s.tasks {
		if t.Owner == owner {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b task.Task) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		// UUIDv7 ids sort by creation time.
		if a.ID > b.ID {
			return -1
		}
		if a.ID < b.ID {
			return 1
		}
		return 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertItem appends an item to a task. The data map is copied.
func (s *TaskStore) InsertItem(_ context.Context, taskID string, data map[string]any) (task.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return task.Item{}, task.ErrNotFound
	}
	s.nextID++
	item := task.Item{
		ID:        s.nextID,
		TaskID:    taskID,
		Data:      maps.Clone(data),
		CreatedAt: s.now(),
	}
	s.items[taskID] = append(s.items[taskID], item)
	return item, nil
}

// ListItems returns the items of a task in insertion order.
func (s *TaskStore) ListItems(_ context.Context, taskID string) ([]task.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.items[taskID]
	out := make([]task.Item, len(items))
	copy(out, items)
	return out, nil
}

// Ping always succeeds.
func (s *TaskStore) Ping(context.Context) error {
	return nil
}
