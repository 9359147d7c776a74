// Package status answers read-only questions about submitted tasks.
package status

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrapeflow/internal/task"
)

const (
	// DefaultRecentLimit is how many tasks Recent returns when no limit is given.
	DefaultRecentLimit = 5
	// MaxRecentLimit caps the Recent limit.
	MaxRecentLimit = 50
)

// Reader loads tasks and their items on behalf of an owner.
type Reader struct {
	tasks  task.TaskStore
	items  task.ItemStore
	logger *zap.Logger
}

// NewReader creates a Reader.
func NewReader(tasks task.TaskStore, items task.ItemStore, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{tasks: tasks, items: items, logger: logger.Named("status")}
}

// GetStatus returns the task and its items. A task owned by someone else is
// reported as missing.
func (r *Reader) GetStatus(ctx context.Context, owner, taskID string) (task.Snapshot, error) {
	if taskID == "" {
		return task.Snapshot{}, fmt.Errorf("%w: task id is required", task.ErrInvalidInput)
	}
	t, err := r.tasks.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return task.Snapshot{}, err
		}
		return task.Snapshot{}, task.StoreErr("get task", err)
	}
	if t.Owner != owner {
		r.logger.Debug("task owner mismatch", zap.String("task_id", taskID), zap.String("owner", owner))
		return task.Snapshot{}, fmt.Errorf("%w: task %s", task.ErrNotFound, taskID)
	}
	items, err := r.items.ListItems(ctx, taskID)
	if err != nil {
		return task.Snapshot{}, task.StoreErr("list items", err)
	}
	if items == nil {
		items = []task.Item{}
	}
	return task.Snapshot{Task: t, Items: items}, nil
}

// Recent lists the owner's newest tasks first. A non-positive limit selects
// DefaultRecentLimit and larger limits are clamped to MaxRecentLimit.
func (r *Reader) Recent(ctx context.Context, owner string, limit int) ([]task.Task, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	limit = min(limit, MaxRecentLimit)
	tasks, err := r.tasks.ListTasks(ctx, owner, limit)
	if err != nil {
		return nil, task.StoreErr("list tasks", err)
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	return tasks, nil
}
