package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/scrapeflow/internal/id/uuid"
	"github.com/JakeFAU/scrapeflow/internal/task"
)

const taskColumns = `id, user_id, url, status, completed, total, credits_used, expires_at, created_at, updated_at`

// CreateTask inserts a new task row.
func (s *Store) CreateTask(ctx context.Context, t task.Task) error {
	if !uuid.Valid(t.ID) {
		return fmt.Errorf("%w: task id %q is not a uuid", task.ErrInvalidInput, t.ID)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.clock.Now()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, s.tables.Tasks, taskColumns)
	_, err := s.pool.Exec(ctx, query,
		t.ID,
		t.Owner,
		t.URL,
		string(t.Status),
		t.Completed,
		t.Total,
		t.CreditsUsed,
		t.ExpiresAt,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return task.ErrConflict
		}
		return fmt.Errorf("%w: insert task: %w", task.ErrStore, err)
	}
	return nil
}

// UpdateTask applies u in a single statement. Counters only grow and a
// terminal row only accepts its own status again.
func (s *Store) UpdateTask(ctx context.Context, id string, u task.Update) (task.Task, error) {
	if !u.Status.Valid() {
		return task.Task{}, fmt.Errorf("%w: status %q", task.ErrInvalidInput, u.Status)
	}
	if !uuid.Valid(id) {
		return task.Task{}, task.ErrNotFound
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	completed = GREATEST(completed, $3),
	total = GREATEST(total, $4),
	credits_used = GREATEST(credits_used, $5),
	expires_at = COALESCE($6, expires_at),
	updated_at = $7
WHERE id = $1 AND (status = $8 OR status = $2)
RETURNING %s`, s.tables.Tasks, taskColumns)

	row := s.pool.QueryRow(ctx, query,
		id,
		string(u.Status),
		u.Completed,
		u.Total,
		u.CreditsUsed,
		u.ExpiresAt,
		s.clock.Now(),
		string(task.StatusProcessing),
	)
	updated, err := scanTask(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return task.Task{}, fmt.Errorf("%w: update task: %w", task.ErrStore, err)
	}
	// No row matched: either the task is missing or it is already terminal.
	if _, getErr := s.GetTask(ctx, id); getErr != nil {
		return task.Task{}, getErr
	}
	return task.Task{}, task.ErrTerminal
}

// GetTask loads a task by id. Malformed ids are reported as not found.
func (s *Store) GetTask(ctx context.Context, id string) (task.Task, error) {
	if !uuid.Valid(id) {
		return task.Task{}, task.ErrNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, taskColumns, s.tables.Tasks)
	t, err := scanTask(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.Task{}, task.ErrNotFound
		}
		return task.Task{}, fmt.Errorf("%w: get task: %w", task.ErrStore, err)
	}
	return t, nil
}

// ListTasks returns up to limit tasks of owner, newest first.
func (s *Store) ListTasks(ctx context.Context, owner string, limit int) ([]task.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		taskColumns, s.tables.Tasks)
	rows, err := s.pool.Query(ctx, query, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list tasks: %w", task.ErrStore, err)
	}
	defer rows.Close()

	out := make([]task.Task, 0, limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan task row: %w", task.ErrStore, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list tasks: %w", task.ErrStore, err)
	}
	return out, nil
}

// InsertItem stores one scraped item as jsonb.
func (s *Store) InsertItem(ctx context.Context, taskID string, data map[string]any) (task.Item, error) {
	if !uuid.Valid(taskID) {
		return task.Item{}, task.ErrNotFound
	}
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return task.Item{}, fmt.Errorf("%w: marshal item: %v", task.ErrInvalidInput, err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (task_id, data, created_at) VALUES ($1, $2, $3) RETURNING id, created_at`,
		s.tables.Items)
	item := task.Item{TaskID: taskID, Data: data}
	if err := s.pool.QueryRow(ctx, query, taskID, payload, s.clock.Now()).Scan(&item.ID, &item.CreatedAt); err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return task.Item{}, task.ErrNotFound
		}
		return task.Item{}, fmt.Errorf("%w: insert item: %w", task.ErrStore, err)
	}
	return item, nil
}

// ListItems returns the items of a task in insertion order.
func (s *Store) ListItems(ctx context.Context, taskID string) ([]task.Item, error) {
	if !uuid.Valid(taskID) {
		return []task.Item{}, nil
	}
	query := fmt.Sprintf(`SELECT id, task_id, data, created_at FROM %s WHERE task_id = $1 ORDER BY id ASC`,
		s.tables.Items)
	rows, err := s.pool.Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("%w: list items: %w", task.ErrStore, err)
	}
	defer rows.Close()

	items := make([]task.Item, 0)
	for rows.Next() {
		var (
			item task.Item
			raw  []byte
		)
		if err := rows.Scan(&item.ID, &item.TaskID, &raw, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan item row: %w", task.ErrStore, err)
		}
		if err := json.Unmarshal(raw, &item.Data); err != nil {
			return nil, fmt.Errorf("%w: decode item %d: %w", task.ErrStore, item.ID, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list items: %w", task.ErrStore, err)
	}
	return items, nil
}

func scanTask(row pgx.Row) (task.Task, error) {
	var (
		t         task.Task
		status    string
		expiresAt *time.Time
	)
	err := row.Scan(
		&t.ID,
		&t.Owner,
		&t.URL,
		&status,
		&t.Completed,
		&t.Total,
		&t.CreditsUsed,
		&expiresAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return task.Task{}, err
	}
	t.Status = task.Status(status)
	t.ExpiresAt = expiresAt
	return t, nil
}
