package status

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrapeflow/internal/storage/memory"
	"github.com/JakeFAU/scrapeflow/internal/task"
)

func seedTask(t *testing.T, store *memory.TaskStore, id, owner string, created time.Time) {
	t.Helper()
	require.NoError(t, store.CreateTask(context.Background(), task.Task{
		ID:        id,
		Owner:     owner,
		URL:       "https://example.com",
		Status:    task.StatusProcessing,
		CreatedAt: created,
		UpdatedAt: created,
	}))
}

func TestGetStatusReturnsTaskWithItems(t *testing.T) {
	store := memory.NewTaskStore()
	seedTask(t, store, "task-1", "alice", time.Now())
	for _, u := range []string{"https://example.com/1", "https://example.com/2"} {
		_, err := store.InsertItem(context.Background(), "task-1", map[string]any{"url": u})
		require.NoError(t, err)
	}
	r := NewReader(store, store, zap.NewNop())

	snap, err := r.GetStatus(context.Background(), "alice", "task-1")
	require.NoError(t, err)
	require.Equal(t, "task-1", snap.Task.ID)
	require.Len(t, snap.Items, 2)
	require.Equal(t, "https://example.com/1", snap.Items[0].Data["url"])
	require.Equal(t, "https://example.com/2", snap.Items[1].Data["url"])
}

func TestGetStatusEmptyItemsIsNotNil(t *testing.T) {
	store := memory.NewTaskStore()
	seedTask(t, store, "task-1", "alice", time.Now())
	r := NewReader(store, store, nil)

	snap, err := r.GetStatus(context.Background(), "alice", "task-1")
	require.NoError(t, err)
	require.NotNil(t, snap.Items)
	require.Empty(t, snap.Items)
}

func TestGetStatusHidesOtherOwnersTasks(t *testing.T) {
	store := memory.NewTaskStore()
	seedTask(t, store, "task-1", "alice", time.Now())
	r := NewReader(store, store, zap.NewNop())

	_, err := r.GetStatus(context.Background(), "bob", "task-1")
	require.ErrorIs(t, err, task.ErrNotFound)

	_, err = r.GetStatus(context.Background(), "alice", "missing")
	require.ErrorIs(t, err, task.ErrNotFound)

	_, err = r.GetStatus(context.Background(), "alice", "")
	require.ErrorIs(t, err, task.ErrInvalidInput)
}

type brokenStore struct{ *memory.TaskStore }

func (brokenStore) GetTask(context.Context, string) (task.Task, error) {
	return task.Task{}, errors.New("connection reset")
}

func (brokenStore) ListTasks(context.Context, string, int) ([]task.Task, error) {
	return nil, errors.New("connection reset")
}

func TestReaderWrapsStoreErrors(t *testing.T) {
	store := brokenStore{memory.NewTaskStore()}
	r := NewReader(store, store, zap.NewNop())

	_, err := r.GetStatus(context.Background(), "alice", "task-1")
	require.ErrorIs(t, err, task.ErrStore)

	_, err = r.Recent(context.Background(), "alice", 5)
	require.ErrorIs(t, err, task.ErrStore)
}

func TestRecentAppliesDefaultAndCap(t *testing.T) {
	store := memory.NewTaskStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 60 {
		seedTask(t, store, fmt.Sprintf("task-%02d", i), "alice", base.Add(time.Duration(i)*time.Minute))
	}
	seedTask(t, store, "other", "bob", base.Add(time.Hour*5))
	r := NewReader(store, store, zap.NewNop())

	recent, err := r.Recent(context.Background(), "alice", 0)
	require.NoError(t, err)
	require.Len(t, recent, DefaultRecentLimit)
	require.Equal(t, "task-59", recent[0].ID)
	require.Equal(t, "task-55", recent[4].ID)

	recent, err = r.Recent(context.Background(), "alice", 500)
	require.NoError(t, err)
	require.Len(t, recent, MaxRecentLimit)

	recent, err = r.Recent(context.Background(), "carol", 3)
	require.NoError(t, err)
	require.NotNil(t, recent)
	require.Empty(t, recent)
}
