package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrapeflow/internal/task"
)

func TestTaskStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewTaskStore()
	ctx := context.Background()
	tk := task.Task{ID: "task-1", Owner: "alice", URL: "https://example.com", Status: task.StatusProcessing}

	require.NoError(t, store.CreateTask(ctx, tk))
	require.ErrorIs(t, store.CreateTask(ctx, tk), task.ErrConflict)

	item, err := store.InsertItem(ctx, tk.ID, map[string]any{"markdown": "# hi"})
	require.NoError(t, err)
	require.Equal(t, int64(1), item.ID)

	updated, err := store.UpdateTask(ctx, tk.ID, task.Update{Status: task.StatusCompleted, Completed: 1, Total: 1, CreditsUsed: 1})
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, updated.Status)

	_, err = store.UpdateTask(ctx, tk.ID, task.Update{Status: task.StatusError})
	require.ErrorIs(t, err, task.ErrTerminal)

	got, err := store.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, got.Status)
	require.False(t, got.CreatedAt.IsZero())

	_, err = store.GetTask(ctx, "missing")
	require.ErrorIs(t, err, task.ErrNotFound)
	_, err = store.UpdateTask(ctx, "missing", task.Update{Status: task.StatusError})
	require.ErrorIs(t, err, task.ErrNotFound)
	_, err = store.InsertItem(ctx, "missing", nil)
	require.ErrorIs(t, err, task.ErrNotFound)
}

func TestTaskStoreListItemsReturnsCopyInOrder(t *testing.T) {
	t.Parallel()

	store := NewTaskStore()
	ctx := context.Background()
	require.NoError(t, store.CreateTask(ctx, task.Task{ID: "t", Status: task.StatusProcessing}))
	for i := range 3 {
		_, err := store.InsertItem(ctx, "t", map[string]any{"n": i})
		require.NoError(t, err)
	}

	items, err := store.ListItems(ctx, "t")
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, it := range items {
		require.Equal(t, i, it.Data["n"])
	}
	items[0].TaskID = "modified"
	again, err := store.ListItems(ctx, "t")
	require.NoError(t, err)
	require.Equal(t, "t", again[0].TaskID)

	empty, err := store.ListItems(ctx, "none")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestTaskStoreConcurrentInserts(t *testing.T) {
	t.Parallel()

	store := NewTaskStore()
	ctx := context.Background()
	require.NoError(t, store.CreateTask(ctx, task.Task{ID: "t", Status: task.StatusProcessing}))

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.InsertItem(ctx, "t", map[string]any{"n": i})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	items, err := store.ListItems(ctx, "t")
	require.NoError(t, err)
	require.Len(t, items, 50)
	seen := make(map[int64]bool)
	for _, it := range items {
		require.False(t, seen[it.ID], "duplicate identity %d", it.ID)
		seen[it.ID] = true
	}
}

func TestTaskStoreListTasksNewestFirst(t *testing.T) {
	t.Parallel()

	store := NewTaskStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 7 {
		require.NoError(t, store.CreateTask(ctx, task.Task{
			ID:        fmt.Sprintf("t%d", i),
			Owner:     "alice",
			Status:    task.StatusProcessing,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.CreateTask(ctx, task.Task{ID: "other", Owner: "bob", CreatedAt: base.Add(time.Hour)}))

	got, err := store.ListTasks(ctx, "alice", 5)
	require.NoError(t, err)
	require.Len(t, got, 5)
	require.Equal(t, "t6", got[0].ID)
	require.Equal(t, "t2", got[4].ID)
}

func TestKeyStoreTouch(t *testing.T) {
	t.Parallel()

	store := NewKeyStore(task.APIKey{Key: "k1", Owner: "alice", Active: true})
	ctx := context.Background()

	k, err := store.GetAPIKey(ctx, "k1")
	require.NoError(t, err)
	require.Nil(t, k.LastUsed)

	at := time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.TouchAPIKey(ctx, "k1", at))
	k, err = store.GetAPIKey(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, at, *k.LastUsed)

	_, err = store.GetAPIKey(ctx, "nope")
	require.ErrorIs(t, err, task.ErrUnauthorized)
	require.ErrorIs(t, store.TouchAPIKey(ctx, "nope", at), task.ErrUnauthorized)
}
