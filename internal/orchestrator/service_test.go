package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrapeflow/internal/export"
	"github.com/JakeFAU/scrapeflow/internal/id/uuid"
	"github.com/JakeFAU/scrapeflow/internal/progress"
	pubmemory "github.com/JakeFAU/scrapeflow/internal/publisher/memory"
	"github.com/JakeFAU/scrapeflow/internal/storage/memory"
	"github.com/JakeFAU/scrapeflow/internal/task"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeProvider struct {
	mu     sync.Mutex
	calls  int
	result task.ProviderResult
	err    error
	gotURL string
}

func (p *fakeProvider) Crawl(_ context.Context, url string, _ task.CrawlOptions) (task.ProviderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.gotURL = url
	return p.result, p.err
}

type providerFailure struct {
	code             int
	completed, total int
}

func (e providerFailure) Error() string { return fmt.Sprintf("provider status %d", e.code) }
func (e providerFailure) Unwrap() error { return task.ErrProvider }
func (e providerFailure) StatusCode() int { return e.code }
func (e providerFailure) ProviderMessage() string { return "Payment required" }
func (e providerFailure) Counters() (int, int) { return e.completed, e.total }

type flakyItems struct {
	*memory.TaskStore
	failOn string
}

func (f flakyItems) InsertItem(ctx context.Context, taskID string, data map[string]any) (task.Item, error) {
	if data["url"] == f.failOn {
		return task.Item{}, fmt.Errorf("%w: disk full", task.ErrStore)
	}
	return f.TaskStore.InsertItem(ctx, taskID, data)
}

type failingCreate struct{ *memory.TaskStore }

func (failingCreate) CreateTask(context.Context, task.Task) error {
	return errors.New("connection refused")
}

type recordingEmitter struct {
	mu     sync.Mutex
	stages []progress.Stage
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, evt.Stage)
}

func (r *recordingEmitter) count(stage progress.Stage) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.stages {
		if s == stage {
			n++
		}
	}
	return n
}

var now = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

func newService(store *memory.TaskStore, items task.ItemStore, p task.Provider, opts ...Option) *Service {
	return New(store, items, p, uuid.New(), fixedClock{now: now}, Config{Options: DefaultOptions(), ItemWorkers: 2}, zap.NewNop(), opts...)
}

func TestSubmitCompletesAndStoresItems(t *testing.T) {
	store := memory.NewTaskStore()
	exp := now.Add(24 * time.Hour)
	provider := &fakeProvider{result: task.ProviderResult{
		Status:      "completed",
		Completed:   3,
		Total:       3,
		CreditsUsed: 3,
		ExpiresAt:   &exp,
		Data: []map[string]any{
			{"url": "https://example.com/"},
			{"url": "https://example.com/a"},
			{"url": "https://example.com/b"},
		},
	}}
	events := &recordingEmitter{}
	pub := pubmemory.New()
	blobs := memory.NewBlobStore()
	svc := newService(store, store, provider,
		WithEmitter(events),
		WithNotifier(pub),
		WithArchiver(export.NewArchiver(blobs, fixedClock{now: now}, zap.NewNop())),
	)

	res, err := svc.Submit(context.Background(), "user-1", "  https://example.com/  ")
	require.NoError(t, err)
	require.NotEmpty(t, res.TaskID)
	require.Equal(t, task.StatusCompleted, res.Status)
	require.Equal(t, "https://example.com/", res.URL)
	require.Equal(t, 3, res.Completed)
	require.Equal(t, 3, res.CreditsUsed)
	require.Equal(t, 3, res.StoredItems)
	require.Zero(t, res.FailedItems)
	require.Equal(t, 1, provider.calls)
	require.Equal(t, "https://example.com/", provider.gotURL)

	stored, err := store.GetTask(context.Background(), res.TaskID)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, stored.Status)
	require.Equal(t, "user-1", stored.Owner)
	require.NotNil(t, stored.ExpiresAt)

	items, err := store.ListItems(context.Background(), res.TaskID)
	require.NoError(t, err)
	require.Len(t, items, 3)

	require.Equal(t, 1, events.count(progress.StageTaskCreated))
	require.Equal(t, 3, events.count(progress.StageItemStored))
	require.Equal(t, 1, events.count(progress.StageTaskCompleted))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, res.TaskID, msgs[0].TaskID)
	require.Equal(t, task.StatusCompleted, msgs[0].Status)
	require.Equal(t, 3, msgs[0].StoredItems)
	require.Contains(t, msgs[0].ExportURI, "memory://user-1/"+res.TaskID+"/scraping-2025-03-04.json")

	_, contentType, ok := blobs.Object("user-1/" + res.TaskID + "/scraping-2025-03-04.json")
	require.True(t, ok)
	require.Equal(t, export.ContentType, contentType)
}

func TestSubmitRejectsInvalidURLWithoutCreatingTask(t *testing.T) {
	store := memory.NewTaskStore()
	provider := &fakeProvider{}
	svc := newService(store, store, provider)

	for _, raw := range []string{"", "ftp://example.com", "example.com", "https://"} {
		res, err := svc.Submit(context.Background(), "user-1", raw)
		require.ErrorIs(t, err, task.ErrInvalidInput, raw)
		require.Empty(t, res.TaskID)
	}
	require.Zero(t, provider.calls)

	tasks, err := store.ListTasks(context.Background(), "user-1", 10)
	require.NoError(t, err)
	require.Empty(t, tasks)
}

func TestSubmitRequiresOwner(t *testing.T) {
	store := memory.NewTaskStore()
	svc := newService(store, store, &fakeProvider{})

	_, err := svc.Submit(context.Background(), "", "https://example.com")
	require.ErrorIs(t, err, task.ErrUnauthorized)
}

func TestSubmitProviderFailureMarksTaskError(t *testing.T) {
	store := memory.NewTaskStore()
	provider := &fakeProvider{err: providerFailure{code: http.StatusPaymentRequired, completed: 2, total: 10}}
	events := &recordingEmitter{}
	pub := pubmemory.New()
	svc := newService(store, store, provider, WithEmitter(events), WithNotifier(pub))

	res, err := svc.Submit(context.Background(), "user-1", "https://example.com")
	require.ErrorIs(t, err, task.ErrProvider)
	require.NotEmpty(t, res.TaskID)
	require.Equal(t, task.StatusError, res.Status)

	var failure task.ProviderFailure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, http.StatusPaymentRequired, failure.StatusCode())

	stored, err := store.GetTask(context.Background(), res.TaskID)
	require.NoError(t, err)
	require.Equal(t, task.StatusError, stored.Status)
	require.Equal(t, 2, stored.Completed)
	require.Equal(t, 10, stored.Total)

	require.Equal(t, 1, events.count(progress.StageTaskError))
	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, task.StatusError, msgs[0].Status)
	require.NotEmpty(t, msgs[0].Error)
}

func TestSubmitWrapsPlainProviderErrors(t *testing.T) {
	store := memory.NewTaskStore()
	svc := newService(store, store, &fakeProvider{err: errors.New("dial tcp: timeout")})

	res, err := svc.Submit(context.Background(), "user-1", "https://example.com")
	require.ErrorIs(t, err, task.ErrProvider)

	stored, getErr := store.GetTask(context.Background(), res.TaskID)
	require.NoError(t, getErr)
	require.Equal(t, task.StatusError, stored.Status)
	require.Zero(t, stored.Completed)
}

func TestSubmitNoItemsLeavesTaskProcessing(t *testing.T) {
	store := memory.NewTaskStore()
	pub := pubmemory.New()
	events := &recordingEmitter{}
	svc := newService(store, store, &fakeProvider{result: task.ProviderResult{Status: "scraping", Total: 5}},
		WithNotifier(pub), WithEmitter(events))

	res, err := svc.Submit(context.Background(), "user-1", "https://example.com")
	require.NoError(t, err)
	require.Equal(t, task.StatusProcessing, res.Status)
	require.Equal(t, 5, res.Total)

	stored, err := store.GetTask(context.Background(), res.TaskID)
	require.NoError(t, err)
	require.Equal(t, task.StatusProcessing, stored.Status)
	require.Empty(t, pub.Messages())
	require.Equal(t, 1, events.count(progress.StageTaskPending))
}

func TestSubmitItemFailureDoesNotAbortOthers(t *testing.T) {
	store := memory.NewTaskStore()
	items := flakyItems{TaskStore: store, failOn: "https://example.com/bad"}
	events := &recordingEmitter{}
	provider := &fakeProvider{result: task.ProviderResult{
		Completed: 3,
		Total:     3,
		Data: []map[string]any{
			{"url": "https://example.com/"},
			{"url": "https://example.com/bad"},
			{"url": "https://example.com/c"},
		},
	}}
	svc := newService(store, items, provider, WithEmitter(events))

	res, err := svc.Submit(context.Background(), "user-1", "https://example.com")
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, res.Status)
	require.Equal(t, 2, res.StoredItems)
	require.Equal(t, 1, res.FailedItems)
	require.Equal(t, 1, events.count(progress.StageItemFailed))

	stored, err := store.ListItems(context.Background(), res.TaskID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
}

func TestSubmitCreateFailureWrapsStoreError(t *testing.T) {
	store := memory.NewTaskStore()
	provider := &fakeProvider{}
	svc := newService(store, store, provider)
	svc.tasks = failingCreate{store}

	res, err := svc.Submit(context.Background(), "user-1", "https://example.com")
	require.ErrorIs(t, err, task.ErrStore)
	require.Empty(t, res.TaskID)
	require.Zero(t, provider.calls)
}

func TestSubmitPersistsAfterCallerCancels(t *testing.T) {
	store := memory.NewTaskStore()
	ctx, cancel := context.WithCancel(context.Background())
	provider := &cancelingProvider{cancel: cancel, result: task.ProviderResult{
		Completed: 1,
		Total:     1,
		Data:      []map[string]any{{"url": "https://example.com/"}},
	}}
	svc := newService(store, store, provider)

	res, err := svc.Submit(ctx, "user-1", "https://example.com")
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, res.Status)

	items, err := store.ListItems(context.Background(), res.TaskID)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

type cancelingProvider struct {
	cancel context.CancelFunc
	result task.ProviderResult
}

func (p *cancelingProvider) Crawl(context.Context, string, task.CrawlOptions) (task.ProviderResult, error) {
	p.cancel()
	return p.result, nil
}

func TestSubmitProviderMetricsIgnoreTargetHost(t *testing.T) {
	store := memory.NewTaskStore()
	provider := &fakeProvider{result: task.ProviderResult{
		Completed: 1,
		Total:     1,
		Data:      []map[string]any{{"url": "https://example.com/"}},
	}}
	svc := New(store, store, provider, uuid.New(), fixedClock{now: now},
		Config{Options: DefaultOptions(), ProviderKind: "firecrawl"}, zap.NewNop())

	_, err := svc.Submit(context.Background(), "user-1", "https://seed.example.com")
	require.NoError(t, err)
	before, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "scrapeflow_provider_duration_seconds")
	require.NoError(t, err)
	require.Positive(t, before)

	for i := 0; i < 50; i++ {
		_, err := svc.Submit(context.Background(), "user-1", fmt.Sprintf("https://host-%d.example.net/", i))
		require.NoError(t, err)
	}
	after, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "scrapeflow_provider_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, before, after)
}
