// Package orchestrator runs the submit flow: record a task, call the crawl
// provider once, persist its items and write the final status.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/scrapeflow/internal/metrics"
	"github.com/JakeFAU/scrapeflow/internal/progress"
	"github.com/JakeFAU/scrapeflow/internal/task"
)

const (
	defaultItemWorkers  = 8
	defaultStoreTimeout = 20 * time.Second
)

// Config holds the fixed knobs for every submission.
type Config struct {
	Options task.CrawlOptions
	// ItemWorkers bounds concurrent item inserts.
	ItemWorkers int
	// StoreTimeout bounds the writes that follow the provider call.
	StoreTimeout time.Duration
	// ProviderKind labels provider metrics, e.g. "firecrawl" or "colly".
	ProviderKind string
}

// DefaultOptions mirrors the hosted provider settings used in production.
func DefaultOptions() task.CrawlOptions {
	return task.CrawlOptions{
		Limit:           100,
		Formats:         []string{"markdown", "html"},
		WaitForSelector: "body",
		Timeout:         60 * time.Second,
	}
}

// Archiver stores the item set of a finished task and returns its URI.
type Archiver interface {
	Archive(ctx context.Context, t task.Task, items []task.Item) (string, error)
}

// Option configures optional collaborators.
type Option func(*Service)

// WithEmitter routes progress events to e.
func WithEmitter(e progress.Emitter) Option {
	return func(s *Service) {
		if e != nil {
			s.events = e
		}
	}
}

// WithNotifier publishes a notification after every terminal write.
func WithNotifier(n task.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithArchiver archives the items of completed tasks.
func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

// Service implements the submit flow. It keeps no state between calls.
type Service struct {
	tasks    task.TaskStore
	items    task.ItemStore
	provider task.Provider
	ids      task.IDGenerator
	clock    task.Clock
	cfg      Config
	events   progress.Emitter
	notifier task.Notifier
	archiver Archiver
	logger   *zap.Logger
}

// New creates a Service.
func New(
	tasks task.TaskStore,
	items task.ItemStore,
	provider task.Provider,
	ids task.IDGenerator,
	clock task.Clock,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	if cfg.ItemWorkers <= 0 {
		cfg.ItemWorkers = defaultItemWorkers
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		tasks:    tasks,
		items:    items,
		provider: provider,
		ids:      ids,
		clock:    clock,
		cfg:      cfg,
		events:   progress.Discard,
		logger:   logger.Named("orchestrator"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit records a task for rawURL, runs the provider and persists its items.
// Once the task record exists the returned result always carries its id,
// including when an error is returned.
func (s *Service) Submit(ctx context.Context, owner, rawURL string) (task.SubmitResult, error) {
	started := s.clock.Now()
	if owner == "" {
		return task.SubmitResult{}, fmt.Errorf("%w: owner is required", task.ErrUnauthorized)
	}
	target, err := task.ValidateURL(rawURL)
	if err != nil {
		return task.SubmitResult{}, err
	}

	id, err := s.ids.NewID()
	if err != nil {
		return task.SubmitResult{}, fmt.Errorf("generate task id: %w", err)
	}
	rec := task.Task{
		ID:        id,
		Owner:     owner,
		URL:       target,
		Status:    task.StatusProcessing,
		CreatedAt: started,
		UpdatedAt: started,
	}
	if err := s.tasks.CreateTask(ctx, rec); err != nil {
		s.logger.Error("failed to create task", zap.String("url", target), zap.Error(err))
		return task.SubmitResult{}, task.StoreErr("create task", err)
	}
	logger := s.logger.With(zap.String("task_id", id), zap.String("owner", owner), zap.String("url", target))
	logger.Info("task created")
	s.emit(progress.Event{TaskID: id, Stage: progress.StageTaskCreated, Site: target})

	res, provErr := s.callProvider(ctx, target)

	// The record must reflect the outcome even if the caller has gone away.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()

	if provErr != nil {
		return s.fail(wctx, logger, rec, provErr, started)
	}
	return s.complete(wctx, logger, rec, res, started)
}

func (s *Service) callProvider(ctx context.Context, target string) (task.ProviderResult, error) {
	metrics.IncInflight()
	defer metrics.DecInflight()

	pctx := ctx
	if s.cfg.Options.Timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, s.cfg.Options.Timeout)
		defer cancel()
	}
	start := time.Now()
	res, err := s.provider.Crawl(pctx, target, s.cfg.Options)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if !errors.Is(err, task.ErrProvider) {
			err = fmt.Errorf("%w: %w", task.ErrProvider, err)
		}
	}
	metrics.ObserveProvider(s.cfg.ProviderKind, outcome, time.Since(start))
	return res, err
}

func (s *Service) fail(
	ctx context.Context,
	logger *zap.Logger,
	rec task.Task,
	provErr error,
	started time.Time,
) (task.SubmitResult, error) {
	logger.Error("crawl provider failed", zap.Error(provErr))

	upd := task.Update{Status: task.StatusError, Completed: rec.Completed, Total: rec.Total}
	var failure task.ProviderFailure
	if errors.As(provErr, &failure) {
		upd.Completed, upd.Total = failure.Counters()
	}
	result := task.SubmitResult{TaskID: rec.ID, Status: task.StatusError, URL: rec.URL}

	updated, err := s.tasks.UpdateTask(ctx, rec.ID, upd)
	if err != nil {
		logger.Error("failed to mark task as error", zap.Error(err))
		s.emit(progress.Event{TaskID: rec.ID, Stage: progress.StageTaskError, Site: rec.URL, Dur: s.since(started), Note: err.Error()})
		return result, errors.Join(provErr, task.StoreErr("mark task error", err))
	}
	result = resultFrom(updated, 0, 0)
	s.emit(progress.Event{TaskID: rec.ID, Stage: progress.StageTaskError, Site: rec.URL, Dur: s.since(started), Note: provErr.Error()})
	s.notify(ctx, logger, updated, result, "", provErr)
	return result, provErr
}

func (s *Service) complete(
	ctx context.Context,
	logger *zap.Logger,
	rec task.Task,
	res task.ProviderResult,
	started time.Time,
) (task.SubmitResult, error) {
	s.emit(progress.Event{TaskID: rec.ID, Stage: progress.StageProviderDone, Site: rec.URL, Items: len(res.Data), Dur: s.since(started)})
	logger.Info("crawl provider returned", zap.Int("items", len(res.Data)), zap.String("provider_status", res.Status))

	stored, failed := s.persistItems(ctx, logger, rec, res.Data)

	status := task.StatusProcessing
	if len(res.Data) > 0 {
		status = task.StatusCompleted
	}
	updated, err := s.tasks.UpdateTask(ctx, rec.ID, task.Update{
		Status:      status,
		Completed:   res.Completed,
		Total:       res.Total,
		CreditsUsed: res.CreditsUsed,
		ExpiresAt:   res.ExpiresAt,
	})
	if err != nil {
		logger.Error("failed to update task", zap.Error(err))
		s.emit(progress.Event{TaskID: rec.ID, Stage: progress.StageTaskError, Site: rec.URL, Dur: s.since(started), Note: err.Error()})
		return task.SubmitResult{TaskID: rec.ID, Status: rec.Status, URL: rec.URL}, task.StoreErr("update task", err)
	}
	result := resultFrom(updated, stored, failed)

	if status != task.StatusCompleted {
		logger.Warn("provider returned no items; task left processing")
		s.emit(progress.Event{TaskID: rec.ID, Stage: progress.StageTaskPending, Site: rec.URL, Dur: s.since(started)})
		return result, nil
	}

	logger.Info("task completed", zap.Int("stored_items", stored), zap.Int("failed_items", failed))
	s.emit(progress.Event{TaskID: rec.ID, Stage: progress.StageTaskCompleted, Site: rec.URL, Items: stored, Dur: s.since(started)})
	exportURI := s.archive(ctx, logger, updated)
	s.notify(ctx, logger, updated, result, exportURI, nil)
	return result, nil
}

// persistItems inserts every item concurrently. An insert failure is logged
// and counted and never cancels the other inserts.
func (s *Service) persistItems(
	ctx context.Context,
	logger *zap.Logger,
	rec task.Task,
	data []map[string]any,
) (int, int) {
	var stored, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.ItemWorkers)
	for i, payload := range data {
		g.Go(func() error {
			if _, err := s.items.InsertItem(ctx, rec.ID, payload); err != nil {
				failed.Add(1)
				logger.Error("failed to store item", zap.Int("index", i), zap.Error(err))
				s.emit(progress.Event{TaskID: rec.ID, Stage: progress.StageItemFailed, Site: rec.URL, Items: 1, Note: err.Error()})
				return nil
			}
			stored.Add(1)
			s.emit(progress.Event{TaskID: rec.ID, Stage: progress.StageItemStored, Site: rec.URL, Items: 1})
			return nil
		})
	}
	_ = g.Wait()
	return int(stored.Load()), int(failed.Load())
}

func (s *Service) archive(ctx context.Context, logger *zap.Logger, t task.Task) string {
	if s.archiver == nil {
		return ""
	}
	items, err := s.items.ListItems(ctx, t.ID)
	if err != nil {
		logger.Warn("failed to list items for archive", zap.Error(err))
		return ""
	}
	uri, err := s.archiver.Archive(ctx, t, items)
	if err != nil {
		logger.Warn("failed to archive items", zap.Error(err))
		return ""
	}
	logger.Info("items archived", zap.String("uri", uri))
	return uri
}

func (s *Service) notify(
	ctx context.Context,
	logger *zap.Logger,
	t task.Task,
	result task.SubmitResult,
	exportURI string,
	cause error,
) {
	if s.notifier == nil {
		return
	}
	n := task.Notification{
		TaskID:      t.ID,
		Owner:       t.Owner,
		URL:         t.URL,
		Status:      t.Status,
		Completed:   t.Completed,
		Total:       t.Total,
		CreditsUsed: t.CreditsUsed,
		StoredItems: result.StoredItems,
		FailedItems: result.FailedItems,
		ExportURI:   exportURI,
		At:          s.clock.Now(),
	}
	if cause != nil {
		n.Error = cause.Error()
	}
	msgID, err := s.notifier.Notify(ctx, n)
	if err != nil {
		logger.Warn("failed to publish notification", zap.Error(err))
		return
	}
	logger.Debug("notification published", zap.String("message_id", msgID))
}

func (s *Service) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = s.clock.Now()
	}
	evt.Site = metrics.SanitizeSite(evt.Site)
	s.events.Emit(evt)
}

func (s *Service) since(t time.Time) time.Duration {
	d := s.clock.Now().Sub(t)
	if d < 0 {
		return 0
	}
	return d
}

func resultFrom(t task.Task, stored, failed int) task.SubmitResult {
	return task.SubmitResult{
		TaskID:      t.ID,
		Status:      t.Status,
		URL:         t.URL,
		Completed:   t.Completed,
		Total:       t.Total,
		CreditsUsed: t.CreditsUsed,
		ExpiresAt:   t.ExpiresAt,
		StoredItems: stored,
		FailedItems: failed,
	}
}
