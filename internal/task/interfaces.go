package task

import (
	"context"
	"io"
	"time"
)

// TaskStore persists task records.
type TaskStore interface {
	CreateTask(ctx context.Context, t Task) error
	UpdateTask(ctx context.Context, id string, u Update) (Task, error)
	GetTask(ctx context.Context, id string) (Task, error)
	ListTasks(ctx context.Context, owner string, limit int) ([]Task, error)
}

// ItemStore persists scraped items.
type ItemStore interface {
	InsertItem(ctx context.Context, taskID string, data map[string]any) (Item, error)
	ListItems(ctx context.Context, taskID string) ([]Item, error)
}

// Store bundles both stores with a readiness check.
type Store interface {
	TaskStore
	ItemStore
	Ping(ctx context.Context) error
}

// KeyStore looks up and touches API keys.
type KeyStore interface {
	GetAPIKey(ctx context.Context, key string) (APIKey, error)
	TouchAPIKey(ctx context.Context, key string, at time.Time) error
}

// Provider runs a crawl on an external service.
type Provider interface {
	Crawl(ctx context.Context, url string, opts CrawlOptions) (ProviderResult, error)
}

// Verifier maps a bearer credential to an owner identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Notifier publishes task notifications and returns a message id.
type Notifier interface {
	Notify(ctx context.Context, n Notification) (string, error)
}

// BlobStore writes archived exports and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}
