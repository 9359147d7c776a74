package task

import (
	"time"
)

// Status captures the lifecycle of a crawl task.
type Status string

const (
	// StatusProcessing is the initial state and the state of a task whose
	// provider call returned no items.
	StatusProcessing Status = "processing"
	// StatusCompleted marks a task whose provider call returned items.
	StatusCompleted Status = "completed"
	// StatusError marks a task whose provider call failed.
	StatusError Status = "error"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}

// Task is the persisted record of one crawl request.
type Task struct {
	ID          string     `json:"id"`
	Owner       string     `json:"user_id"`
	URL         string     `json:"url"`
	Status      Status     `json:"status"`
	Completed   int        `json:"completed"`
	Total       int        `json:"total"`
	CreditsUsed int        `json:"credits_used"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Update is applied to a task after the provider call returns.
type Update struct {
	Status      Status
	Completed   int
	Total       int
	CreditsUsed int
	ExpiresAt   *time.Time
}

// Apply merges u into t. Counters never decrease and a terminal task cannot
// be re-opened.
func (t *Task) Apply(u Update, now time.Time) error {
	if !u.Status.Valid() {
		return ErrInvalidInput
	}
	if t.Status.Terminal() && u.Status != t.Status {
		return ErrTerminal
	}
	t.Status = u.Status
	t.Completed = max(t.Completed, u.Completed)
	t.Total = max(t.Total, u.Total)
	t.CreditsUsed = max(t.CreditsUsed, u.CreditsUsed)
	if u.ExpiresAt != nil {
		exp := u.ExpiresAt.UTC()
		t.ExpiresAt = &exp
	}
	t.UpdatedAt = now
	return nil
}

// Item is one scraped result belonging to a task. Data is kept opaque.
type Item struct {
	ID        int64          `json:"id"`
	TaskID    string         `json:"task_id"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}

// Snapshot is a task together with every item stored for it.
type Snapshot struct {
	Task  Task   `json:"task"`
	Items []Item `json:"data"`
}

// CrawlOptions are the fixed knobs sent to the crawl provider.
type CrawlOptions struct {
	Limit           int
	Formats         []string
	WaitForSelector string
	Timeout         time.Duration
}

// ProviderResult is what a crawl provider returns for one crawl.
type ProviderResult struct {
	Status      string
	Completed   int
	Total       int
	CreditsUsed int
	ExpiresAt   *time.Time
	Data        []map[string]any
}

// SubmitResult is returned by the orchestrator for every submission that got
// as far as creating a task record.
type SubmitResult struct {
	TaskID      string     `json:"taskId"`
	Status      Status     `json:"status"`
	URL         string     `json:"url"`
	Completed   int        `json:"completed"`
	Total       int        `json:"total"`
	CreditsUsed int        `json:"creditsUsed"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	// StoredItems counts items persisted successfully.
	StoredItems int `json:"-"`
	// FailedItems counts items whose insert failed.
	FailedItems int `json:"-"`
}

// APIKey is a caller credential managed outside this service.
type APIKey struct {
	Key      string
	Owner    string
	Active   bool
	LastUsed *time.Time
}

// Notification announces that a Submit call wrote its final status.
type Notification struct {
	TaskID      string    `json:"task_id"`
	Owner       string    `json:"user_id"`
	URL         string    `json:"url"`
	Status      Status    `json:"status"`
	Completed   int       `json:"completed"`
	Total       int       `json:"total"`
	CreditsUsed int       `json:"credits_used"`
	StoredItems int       `json:"stored_items"`
	FailedItems int       `json:"failed_items"`
	ExportURI   string    `json:"export_uri,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}
