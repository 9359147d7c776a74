package api

import (
	"time"

	"github.com/JakeFAU/scrapeflow/internal/task"
)

// SubmitRequest is the body of POST /v1/crawl.
type SubmitRequest struct {
	URL string `json:"url" validate:"required"`
}

// SubmitResponse answers POST /v1/crawl. TaskID is present whenever a task
// record was created, including on provider failure.
type SubmitResponse struct {
	Success     bool        `json:"success"`
	TaskID      string      `json:"taskId,omitempty"`
	Status      task.Status `json:"status,omitempty"`
	URL         string      `json:"url,omitempty"`
	Completed   int         `json:"completed"`
	Total       int         `json:"total"`
	CreditsUsed int         `json:"creditsUsed"`
	ExpiresAt   *time.Time  `json:"expiresAt,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// StatusRequest is the body of POST /v1/crawl/status.
type StatusRequest struct {
	TaskID string `json:"taskId" validate:"required"`
}

// StatusResponse answers POST /v1/crawl/status.
type StatusResponse struct {
	Success bool        `json:"success"`
	Task    task.Task   `json:"task"`
	Data    []task.Item `json:"data"`
}

// RecentResponse answers GET /v1/tasks.
type RecentResponse struct {
	Success bool        `json:"success"`
	Tasks   []task.Task `json:"tasks"`
}

// VerifyKeyResponse answers POST /v1/keys/verify.
type VerifyKeyResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"user_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ErrorResponse is the body of every other failure.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	TaskID  string `json:"taskId,omitempty"`
}
