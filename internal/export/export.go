// Package export renders a task's items as the downloadable JSON document and
// archives it to a blob store.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrapeflow/internal/task"
)

// ContentType of an export document.
const ContentType = "application/json; charset=utf-8"

// FileName returns the download name for an export produced at t.
func FileName(t time.Time) string {
	return "scraping-" + t.UTC().Format("2006-01-02") + ".json"
}

// Encode writes the item payloads as an indented JSON array. An empty item
// list encodes as [].
func Encode(w io.Writer, items []task.Item) error {
	payloads := make([]map[string]any, 0, len(items))
	for _, it := range items {
		payloads = append(payloads, it.Data)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payloads); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	return nil
}

// Archiver stores export documents in a blob store.
type Archiver struct {
	blobs  task.BlobStore
	clock  task.Clock
	logger *zap.Logger
}

// NewArchiver builds an Archiver.
func NewArchiver(blobs task.BlobStore, clock task.Clock, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{blobs: blobs, clock: clock, logger: logger.Named("archiver")}
}

// ObjectPath is where the export of t taken at `at` is stored.
func ObjectPath(t task.Task, at time.Time) string {
	return path.Join(url.PathEscape(t.Owner), t.ID, FileName(at))
}

// Archive encodes items and uploads them, returning the object URI.
func (a *Archiver) Archive(ctx context.Context, t task.Task, items []task.Item) (string, error) {
	if a == nil || a.blobs == nil {
		return "", fmt.Errorf("archiver is not configured")
	}
	var buf bytes.Buffer
	if err := Encode(&buf, items); err != nil {
		return "", err
	}
	object := ObjectPath(t, a.clock.Now())
	uri, err := a.blobs.PutObject(ctx, object, ContentType, &buf)
	if err != nil {
		return "", fmt.Errorf("archive export: %w", err)
	}
	a.logger.Debug("export archived",
		zap.String("task_id", t.ID),
		zap.String("uri", uri),
		zap.Int("items", len(items)),
	)
	return uri, nil
}
