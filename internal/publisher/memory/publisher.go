// Package memory records task notifications in memory for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/scrapeflow/internal/task"
)

// Publisher stores notifications for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []task.Notification
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Notify records n and returns a pseudo id.
func (p *Publisher) Notify(_ context.Context, n task.Notification) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, n)
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a copy of the recorded notifications.
func (p *Publisher) Messages() []task.Notification {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]task.Notification, len(p.messages))
	copy(out, p.messages)
	return out
}
