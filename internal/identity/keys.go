package identity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrapeflow/internal/task"
)

// Keys verifies API keys held in a task.KeyStore and records their last use.
type Keys struct {
	store  task.KeyStore
	clock  task.Clock
	logger *zap.Logger
}

// NewKeys builds a Keys verifier.
func NewKeys(store task.KeyStore, clock task.Clock, logger *zap.Logger) *Keys {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Keys{store: store, clock: clock, logger: logger.Named("api_keys")}
}

// Verify returns the owner of an active key. A failed last-used update is
// logged and does not reject the key.
func (k *Keys) Verify(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", task.ErrUnauthorized
	}
	rec, err := k.store.GetAPIKey(ctx, key)
	if err != nil {
		if errors.Is(err, task.ErrUnauthorized) || errors.Is(err, task.ErrNotFound) {
			return "", fmt.Errorf("%w: invalid api key", task.ErrUnauthorized)
		}
		return "", task.StoreErr("get api key", err)
	}
	if !rec.Active {
		return "", fmt.Errorf("%w: api key is inactive", task.ErrInactiveKey)
	}
	if err := k.store.TouchAPIKey(ctx, key, k.clock.Now()); err != nil {
		k.logger.Warn("failed to update api key last_used", zap.String("owner", rec.Owner), zap.Error(err))
	}
	return rec.Owner, nil
}
