package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/scrapeflow/internal/task"
)

// GetAPIKey loads a key row. Unknown keys are reported as task.ErrUnauthorized.
func (s *Store) GetAPIKey(ctx context.Context, key string) (task.APIKey, error) {
	query := fmt.Sprintf(`SELECT key, user_id, is_active, last_used FROM %s WHERE key = $1`, s.tables.Keys)
	var k task.APIKey
	if err := s.pool.QueryRow(ctx, query, key).Scan(&k.Key, &k.Owner, &k.Active, &k.LastUsed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.APIKey{}, task.ErrUnauthorized
		}
		return task.APIKey{}, fmt.Errorf("%w: get api key: %w", task.ErrStore, err)
	}
	return k, nil
}

// TouchAPIKey sets last_used on a key row.
func (s *Store) TouchAPIKey(ctx context.Context, key string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET last_used = $2 WHERE key = $1`, s.tables.Keys)
	tag, err := s.pool.Exec(ctx, query, key, at.UTC())
	if err != nil {
		return fmt.Errorf("%w: touch api key: %w", task.ErrStore, err)
	}
	if tag.RowsAffected() == 0 {
		return task.ErrUnauthorized
	}
	return nil
}
