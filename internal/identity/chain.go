package identity

import (
	"context"
	"errors"

	"github.com/JakeFAU/scrapeflow/internal/task"
)

// Chain tries verifiers in order. The first that does not answer
// task.ErrUnauthorized decides.
type Chain []task.Verifier

// Verify implements task.Verifier.
func (c Chain) Verify(ctx context.Context, token string) (string, error) {
	for _, v := range c {
		owner, err := v.Verify(ctx, token)
		if err == nil {
			return owner, nil
		}
		if !errors.Is(err, task.ErrUnauthorized) {
			return "", err
		}
	}
	return "", task.ErrUnauthorized
}
