package identity

import (
	"context"
	"crypto/subtle"

	"github.com/JakeFAU/scrapeflow/internal/task"
)

// Static verifies tokens against a fixed token-to-owner table.
type Static struct {
	tokens map[string]string
}

// NewStatic copies tokens into a Static verifier.
func NewStatic(tokens map[string]string) *Static {
	cp := make(map[string]string, len(tokens))
	for tok, owner := range tokens {
		if tok != "" && owner != "" {
			cp[tok] = owner
		}
	}
	return &Static{tokens: cp}
}

// Verify returns the owner of token.
func (s *Static) Verify(_ context.Context, token string) (string, error) {
	for tok, owner := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(tok), []byte(token)) == 1 {
			return owner, nil
		}
	}
	return "", task.ErrUnauthorized
}
