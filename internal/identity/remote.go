package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrapeflow/internal/task"
)

// RemoteConfig points at a hosted auth service exposing GET /auth/v1/user.
type RemoteConfig struct {
	BaseURL string
	// APIKey is sent in the apikey header alongside the user token.
	APIKey  string
	Timeout time.Duration
}

// Remote resolves user tokens through a hosted auth service.
type Remote struct {
	cfg        RemoteConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewRemote builds a Remote verifier. A nil httpClient gets a default client
// bounded by cfg.Timeout.
func NewRemote(cfg RemoteConfig, httpClient *http.Client, logger *zap.Logger) (*Remote, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("auth base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Remote{cfg: cfg, httpClient: httpClient, logger: logger.Named("remote_auth")}, nil
}

type remoteUser struct {
	ID string `json:"id"`
}

// Verify returns the user id the auth service reports for token.
func (r *Remote) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", task.ErrUnauthorized
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/auth/v1/user", nil)
	if err != nil {
		return "", fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if r.cfg.APIKey != "" {
		req.Header.Set("apikey", r.cfg.APIKey)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("failed to close auth response body", zap.Error(cerr))
		}
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: invalid user token", task.ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		r.logger.Warn("auth service error", zap.Int("status_code", resp.StatusCode), zap.ByteString("body", body))
		return "", fmt.Errorf("auth service returned status %d", resp.StatusCode)
	}

	var user remoteUser
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&user); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}
	if user.ID == "" {
		return "", fmt.Errorf("%w: invalid user token", task.ErrUnauthorized)
	}
	return user.ID, nil
}
