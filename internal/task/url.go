package task

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateURL checks that raw is an absolute http or https URL with a host
// and returns it trimmed.
func ValidateURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidInput)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: parse url: %v", ErrInvalidInput, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", fmt.Errorf("%w: url must start with http:// or https://", ErrInvalidInput)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: url host is required", ErrInvalidInput)
	}
	return trimmed, nil
}
