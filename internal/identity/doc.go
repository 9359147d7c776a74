// Package identity maps bearer credentials to owner identities. Verifiers
// return task.ErrUnauthorized for unknown credentials and
// task.ErrInactiveKey for disabled API keys.
package identity
