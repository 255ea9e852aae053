// Package sync provides the interfaces shared by glone's public
// synchronization packages.
//
// External programs embed a synchronizer through these contracts and plug
// in their own secret storage instead of process environment variables.
package sync

import "context"

// Synchronizer keeps one local checkout in sync with its remote.
//
// The synchronizer is not thread-safe. Callers should handle concurrency.
type Synchronizer interface {
	// Execute runs one synchronization. It returns an error only when the
	// synchronization failed; a merge that left conflicts is not a failure.
	Execute(ctx context.Context) error

	// Close releases any resources held by the synchronizer.
	Close(ctx context.Context)
}

// SecretProvider retrieves credential values by name.
//
// Token authentication names two secrets, one holding the username and one
// the password or token. The default provider reads environment variables;
// implementations may read a vault, a keychain or a file instead.
type SecretProvider interface {
	// GetSecret returns the value of the named secret, or an error when it
	// does not exist or cannot be read.
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretProviderFunc adapts a function to a SecretProvider.
type SecretProviderFunc func(ctx context.Context, name string) (string, error)

func (f SecretProviderFunc) GetSecret(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}
