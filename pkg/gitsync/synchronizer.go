package gitsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/enmesarru/glone/internal/config"
	"github.com/enmesarru/glone/internal/credentials"
	"github.com/enmesarru/glone/internal/gitsync"
	pkgsync "github.com/enmesarru/glone/pkg/sync"
)

// Outcome reports what a synchronization did. See OutcomeKind.
type Outcome = gitsync.Outcome

// OutcomeKind classifies an Outcome.
type OutcomeKind = gitsync.OutcomeKind

// ErrorKind classifies a failed Outcome.
type ErrorKind = gitsync.ErrorKind

const (
	Failed           = gitsync.Failed
	Cloned           = gitsync.Cloned
	UpToDate         = gitsync.UpToDate
	FastForwarded    = gitsync.FastForwarded
	Merged           = gitsync.Merged
	ConflictDetected = gitsync.ConflictDetected
)

// Synchronizer keeps one provider's sync directory up to date.
type Synchronizer struct {
	sync *gitsync.Synchronizer
	last Outcome
}

var _ pkgsync.Synchronizer = (*Synchronizer)(nil)

// NewFromConfig creates a Synchronizer for external users from a provider
// configuration map. This is the recommended constructor for external
// projects integrating with this package.
//
// The map holds the same fields as a provider entry of glone's configuration
// file:
//   - "name" (string, required): provider name, used in logs and metrics
//   - "url" (string, required): remote repository URL
//   - "branch" (string, required): branch to keep in sync
//   - "sync_dir" (string, required): local checkout directory
//   - "auth" (map, required): {"type": "token"|"ssh"|"public", ...}
//
// For token auth, "username" and "password" name secrets that are looked up
// through provider. A nil provider reads environment variables.
func NewFromConfig(providerConfig map[string]any, provider SecretProvider) (*Synchronizer, error) {
	bs, err := json.Marshal(map[string]any{"providers": []any{providerConfig}})
	if err != nil {
		return nil, fmt.Errorf("provider config: %w", err)
	}

	root, err := config.Parse(bs)
	if err != nil {
		return nil, fmt.Errorf("provider config: %w", err)
	}

	p := root.Providers[0]
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var opts []credentials.Option
	if provider != nil {
		opts = append(opts, credentials.WithLookupEnv(lookup(provider)))
	}

	return &Synchronizer{
		sync: gitsync.New(p).WithResolver(credentials.NewResolver(opts...)),
	}, nil
}

// lookup adapts a SecretProvider to the resolver's environment lookup. A
// secret that cannot be read counts as unset.
func lookup(provider SecretProvider) func(string) (string, bool) {
	return func(name string) (string, bool) {
		value, err := provider.GetSecret(context.Background(), name)
		if err != nil {
			return "", false
		}
		return value, true
	}
}

// Execute runs one synchronization. The returned error is the failure of
// the synchronization, if any; Outcome tells what happened otherwise.
func (s *Synchronizer) Execute(ctx context.Context) error {
	s.last = s.sync.Execute(ctx)
	if s.last.Failed() {
		if s.last.Err == nil {
			return errors.New("synchronization failed")
		}
		return s.last.Err
	}
	return nil
}

// Outcome returns the outcome of the last Execute.
func (s *Synchronizer) Outcome() Outcome {
	return s.last
}

func (s *Synchronizer) Close(ctx context.Context) {
	s.sync.Close(ctx)
}

// KindOf returns the failure kind carried by err.
func KindOf(err error) (ErrorKind, bool) {
	return gitsync.KindOf(err)
}
