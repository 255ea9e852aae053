package gitsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/enmesarru/glone/internal/config"
	"github.com/enmesarru/glone/internal/credentials"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		note      string
		err       error
		anonymous bool
		kind      ErrorKind
		sentinel  error
		retry     bool
	}{
		{
			note: "invalid policy",
			err:  fmt.Errorf("%w: bad auth", config.ErrInvalid),
			kind: ConfigInvalid,
		},
		{
			note:     "missing variable",
			err:      fmt.Errorf("%w: _TOKEN", credentials.ErrMissingCredentialEnvVar),
			kind:     CredentialMissing,
			sentinel: credentials.ErrMissingCredentialEnvVar,
		},
		{
			note:      "anonymous access refused",
			err:       transport.ErrAuthenticationRequired,
			anonymous: true,
			kind:      AuthRejected,
			sentinel:  credentials.ErrAuthRequired,
		},
		{
			note:     "credentials refused",
			err:      transport.ErrAuthenticationRequired,
			kind:     AuthRejected,
			sentinel: credentials.ErrAuthRejected,
		},
		{
			note:     "authorization failed",
			err:      transport.ErrAuthorizationFailed,
			kind:     AuthRejected,
			sentinel: credentials.ErrAuthRejected,
		},
		{
			note:  "transient network error",
			err:   errors.New("connection reset by peer"),
			kind:  NetworkFetchFailed,
			retry: true,
		},
		{
			note: "repository not found",
			err:  transport.ErrRepositoryNotFound,
			kind: NetworkFetchFailed,
		},
		{
			note: "timeout",
			err:  fmt.Errorf("fetch: %w", context.DeadlineExceeded),
			kind: NetworkFetchFailed,
		},
		{
			note: "already classified",
			err:  newError(MergeBaseNotFound, "merge", errors.New("unrelated")),
			kind: MergeBaseNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			e := classify("fetch", tc.err, tc.anonymous)
			if e.Kind != tc.kind {
				t.Fatalf("expected %v, got %v", tc.kind, e.Kind)
			}
			if tc.sentinel != nil && !errors.Is(e, tc.sentinel) {
				t.Fatalf("expected %v in chain of %v", tc.sentinel, e)
			}
			if !errors.Is(e, tc.err) && !errors.Is(tc.err, e) {
				t.Fatalf("expected cause to be preserved in %v", e)
			}
			if got := retryable(e); got != tc.retry {
				t.Fatalf("expected retryable=%v, got %v", tc.retry, got)
			}
		})
	}
}

func TestOutcomeString(t *testing.T) {
	old := hashPrefix("1111111")
	tip := hashPrefix("2222222")

	tests := []struct {
		out Outcome
		exp string
	}{
		{Outcome{Kind: Cloned, New: tip}, "cloned at 2222222"},
		{Outcome{Kind: UpToDate}, "up to date"},
		{Outcome{Kind: FastForwarded, Old: old, New: tip}, "fast-forwarded 1111111..2222222"},
		{Outcome{Kind: FastForwarded, New: tip}, "created branch at 2222222"},
		{Outcome{Kind: Merged, Commit: tip}, "merged as 2222222"},
		{Outcome{Kind: ConflictDetected, Conflicts: []string{"a", "b"}}, "conflicts in a, b"},
		{Failure("p", CommitFailed, "merge", ErrIdentityMissing), "failed (commit_failed): merge: " + ErrIdentityMissing.Error()},
	}

	for _, tc := range tests {
		if got := tc.out.String(); got != tc.exp {
			t.Errorf("expected %q, got %q", tc.exp, got)
		}
	}
}

func hashPrefix(prefix string) plumbing.Hash {
	return plumbing.NewHash(prefix + strings.Repeat("0", 40-len(prefix)))
}
