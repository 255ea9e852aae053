package gitsync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/enmesarru/glone/internal/config"
	"github.com/enmesarru/glone/internal/credentials"
)

type ErrorKind int

const (
	ConfigInvalid ErrorKind = iota + 1
	CredentialMissing
	AuthRejected
	RepositoryOpenFailed
	NetworkFetchFailed
	MergeBaseNotFound
	CommitFailed
)

func (k ErrorKind) String() string {
	switch k {
	case ConfigInvalid:
		return "config_invalid"
	case CredentialMissing:
		return "credential_missing"
	case AuthRejected:
		return "auth_rejected"
	case RepositoryOpenFailed:
		return "repository_open_failed"
	case NetworkFetchFailed:
		return "network_fetch_failed"
	case MergeBaseNotFound:
		return "merge_base_not_found"
	case CommitFailed:
		return "commit_failed"
	default:
		return "unknown"
	}
}

var (
	ErrIdentityMissing = errors.New("no user.name and user.email configured for merge commits")
	ErrRemoteNotFound  = errors.New("remote origin not found")
	ErrDirtyWorktree   = errors.New("worktree has uncommitted changes")
	ErrDetachedHead    = errors.New("HEAD is not on the tracked branch")
	ErrNotRepository   = errors.New("not a git repository")
)

// Error is a failed synchronization step.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// classify maps errors from credential resolution and the transport to the
// taxonomy. anonymous is set when no credentials were offered.
func classify(op string, err error, anonymous bool) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	switch {
	case errors.Is(err, config.ErrInvalid):
		return newError(ConfigInvalid, op, err)
	case errors.Is(err, credentials.ErrMissingCredentialEnvVar):
		return newError(CredentialMissing, op, err)
	case errors.Is(err, credentials.ErrAuthRejected):
		return newError(AuthRejected, op, err)
	case errors.Is(err, transport.ErrAuthenticationRequired) && anonymous:
		return newError(AuthRejected, op, fmt.Errorf("%w: %w", credentials.ErrAuthRequired, err))
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed),
		strings.Contains(err.Error(), "unable to authenticate"):
		return newError(AuthRejected, op, fmt.Errorf("%w: %w", credentials.ErrAuthRejected, err))
	default:
		return newError(NetworkFetchFailed, op, err)
	}
}

// retryable reports whether a transfer error may succeed when tried again.
func retryable(err error) bool {
	if kind, ok := KindOf(err); ok && kind != NetworkFetchFailed {
		return false
	}

	var noMatch git.NoMatchingRefSpecError
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, transport.ErrRepositoryNotFound),
		errors.Is(err, transport.ErrEmptyRemoteRepository),
		errors.Is(err, transport.ErrInvalidAuthMethod),
		errors.As(err, &noMatch):
		return false
	}
	return true
}
