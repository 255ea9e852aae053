package gitsync

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
)

type OutcomeKind int

const (
	Failed OutcomeKind = iota
	Cloned
	UpToDate
	FastForwarded
	Merged
	ConflictDetected
)

func (k OutcomeKind) String() string {
	switch k {
	case Cloned:
		return "cloned"
	case UpToDate:
		return "up_to_date"
	case FastForwarded:
		return "fast_forwarded"
	case Merged:
		return "merged"
	case ConflictDetected:
		return "conflict_detected"
	default:
		return "failed"
	}
}

// Outcome is the result of synchronizing one provider.
type Outcome struct {
	Provider string
	Kind     OutcomeKind

	// Old and New are the branch tips before and after a fast-forward. Old is
	// the zero hash when the branch was created. New is also set for clones.
	Old plumbing.Hash
	New plumbing.Hash

	// Commit is the merge commit.
	Commit plumbing.Hash

	// Conflicts lists paths left with conflict markers.
	Conflicts []string

	// Overwritten lists untracked files replaced while checking out a newly
	// created branch.
	Overwritten []string

	Err      error
	Duration time.Duration
}

// Failure builds a failed outcome.
func Failure(provider string, kind ErrorKind, op string, err error) Outcome {
	return Outcome{Provider: provider, Kind: Failed, Err: newError(kind, op, err)}
}

func (o Outcome) Failed() bool {
	return o.Kind == Failed
}

// ErrorKind returns the failure kind, or zero for successful outcomes.
func (o Outcome) ErrorKind() ErrorKind {
	kind, _ := KindOf(o.Err)
	return kind
}

func (o Outcome) String() string {
	switch o.Kind {
	case Cloned:
		return fmt.Sprintf("cloned at %s", short(o.New))
	case UpToDate:
		return "up to date"
	case FastForwarded:
		if o.Old.IsZero() {
			return fmt.Sprintf("created branch at %s", short(o.New))
		}
		return fmt.Sprintf("fast-forwarded %s..%s", short(o.Old), short(o.New))
	case Merged:
		return fmt.Sprintf("merged as %s", short(o.Commit))
	case ConflictDetected:
		return fmt.Sprintf("conflicts in %s", strings.Join(o.Conflicts, ", "))
	default:
		if o.Err == nil {
			return "failed"
		}
		return fmt.Sprintf("failed (%s): %v", o.ErrorKind(), o.Err)
	}
}

func short(h plumbing.Hash) string {
	return h.String()[:7]
}
