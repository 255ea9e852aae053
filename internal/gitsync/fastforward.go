package gitsync

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// fastForward moves the branch from old to new, failing if the branch moved
// in the meantime, and checks it out. HEAD must already be on the branch;
// local edits to tracked files are discarded.
func (s *Synchronizer) fastForward(repo *git.Repository, branch plumbing.ReferenceName, old, new plumbing.Hash) Outcome {
	if err := onBranch(repo, branch); err != nil {
		return failed(classifyHead("fast-forward", err))
	}

	err := repo.Storer.CheckAndSetReference(plumbing.NewHashReference(branch, new), plumbing.NewHashReference(branch, old))
	if err != nil {
		return failed(newError(CommitFailed, "fast-forward", err))
	}
	s.log.Infof("%s: %s -> %s", branch.Short(), old, new)

	wt, err := repo.Worktree()
	if err != nil {
		return failed(newError(RepositoryOpenFailed, "fast-forward", err))
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: branch, Force: true}); err != nil {
		return failed(newError(CommitFailed, "checkout", err))
	}

	return Outcome{Kind: FastForwarded, Old: old, New: new}
}

// createBranch creates a branch that does not exist locally yet at target and
// checks it out. Untracked files in the way are overwritten and reported.
func (s *Synchronizer) createBranch(repo *git.Repository, branch plumbing.ReferenceName, target plumbing.Hash) Outcome {
	wt, err := repo.Worktree()
	if err != nil {
		return failed(newError(RepositoryOpenFailed, "create branch", err))
	}

	overwritten, err := untrackedCollisions(repo, s.provider.SyncDir, target)
	if err != nil {
		return failed(newError(RepositoryOpenFailed, "create branch", err))
	}

	if err := repo.Storer.SetReference(plumbing.NewHashReference(branch, target)); err != nil {
		return failed(newError(CommitFailed, "create branch", err))
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branch)); err != nil {
		return failed(newError(CommitFailed, "create branch", err))
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: branch, Force: true}); err != nil {
		return failed(newError(CommitFailed, "checkout", err))
	}

	s.log.Infof("created %s at %s", branch.Short(), target)
	for _, path := range overwritten {
		s.log.Warnf("untracked file %s was overwritten by %s", path, branch.Short())
	}

	return Outcome{Kind: FastForwarded, New: target, Overwritten: overwritten}
}

// untrackedCollisions lists files of the target tree that exist on disk
// without being tracked by the index.
func untrackedCollisions(repo *git.Repository, root string, target plumbing.Hash) ([]string, error) {
	commit, err := repo.CommitObject(target)
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, err
	}
	idx, err := repo.Storer.Index()
	if err != nil {
		return nil, err
	}

	tracked := make(map[string]struct{}, len(idx.Entries))
	for _, e := range idx.Entries {
		tracked[e.Name] = struct{}{}
	}

	var out []string
	err = tree.Files().ForEach(func(f *object.File) error {
		if _, ok := tracked[f.Name]; ok {
			return nil
		}
		if _, err := os.Lstat(filepath.Join(root, filepath.FromSlash(f.Name))); err == nil {
			out = append(out, f.Name)
		}
		return nil
	})
	return out, err
}

// onBranch fails with ErrDetachedHead unless HEAD is a symbolic reference to
// branch.
func onBranch(repo *git.Repository, branch plumbing.ReferenceName) error {
	head, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return err
	}
	if head.Type() != plumbing.SymbolicReference || head.Target() != branch {
		return ErrDetachedHead
	}
	return nil
}

func classifyHead(op string, err error) *Error {
	if errors.Is(err, ErrDetachedHead) {
		return newError(CommitFailed, op, err)
	}
	return newError(RepositoryOpenFailed, op, err)
}
