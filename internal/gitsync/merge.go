package gitsync

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/enmesarru/glone/internal/merge"
)

// merge reconciles a local branch that diverged from the fetched commit.
// Preconditions are checked before the worktree is touched. A clean merge is
// committed with both tips as parents; a conflicting merge leaves markers in
// the worktree and the branch reference unchanged.
func (s *Synchronizer) merge(repo *git.Repository, branch plumbing.ReferenceName, local, remote plumbing.Hash) Outcome {
	sig, err := identity(repo)
	if err != nil {
		return failed(newError(CommitFailed, "merge", err))
	}

	if err := onBranch(repo, branch); err != nil {
		return failed(classifyHead("merge", err))
	}

	wt, err := repo.Worktree()
	if err != nil {
		return failed(newError(RepositoryOpenFailed, "merge", err))
	}
	status, err := wt.Status()
	if err != nil {
		return failed(newError(RepositoryOpenFailed, "merge", err))
	}
	if paths := modified(status); len(paths) > 0 {
		return failed(newError(CommitFailed, "merge", fmt.Errorf("%w: %s", ErrDirtyWorktree, strings.Join(paths, ", "))))
	}

	ours, err := repo.CommitObject(local)
	if err != nil {
		return failed(newError(RepositoryOpenFailed, "merge", err))
	}
	theirs, err := repo.CommitObject(remote)
	if err != nil {
		return failed(newError(RepositoryOpenFailed, "merge", err))
	}

	bases, err := ours.MergeBase(theirs)
	if err != nil {
		return failed(newError(RepositoryOpenFailed, "merge base", err))
	}
	if len(bases) == 0 {
		return failed(newError(MergeBaseNotFound, "merge base", fmt.Errorf("%s and %s share no history", short(local), short(remote))))
	}
	s.log.Debugf("merge base of %s and %s is %s", short(local), short(remote), bases[0].Hash)

	baseTree, err := flatten(bases[0])
	if err != nil {
		return failed(newError(RepositoryOpenFailed, "merge", err))
	}
	ourTree, err := flatten(ours)
	if err != nil {
		return failed(newError(RepositoryOpenFailed, "merge", err))
	}
	theirTree, err := flatten(theirs)
	if err != nil {
		return failed(newError(RepositoryOpenFailed, "merge", err))
	}

	result, err := merge.Trees(baseTree, ourTree, theirTree, blobReader{repo: repo}, merge.Labels{Ours: "HEAD", Theirs: short(remote)})
	if err != nil {
		return failed(newError(RepositoryOpenFailed, "merge", err))
	}

	if err := apply(wt, s.provider.SyncDir, result); err != nil {
		return failed(newError(CommitFailed, "merge", err))
	}

	msg := fmt.Sprintf("Merge: %s into %s", remote, local)

	if !result.Clean() {
		if err := writeMergeState(filepath.Join(s.provider.SyncDir, git.GitDirName), remote, msg, result.Conflicts); err != nil {
			return failed(newError(CommitFailed, "merge", err))
		}
		for _, path := range result.Conflicts {
			s.log.Warnf("conflict in %s", path)
		}
		return Outcome{Kind: ConflictDetected, Old: local, Conflicts: result.Conflicts}
	}

	commit, err := wt.Commit(msg, &git.CommitOptions{
		Author:            sig,
		Committer:         sig,
		Parents:           []plumbing.Hash{local, remote},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return failed(newError(CommitFailed, "commit", err))
	}

	return Outcome{Kind: Merged, Old: local, New: commit, Commit: commit}
}

// identity reads the committer identity from the repository, global and
// system git configuration, in that order of precedence.
func identity(repo *git.Repository) (*object.Signature, error) {
	cfg, err := repo.ConfigScoped(gitconfig.SystemScope)
	if err != nil {
		return nil, err
	}
	if cfg.User.Name == "" || cfg.User.Email == "" {
		return nil, ErrIdentityMissing
	}
	return &object.Signature{Name: cfg.User.Name, Email: cfg.User.Email, When: time.Now()}, nil
}

// modified lists tracked paths with staged or unstaged changes. Untracked
// files do not block a merge.
func modified(status git.Status) []string {
	var paths []string
	for path, st := range status {
		if st.Staging == git.Untracked && st.Worktree == git.Untracked {
			continue
		}
		if st.Staging != git.Unmodified || st.Worktree != git.Unmodified {
			paths = append(paths, path)
		}
	}
	return paths
}

func flatten(c *object.Commit) (merge.Tree, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, err
	}
	return merge.Flatten(tree)
}

type blobReader struct {
	repo *git.Repository
}

func (b blobReader) Blob(h plumbing.Hash) ([]byte, error) {
	blob, err := b.repo.BlobObject(h)
	if err != nil {
		return nil, err
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// apply writes the merge result to the worktree and stages every path that
// merged cleanly.
func apply(wt *git.Worktree, root string, result *merge.Result) error {
	conflicted := make(map[string]struct{}, len(result.Conflicts))
	for _, path := range result.Conflicts {
		conflicted[path] = struct{}{}
	}

	for _, c := range result.Changes {
		if c.Deleted {
			if _, err := wt.Remove(c.Path); err != nil {
				return fmt.Errorf("remove %s: %w", c.Path, err)
			}
			continue
		}

		if err := writeFile(filepath.Join(root, filepath.FromSlash(c.Path)), c); err != nil {
			return err
		}
		if _, ok := conflicted[c.Path]; ok {
			continue
		}
		if _, err := wt.Add(c.Path); err != nil {
			return fmt.Errorf("stage %s: %w", c.Path, err)
		}
	}
	return nil
}

func writeFile(path string, c merge.Change) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	mode, err := c.Mode.ToOSFileMode()
	if err != nil {
		return fmt.Errorf("%s: %w", c.Path, err)
	}
	if mode&os.ModeSymlink != 0 {
		_ = os.Remove(path)
		return os.Symlink(string(c.Content), path)
	}

	if err := os.WriteFile(path, c.Content, mode.Perm()); err != nil {
		return err
	}
	return os.Chmod(path, mode.Perm())
}

// writeMergeState records the merge in progress the way git does, so that
// `git commit` concludes it once the conflicts are resolved.
func writeMergeState(gitDir string, remote plumbing.Hash, msg string, conflicts []string) error {
	if err := os.WriteFile(filepath.Join(gitDir, "MERGE_HEAD"), []byte(remote.String()+"\n"), 0o644); err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString(msg)
	sb.WriteString("\n\n# Conflicts:\n")
	for _, path := range conflicts {
		fmt.Fprintf(&sb, "#\t%s\n", path)
	}
	return os.WriteFile(filepath.Join(gitDir, "MERGE_MSG"), []byte(sb.String()), 0o644)
}
