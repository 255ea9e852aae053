package gitsync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/enmesarru/glone/internal/metrics"
)

const fetchHead plumbing.ReferenceName = "FETCH_HEAD"

// RemoteCommit is the tip of the tracked branch after a fetch.
type RemoteCommit struct {
	Ref  plumbing.ReferenceName
	Hash plumbing.Hash
}

// fetch updates refs/remotes/origin/<branch> and the tags from origin. When
// the fetch fails, the remote-tracking reference and the tags are restored.
func (s *Synchronizer) fetch(ctx context.Context, repo *git.Repository, auth transport.AuthMethod) (RemoteCommit, error) {
	p := s.provider
	remoteRef := plumbing.NewRemoteReferenceName(git.DefaultRemoteName, p.Branch)
	refSpec := gitconfig.RefSpec(fmt.Sprintf("+%s:%s", plumbing.NewBranchReferenceName(p.Branch), remoteRef))

	before, err := snapshot(repo, remoteRef)
	if err != nil {
		return RemoteCommit{}, newError(RepositoryOpenFailed, "fetch", err)
	}

	s.log.Debugf("fetching %s from %s", refSpec, p.URL)

	progress := newProgressWriter(s.observer.Start(p.Name+"/"+git.DefaultRemoteName), filepath.Join(p.SyncDir, git.GitDirName, "objects"))

	err = s.retry(ctx, "fetch", auth == nil, func(ctx context.Context) error {
		err := repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: git.DefaultRemoteName,
			RefSpecs:   []gitconfig.RefSpec{refSpec},
			Tags:       git.AllTags,
			Auth:       auth,
			Progress:   progress,
			Force:      true,
		})
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		return err
	})

	stats := progress.finish(err)
	metrics.Transferred(p.Name, stats.ReceivedObjects, stats.ReceivedBytes)
	if err != nil {
		before.restore(repo, remoteRef)
		return RemoteCommit{}, err
	}

	ref, err := repo.Reference(remoteRef, true)
	if err != nil {
		return RemoteCommit{}, newError(NetworkFetchFailed, "fetch", fmt.Errorf("branch %s not received: %w", p.Branch, err))
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(fetchHead, ref.Hash())); err != nil {
		return RemoteCommit{}, newError(RepositoryOpenFailed, "fetch", err)
	}

	return RemoteCommit{Ref: remoteRef, Hash: ref.Hash()}, nil
}

// refSnapshot holds the references a fetch may write: the remote-tracking
// branch and every tag.
type refSnapshot map[plumbing.ReferenceName]plumbing.Hash

func snapshot(repo *git.Repository, remoteRef plumbing.ReferenceName) (refSnapshot, error) {
	snap := make(refSnapshot)

	ref, err := repo.Reference(remoteRef, true)
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
	case err != nil:
		return nil, err
	default:
		snap[remoteRef] = ref.Hash()
	}

	tags, err := repo.Tags()
	if err != nil {
		return nil, err
	}
	err = tags.ForEach(func(ref *plumbing.Reference) error {
		snap[ref.Name()] = ref.Hash()
		return nil
	})
	return snap, err
}

// restore puts the remote-tracking reference and the tags back to their
// values before a failed fetch. Objects already written stay in the store.
func (snap refSnapshot) restore(repo *git.Repository, remoteRef plumbing.ReferenceName) {
	current := make(refSnapshot)
	if ref, err := repo.Reference(remoteRef, true); err == nil {
		current[remoteRef] = ref.Hash()
	}
	if tags, err := repo.Tags(); err == nil {
		_ = tags.ForEach(func(ref *plumbing.Reference) error {
			current[ref.Name()] = ref.Hash()
			return nil
		})
	}

	for name := range current {
		if _, ok := snap[name]; !ok {
			_ = repo.Storer.RemoveReference(name)
		}
	}
	for name, h := range snap {
		if current[name] != h {
			_ = repo.Storer.SetReference(plumbing.NewHashReference(name, h))
		}
	}
}
