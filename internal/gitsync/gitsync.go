// gitsync package implements the synchronization of one provider: it clones
// the provider's branch into its sync directory, or fetches the branch and
// reconciles the local branch with it by fast-forward or three-way merge.
// This package implements no threadpooling, it is expected that the caller
// will handle concurrency and serialize synchronizers sharing a directory.
// The Synchronizer is not thread-safe.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp/capability"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/enmesarru/glone/internal/config"
	"github.com/enmesarru/glone/internal/credentials"
	"github.com/enmesarru/glone/internal/logging"
	"github.com/enmesarru/glone/internal/metrics"
)

const (
	DefaultFetchTimeout = 10 * time.Minute
	DefaultRetries      = 2
)

func init() {
	// For Azure DevOps compatibility. More details: https://github.com/go-git/go-git/issues/64
	transport.UnsupportedCapabilities = []capability.Capability{
		capability.ThinPack,
	}
}

type Synchronizer struct {
	provider *config.Provider
	resolver *credentials.Resolver
	observer Observer
	log      *logging.Logger
	timeout  time.Duration
	retries  int
	backoff  func() backoff.BackOff
}

// New creates a new Synchronizer instance. It is expected the threadpooling is outside of this package.
// The synchronizer does not validate that an existing sync directory holds the provider's repository.
func New(provider *config.Provider) *Synchronizer {
	return &Synchronizer{
		provider: provider,
		resolver: credentials.NewResolver(),
		observer: nopObserver{},
		log:      logging.NewNop(),
		timeout:  DefaultFetchTimeout,
		retries:  DefaultRetries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
}

func (s *Synchronizer) WithResolver(r *credentials.Resolver) *Synchronizer {
	s.resolver = r
	return s
}

func (s *Synchronizer) WithObserver(o Observer) *Synchronizer {
	if o != nil {
		s.observer = o
	}
	return s
}

func (s *Synchronizer) WithLogger(log *logging.Logger) *Synchronizer {
	s.log = log.With("provider", s.provider.Name)
	return s
}

// WithFetchTimeout bounds every network transfer attempt.
func (s *Synchronizer) WithFetchTimeout(d time.Duration) *Synchronizer {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// WithRetries sets how many times a transient network failure is retried.
func (s *Synchronizer) WithRetries(n int) *Synchronizer {
	s.retries = max(n, 0)
	return s
}

// Execute performs the synchronization of the configured provider. If the sync directory is missing or
// empty, clone it. Otherwise fetch the branch and fast-forward or merge the local branch.
func (s *Synchronizer) Execute(ctx context.Context) Outcome {
	startTime := time.Now()
	metrics.SyncStarted(s.provider.Name, startTime)

	out := s.execute(ctx)
	out.Provider = s.provider.Name
	out.Duration = time.Since(startTime)

	var kind string
	switch out.Kind {
	case Failed:
		kind = out.ErrorKind().String()
		s.log.Errorf("synchronization of %s failed: %v", s.provider.URL, out.Err)
	case ConflictDetected:
		s.log.Warnf("merge of %s left conflicts in %d file(s), resolve and commit them in %s", s.provider.Branch, len(out.Conflicts), s.provider.SyncDir)
	default:
		s.log.Infof("%s", out)
	}
	metrics.SyncFinished(s.provider.Name, out.Kind.String(), kind, startTime)

	return out
}

func (*Synchronizer) Close(context.Context) {
	// No resources to close.
}

func (s *Synchronizer) execute(ctx context.Context) Outcome {
	if err := s.provider.Validate(); err != nil {
		return failed(newError(ConfigInvalid, "validate", err))
	}

	auth, err := s.auth()
	if err != nil {
		return failed(classify("credentials", err, true))
	}

	exists, err := probe(s.provider.SyncDir)
	if err != nil {
		return failed(newError(RepositoryOpenFailed, "probe", err))
	}
	if !exists {
		return s.clone(ctx, auth)
	}
	return s.pull(ctx, auth)
}

func failed(err error) Outcome {
	return Outcome{Kind: Failed, Err: err}
}

// auth resolves the credential strategy before any network call, so that
// missing credentials fail fast. A nil method means anonymous transport.
func (s *Synchronizer) auth() (transport.AuthMethod, error) {
	strategy, err := s.resolver.Resolve(&s.provider.Auth)
	if err != nil || strategy == nil {
		return nil, err
	}
	if err := strategy.Check(); err != nil {
		return nil, err
	}

	method, err := strategy.AuthMethod(s.provider.URL)
	if err != nil {
		return nil, err
	}
	s.log.Debugf("using %s credentials", strategy.Name())
	return method, nil
}

// probe reports whether dir holds something to pull into. Missing and empty
// directories are cloned into.
func probe(dir string) (bool, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%s exists and is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

func (s *Synchronizer) clone(ctx context.Context, auth transport.AuthMethod) Outcome {
	p := s.provider
	_, statErr := os.Stat(p.SyncDir)
	existed := statErr == nil

	s.log.Infof("cloning %s (%s) into %s", p.URL, p.Branch, p.SyncDir)

	progress := newProgressWriter(s.observer.Start(p.Name), filepath.Join(p.SyncDir, git.GitDirName, "objects"))

	var repo *git.Repository
	err := s.retry(ctx, "clone", auth == nil, func(ctx context.Context) error {
		var err error
		repo, err = git.PlainCloneContext(ctx, p.SyncDir, false, &git.CloneOptions{
			URL:           p.URL,
			Auth:          auth,
			RemoteName:    git.DefaultRemoteName,
			ReferenceName: plumbing.NewBranchReferenceName(p.Branch),
			SingleBranch:  true,
			Tags:          git.AllTags,
			Progress:      progress,
		})
		if err != nil {
			discard(p.SyncDir, existed)
		}
		return err
	})

	stats := progress.finish(err)
	metrics.Transferred(p.Name, stats.ReceivedObjects, stats.ReceivedBytes)
	if err != nil {
		return failed(err)
	}

	head, err := repo.Head()
	if err != nil {
		discard(p.SyncDir, existed)
		return failed(newError(RepositoryOpenFailed, "clone", err))
	}

	return Outcome{Kind: Cloned, New: head.Hash()}
}

// discard removes what a failed clone left behind, so that the next run
// clones again instead of pulling into a broken repository.
func discard(dir string, existed bool) {
	if !existed {
		_ = os.RemoveAll(dir)
		return
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		_ = os.RemoveAll(filepath.Join(dir, e.Name()))
	}
}

func (s *Synchronizer) pull(ctx context.Context, auth transport.AuthMethod) Outcome {
	p := s.provider

	repo, err := git.PlainOpen(p.SyncDir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return failed(newError(RepositoryOpenFailed, "open", fmt.Errorf("%w: %s", ErrNotRepository, p.SyncDir)))
	} else if err != nil {
		return failed(newError(RepositoryOpenFailed, "open", err))
	}

	remote, err := repo.Remote(git.DefaultRemoteName)
	if errors.Is(err, git.ErrRemoteNotFound) {
		return failed(newError(RepositoryOpenFailed, "open", ErrRemoteNotFound))
	} else if err != nil {
		return failed(newError(RepositoryOpenFailed, "open", err))
	}
	if urls := remote.Config().URLs; len(urls) > 0 && urls[0] != p.URL {
		s.log.Warnf("origin of %s points to %s instead of %s", p.SyncDir, urls[0], p.URL)
	}

	fetched, err := s.fetch(ctx, repo, auth)
	if err != nil {
		return failed(err)
	}

	branch := plumbing.NewBranchReferenceName(p.Branch)
	var local *plumbing.Hash
	ref, err := repo.Reference(branch, true)
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
	case err != nil:
		return failed(newError(RepositoryOpenFailed, "resolve", err))
	default:
		h := ref.Hash()
		local = &h
	}

	analysis, err := Analyze(repositoryGraph{repo: repo}, local, fetched.Hash)
	if err != nil {
		return failed(newError(RepositoryOpenFailed, "analyze", err))
	}
	s.log.Debugf("%s against %s: %s", branch.Short(), fetched.Hash, analysis)

	switch analysis {
	case AnalysisUpToDate:
		return Outcome{Kind: UpToDate, New: *local}
	case AnalysisFastForward:
		return s.fastForward(repo, branch, *local, fetched.Hash)
	case AnalysisUnborn:
		return s.createBranch(repo, branch, fetched.Hash)
	default:
		return s.merge(repo, branch, *local, fetched.Hash)
	}
}

// retry runs a network operation, bounding every attempt by the fetch
// timeout and retrying transient failures with exponential backoff. The
// returned error is nil or an *Error.
func (s *Synchronizer) retry(ctx context.Context, op string, anonymous bool, fn func(context.Context) error) error {
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		err := fn(actx)
		if err == nil {
			return nil
		}
		e := classify(op, err, anonymous)
		if ctx.Err() != nil || !retryable(e) {
			return backoff.Permanent(e)
		}
		s.log.Warnf("%s attempt %d failed: %v", op, attempt, err)
		return e
	}, backoff.WithContext(backoff.WithMaxRetries(s.backoff(), uint64(s.retries)), ctx))
	if err == nil {
		return nil
	}
	return classify(op, err, anonymous)
}
