// Package service runs provider synchronizations: once over a set of
// providers, or continuously with configuration reloads.
package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/enmesarru/glone/internal/config"
	"github.com/enmesarru/glone/internal/credentials"
	"github.com/enmesarru/glone/internal/gitsync"
	"github.com/enmesarru/glone/internal/logging"
	"github.com/enmesarru/glone/internal/progress"
)

const DefaultConcurrency = 4

type Service struct {
	concurrency  int
	fetchTimeout time.Duration
	retries      int
	interval     time.Duration
	resolver     *credentials.Resolver
	observer     gitsync.Observer
	bar          *progress.Bar
	log          *logging.Logger
	locks        *pathLocks
	reload       <-chan struct{}

	// newSynchronizer is replaced in tests.
	newSynchronizer func(*config.Provider) Synchronizer
}

func New() *Service {
	s := &Service{
		concurrency: DefaultConcurrency,
		retries:     gitsync.DefaultRetries,
		interval:    defaultInterval,
		resolver:    credentials.NewResolver(),
		log:         logging.NewNop(),
		locks:       newPathLocks(),
	}
	s.newSynchronizer = s.synchronizer
	return s
}

// Configure applies the tunables of the configuration file. Zero values keep
// the current settings.
func (s *Service) Configure(root *config.Root) *Service {
	if root.Concurrency > 0 {
		s.concurrency = root.Concurrency
	}
	if root.FetchTimeout > 0 {
		s.fetchTimeout = time.Duration(root.FetchTimeout)
	}
	if root.Interval > 0 {
		s.interval = time.Duration(root.Interval)
	}
	if root.Retries > 0 {
		s.retries = root.Retries
	}
	return s
}

func (s *Service) WithConcurrency(n int) *Service {
	if n > 0 {
		s.concurrency = n
	}
	return s
}

func (s *Service) WithResolver(r *credentials.Resolver) *Service {
	s.resolver = r
	return s
}

func (s *Service) WithObserver(o gitsync.Observer) *Service {
	s.observer = o
	return s
}

func (s *Service) WithBar(bar *progress.Bar) *Service {
	s.bar = bar
	return s
}

func (s *Service) WithLogger(log *logging.Logger) *Service {
	s.log = log
	return s
}

// WithReload makes Watch reload the configuration on every receive.
func (s *Service) WithReload(ch <-chan struct{}) *Service {
	s.reload = ch
	return s
}

func (s *Service) synchronizer(p *config.Provider) Synchronizer {
	return gitsync.New(p).
		WithResolver(s.resolver).
		WithObserver(s.observer).
		WithLogger(s.log).
		WithFetchTimeout(s.fetchTimeout).
		WithRetries(s.retries)
}

// Run synchronizes every provider once and returns the outcomes in the order
// of providers. Up to the configured concurrency providers run in parallel,
// but providers sharing a sync directory run one after the other, in order.
func (s *Service) Run(ctx context.Context, providers []*config.Provider) []gitsync.Outcome {
	outcomes := make([]gitsync.Outcome, len(providers))

	s.bar.AddMax(len(providers))
	defer s.bar.Finish()

	var groups [][]int
	byDir := make(map[string]int)
	seen := make(map[string]struct{})
	for i, p := range providers {
		if _, ok := seen[p.Name]; ok {
			err := fmt.Errorf("%w: duplicate provider name %q", config.ErrInvalid, p.Name)
			s.log.Errorf("%v", err)
			outcomes[i] = gitsync.Failure(p.Name, gitsync.ConfigInvalid, "config", err)
			s.bar.Add(1)
			continue
		}
		seen[p.Name] = struct{}{}

		key := pathKey(p.SyncDir)
		g, ok := byDir[key]
		if !ok {
			g = len(groups)
			byDir[key] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}

	var eg errgroup.Group
	eg.SetLimit(s.concurrency)

	for _, group := range groups {
		eg.Go(func() error {
			for _, i := range group {
				w := newSyncWorker(providers[i], s.newSynchronizer(providers[i]), s.locks, s.log).
					WithSingleShot(true).
					WithBar(s.bar)
				w.Execute(ctx)
				outcomes[i], _ = w.Last()
			}
			return nil
		})
	}

	_ = eg.Wait()
	return outcomes
}
