package service

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/enmesarru/glone/internal/config"
	"github.com/enmesarru/glone/internal/logging"
	"github.com/enmesarru/glone/internal/metrics"
	"github.com/enmesarru/glone/internal/pool"
)

const configTask = "config"

var (
	reconcileInterval = time.Minute
	pendingInterval   = 100 * time.Millisecond
)

// Loader returns the providers to keep synchronized.
type Loader func() ([]*config.Provider, error)

// Watch keeps the providers returned by load synchronized until ctx is done.
// Every provider gets a worker in a deadline-ordered pool. The configuration
// is loaded again whenever file changes, on every reload signal and once a
// minute; workers of changed or removed providers are retired and replaced.
func (s *Service) Watch(ctx context.Context, file string, load Loader) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to watch configuration: %w", err)
	}
	defer watcher.Close()

	// Editors replace files instead of writing them, so watch the directory.
	if err := watcher.Add(filepath.Dir(file)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(file), err)
	}

	p := pool.New(ctx, s.concurrency+1)
	defer p.Close()

	r := &reconciler{service: s, pool: p, load: load, log: s.log, workers: make(map[string]*SyncWorker)}
	if err := p.Add(configTask, r.Execute); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			s.log.Infof("stopping %d worker(s)", len(r.snapshot()))
			return nil
		case <-s.reload:
			s.log.Infof("reloading configuration")
			_ = p.Trigger(configTask)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) == filepath.Clean(file) && ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) {
				s.log.Debugf("configuration changed: %s", ev)
				_ = p.Trigger(configTask)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warnf("configuration watcher: %v", err)
		}
	}
}

// reconciler is the pool task that aligns the workers with the
// configuration.
type reconciler struct {
	service *Service
	pool    *pool.Pool
	load    Loader
	log     *logging.Logger

	mu      sync.Mutex
	workers map[string]*SyncWorker
}

func (r *reconciler) snapshot() map[string]*SyncWorker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.workers)
}

func taskName(provider string) string {
	return "provider:" + provider
}

func (r *reconciler) Execute(context.Context) time.Time {
	providers, err := r.load()
	if err != nil {
		// Keep the running workers: a half-written file must not stop them.
		r.log.Errorf("failed to load configuration: %v", err)
		metrics.ConfigReloads.WithLabelValues("error").Inc()
		return time.Now().Add(reconcileInterval)
	}
	metrics.ConfigReloads.WithLabelValues("ok").Inc()

	r.mu.Lock()
	defer r.mu.Unlock()

	desired := make(map[string]*config.Provider, len(providers))
	var ordered []*config.Provider
	for _, p := range providers {
		if _, ok := desired[p.Name]; ok {
			r.log.Errorf("%v: duplicate provider name %q", config.ErrInvalid, p.Name)
			continue
		}
		desired[p.Name] = p
		ordered = append(ordered, p)
	}

	pending := false

	// Retire workers whose provider changed or disappeared. A retired worker
	// is replaced once it has left the pool.
	for name, w := range r.workers {
		p := desired[name]
		if p != nil && w.provider.Equal(p) {
			continue
		}
		if !w.Done() {
			w.UpdateConfig(p)
			_ = r.pool.Trigger(taskName(name))
			pending = true
			continue
		}
		delete(r.workers, name)
	}

	for _, p := range ordered {
		if _, ok := r.workers[p.Name]; ok {
			continue
		}
		if r.pool.Has(taskName(p.Name)) {
			pending = true
			continue
		}

		s := r.service
		w := newSyncWorker(p, s.newSynchronizer(p), s.locks, s.log).WithInterval(s.interval)
		if err := r.pool.Add(taskName(p.Name), w.Execute); err != nil {
			r.log.Warnf("failed to schedule %q: %v", p.Name, err)
			pending = true
			continue
		}
		r.log.Infof("watching %q every %s", p.Name, s.interval)
		r.workers[p.Name] = w
	}

	metrics.ActiveWorkers.Set(float64(len(r.workers)))

	if pending {
		return time.Now().Add(pendingInterval)
	}
	return time.Now().Add(reconcileInterval)
}
