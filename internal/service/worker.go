package service

import (
	"cmp"
	"context"
	"sync"
	"time"

	"github.com/enmesarru/glone/internal/config"
	"github.com/enmesarru/glone/internal/gitsync"
	"github.com/enmesarru/glone/internal/logging"
	"github.com/enmesarru/glone/internal/progress"
)

var (
	defaultInterval = 5 * time.Minute
	errorInterval   = 30 * time.Second
)

// SyncWorker is responsible for keeping one provider's sync directory up to
// date. Every execution runs the provider's synchronizer once, holding the
// lock of the sync directory so that providers sharing a directory never
// touch it at the same time.
type SyncWorker struct {
	provider   *config.Provider
	sync       Synchronizer
	locks      *pathLocks
	changed    chan struct{}
	done       chan struct{}
	singleShot bool
	log        *logging.Logger
	bar        *progress.Bar
	interval   time.Duration

	mu   sync.Mutex
	last gitsync.Outcome
	runs int
}

type Synchronizer interface {
	Execute(ctx context.Context) gitsync.Outcome
	Close(ctx context.Context)
}

func newSyncWorker(p *config.Provider, sync Synchronizer, locks *pathLocks, logger *logging.Logger) *SyncWorker {
	return &SyncWorker{
		provider: p,
		sync:     sync,
		locks:    locks,
		log:      logger,
		changed:  make(chan struct{}), done: make(chan struct{}),
		interval: defaultInterval,
	}
}

func (worker *SyncWorker) WithSingleShot(singleShot bool) *SyncWorker {
	worker.singleShot = singleShot
	return worker
}

func (worker *SyncWorker) WithInterval(d time.Duration) *SyncWorker {
	worker.interval = cmp.Or(d, defaultInterval)
	return worker
}

func (worker *SyncWorker) WithBar(bar *progress.Bar) *SyncWorker {
	worker.bar = bar
	return worker
}

func (worker *SyncWorker) Done() bool {
	select {
	case <-worker.done:
		return true
	default:
		return false
	}
}

// UpdateConfig retires the worker when its provider changed or was removed.
func (worker *SyncWorker) UpdateConfig(p *config.Provider) {
	if p == nil || !worker.provider.Equal(p) {
		worker.changeConfiguration()
	}
}

// Last returns the outcome of the most recent synchronization and the number
// of synchronizations run so far.
func (worker *SyncWorker) Last() (gitsync.Outcome, int) {
	worker.mu.Lock()
	defer worker.mu.Unlock()
	return worker.last, worker.runs
}

// Execute runs a provider synchronization iteration.
func (w *SyncWorker) Execute(ctx context.Context) time.Time {
	// If a configuration change was requested, request the worker to be removed from the pool and signal this worker being done.
	if w.configurationChanged() {
		return w.die(ctx)
	}

	defer w.bar.Add(1)

	unlock := w.locks.Lock(w.provider.SyncDir)
	out := w.sync.Execute(ctx)
	unlock()

	return w.report(ctx, out)
}

func (w *SyncWorker) report(ctx context.Context, out gitsync.Outcome) time.Time {
	w.mu.Lock()
	w.last = out
	w.runs++
	w.mu.Unlock()

	interval := w.interval
	if out.Failed() {
		interval = min(interval, errorInterval) // faster retry on error
		w.log.Debugf("next attempt for %q in %s", w.provider.Name, interval)
	}

	if w.singleShot {
		return w.die(ctx)
	}

	return time.Now().Add(interval)
}

func (w *SyncWorker) changeConfiguration() {
	select {
	case <-w.changed:
	default:
		close(w.changed)
	}
}

func (w *SyncWorker) configurationChanged() bool {
	select {
	case <-w.changed:
		return true
	default:
		return false
	}
}

func (w *SyncWorker) die(ctx context.Context) time.Time {
	w.sync.Close(ctx)

	close(w.done)

	var zero time.Time
	return zero
}
