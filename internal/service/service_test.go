package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/enmesarru/glone/internal/config"
	"github.com/enmesarru/glone/internal/gitsync"
	"github.com/enmesarru/glone/internal/pool"
)

// fakeSync records its executions instead of touching git.
type fakeSync struct {
	provider *config.Provider
	run      func(ctx context.Context, p *config.Provider) gitsync.Outcome
	runs     atomic.Int32
	closed   atomic.Bool
}

func (f *fakeSync) Execute(ctx context.Context) gitsync.Outcome {
	f.runs.Add(1)
	out := gitsync.Outcome{Kind: gitsync.UpToDate}
	if f.run != nil {
		out = f.run(ctx, f.provider)
	}
	out.Provider = f.provider.Name
	return out
}

func (f *fakeSync) Close(context.Context) {
	f.closed.Store(true)
}

// fakes hands out fakeSync instances and remembers them by provider name.
type fakes struct {
	mu   sync.Mutex
	run  func(ctx context.Context, p *config.Provider) gitsync.Outcome
	made map[string][]*fakeSync
}

func (f *fakes) new(p *config.Provider) Synchronizer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.made == nil {
		f.made = make(map[string][]*fakeSync)
	}
	s := &fakeSync{provider: p, run: f.run}
	f.made[p.Name] = append(f.made[p.Name], s)
	return s
}

func (f *fakes) get(name string) []*fakeSync {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeSync(nil), f.made[name]...)
}

func provider(name, dir string) *config.Provider {
	return &config.Provider{
		Name:    name,
		URL:     "https://example.com/" + name + ".git",
		Branch:  "main",
		SyncDir: dir,
		Auth:    config.Auth{Type: config.AuthPublic},
	}
}

func newTestService(f *fakes) *Service {
	s := New()
	s.newSynchronizer = f.new
	return s
}

func newPoolForTest(ctx context.Context, t *testing.T) *pool.Pool {
	p := pool.New(ctx, 4)
	t.Cleanup(p.Close)
	return p
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRunOrderAndDuplicates(t *testing.T) {
	f := &fakes{run: func(_ context.Context, p *config.Provider) gitsync.Outcome {
		if p.Name == "b" {
			return gitsync.Failure(p.Name, gitsync.NetworkFetchFailed, "fetch", errors.New("unreachable"))
		}
		return gitsync.Outcome{Kind: gitsync.Cloned}
	}}

	dir := t.TempDir()
	providers := []*config.Provider{
		provider("a", filepath.Join(dir, "a")),
		provider("b", filepath.Join(dir, "b")),
		provider("a", filepath.Join(dir, "other")),
		provider("c", filepath.Join(dir, "c")),
	}

	outcomes := newTestService(f).Run(context.Background(), providers)

	var got []string
	for _, out := range outcomes {
		got = append(got, out.Provider+"="+out.Kind.String()+"/"+out.ErrorKind().String())
	}
	exp := []string{
		"a=cloned/unknown",
		"b=failed/network_fetch_failed",
		"a=failed/config_invalid",
		"c=cloned/unknown",
	}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatalf("unexpected outcomes (-want,+got):\n%s", diff)
	}

	if !errors.Is(outcomes[2].Err, config.ErrInvalid) {
		t.Fatalf("expected duplicate to be a configuration error, got %v", outcomes[2].Err)
	}
	if n := len(f.get("a")); n != 1 {
		t.Fatalf("expected the duplicate not to run, got %d synchronizers", n)
	}
	for _, s := range f.get("c") {
		if !s.closed.Load() {
			t.Fatal("expected synchronizer to be closed after a single run")
		}
	}
}

func TestRunSerializesSharedDirectories(t *testing.T) {
	dir := t.TempDir()
	shared := filepath.Join(dir, "shared")

	var (
		mu     sync.Mutex
		active = map[string]int{}
		peak   = map[string]int{}
		order  []string
	)
	f := &fakes{run: func(_ context.Context, p *config.Provider) gitsync.Outcome {
		key := pathKey(p.SyncDir)
		mu.Lock()
		active[key]++
		peak[key] = max(peak[key], active[key])
		if key == shared {
			order = append(order, p.Name)
		}
		mu.Unlock()

		time.Sleep(30 * time.Millisecond)

		mu.Lock()
		active[key]--
		mu.Unlock()
		return gitsync.Outcome{Kind: gitsync.UpToDate}
	}}

	providers := []*config.Provider{
		provider("first", shared),
		provider("alone", filepath.Join(dir, "alone")),
		provider("second", shared+string(filepath.Separator)),
		provider("third", filepath.Join(dir, "alone", "..", "shared")),
	}

	newTestService(f).WithConcurrency(4).Run(context.Background(), providers)

	if peak[shared] != 1 {
		t.Fatalf("expected providers sharing a directory to run one at a time, peak was %d", peak[shared])
	}
	if diff := cmp.Diff([]string{"first", "second", "third"}, order); diff != "" {
		t.Fatalf("unexpected order (-want,+got):\n%s", diff)
	}
}

func TestRunConcurrencyLimit(t *testing.T) {
	var active, peak atomic.Int32
	f := &fakes{run: func(context.Context, *config.Provider) gitsync.Outcome {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return gitsync.Outcome{Kind: gitsync.UpToDate}
	}}

	dir := t.TempDir()
	var providers []*config.Provider
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		providers = append(providers, provider(name, filepath.Join(dir, name)))
	}

	outcomes := newTestService(f).WithConcurrency(2).Run(context.Background(), providers)
	if len(outcomes) != len(providers) {
		t.Fatalf("expected %d outcomes, got %d", len(providers), len(outcomes))
	}
	if p := peak.Load(); p > 2 {
		t.Fatalf("expected at most 2 concurrent synchronizations, got %d", p)
	}
}

func TestConfigure(t *testing.T) {
	s := New().Configure(&config.Root{
		Concurrency:  8,
		FetchTimeout: config.Duration(time.Minute),
		Interval:     config.Duration(time.Hour),
		Retries:      5,
	})
	if s.concurrency != 8 || s.fetchTimeout != time.Minute || s.interval != time.Hour || s.retries != 5 {
		t.Fatalf("unexpected settings %+v", s)
	}

	s.Configure(&config.Root{})
	if s.concurrency != 8 {
		t.Fatal("expected zero values to keep settings")
	}
	if s.WithConcurrency(0).concurrency != 8 {
		t.Fatal("expected non-positive concurrency to be ignored")
	}
}

func TestPathLocks(t *testing.T) {
	locks := newPathLocks()
	dir := t.TempDir()

	unlock := locks.Lock(dir)

	acquired := make(chan struct{})
	go func() {
		release := locks.Lock(dir + string(filepath.Separator) + ".")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("expected the second lock to wait")
	case <-time.After(50 * time.Millisecond):
	}

	// A different directory is independent.
	locks.Lock(filepath.Join(dir, "other"))()

	unlock()
	<-acquired

	eventually(t, func() bool {
		locks.mu.Lock()
		defer locks.mu.Unlock()
		return len(locks.locks) == 0
	})
}

func TestSyncWorker(t *testing.T) {
	dir := t.TempDir()
	p := provider("app", dir)

	t.Run("single shot", func(t *testing.T) {
		s := &fakeSync{provider: p}
		w := newSyncWorker(p, s, newPathLocks(), New().log).WithSingleShot(true)

		if next := w.Execute(context.Background()); !next.IsZero() {
			t.Fatalf("expected removal from the pool, got %v", next)
		}
		if !w.Done() || !s.closed.Load() {
			t.Fatal("expected worker to be done and synchronizer closed")
		}
		out, runs := w.Last()
		if runs != 1 || out.Kind != gitsync.UpToDate {
			t.Fatalf("unexpected last outcome %v after %d runs", out, runs)
		}
	})

	t.Run("failures retry sooner", func(t *testing.T) {
		s := &fakeSync{provider: p, run: func(context.Context, *config.Provider) gitsync.Outcome {
			return gitsync.Failure("app", gitsync.NetworkFetchFailed, "fetch", errors.New("down"))
		}}
		w := newSyncWorker(p, s, newPathLocks(), New().log).WithInterval(time.Hour)

		next := w.Execute(context.Background())
		if until := time.Until(next); until > errorInterval {
			t.Fatalf("expected retry within %s, got %s", errorInterval, until)
		}
		if w.Done() {
			t.Fatal("worker should keep running")
		}
	})

	t.Run("changed configuration", func(t *testing.T) {
		s := &fakeSync{provider: p}
		w := newSyncWorker(p, s, newPathLocks(), New().log)

		same := *p
		w.UpdateConfig(&same)
		if next := w.Execute(context.Background()); next.IsZero() {
			t.Fatal("unchanged provider should keep the worker")
		}

		changed := *p
		changed.Branch = "develop"
		w.UpdateConfig(&changed)
		if next := w.Execute(context.Background()); !next.IsZero() {
			t.Fatal("expected worker to retire")
		}
		if s.runs.Load() != 1 {
			t.Fatalf("expected no synchronization after the change, got %d", s.runs.Load())
		}
		if !w.Done() {
			t.Fatal("expected worker to be done")
		}
	})
}

func TestReconcile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fakes{}
	s := newTestService(f)
	dir := t.TempDir()

	var mu sync.Mutex
	current := []*config.Provider{provider("a", filepath.Join(dir, "a")), provider("b", filepath.Join(dir, "b"))}
	load := func() ([]*config.Provider, error) {
		mu.Lock()
		defer mu.Unlock()
		return current, nil
	}

	p := newPoolForTest(ctx, t)
	r := &reconciler{service: s, pool: p, load: load, log: s.log, workers: make(map[string]*SyncWorker)}

	r.Execute(ctx)
	eventually(t, func() bool {
		return len(f.get("a")) == 1 && f.get("a")[0].runs.Load() == 1 &&
			len(f.get("b")) == 1 && f.get("b")[0].runs.Load() == 1
	})

	changed := provider("a", filepath.Join(dir, "a"))
	changed.Branch = "develop"
	mu.Lock()
	current = []*config.Provider{changed, provider("c", filepath.Join(dir, "c"))}
	mu.Unlock()

	eventually(t, func() bool {
		r.Execute(ctx)
		workers := r.snapshot()
		a, ok := workers["a"]
		_, hasB := workers["b"]
		_, hasC := workers["c"]
		return ok && a.provider.Branch == "develop" && !hasB && hasC
	})

	oldA, oldB := f.get("a")[0], f.get("b")[0]
	if !oldA.closed.Load() || !oldB.closed.Load() {
		t.Fatal("expected retired synchronizers to be closed")
	}
	if oldA.runs.Load() != 1 || oldB.runs.Load() != 1 {
		t.Fatal("retired workers must not synchronize again")
	}
	eventually(t, func() bool {
		return len(f.get("a")) == 2 && f.get("a")[1].runs.Load() == 1 && f.get("c")[0].runs.Load() == 1
	})
}

func TestReconcileKeepsWorkersOnLoadError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fakes{}
	s := newTestService(f)

	fail := false
	load := func() ([]*config.Provider, error) {
		if fail {
			return nil, config.ErrEmpty
		}
		return []*config.Provider{provider("a", t.TempDir())}, nil
	}

	r := &reconciler{service: s, pool: newPoolForTest(ctx, t), load: load, log: s.log, workers: make(map[string]*SyncWorker)}
	r.Execute(ctx)

	fail = true
	r.Execute(ctx)

	if _, ok := r.snapshot()["a"]; !ok {
		t.Fatal("expected worker to survive a failed reload")
	}
}

func TestWatchReloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(file, []byte("providers: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var loads atomic.Int32
	load := func() ([]*config.Provider, error) {
		loads.Add(1)
		return nil, nil
	}

	reload := make(chan struct{})
	s := newTestService(&fakes{}).WithReload(reload)

	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, file, load) }()

	eventually(t, func() bool { return loads.Load() >= 1 })

	if err := os.WriteFile(file, []byte("providers: []\nconcurrency: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return loads.Load() >= 2 })

	n := loads.Load()
	reload <- struct{}{}
	eventually(t, func() bool { return loads.Load() > n })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not stop")
	}
}
