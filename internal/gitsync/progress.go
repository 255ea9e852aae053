package gitsync

import (
	"io/fs"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
)

// TransferStats are the counters of one network transfer. ReceivedObjects
// follows the remote's progress report, not a local receive count. Counters
// only grow; TotalObjects may be revised upward while the transfer runs.
type TransferStats struct {
	ReceivedObjects int64
	TotalObjects    int64
	ReceivedBytes   int64
}

// Observer is notified of every network transfer. Implementations must be
// safe for concurrent use; each Tracker is used by a single transfer.
type Observer interface {
	Start(label string) Tracker
}

type Tracker interface {
	Update(TransferStats)
	// Finish is called exactly once, with the final counters.
	Finish(TransferStats, error)
}

type nopObserver struct{}

func (nopObserver) Start(string) Tracker { return nopTracker{} }

type nopTracker struct{}

func (nopTracker) Update(TransferStats)        {}
func (nopTracker) Finish(TransferStats, error) {}

// go-git exposes no receive counter, so object counts come from the remote's
// own "Counting objects" and "Compressing objects" phases. They approximate
// the objects received; finish settles them once the pack is stored.
var (
	phaseLine    = regexp.MustCompile(`([A-Za-z][A-Za-z ]*):\s+\d+% \((\d+)/(\d+)\)`)
	totalLine    = regexp.MustCompile(`Total (\d+)`)
)

// progressWriter turns the remote's sideband progress messages into
// TransferStats. Received bytes are measured as the growth of the object
// store.
type progressWriter struct {
	mu      sync.Mutex
	tracker Tracker
	objects string
	before  int64
	stats   TransferStats
	partial []byte
}

func newProgressWriter(tracker Tracker, objectsDir string) *progressWriter {
	return &progressWriter{tracker: tracker, objects: objectsDir, before: dirSize(objectsDir)}
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := append(w.partial, p...)
	start := 0
	for i, c := range buf {
		if c == '\r' || c == '\n' {
			w.parse(string(buf[start:i]))
			start = i + 1
		}
	}
	w.partial = append([]byte(nil), buf[start:]...)
	return len(p), nil
}

func (w *progressWriter) parse(line string) {
	changed := false
	if m := phaseLine.FindStringSubmatch(line); m != nil {
		n, _ := strconv.ParseInt(m[2], 10, 64)
		total, _ := strconv.ParseInt(m[3], 10, 64)
		changed = w.observe(n, total)
	} else if m := totalLine.FindStringSubmatch(line); m != nil {
		total, _ := strconv.ParseInt(m[1], 10, 64)
		changed = w.observe(0, total)
	}
	if changed {
		w.tracker.Update(w.stats)
	}
}

func (w *progressWriter) observe(n, total int64) bool {
	prev := w.stats
	w.stats.TotalObjects = max(w.stats.TotalObjects, total)
	w.stats.ReceivedObjects = min(max(w.stats.ReceivedObjects, n), w.stats.TotalObjects)
	return w.stats != prev
}

// finish reports the final counters. On success every announced object has
// arrived.
func (w *progressWriter) finish(err error) TransferStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.partial) > 0 {
		w.parse(string(w.partial))
		w.partial = nil
	}
	if err == nil {
		w.stats.ReceivedObjects = w.stats.TotalObjects
	}
	if size := dirSize(w.objects); size > w.before {
		w.stats.ReceivedBytes = size - w.before
	}
	w.tracker.Finish(w.stats, err)
	return w.stats
}

func dirSize(dir string) int64 {
	var size int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				size += info.Size()
			}
		}
		return nil
	})
	return size
}
