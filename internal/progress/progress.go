// Package progress renders terminal progress for runs and network transfers.
package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/enmesarru/glone/internal/gitsync"
)

// Bar counts completed units of work, e.g. providers of a run.
type Bar struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

// New returns a Bar writing to w. A nil writer disables rendering.
func New(w io.Writer, description string) *Bar {
	if w == nil {
		return &Bar{}
	}
	return &Bar{bar: progressbar.NewOptions(0,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)}
}

func (b *Bar) AddMax(n int) {
	if b == nil || b.bar == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bar.ChangeMax(b.bar.GetMax() + n)
}

func (b *Bar) Add(n int) {
	if b == nil || b.bar == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.bar.Add(n)
}

func (b *Bar) Finish() {
	if b == nil || b.bar == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.bar.Finish()
}

// Multiplexer renders one bar per network transfer. Transfers may run
// concurrently; their output is serialized on the shared writer.
type Multiplexer struct {
	w *lockedWriter
}

func NewMultiplexer(w io.Writer) *Multiplexer {
	return &Multiplexer{w: &lockedWriter{w: w}}
}

func (m *Multiplexer) Start(label string) gitsync.Tracker {
	t := &transfer{label: label, w: m.w}
	t.bar = progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(m.w),
		progressbar.OptionSetDescription(label),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSpinnerType(14),
	)
	return t
}

type transfer struct {
	label string
	w     io.Writer
	bar   *progressbar.ProgressBar
	max   int64
}

func (t *transfer) Update(s gitsync.TransferStats) {
	if s.TotalObjects > 0 && s.TotalObjects != t.max {
		t.max = s.TotalObjects
		t.bar.ChangeMax64(t.max)
	}
	_ = t.bar.Set64(s.ReceivedObjects)
}

func (t *transfer) Finish(s gitsync.TransferStats, err error) {
	if err != nil {
		t.bar.Describe(t.label + " failed")
		_ = t.bar.Exit()
		fmt.Fprintln(t.w)
		return
	}

	if s.TotalObjects > 0 {
		t.Update(s)
	}
	_ = t.bar.Finish()
	fmt.Fprintf(t.w, " %s\n", bytesString(s.ReceivedBytes))
}

func bytesString(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
