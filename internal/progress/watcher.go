// Package progress renders synchronized queue state on the terminal:
// live mpb progress bars when attached to a TTY, plain transition lines
// otherwise.
package progress

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/rescale/transfer-sync/internal/events"
	"github.com/rescale/transfer-sync/internal/transfer"
)

// Watcher follows QueueUpdated events and mirrors them as progress bars.
type Watcher struct {
	mu         sync.Mutex
	out        io.Writer
	progress   *mpb.Progress
	isTerminal bool
	bars       map[string]*taskBar // kind/id -> bar
}

// taskBar tracks one active task. Decorators run on mpb's render
// goroutine, so the fields they read are atomic.
type taskBar struct {
	bar        *mpb.Bar
	kind       transfer.Kind
	id         string
	name       string
	speedBits  atomic.Uint64
	cancelling atomic.Bool
	startTime  time.Time
}

func (b *taskBar) speed() float64 {
	return math.Float64frombits(b.speedBits.Load())
}

// NewWatcher creates a watcher writing to out. Bars are only drawn when out
// is a terminal.
func NewWatcher(out *os.File) *Watcher {
	isTerminal := term.IsTerminal(int(out.Fd()))
	if isTerminal {
		// Enable ANSI escape sequences on Windows for proper progress bar rendering
		enableANSIOnWindows(out)
	}
	return newWatcher(out, isTerminal)
}

func newWatcher(out io.Writer, isTerminal bool) *Watcher {
	w := &Watcher{
		out:        out,
		isTerminal: isTerminal,
		bars:       make(map[string]*taskBar),
	}
	if isTerminal {
		w.progress = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(300*time.Millisecond), // ~3 times per second
			mpb.WithWidth(100),
		)
	}
	return w
}

// IsTerminal returns whether bars are being drawn.
func (w *Watcher) IsTerminal() bool {
	return w.isTerminal
}

// Writer returns an io.Writer that safely prints above the progress bars.
func (w *Watcher) Writer() io.Writer {
	if w.progress != nil {
		return w.progress
	}
	return w.out
}

// Run applies queue updates from bus until ctx is done or the bus closes.
func (w *Watcher) Run(ctx context.Context, bus *events.EventBus) {
	updates := bus.Subscribe(events.EventQueueUpdated)
	interrupts := bus.Subscribe(events.EventStreamInterrupted)
	defer bus.Unsubscribe(updates)
	defer bus.Unsubscribe(interrupts)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-updates:
			if !ok {
				return
			}
			if qe, isQueue := ev.(*events.QueueUpdatedEvent); isQueue {
				w.Apply(qe)
			}
		case ev, ok := <-interrupts:
			if !ok {
				return
			}
			if se, isInterrupt := ev.(*events.StreamInterruptedEvent); isInterrupt && se.Attempt == 1 {
				fmt.Fprintf(w.Writer(), "! %s progress stream lost, falling back to polling: %v\n", se.Kind, se.Err)
			}
		}
	}
}

// Apply reconciles the bars for ev.Kind with the event's snapshot.
func (w *Watcher) Apply(ev *events.QueueUpdatedEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cancelling := make(map[string]bool, len(ev.Cancelling))
	for _, id := range ev.Cancelling {
		cancelling[id] = true
	}

	active := make(map[string]struct{}, len(ev.Snapshot.Active))
	for _, task := range ev.Snapshot.Active {
		key := barKey(ev.Kind, task.ID)
		active[key] = struct{}{}

		tb, ok := w.bars[key]
		if !ok {
			tb = w.addBar(ev.Kind, task)
			w.bars[key] = tb
		}
		speed := ev.Speeds[task.ID]
		tb.speedBits.Store(math.Float64bits(speed))
		tb.cancelling.Store(cancelling[task.ID])
		if tb.bar != nil {
			if task.SizeTotal != nil && *task.SizeTotal > 0 {
				tb.bar.SetTotal(*task.SizeTotal, false)
			}
			if task.BytesTransferred != nil {
				tb.bar.SetCurrent(*task.BytesTransferred)
			}
		}
	}

	for key, tb := range w.bars {
		if tb.kind != ev.Kind {
			continue
		}
		if _, still := active[key]; still {
			continue
		}
		task, list, found := ev.Snapshot.Find(tb.id)
		w.finish(tb, task, list, found)
		delete(w.bars, key)
	}
}

func barKey(kind transfer.Kind, id string) string {
	return string(kind) + "/" + id
}

func (w *Watcher) addBar(kind transfer.Kind, task transfer.Task) *taskBar {
	tb := &taskBar{
		kind:      kind,
		id:        task.ID,
		name:      displayName(task),
		startTime: time.Now(),
	}

	if !w.isTerminal {
		fmt.Fprintf(w.out, "→ %s %s%s\n", kind, tb.name, sizeSuffix(task.SizeTotal))
		return tb
	}

	var total int64
	if task.SizeTotal != nil {
		total = *task.SizeTotal
	}
	arrow := "←"
	if kind == transfer.KindUpload {
		arrow = "→"
	}

	tb.bar = w.progress.New(total,
		mpb.BarStyle().
			Lbound("[").
			Filler("█").
			Tip("█").
			Padding("░").
			Rbound("]"),
		mpb.PrependDecorators(
			decor.Any(func(s decor.Statistics) string {
				label := fmt.Sprintf("%s %s", arrow, tb.name)
				if tb.cancelling.Load() {
					return label + " (cancelling)"
				}
				return label
			}, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Name("  "),
			decor.Any(func(s decor.Statistics) string {
				if s.Total <= 0 {
					return "   ---%"
				}
				return fmt.Sprintf("%6.2f%%", float64(s.Current)/float64(s.Total)*100)
			}, decor.WCSyncSpace),
			decor.Name("  "),
			decor.Any(func(decor.Statistics) string {
				return FormatSpeed(tb.speed())
			}, decor.WCSyncSpace),
		),
		mpb.BarRemoveOnComplete(),
	)
	return tb
}

// finish settles a bar whose task left the active list.
func (w *Watcher) finish(tb *taskBar, task transfer.Task, list transfer.List, found bool) {
	var msg string
	switch {
	case !found:
		msg = fmt.Sprintf("- %s %s removed\n", tb.kind, tb.name)
	case list == transfer.ListCompleted:
		msg = fmt.Sprintf("✓ %s %s%s in %s\n", tb.kind, tb.name, sizeSuffix(task.SizeTotal), time.Since(tb.startTime).Round(time.Second))
	case task.Status == transfer.StatusCancelled:
		msg = fmt.Sprintf("✗ %s %s cancelled\n", tb.kind, tb.name)
	default:
		msg = fmt.Sprintf("✗ %s %s failed: %s\n", tb.kind, tb.name, task.ErrorMessage)
	}

	if tb.bar != nil {
		if found && list == transfer.ListCompleted {
			// ENSURE exact 100% completion, triggers BarRemoveOnComplete
			tb.bar.SetTotal(-1, true)
		} else {
			tb.bar.Abort(true)
		}
	}

	// Write through mpb's writer (not stdout) to avoid triggering redraws
	fmt.Fprint(w.Writer(), msg)
}

// Stop drops any remaining bars and waits for the renderer to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	for key, tb := range w.bars {
		if tb.bar != nil {
			tb.bar.Abort(true)
		}
		delete(w.bars, key)
	}
	w.mu.Unlock()

	if w.progress != nil {
		w.progress.Wait()
	}
}

// Active returns how many tasks currently have a bar.
func (w *Watcher) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.bars)
}
