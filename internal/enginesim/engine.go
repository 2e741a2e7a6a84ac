// Package enginesim provides an in-memory transfer engine that moves bytes
// on a simulated clock. It serves the same command surface as a real
// engine, which makes the synchronizer and the transports usable end to end
// without remote storage.
package enginesim

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rescale/transfer-sync/internal/constants"
	"github.com/rescale/transfer-sync/internal/diskspace"
	"github.com/rescale/transfer-sync/internal/events"
	"github.com/rescale/transfer-sync/internal/logging"
	"github.com/rescale/transfer-sync/internal/transfer"
	"github.com/rescale/transfer-sync/internal/validation"
)

// FailPrefix marks an item reference that fails halfway through.
const FailPrefix = "fail:"

// DefaultDownloadSize is used when a download request carries no size hint.
const DefaultDownloadSize = 8 * 1024 * 1024

// Free space required beyond the download size.
const diskSpaceMargin = 1.1

// Options tunes the engine. Zero values fall back to defaults.
type Options struct {
	RateBytesPerSecond int64
	MaxConcurrent      int
	Tick               time.Duration
}

func (o Options) withDefaults() Options {
	if o.RateBytesPerSecond <= 0 {
		o.RateBytesPerSecond = constants.DefaultEngineRate
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = constants.DefaultMaxConcurrent
	}
	if o.MaxConcurrent > constants.MaxMaxConcurrent {
		o.MaxConcurrent = constants.MaxMaxConcurrent
	}
	if o.Tick <= 0 {
		o.Tick = constants.DefaultEngineTick
	}
	return o
}

// simTask is the engine-side state of one task.
type simTask struct {
	task       transfer.Task
	bytes      float64
	speed      float64
	failAt     int64 // -1 when the task succeeds
	finalizing bool
	destPath   string // download destination on disk
}

// tracker holds one kind's tasks in creation order.
type tracker struct {
	tasks []*simTask
	byID  map[string]*simTask
}

// Engine is a simulated transfer engine with one queue per kind.
type Engine struct {
	mu       sync.Mutex
	trackers map[transfer.Kind]*tracker
	opts     Options
	bus      *events.EventBus
	logger   *logging.Logger
}

// New creates an engine publishing progress on bus.
func New(bus *events.EventBus, logger *logging.Logger, opts Options) *Engine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	e := &Engine{
		trackers: make(map[transfer.Kind]*tracker, len(transfer.Kinds)),
		opts:     opts.withDefaults(),
		bus:      bus,
		logger:   logger.Named("engine"),
	}
	for _, k := range transfer.Kinds {
		e.trackers[k] = &tracker{byID: make(map[string]*simTask)}
	}
	return e
}

// Bus returns the bus carrying this engine's progress events.
func (e *Engine) Bus() *events.EventBus {
	return e.bus
}

func (e *Engine) trackerFor(kind transfer.Kind) (*tracker, error) {
	tr, ok := e.trackers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown transfer kind %q", transfer.ErrInvalidRequest, kind)
	}
	return tr, nil
}

// Enqueue validates req and tracks a new task.
func (e *Engine) Enqueue(kind transfer.Kind, req transfer.Request) (transfer.Snapshot, error) {
	tr, err := e.trackerFor(kind)
	if err != nil {
		return transfer.Snapshot{}, err
	}

	st, err := e.prepare(kind, req)
	if err != nil {
		return transfer.Snapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if kind == transfer.KindUpload && !req.Overwrite {
		for _, other := range tr.tasks {
			if other.task.Status == transfer.StatusCompleted && other.task.Target == st.task.Target && other.task.Name == st.task.Name {
				return transfer.Snapshot{}, fmt.Errorf("%w: %s already exists in folder %s", transfer.ErrInvalidRequest, st.task.Name, st.task.Target)
			}
		}
	}

	tr.tasks = append(tr.tasks, st)
	tr.byID[st.task.ID] = st

	e.logger.Info().
		Str("kind", string(kind)).
		Str("task", st.task.ID).
		Str("name", st.task.Name).
		Int64("size", *st.task.SizeTotal).
		Msg("Task queued")

	return tr.snapshot(), nil
}

// prepare validates a request against the local filesystem and builds the
// task. It does not touch engine state.
func (e *Engine) prepare(kind transfer.Kind, req transfer.Request) (*simTask, error) {
	ref := strings.TrimSpace(req.ItemRef)
	fail := strings.HasPrefix(ref, FailPrefix)
	ref = strings.TrimPrefix(ref, FailPrefix)
	if ref == "" {
		return nil, fmt.Errorf("%w: item reference is required", transfer.ErrInvalidRequest)
	}

	st := &simTask{
		failAt: -1,
		task: transfer.Task{
			ID:        uuid.NewString(),
			Kind:      kind,
			Status:    transfer.StatusInProgress,
			Source:    req.ItemRef,
			Target:    req.Target,
			CreatedAt: time.Now(),
		},
	}

	var size int64
	switch kind {
	case transfer.KindDownload:
		info, err := os.Stat(req.Target)
		if err != nil {
			return nil, fmt.Errorf("%w: target directory %s: %v", transfer.ErrInvalidRequest, req.Target, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: target %s is not a directory", transfer.ErrInvalidRequest, req.Target)
		}

		name := req.Name
		if name == "" {
			name = filepath.Base(ref)
		}
		if err := validation.ValidateFilename(name); err != nil {
			return nil, fmt.Errorf("%w: %v", transfer.ErrInvalidRequest, err)
		}
		st.task.Name = name
		st.destPath = filepath.Join(req.Target, name)
		if err := validation.ValidatePathInDirectory(st.destPath, req.Target); err != nil {
			return nil, fmt.Errorf("%w: %v", transfer.ErrInvalidRequest, err)
		}
		if _, err := os.Stat(st.destPath); err == nil && !req.Overwrite {
			return nil, fmt.Errorf("%w: %s already exists", transfer.ErrInvalidRequest, st.destPath)
		}

		size = req.Size
		if size <= 0 {
			size = DefaultDownloadSize
		}
		if err := diskspace.CheckAvailableSpace(st.destPath, size, diskSpaceMargin); err != nil {
			return nil, fmt.Errorf("%w: %v", transfer.ErrInvalidRequest, err)
		}

	case transfer.KindUpload:
		info, err := os.Stat(ref)
		if err != nil {
			return nil, fmt.Errorf("%w: local file %s: %v", transfer.ErrInvalidRequest, ref, err)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("%w: %s is not a regular file", transfer.ErrInvalidRequest, ref)
		}
		st.task.Name = req.Name
		if st.task.Name == "" {
			st.task.Name = filepath.Base(ref)
		}
		size = info.Size()
	}

	st.task.SizeTotal = transfer.Int64(size)
	if fail {
		st.failAt = size / 2
	}
	return st, nil
}

// Cancel stops an active task. A task that has moved all of its bytes is
// finalizing and can no longer be cancelled; the snapshot still shows it
// active.
func (e *Engine) Cancel(kind transfer.Kind, taskID string) (transfer.Snapshot, error) {
	tr, err := e.trackerFor(kind)
	if err != nil {
		return transfer.Snapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := tr.byID[taskID]
	if !ok {
		return transfer.Snapshot{}, fmt.Errorf("%w: task %s not found", transfer.ErrInvalidRequest, taskID)
	}
	if st.task.Status != transfer.StatusInProgress {
		return transfer.Snapshot{}, fmt.Errorf("%w: task %s is %s", transfer.ErrInvalidRequest, taskID, st.task.Status)
	}
	if st.finalizing {
		e.logger.Info().Str("task", taskID).Msg("Cancel arrived while finalizing, ignored")
		return tr.snapshot(), nil
	}

	st.task.Status = transfer.StatusCancelled
	st.task.CompletedAt = transfer.Time(time.Now())
	st.task.ErrorMessage = "cancelled by user"
	e.logger.Info().Str("task", taskID).Msg("Task cancelled")
	return tr.snapshot(), nil
}

// Remove deletes a task from whichever list holds it. Removing an active
// task stops it.
func (e *Engine) Remove(kind transfer.Kind, taskID string) (transfer.Snapshot, error) {
	tr, err := e.trackerFor(kind)
	if err != nil {
		return transfer.Snapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := tr.byID[taskID]; !ok {
		return transfer.Snapshot{}, fmt.Errorf("%w: task %s not found", transfer.ErrInvalidRequest, taskID)
	}
	tr.filter(func(st *simTask) bool { return st.task.ID != taskID })
	return tr.snapshot(), nil
}

// ClearFailed removes failed and cancelled tasks.
func (e *Engine) ClearFailed(kind transfer.Kind) (transfer.Snapshot, error) {
	tr, err := e.trackerFor(kind)
	if err != nil {
		return transfer.Snapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tr.filter(func(st *simTask) bool {
		return st.task.Status != transfer.StatusFailed && st.task.Status != transfer.StatusCancelled
	})
	return tr.snapshot(), nil
}

// ClearHistory removes every terminal task.
func (e *Engine) ClearHistory(kind transfer.Kind) (transfer.Snapshot, error) {
	tr, err := e.trackerFor(kind)
	if err != nil {
		return transfer.Snapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tr.filter(func(st *simTask) bool { return !st.task.Status.IsTerminal() })
	return tr.snapshot(), nil
}

// Snapshot returns the current state of one kind.
func (e *Engine) Snapshot(kind transfer.Kind) (transfer.Snapshot, error) {
	tr, err := e.trackerFor(kind)
	if err != nil {
		return transfer.Snapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return tr.snapshot(), nil
}

// Step advances every queue by elapsed simulated time. At most
// MaxConcurrent tasks per kind move bytes; the rest wait in order.
func (e *Engine) Step(elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}

	e.mu.Lock()
	var progress []transfer.ProgressEvent
	for _, kind := range transfer.Kinds {
		progress = append(progress, e.stepLocked(e.trackers[kind], elapsed)...)
	}
	e.mu.Unlock()

	// Publish outside lock to avoid holding lock during event dispatch
	if e.bus == nil {
		return
	}
	for _, ev := range progress {
		e.bus.PublishProgress(ev)
	}
}

func (e *Engine) stepLocked(tr *tracker, elapsed time.Duration) []transfer.ProgressEvent {
	var out []transfer.ProgressEvent
	secs := elapsed.Seconds()
	budget := float64(e.opts.RateBytesPerSecond) * secs
	running := 0

	for _, st := range tr.tasks {
		if st.task.Status != transfer.StatusInProgress {
			continue
		}
		if running >= e.opts.MaxConcurrent {
			break
		}
		running++

		now := time.Now()
		if st.finalizing {
			e.completeLocked(st, now)
			continue
		}
		if st.task.StartedAt == nil {
			st.task.StartedAt = transfer.Time(now)
		}

		size := float64(*st.task.SizeTotal)
		before := st.bytes
		st.bytes += budget
		if st.bytes > size {
			st.bytes = size
		}
		moved := st.bytes - before

		// EMA speed, alpha from constants
		instant := moved / secs
		if st.speed == 0 {
			st.speed = instant
		} else {
			st.speed = constants.SpeedSmoothingAlpha*instant + (1-constants.SpeedSmoothingAlpha)*st.speed
		}

		st.task.BytesTransferred = transfer.Int64(int64(st.bytes))

		if st.failAt >= 0 && int64(st.bytes) >= st.failAt {
			st.task.BytesTransferred = transfer.Int64(st.failAt)
			st.task.Status = transfer.StatusFailed
			st.task.CompletedAt = transfer.Time(now)
			st.task.ErrorMessage = fmt.Sprintf("simulated failure after %d bytes", st.failAt)
			e.logger.Warn().Str("task", st.task.ID).Msg("Task failed")
			continue
		}
		if st.bytes >= size {
			st.finalizing = true
		}

		out = append(out, transfer.ProgressEvent{
			TaskID:           st.task.ID,
			Kind:             st.task.Kind,
			BytesTransferred: *st.task.BytesTransferred,
			SizeTotal:        transfer.Int64(*st.task.SizeTotal),
			SpeedBps:         transfer.Float64(st.speed),
		})
	}
	return out
}

func (e *Engine) completeLocked(st *simTask, now time.Time) {
	switch st.task.Kind {
	case transfer.KindDownload:
		if err := writePlaceholder(st.destPath, *st.task.SizeTotal); err != nil {
			st.task.Status = transfer.StatusFailed
			st.task.CompletedAt = transfer.Time(now)
			st.task.ErrorMessage = err.Error()
			e.logger.Error().Err(err).Str("task", st.task.ID).Msg("Failed to save download")
			return
		}
		st.task.Result = st.destPath
	case transfer.KindUpload:
		st.task.Result = "file-" + strings.ReplaceAll(uuid.NewString()[:13], "-", "")
	}
	st.task.Status = transfer.StatusCompleted
	st.task.CompletedAt = transfer.Time(now)
	st.finalizing = false
	e.logger.Info().Str("task", st.task.ID).Str("result", st.task.Result).Msg("Task completed")
}

// Run drives Step from a ticker until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.opts.Tick)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.Step(now.Sub(last))
			last = now
		}
	}
}

// writePlaceholder creates a sparse file of the downloaded size.
func writePlaceholder(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return fmt.Errorf("failed to size %s: %w", path, err)
	}
	return f.Close()
}

func (tr *tracker) filter(keep func(*simTask) bool) {
	filtered := make([]*simTask, 0, len(tr.tasks))
	for _, st := range tr.tasks {
		if keep(st) {
			filtered = append(filtered, st)
		} else {
			delete(tr.byID, st.task.ID)
		}
	}
	tr.tasks = filtered
}

// snapshot partitions tasks by status. Cancelled tasks are reported in
// the failed list.
func (tr *tracker) snapshot() transfer.Snapshot {
	snap := transfer.Snapshot{
		Active:    []transfer.Task{},
		Completed: []transfer.Task{},
		Failed:    []transfer.Task{},
	}
	for _, st := range tr.tasks {
		t := st.task.Clone()
		switch t.Status {
		case transfer.StatusInProgress:
			snap.Active = append(snap.Active, t)
		case transfer.StatusCompleted:
			snap.Completed = append(snap.Completed, t)
		default:
			snap.Failed = append(snap.Failed, t)
		}
	}
	return snap
}
