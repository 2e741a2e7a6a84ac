package queue

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/rescale/transfer-sync/internal/constants"
	"github.com/rescale/transfer-sync/internal/events"
	"github.com/rescale/transfer-sync/internal/logging"
	"github.com/rescale/transfer-sync/internal/transfer"
)

// Options tunes a Synchronizer. Zero values fall back to defaults.
type Options struct {
	// PollInterval is the snapshot poll period.
	PollInterval time.Duration

	// RetryInitialDelay and RetryMaxDelay bound the progress stream
	// resubscription backoff.
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = constants.DefaultPollInterval
	}
	if o.RetryInitialDelay <= 0 {
		o.RetryInitialDelay = constants.StreamRetryInitialDelay
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = constants.StreamRetryMaxDelay
	}
	return o
}

// Synchronizer is the sole owner of the observable queue state for one
// kind. All mutation goes through mu; mu is never held across a backend
// call, so progress merges and polls keep applying while a command is
// outstanding.
type Synchronizer struct {
	kind    transfer.Kind
	backend Backend
	bus     *events.EventBus
	logger  *logging.Logger
	opts    Options

	mu       sync.Mutex
	snapshot transfer.Snapshot
	speeds   *transfer.SpeedCache
	pending  *transfer.PendingCancels
	version  uint64

	// lastDiscovery throttles forced fetches triggered by unknown task ids.
	lastDiscovery time.Time

	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewSynchronizer creates a synchronizer for kind. bus and logger may be
// nil; without a bus no change notifications are published.
func NewSynchronizer(kind transfer.Kind, backend Backend, bus *events.EventBus, logger *logging.Logger, opts Options) *Synchronizer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Synchronizer{
		kind:    kind,
		backend: backend,
		bus:     bus,
		logger:  logger.Named("queue-" + string(kind)),
		opts:    opts.withDefaults(),
		speeds:  transfer.NewSpeedCache(),
		pending: transfer.NewPendingCancels(),
	}
}

// Kind returns the queue kind this synchronizer tracks.
func (s *Synchronizer) Kind() transfer.Kind {
	return s.kind
}

// Enqueue submits a new transfer. On success the returned snapshot is
// installed; on failure the current state is left untouched.
func (s *Synchronizer) Enqueue(ctx context.Context, req transfer.Request) (transfer.Snapshot, error) {
	snap, err := s.backend.Enqueue(ctx, req)
	if err != nil {
		s.logger.Warn().Err(err).Str("item", req.ItemRef).Msg("Enqueue failed")
		return transfer.Snapshot{}, err
	}
	return s.installCommand(snap)
}

// Cancel requests cooperative cancellation of taskID. The task is marked
// cancelling before the backend call and the mark is cleared once the
// call returns, whatever the outcome. The returned snapshot carries the
// engine's verdict; the task may still be active if it was past the point
// where cancellation can take effect.
func (s *Synchronizer) Cancel(ctx context.Context, taskID string) (transfer.Snapshot, error) {
	s.mu.Lock()
	if s.activeIndexLocked(taskID) >= 0 && !s.pending.Contains(taskID) {
		s.pending.Add(taskID)
		s.commitLocked(events.ReasonPending)
	}
	s.mu.Unlock()

	snap, err := s.backend.Cancel(ctx, taskID)

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	if err == nil {
		var installErr error
		changed, installErr = s.replaceLocked(snap)
		if installErr != nil {
			err = installErr
		}
	}
	if s.pending.Contains(taskID) {
		s.pending.Remove(taskID)
		changed = true
	}
	if changed {
		reason := events.ReasonCommand
		if err != nil {
			reason = events.ReasonPending
		}
		s.commitLocked(reason)
	}

	if err != nil {
		s.logger.Warn().Err(err).Str("task", taskID).Msg("Cancel failed")
		return transfer.Snapshot{}, err
	}
	return s.snapshot.Clone(), nil
}

// Remove deletes a task from whichever list holds it.
func (s *Synchronizer) Remove(ctx context.Context, taskID string) (transfer.Snapshot, error) {
	snap, err := s.backend.Remove(ctx, taskID)
	if err != nil {
		s.logger.Warn().Err(err).Str("task", taskID).Msg("Remove failed")
		return transfer.Snapshot{}, err
	}
	return s.installCommand(snap)
}

// ClearFailed drops every failed task.
func (s *Synchronizer) ClearFailed(ctx context.Context) (transfer.Snapshot, error) {
	snap, err := s.backend.ClearFailed(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Clear failed tasks failed")
		return transfer.Snapshot{}, err
	}
	return s.installCommand(snap)
}

// ClearHistory drops every completed and failed task.
func (s *Synchronizer) ClearHistory(ctx context.Context) (transfer.Snapshot, error) {
	snap, err := s.backend.ClearHistory(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Clear history failed")
		return transfer.Snapshot{}, err
	}
	return s.installCommand(snap)
}

// FetchSnapshot re-synchronizes from the engine. Without force it is a
// no-op while the active list is empty and returns the current state.
func (s *Synchronizer) FetchSnapshot(ctx context.Context, force bool) (transfer.Snapshot, error) {
	snap, _, err := s.fetch(ctx, force)
	return snap, err
}

func (s *Synchronizer) fetch(ctx context.Context, force bool) (transfer.Snapshot, bool, error) {
	if !force {
		s.mu.Lock()
		idle := len(s.snapshot.Active) == 0
		current := s.snapshot.Clone()
		s.mu.Unlock()
		if idle {
			return current, false, nil
		}
	}

	snap, err := s.backend.FetchSnapshot(ctx)
	if err != nil {
		return transfer.Snapshot{}, true, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	changed, err := s.replaceLocked(snap)
	if err != nil {
		return transfer.Snapshot{}, true, err
	}
	if changed {
		s.commitLocked(events.ReasonPoll)
	}
	return s.snapshot.Clone(), true, nil
}

// ApplyProgressEvent merges one progress event into the active list. It
// reports whether the event matched an active task. Events for tasks that
// are not active, for another kind, or without a task id change nothing.
func (s *Synchronizer) ApplyProgressEvent(ev transfer.ProgressEvent) bool {
	if err := ev.Validate(); err != nil {
		s.logger.Debug().Err(err).Msg("Discarding progress event")
		return false
	}
	if ev.Kind != "" && ev.Kind != s.kind {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.activeIndexLocked(ev.TaskID)
	if idx < 0 {
		return false
	}

	changed := false
	task := s.snapshot.Active[idx].Clone()

	// Out-of-order delivery never moves bytes backwards.
	if task.BytesTransferred == nil || ev.BytesTransferred > *task.BytesTransferred {
		task.BytesTransferred = transfer.Int64(ev.BytesTransferred)
		changed = true
	}
	if ev.SizeTotal != nil && (task.SizeTotal == nil || *task.SizeTotal != *ev.SizeTotal) {
		task.SizeTotal = transfer.Int64(*ev.SizeTotal)
		changed = true
	}
	if changed {
		s.snapshot.Active[idx] = task
	}

	if ev.SpeedBps != nil {
		if prev, ok := s.speeds.Get(ev.TaskID); !ok || prev != *ev.SpeedBps {
			s.speeds.Set(ev.TaskID, *ev.SpeedBps)
			changed = true
		}
	}

	if s.pruneLocked() > 0 {
		changed = true
	}
	if changed {
		s.commitLocked(events.ReasonProgress)
	}
	return true
}

// IsActive reports whether taskID is in the active list.
func (s *Synchronizer) IsActive(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeIndexLocked(taskID) >= 0
}

// SpeedFor returns the last reported speed for an active task.
func (s *Synchronizer) SpeedFor(taskID string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speeds.Get(taskID)
}

// IsCancelling reports whether a cancel for taskID is awaiting the engine.
func (s *Synchronizer) IsCancelling(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Contains(taskID)
}

// ProgressRatio returns bytes transferred over total size for task.
func (s *Synchronizer) ProgressRatio(task transfer.Task) (float64, bool) {
	return transfer.ProgressRatio(task)
}

// Snapshot returns a copy of the current state.
func (s *Synchronizer) Snapshot() transfer.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.Clone()
}

// Task looks up a task by id across all lists.
func (s *Synchronizer) Task(taskID string) (transfer.Task, transfer.List, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, list, ok := s.snapshot.Find(taskID)
	if !ok {
		return transfer.Task{}, "", false
	}
	return task.Clone(), list, true
}

// Speeds returns a copy of the speed cache.
func (s *Synchronizer) Speeds() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speeds.Copy()
}

// Cancelling returns the task ids with a cancel in flight, sorted.
func (s *Synchronizer) Cancelling() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancellingLocked()
}

// Version returns a counter that increases on every observable change.
func (s *Synchronizer) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Start launches the progress subscriber and the poll scheduler. It does
// an initial forced fetch so that the poller has something to refresh.
// Calling Start more than once has no further effect.
func (s *Synchronizer) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		s.cancel = cancel

		s.wg.Add(2)
		go s.runSubscriber(ctx)
		go s.runPoller(ctx)
	})
}

// Close stops the background loops and waits for them to exit.
func (s *Synchronizer) Close() {
	s.closeOnce.Do(func() {
		s.startOnce.Do(func() {}) // a later Start must not launch loops
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

func (s *Synchronizer) installCommand(snap transfer.Snapshot) (transfer.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed, err := s.replaceLocked(snap)
	if err != nil {
		return transfer.Snapshot{}, err
	}
	if changed {
		s.commitLocked(events.ReasonCommand)
	}
	return s.snapshot.Clone(), nil
}

// replaceLocked installs snap wholesale and prunes the transient tables to
// the new active set. An inconsistent snapshot is dropped.
func (s *Synchronizer) replaceLocked(snap transfer.Snapshot) (bool, error) {
	if err := snap.Validate(); err != nil {
		s.logger.Error().Err(err).Msg("Dropping inconsistent snapshot from engine")
		return false, fmt.Errorf("%w: inconsistent snapshot: %v", transfer.ErrBackendUnavailable, err)
	}

	changed := !reflect.DeepEqual(normalize(s.snapshot), normalize(snap))
	if changed {
		s.snapshot = snap.Clone()
	}
	if s.pruneLocked() > 0 {
		changed = true
	}
	return changed, nil
}

func (s *Synchronizer) pruneLocked() int {
	active := s.snapshot.ActiveIDs()
	return s.speeds.Prune(active) + s.pending.Prune(active)
}

func (s *Synchronizer) activeIndexLocked(taskID string) int {
	for i := range s.snapshot.Active {
		if s.snapshot.Active[i].ID == taskID {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) cancellingLocked() []string {
	ids := s.pending.Keys()
	sort.Strings(ids)
	return ids
}

// commitLocked bumps the version and notifies observers. Publishing never
// blocks, so it is safe under mu.
func (s *Synchronizer) commitLocked(reason events.UpdateReason) {
	s.version++
	if s.bus == nil {
		return
	}
	s.bus.Publish(&events.QueueUpdatedEvent{
		BaseEvent:  events.BaseEvent{EventType: events.EventQueueUpdated, Time: time.Now()},
		Kind:       s.kind,
		Reason:     reason,
		Version:    s.version,
		Snapshot:   s.snapshot.Clone(),
		Speeds:     s.speeds.Copy(),
		Cancelling: s.cancellingLocked(),
	})
}

// normalize maps nil lists to empty ones so that an engine omitting an
// empty list does not count as a change.
func normalize(snap transfer.Snapshot) transfer.Snapshot {
	if snap.Active == nil {
		snap.Active = []transfer.Task{}
	}
	if snap.Completed == nil {
		snap.Completed = []transfer.Task{}
	}
	if snap.Failed == nil {
		snap.Failed = []transfer.Task{}
	}
	return snap
}
