package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rescale/transfer-sync/internal/events"
	"github.com/rescale/transfer-sync/internal/transfer"
)

// runSubscriber keeps one progress subscription open for the lifetime of
// the synchronizer. Stream failures are logged and retried with backoff;
// they never reach command callers.
func (s *Synchronizer) runSubscriber(ctx context.Context) {
	defer s.wg.Done()

	attempt := 0
	connected := false
	for ctx.Err() == nil {
		stream, err := s.backend.SubscribeProgress(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			s.streamInterrupted(attempt, err)
			if !sleepContext(ctx, CalculateBackoff(attempt, s.opts.RetryInitialDelay, s.opts.RetryMaxDelay)) {
				return
			}
			continue
		}

		if connected {
			s.logger.Info().Int("attempts", attempt).Msg("Progress stream resubscribed")
			// Events may have been lost while disconnected.
			if _, err := s.FetchSnapshot(ctx, false); err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("Refresh after resubscribe failed")
			}
		}
		connected = true
		attempt = 0

		err = s.consume(ctx, stream)
		if ctx.Err() != nil {
			return
		}
		attempt++
		s.streamInterrupted(attempt, err)
		if !sleepContext(ctx, CalculateBackoff(attempt, s.opts.RetryInitialDelay, s.opts.RetryMaxDelay)) {
			return
		}
	}
}

// consume applies events until the stream ends. It always returns an
// error wrapping transfer.ErrStreamInterrupted.
func (s *Synchronizer) consume(ctx context.Context, stream ProgressStream) error {
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()
	defer stream.Close()

	for {
		ev, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: closed by engine", transfer.ErrStreamInterrupted)
			}
			return fmt.Errorf("%w: %v", transfer.ErrStreamInterrupted, err)
		}

		if s.ApplyProgressEvent(ev) {
			continue
		}
		if s.isUnknown(ev) {
			s.discover(ctx)
		}
	}
}

// isUnknown reports whether ev names a task of this kind that is in none
// of the lists, i.e. one enqueued by another client.
func (s *Synchronizer) isUnknown(ev transfer.ProgressEvent) bool {
	if ev.Validate() != nil || (ev.Kind != "" && ev.Kind != s.kind) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _, found := s.snapshot.Find(ev.TaskID)
	return !found
}

// discover forces a fetch, at most once per poll interval, so that tasks
// created outside this process become visible.
func (s *Synchronizer) discover(ctx context.Context) {
	s.mu.Lock()
	now := time.Now()
	if !s.lastDiscovery.IsZero() && now.Sub(s.lastDiscovery) < s.opts.PollInterval {
		s.mu.Unlock()
		return
	}
	s.lastDiscovery = now
	s.mu.Unlock()

	if _, err := s.FetchSnapshot(ctx, true); err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).Msg("Discovery fetch failed")
	}
}

func (s *Synchronizer) streamInterrupted(attempt int, err error) {
	if !errors.Is(err, transfer.ErrStreamInterrupted) {
		err = fmt.Errorf("%w: %v", transfer.ErrStreamInterrupted, err)
	}
	s.logger.Warn().Err(err).Int("attempt", attempt).Msg("Progress stream unavailable, relying on polling")
	if s.bus != nil {
		s.bus.Publish(&events.StreamInterruptedEvent{
			BaseEvent: events.BaseEvent{EventType: events.EventStreamInterrupted, Time: time.Now()},
			Kind:      s.kind,
			Attempt:   attempt,
			Err:       err,
		})
	}
}
