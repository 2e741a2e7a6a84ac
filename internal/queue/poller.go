package queue

import (
	"context"
	"time"
)

// Poll runs one poll tick. It skips the engine entirely while nothing is
// active and reports whether a fetch was issued.
func (s *Synchronizer) Poll(ctx context.Context) (bool, error) {
	_, fetched, err := s.fetch(ctx, false)
	return fetched, err
}

// PollInterval returns the configured poll period.
func (s *Synchronizer) PollInterval() time.Duration {
	return s.opts.PollInterval
}

func (s *Synchronizer) runPoller(ctx context.Context) {
	defer s.wg.Done()

	if _, err := s.FetchSnapshot(ctx, true); err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).Msg("Initial snapshot fetch failed")
	}

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *Synchronizer) refresh(ctx context.Context) {
	fetched, err := s.Poll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("Snapshot poll failed")
		}
		return
	}
	if fetched {
		s.logger.Debug().Msg("Snapshot poll applied")
	}
}
