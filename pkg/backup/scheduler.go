package backup

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
)

// Scheduler takes snapshots at a regular interval.
type Scheduler struct {
	log         zerolog.Logger
	interval    time.Duration
	snapshotter *Snapshotter

	onSnapshot func(Result, error)
}

// NewScheduler creates a new snapshot scheduler. onSnapshot, if not nil, is
// called after every attempt.
func NewScheduler(interval time.Duration, snapshotter *Snapshotter, onSnapshot func(Result, error)) *Scheduler {
	return &Scheduler{
		log:         logger.With().Str("component", "backup").Logger(),
		interval:    interval,
		snapshotter: snapshotter,
		onSnapshot:  onSnapshot,
	}
}

// Run takes snapshots until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("starting snapshot scheduler")
	defer s.log.Info().Msg("snapshot scheduler closed")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		result, err := s.snapshotter.Snapshot(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("snapshot failed")
		} else {
			s.log.Info().
				Str("path", result.Path).
				Int64("elapsed_time", result.ElapsedTime.Milliseconds()).
				Int64("elapsed_time_vacuum", result.VacuumElapsedTime.Milliseconds()).
				Int64("elapsed_time_compression", result.CompressionElapsedTime.Milliseconds()).
				Int64("size", result.Size).
				Int64("size_vacuum", result.SizeAfterVacuum).
				Int64("size_compression", result.SizeAfterCompression).
				Msg("snapshot succeeded")
		}
		if s.onSnapshot != nil {
			s.onSnapshot(result, err)
		}
	}
}
