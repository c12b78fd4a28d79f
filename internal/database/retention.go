package database

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"washbook/internal/events"
	"washbook/internal/models"
)

// RetentionService periodically deletes reservations older than KeepDays.
type RetentionService struct {
	db       *DB
	keepDays int
	interval time.Duration
	bus      events.Publisher
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewRetentionService(db *DB, keepDays int, bus events.Publisher, logger *zerolog.Logger) *RetentionService {
	if bus == nil {
		bus = events.Discard{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "retention").Logger()
	return &RetentionService{
		db:       db,
		keepDays: keepDays,
		interval: 24 * time.Hour,
		bus:      bus,
		logger:   &l,
		now:      time.Now,
	}
}

func (s *RetentionService) Start(ctx context.Context) {
	if s.keepDays <= 0 {
		s.logger.Info().Msg("Retention purge is disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.purge(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purge(ctx)
		}
	}
}

// Purge deletes reservations dated before today minus keepDays and
// publishes ReservationsPurged when anything was removed.
func (s *RetentionService) Purge(ctx context.Context) (int64, error) {
	cutoff := s.now().AddDate(0, 0, -s.keepDays).Format(models.StorageDateLayout)
	n, err := s.db.DeleteReservationsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.bus.Publish(events.Event{
			Type:  events.ReservationsPurged,
			Actor: "retention",
			Count: n,
		})
	}
	return n, nil
}

func (s *RetentionService) purge(ctx context.Context) {
	n, err := s.Purge(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Retention purge failed")
		return
	}
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Int("keep_days", s.keepDays).Msg("Old reservations purged")
	}
}
