package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"washbook/internal/events"
	"washbook/internal/metrics"
	"washbook/internal/models"
)

// ErrUnauthorized is returned for a wrong or unconfigured admin secret.
var ErrUnauthorized = errors.New("invalid admin password")

const actor = "admin"

// Repository is the subset of the reservation store used by admins.
type Repository interface {
	ListReservations(ctx context.Context) ([]models.Reservation, error)
	DeleteReservation(ctx context.Context, id int64) (bool, error)
	DeleteAllReservations(ctx context.Context) (int64, error)
}

type Service struct {
	repo       Repository
	secret     string
	dateLayout string
	bus        events.Publisher
	logger     *zerolog.Logger
}

func NewService(repo Repository, secret, dateLayout string, bus events.Publisher, logger *zerolog.Logger) *Service {
	if bus == nil {
		bus = events.Discard{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "admin").Logger()
	return &Service{
		repo:       repo,
		secret:     secret,
		dateLayout: dateLayout,
		bus:        bus,
		logger:     &l,
	}
}

// Enabled reports whether an admin secret is configured.
func (s *Service) Enabled() bool {
	return s.secret != ""
}

func (s *Service) authorize(action, secret string) error {
	if s.secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(s.secret)) != 1 {
		metrics.IncAdminAction(action, "unauthorized")
		s.logger.Warn().Str("action", action).Msg("Admin access denied")
		return ErrUnauthorized
	}
	return nil
}

// ListAll returns every reservation.
func (s *Service) ListAll(ctx context.Context, secret string) ([]models.Reservation, error) {
	if err := s.authorize("list", secret); err != nil {
		return nil, err
	}
	list, err := s.repo.ListReservations(ctx)
	if err != nil {
		metrics.IncAdminAction("list", "error")
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	metrics.IncAdminAction("list", "ok")
	return list, nil
}

// DeleteOne deletes reservation id. It reports false when no row matched.
func (s *Service) DeleteOne(ctx context.Context, secret string, id int64) (bool, error) {
	if err := s.authorize("delete_one", secret); err != nil {
		return false, err
	}
	if id <= 0 {
		return false, models.Invalid("id", "id is required")
	}

	deleted, err := s.repo.DeleteReservation(ctx, id)
	if err != nil {
		metrics.IncAdminAction("delete_one", "error")
		return false, fmt.Errorf("delete reservation %d: %w", id, err)
	}
	metrics.IncAdminAction("delete_one", "ok")
	s.logger.Info().Int64("id", id).Bool("deleted", deleted).Msg("Admin deleted reservation")

	if deleted {
		s.bus.Publish(events.Event{Type: events.ReservationCancelled, ID: id, Actor: actor})
	}
	return deleted, nil
}

// DeleteAll deletes every reservation and returns the number removed.
func (s *Service) DeleteAll(ctx context.Context, secret string) (int64, error) {
	if err := s.authorize("delete_all", secret); err != nil {
		return 0, err
	}

	n, err := s.repo.DeleteAllReservations(ctx)
	if err != nil {
		metrics.IncAdminAction("delete_all", "error")
		return 0, fmt.Errorf("delete all reservations: %w", err)
	}
	metrics.IncAdminAction("delete_all", "ok")
	s.logger.Warn().Int64("deleted", n).Msg("Admin purged all reservations")

	s.bus.Publish(events.Event{Type: events.ReservationsPurged, Actor: actor, Count: n})
	return n, nil
}

// Export writes all reservations to w as an xlsx workbook.
func (s *Service) Export(ctx context.Context, secret string, w io.Writer) error {
	if err := s.authorize("export", secret); err != nil {
		return err
	}

	list, err := s.repo.ListReservations(ctx)
	if err != nil {
		metrics.IncAdminAction("export", "error")
		return fmt.Errorf("list reservations: %w", err)
	}

	if err := writeWorkbook(w, list, s.dateLayout); err != nil {
		metrics.IncAdminAction("export", "error")
		return err
	}
	metrics.IncAdminAction("export", "ok")
	s.logger.Info().Int("rows", len(list)).Msg("Reservations exported")
	return nil
}
