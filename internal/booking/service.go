package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"washbook/internal/database"
	"washbook/internal/events"
	"washbook/internal/metrics"
	"washbook/internal/models"
	"washbook/internal/slots"
)

var (
	ErrUnauthenticated  = errors.New("not logged in")
	ErrSlotConflict     = errors.New("slot already booked")
	ErrDailyCapExceeded = errors.New("daily reservation limit reached")
	ErrNotFound         = errors.New("reservation not found")
)

// Repository is the subset of the reservation store used by bookings.
type Repository interface {
	CreateReservationWithCap(ctx context.Context, r *models.Reservation, maxPerDay int) (*models.Reservation, error)
	ListReservationsByEmail(ctx context.Context, email string, descending bool) ([]models.Reservation, error)
	DeleteOwnedReservation(ctx context.Context, id int64, email string) (*models.Reservation, error)
}

// Rules are the configurable booking policies.
type Rules struct {
	MaxPerDay       int
	RejectPastDates bool
	Descending      bool
	Location        *time.Location
}

// Request is a booking attempt. Date accepts YYYY-MM-DD or DD-MM-YYYY.
type Request struct {
	Date    string `json:"date"`
	Time    string `json:"time"`
	Room    string `json:"room"`
	Machine string `json:"machine"`
}

type Service struct {
	repo   Repository
	grid   slots.Grid
	rules  Rules
	bus    events.Publisher
	logger *zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, grid slots.Grid, rules Rules, bus events.Publisher, logger *zerolog.Logger) *Service {
	if rules.MaxPerDay <= 0 {
		rules.MaxPerDay = 2
	}
	if rules.Location == nil {
		rules.Location = time.Local
	}
	if bus == nil {
		bus = events.Discard{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "booking").Logger()
	return &Service{
		repo:   repo,
		grid:   grid,
		rules:  rules,
		bus:    bus,
		logger: &l,
		now:    time.Now,
	}
}

// Rules returns the active policies.
func (s *Service) Rules() Rules {
	return s.rules
}

// Book reserves one machine slot for identity.
func (s *Service) Book(ctx context.Context, identity string, req Request) (*models.Reservation, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, ErrUnauthenticated
	}

	r, err := s.validate(identity, req)
	if err != nil {
		metrics.IncBookingCreated("invalid")
		return nil, err
	}

	created, err := s.repo.CreateReservationWithCap(ctx, r, s.rules.MaxPerDay)
	switch {
	case errors.Is(err, database.ErrDailyCapExceeded):
		metrics.IncBookingCreated("cap")
		return nil, ErrDailyCapExceeded
	case errors.Is(err, database.ErrSlotTaken):
		metrics.IncBookingCreated("conflict")
		return nil, ErrSlotConflict
	case err != nil:
		metrics.IncBookingCreated("error")
		return nil, fmt.Errorf("create reservation: %w", err)
	}

	metrics.IncBookingCreated("success")
	s.logger.Info().
		Int64("id", created.ID).
		Str("email", created.Email).
		Str("date", created.Date).
		Str("time", created.Time).
		Str("machine", created.Machine).
		Msg("Reservation created")

	s.bus.Publish(events.Event{
		Type:  events.ReservationCreated,
		ID:    created.ID,
		Date:  created.Date,
		Actor: created.Email,
	})
	return created, nil
}

func (s *Service) validate(identity string, req Request) (*models.Reservation, error) {
	blank := func(v string) bool { return strings.TrimSpace(v) == "" }

	switch {
	case blank(req.Date):
		return nil, models.Invalid("date", "date is required")
	case blank(req.Time):
		return nil, models.Invalid("time", "time is required")
	case blank(req.Room):
		return nil, models.Invalid("room", "room is required")
	case blank(req.Machine):
		return nil, models.Invalid("machine", "machine is required")
	}

	// Time and machine must match a grid label exactly; the stored row
	// carries them (and the room) exactly as given.
	day, err := models.ParseDay(strings.TrimSpace(req.Date))
	if err != nil {
		return nil, models.Invalid("date", err.Error())
	}
	if !s.grid.HasTime(req.Time) {
		return nil, models.Invalid("time", fmt.Sprintf("%q is not a bookable time", req.Time))
	}
	if !s.grid.HasMachine(req.Machine) {
		return nil, models.Invalid("machine", fmt.Sprintf("unknown machine %q", req.Machine))
	}

	if s.rules.RejectPastDates {
		now := s.now().In(s.rules.Location)
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		if day.Before(today) {
			return nil, models.Invalid("date", "date is in the past")
		}
	}

	return &models.Reservation{
		Email:   strings.TrimSpace(identity),
		Room:    req.Room,
		Date:    day.Format(models.StorageDateLayout),
		Time:    req.Time,
		Machine: req.Machine,
	}, nil
}

// Cancel deletes reservation id when identity owns it. A foreign or missing
// id yields ErrNotFound.
func (s *Service) Cancel(ctx context.Context, identity string, id int64) error {
	if strings.TrimSpace(identity) == "" {
		return ErrUnauthenticated
	}
	if id <= 0 {
		return models.Invalid("id", "id is required")
	}

	deleted, err := s.repo.DeleteOwnedReservation(ctx, id, identity)
	if errors.Is(err, database.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete reservation %d: %w", id, err)
	}

	metrics.IncBookingCancelled()
	s.logger.Info().Int64("id", id).Str("email", identity).Str("date", deleted.Date).Msg("Reservation cancelled")

	s.bus.Publish(events.Event{
		Type:  events.ReservationCancelled,
		ID:    id,
		Date:  deleted.Date,
		Actor: identity,
	})
	return nil
}

// ListMine returns the reservations of identity ordered by date and time.
func (s *Service) ListMine(ctx context.Context, identity string) ([]models.Reservation, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, ErrUnauthenticated
	}
	list, err := s.repo.ListReservationsByEmail(ctx, identity, s.rules.Descending)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return list, nil
}
