package slots

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"washbook/internal/models"
)

// BookedBy selects how a booked cell names its owner.
type BookedBy string

const (
	BookedByRoom      BookedBy = "room"
	BookedByLocalPart BookedBy = "local_part"
)

// ReservationLister returns every reservation on a stored date.
type ReservationLister interface {
	ListReservationsByDate(ctx context.Context, date string) ([]models.Reservation, error)
}

// Engine builds day views from the grid and the stored reservations.
type Engine struct {
	lister   ReservationLister
	grid     Grid
	bookedBy BookedBy
	cache    DayViewCache
	logger   *zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithBookedBy(b BookedBy) Option {
	return func(e *Engine) { e.bookedBy = b }
}

func WithCache(c DayViewCache) Option {
	return func(e *Engine) { e.cache = c }
}

func WithLogger(l *zerolog.Logger) Option {
	return func(e *Engine) {
		if l == nil {
			return
		}
		child := l.With().Str("component", "slots").Logger()
		e.logger = &child
	}
}

func NewEngine(lister ReservationLister, grid Grid, opts ...Option) *Engine {
	nop := zerolog.Nop()
	e := &Engine{
		lister:   lister,
		grid:     grid,
		bookedBy: BookedByRoom,
		logger:   &nop,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Grid returns the configured grid.
func (e *Engine) Grid() Grid {
	return e.grid
}

// DayView returns the full grid for date with booking state. date may be in
// either accepted layout; the view carries the stored layout.
func (e *Engine) DayView(ctx context.Context, date string) (*models.DayView, error) {
	if strings.TrimSpace(date) == "" {
		return nil, models.Invalid("date", "date is required")
	}
	day, err := models.NormalizeDay(date)
	if err != nil {
		return nil, models.Invalid("date", err.Error())
	}

	var version string
	if e.cache != nil {
		view, v, ok := e.cache.Get(ctx, day)
		if ok {
			return view, nil
		}
		version = v
	}

	reservations, err := e.lister.ListReservationsByDate(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("list reservations for %s: %w", day, err)
	}

	view := Build(e.grid, day, reservations, e.bookedBy)

	if e.cache != nil {
		e.cache.Set(ctx, day, view, version)
	}
	return view, nil
}

// Build lays reservations onto the grid. Reservations for unknown times or
// machines are ignored.
func Build(grid Grid, day string, reservations []models.Reservation, bookedBy BookedBy) *models.DayView {
	type cell struct{ time, machine string }
	taken := make(map[cell]string, len(reservations))
	for _, r := range reservations {
		taken[cell{r.Time, r.Machine}] = ownerLabel(r, bookedBy)
	}

	times := grid.Times()
	view := &models.DayView{Date: day, TimeSlots: make([]models.TimeSlot, 0, len(times))}
	for _, t := range times {
		ts := models.TimeSlot{Time: t, Machines: make([]models.MachineSlot, 0, len(grid.Machines))}
		for _, m := range grid.Machines {
			label, booked := taken[cell{t, m}]
			ts.Machines = append(ts.Machines, models.MachineSlot{Name: m, Booked: booked, BookedBy: label})
		}
		view.TimeSlots = append(view.TimeSlots, ts)
	}
	return view
}

func ownerLabel(r models.Reservation, bookedBy BookedBy) string {
	if bookedBy == BookedByLocalPart {
		return r.Owner()
	}
	return r.Room
}
