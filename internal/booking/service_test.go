package booking

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"washbook/internal/database"
	"washbook/internal/events"
	"washbook/internal/models"
	"washbook/internal/slots"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) CreateReservationWithCap(ctx context.Context, r *models.Reservation, maxPerDay int) (*models.Reservation, error) {
	args := m.Called(ctx, r, maxPerDay)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Reservation), args.Error(1)
}

func (m *mockRepo) ListReservationsByEmail(ctx context.Context, email string, descending bool) ([]models.Reservation, error) {
	args := m.Called(ctx, email, descending)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Reservation), args.Error(1)
}

func (m *mockRepo) DeleteOwnedReservation(ctx context.Context, id int64, email string) (*models.Reservation, error) {
	args := m.Called(ctx, id, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Reservation), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(e events.Event) { m.Called(e) }

var fixedNow = time.Date(2025, 5, 30, 10, 0, 0, 0, time.UTC)

func newTestService(repo Repository, bus events.Publisher, rules Rules) *Service {
	logger := zerolog.New(io.Discard)
	rules.Location = time.UTC
	svc := NewService(repo, slots.DefaultGrid(), rules, bus, &logger)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestService_BookValidation(t *testing.T) {
	repo := new(mockRepo)
	svc := newTestService(repo, nil, Rules{MaxPerDay: 2, RejectPastDates: true})
	ctx := context.Background()

	valid := Request{Date: "2025-06-01", Time: "08:00", Room: "101", Machine: "M1"}

	tests := []struct {
		name  string
		req   func(r Request) Request
		field string
	}{
		{"missing date", func(r Request) Request { r.Date = ""; return r }, "date"},
		{"missing time", func(r Request) Request { r.Time = " "; return r }, "time"},
		{"missing room", func(r Request) Request { r.Room = ""; return r }, "room"},
		{"missing machine", func(r Request) Request { r.Machine = ""; return r }, "machine"},
		{"bad date", func(r Request) Request { r.Date = "June 1st"; return r }, "date"},
		{"off-grid time", func(r Request) Request { r.Time = "08:30"; return r }, "time"},
		{"padded time", func(r Request) Request { r.Time = " 08:00"; return r }, "time"},
		{"unknown machine", func(r Request) Request { r.Machine = "M9"; return r }, "machine"},
		{"past date", func(r Request) Request { r.Date = "2025-05-29"; return r }, "date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Book(ctx, "alice@example.com", tt.req(valid))

			var vErr *models.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}

	t.Run("no identity", func(t *testing.T) {
		_, err := svc.Book(ctx, "", valid)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	repo.AssertNotCalled(t, "CreateReservationWithCap", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Book(t *testing.T) {
	ctx := context.Background()

	t.Run("success normalizes date and publishes", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockPublisher)
		svc := newTestService(repo, bus, Rules{MaxPerDay: 2, RejectPastDates: true})

		want := &models.Reservation{Email: "alice@example.com", Room: " 101 ", Date: "2025-06-01", Time: "08:00", Machine: "M1"}
		created := *want
		created.ID = 1
		repo.On("CreateReservationWithCap", ctx, want, 2).Return(&created, nil).Once()
		bus.On("Publish", mock.MatchedBy(func(e events.Event) bool {
			return e.Type == events.ReservationCreated && e.ID == 1 && e.Date == "2025-06-01"
		})).Once()

		got, err := svc.Book(ctx, "alice@example.com", Request{Date: "01-06-2025", Time: "08:00", Room: " 101 ", Machine: "M1"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.ID)
		repo.AssertExpectations(t)
		bus.AssertExpectations(t)
	})

	t.Run("today is bookable", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, Rules{MaxPerDay: 2, RejectPastDates: true})
		repo.On("CreateReservationWithCap", ctx, mock.Anything, 2).Return(&models.Reservation{ID: 5, Date: "2025-05-30"}, nil).Once()

		_, err := svc.Book(ctx, "alice@example.com", Request{Date: "2025-05-30", Time: "22:00", Room: "101", Machine: "M4"})
		assert.NoError(t, err)
	})

	t.Run("past date allowed when rule is off", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, Rules{MaxPerDay: 2})
		repo.On("CreateReservationWithCap", ctx, mock.Anything, 2).Return(&models.Reservation{ID: 6, Date: "2020-01-01"}, nil).Once()

		_, err := svc.Book(ctx, "alice@example.com", Request{Date: "2020-01-01", Time: "08:00", Room: "101", Machine: "M1"})
		assert.NoError(t, err)
	})

	errCases := []struct {
		name    string
		repoErr error
		want    error
	}{
		{"cap", database.ErrDailyCapExceeded, ErrDailyCapExceeded},
		{"conflict", database.ErrSlotTaken, ErrSlotConflict},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			repo := new(mockRepo)
			bus := new(mockPublisher)
			svc := newTestService(repo, bus, Rules{MaxPerDay: 2})
			repo.On("CreateReservationWithCap", ctx, mock.Anything, 2).Return(nil, tc.repoErr).Once()

			_, err := svc.Book(ctx, "alice@example.com", Request{Date: "2025-06-01", Time: "08:00", Room: "101", Machine: "M1"})
			assert.ErrorIs(t, err, tc.want)
			bus.AssertNotCalled(t, "Publish", mock.Anything)
		})
	}

	t.Run("storage failure is wrapped", func(t *testing.T) {
		boom := errors.New("disk full")
		repo := new(mockRepo)
		svc := newTestService(repo, nil, Rules{MaxPerDay: 2})
		repo.On("CreateReservationWithCap", ctx, mock.Anything, 2).Return(nil, boom).Once()

		_, err := svc.Book(ctx, "alice@example.com", Request{Date: "2025-06-01", Time: "08:00", Room: "101", Machine: "M1"})
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, ErrSlotConflict)
	})
}

func TestService_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("owner", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockPublisher)
		svc := newTestService(repo, bus, Rules{})
		repo.On("DeleteOwnedReservation", ctx, int64(3), "alice@example.com").
			Return(&models.Reservation{ID: 3, Date: "2025-06-01"}, nil).Once()
		bus.On("Publish", mock.MatchedBy(func(e events.Event) bool {
			return e.Type == events.ReservationCancelled && e.Date == "2025-06-01"
		})).Once()

		assert.NoError(t, svc.Cancel(ctx, "alice@example.com", 3))
		bus.AssertExpectations(t)
	})

	t.Run("not owner or missing", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, Rules{})
		repo.On("DeleteOwnedReservation", ctx, int64(3), "bob@example.com").Return(nil, database.ErrNotFound).Once()

		assert.ErrorIs(t, svc.Cancel(ctx, "bob@example.com", 3), ErrNotFound)
	})

	t.Run("bad id", func(t *testing.T) {
		svc := newTestService(new(mockRepo), nil, Rules{})
		var vErr *models.ValidationError
		assert.ErrorAs(t, svc.Cancel(ctx, "bob@example.com", 0), &vErr)
	})

	t.Run("no identity", func(t *testing.T) {
		svc := newTestService(new(mockRepo), nil, Rules{})
		assert.ErrorIs(t, svc.Cancel(ctx, "", 3), ErrUnauthenticated)
	})
}

func TestService_ListMine(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepo)
	svc := newTestService(repo, nil, Rules{Descending: true})

	repo.On("ListReservationsByEmail", ctx, "alice@example.com", true).
		Return([]models.Reservation{{ID: 2}, {ID: 1}}, nil).Once()

	list, err := svc.ListMine(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = svc.ListMine(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func newStoreService(t *testing.T) (*Service, *database.DB) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "washbook.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return newTestService(db, nil, Rules{MaxPerDay: 2, RejectPastDates: true}), db
}

func TestService_BookingScenario(t *testing.T) {
	svc, db := newStoreService(t)
	ctx := context.Background()
	alice, bob := "alice@example.com", "bob@example.com"

	first, err := svc.Book(ctx, alice, Request{Date: "2025-06-01", Time: "08:00", Room: "101", Machine: "M1"})
	require.NoError(t, err)

	_, err = svc.Book(ctx, bob, Request{Date: "2025-06-01", Time: "08:00", Room: "202", Machine: "M1"})
	assert.ErrorIs(t, err, ErrSlotConflict)

	_, err = svc.Book(ctx, alice, Request{Date: "01-06-2025", Time: "09:00", Room: "101", Machine: "M2"})
	require.NoError(t, err)

	_, err = svc.Book(ctx, alice, Request{Date: "2025-06-01", Time: "10:00", Room: "101", Machine: "M3"})
	assert.ErrorIs(t, err, ErrDailyCapExceeded)

	assert.ErrorIs(t, svc.Cancel(ctx, bob, first.ID), ErrNotFound)
	require.NoError(t, svc.Cancel(ctx, alice, first.ID))

	_, err = svc.Book(ctx, bob, Request{Date: "2025-06-01", Time: "08:00", Room: "202", Machine: "M1"})
	require.NoError(t, err)

	view, err := slots.NewEngine(db, slots.DefaultGrid()).DayView(ctx, "2025-06-01")
	require.NoError(t, err)
	booked := 0
	for _, ts := range view.TimeSlots {
		for _, m := range ts.Machines {
			if m.Booked {
				booked++
			}
		}
	}
	assert.Equal(t, 2, booked)

	mine, err := svc.ListMine(ctx, alice)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "09:00", mine[0].Time)
}

func TestService_ListMineReturnsBookedFields(t *testing.T) {
	svc, _ := newStoreService(t)
	ctx := context.Background()

	req := Request{Date: "2025-06-02", Time: "21:00", Room: " 101 ", Machine: "M3"}
	created, err := svc.Book(ctx, "alice@example.com", req)
	require.NoError(t, err)

	mine, err := svc.ListMine(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Len(t, mine, 1)

	got := mine[0]
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.Equal(t, req.Room, got.Room)
	assert.Equal(t, req.Date, got.Date)
	assert.Equal(t, req.Time, got.Time)
	assert.Equal(t, req.Machine, got.Machine)
}

func TestNewService_NilLogger(t *testing.T) {
	svc := NewService(new(mockRepo), slots.DefaultGrid(), Rules{}, nil, nil)
	require.NotNil(t, svc)
	assert.Equal(t, 2, svc.Rules().MaxPerDay)
}

func TestService_ConcurrentBookSameSlot(t *testing.T) {
	svc, _ := newStoreService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, who := range []string{"alice@example.com", "bob@example.com"} {
		wg.Add(1)
		go func(i int, who string) {
			defer wg.Done()
			_, errs[i] = svc.Book(ctx, who, Request{Date: "2025-06-01", Time: "12:00", Room: "101", Machine: "M2"})
		}(i, who)
	}
	wg.Wait()

	success := 0
	for _, err := range errs {
		if err == nil {
			success++
			continue
		}
		assert.ErrorIs(t, err, ErrSlotConflict)
	}
	assert.Equal(t, 1, success)
}
