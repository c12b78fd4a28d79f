package session

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	s := NewMemoryStore(time.Hour)
	s.now = func() time.Time { return now }

	token, err := s.Create(ctx, "alice@example.com")
	require.NoError(t, err)
	_, err = uuid.Parse(token)
	assert.NoError(t, err)

	email, err := s.Get(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)

	_, err = s.Get(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	now = now.Add(time.Hour)
	_, err = s.Get(ctx, token)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, s.Len())

	token, err = s.Create(ctx, "bob@example.com")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, token))
	_, err = s.Get(ctx, token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CreateSweepsExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	s := NewMemoryStore(time.Minute)
	s.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := s.Create(ctx, "alice@example.com")
		require.NoError(t, err)
	}
	now = now.Add(2 * time.Minute)
	_, err := s.Create(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client, time.Hour)
	require.NoError(t, s.Ping(ctx))

	token, err := s.Create(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL("session:"+token))

	email, err := s.Get(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)

	mr.FastForward(time.Hour)
	_, err = s.Get(ctx, token)
	assert.ErrorIs(t, err, ErrNotFound)

	token, err = s.Create(ctx, "bob@example.com")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, token))
	assert.False(t, mr.Exists("session:"+token))

	mr.Close()
	_, err = s.Get(ctx, token)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Create(ctx context.Context, email string) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

func (m *mockStore) Get(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

func (m *mockStore) Delete(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

func TestFailoverStore(t *testing.T) {
	primary := new(mockStore)
	fallback := new(mockStore)
	logger := zerolog.New(io.Discard)
	s := NewFailoverStore(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Create", ctx, "alice@example.com").Return("t1", nil).Once()

		token, err := s.Create(ctx, "alice@example.com")
		assert.NoError(t, err)
		assert.Equal(t, "t1", token)
		assert.False(t, s.Degraded())
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryMissFallsThrough", func(t *testing.T) {
		primary.On("Get", ctx, "t0").Return("", ErrNotFound).Once()
		fallback.On("Get", ctx, "t0").Return("carol@example.com", nil).Once()

		email, err := s.Get(ctx, "t0")
		assert.NoError(t, err)
		assert.Equal(t, "carol@example.com", email)
		assert.False(t, s.Degraded())
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("Create", ctx, "bob@example.com").Return("", errors.New("connection refused")).Once()
		fallback.On("Create", ctx, "bob@example.com").Return("t2", nil).Once()

		token, err := s.Create(ctx, "bob@example.com")
		assert.NoError(t, err)
		assert.Equal(t, "t2", token)
		assert.True(t, s.Degraded())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("DegradedSkipsPrimary", func(t *testing.T) {
		fallback.On("Get", ctx, "t2").Return("bob@example.com", nil).Once()

		email, err := s.Get(ctx, "t2")
		assert.NoError(t, err)
		assert.Equal(t, "bob@example.com", email)
		primary.AssertNotCalled(t, "Get", ctx, "t2")
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		s.mu.Lock()
		s.lastCheck = time.Now().Add(-2 * time.Minute)
		s.mu.Unlock()

		primary.On("Get", ctx, "t1").Return("alice@example.com", nil).Once()

		email, err := s.Get(ctx, "t1")
		assert.NoError(t, err)
		assert.Equal(t, "alice@example.com", email)
		assert.False(t, s.Degraded())
		primary.AssertExpectations(t)
	})

	t.Run("DeleteBoth", func(t *testing.T) {
		primary.On("Delete", ctx, "t1").Return(nil).Once()
		fallback.On("Delete", ctx, "t1").Return(nil).Once()

		assert.NoError(t, s.Delete(ctx, "t1"))
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})
}

func TestNewFailoverStore_NilLogger(t *testing.T) {
	ctx := context.Background()
	s := NewFailoverStore(NewMemoryStore(time.Hour), NewMemoryStore(time.Hour), nil)

	token, err := s.Create(ctx, "alice@example.com")
	require.NoError(t, err)
	email, err := s.Get(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)
}

func TestFailoverStore_WithRedisAndMemory(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()

	logger := zerolog.New(io.Discard)
	s := NewFailoverStore(NewRedisStore(client, time.Hour), NewMemoryStore(time.Hour), &logger)

	mr.Close()

	token, err := s.Create(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, s.Degraded())

	email, err := s.Get(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)
}
