package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverStore uses primary (Redis) and switches to fallback (memory) while
// the primary is failing. The primary is retried once per recoveryInterval.
type FailoverStore struct {
	primary  Store
	fallback Store
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverStore(primary, fallback Store, logger *zerolog.Logger) *FailoverStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "session_failover").Logger()
	return &FailoverStore{primary: primary, fallback: fallback, logger: &l}
}

// Degraded reports whether requests are served by the fallback.
func (s *FailoverStore) Degraded() bool {
	return s.isDown.Load()
}

func (s *FailoverStore) usePrimary() bool {
	if !s.isDown.Load() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastCheck) >= recoveryInterval {
		s.lastCheck = time.Now()
		return true
	}
	return false
}

func (s *FailoverStore) markDown(err error) {
	if !s.isDown.Swap(true) {
		s.logger.Error().Err(err).Msg("Session primary store failed, switching to fallback")
	}
	s.mu.Lock()
	s.lastCheck = time.Now()
	s.mu.Unlock()
}

func (s *FailoverStore) markUp() {
	if s.isDown.Swap(false) {
		s.logger.Info().Msg("Session primary store recovered")
	}
}

func (s *FailoverStore) Create(ctx context.Context, email string) (string, error) {
	if s.usePrimary() {
		token, err := s.primary.Create(ctx, email)
		if err == nil {
			s.markUp()
			return token, nil
		}
		s.markDown(err)
	}
	return s.fallback.Create(ctx, email)
}

// Get consults the fallback as well, so sessions opened during an outage
// survive the primary's recovery.
func (s *FailoverStore) Get(ctx context.Context, token string) (string, error) {
	if s.usePrimary() {
		email, err := s.primary.Get(ctx, token)
		switch {
		case err == nil:
			s.markUp()
			return email, nil
		case errors.Is(err, ErrNotFound):
			s.markUp()
		default:
			s.markDown(err)
		}
	}
	return s.fallback.Get(ctx, token)
}

func (s *FailoverStore) Delete(ctx context.Context, token string) error {
	if s.usePrimary() {
		if err := s.primary.Delete(ctx, token); err != nil {
			s.markDown(err)
		} else {
			s.markUp()
		}
	}
	return s.fallback.Delete(ctx, token)
}
