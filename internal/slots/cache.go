package slots

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"washbook/internal/events"
	"washbook/internal/models"
)

const (
	cacheKeyPrefix = "dayview:"
	genKeyPrefix   = "dayview_gen:"
	epochKey       = "dayview_epoch"

	genKeyTTL = 7 * 24 * time.Hour
)

var errStaleView = errors.New("day view invalidated while building")

// DayViewCache stores rendered day views keyed by stored date. Get returns
// a version token on a miss; Set only stores the view when the date has not
// been invalidated since that token was read.
type DayViewCache interface {
	Get(ctx context.Context, date string) (view *models.DayView, version string, ok bool)
	Set(ctx context.Context, date string, view *models.DayView, version string)
	Invalidate(ctx context.Context, date string) error
	Flush(ctx context.Context) error
}

// RedisCache keeps day views in Redis with a TTL. Read and write failures
// fall through to the database.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zerolog.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zerolog.Logger) *RedisCache {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "dayview_cache").Logger()
	return &RedisCache{client: client, ttl: ttl, logger: &l}
}

func (c *RedisCache) Get(ctx context.Context, date string) (*models.DayView, string, bool) {
	vals, err := c.client.MGet(ctx, cacheKeyPrefix+date, genKeyPrefix+date, epochKey).Result()
	if err != nil {
		c.logger.Debug().Err(err).Str("date", date).Msg("Cache read failed")
		return nil, "", false
	}
	version := versionOf(vals[1], vals[2])

	raw, ok := vals[0].(string)
	if !ok {
		return nil, version, false
	}
	var view models.DayView
	if err := json.Unmarshal([]byte(raw), &view); err != nil {
		return nil, version, false
	}
	return &view, version, true
}

func (c *RedisCache) Set(ctx context.Context, date string, view *models.DayView, version string) {
	if version == "" {
		return
	}
	data, err := json.Marshal(view)
	if err != nil {
		return
	}

	gen := genKeyPrefix + date
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		vals, err := tx.MGet(ctx, gen, epochKey).Result()
		if err != nil {
			return err
		}
		if versionOf(vals[0], vals[1]) != version {
			return errStaleView
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKeyPrefix+date, data, c.ttl)
			return nil
		})
		return err
	}, gen, epochKey)

	switch {
	case err == nil:
	case errors.Is(err, errStaleView), errors.Is(err, redis.TxFailedErr):
		c.logger.Debug().Str("date", date).Msg("Skipped caching stale day view")
	default:
		c.logger.Debug().Err(err).Str("date", date).Msg("Cache write failed")
	}
}

// Invalidate drops the cached view of date and bumps its generation so that
// views built before the call are not written back.
func (c *RedisCache) Invalidate(ctx context.Context, date string) error {
	gen := genKeyPrefix + date
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, gen)
		pipe.Expire(ctx, gen, genKeyTTL)
		pipe.Del(ctx, cacheKeyPrefix+date)
		return nil
	})
	return err
}

// Flush drops every cached day view.
func (c *RedisCache) Flush(ctx context.Context) error {
	if err := c.client.Incr(ctx, epochKey).Err(); err != nil {
		return err
	}

	iter := c.client.Scan(ctx, 0, cacheKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func versionOf(gen, epoch any) string {
	str := func(v any) string {
		if s, ok := v.(string); ok {
			return s
		}
		return "0"
	}
	return str(epoch) + ":" + str(gen)
}

// InvalidationHandler drops cached views affected by reservation events.
func InvalidationHandler(cache DayViewCache) events.EventHandler {
	return func(e events.Event) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if e.Type == events.ReservationsPurged || e.Date == "" {
			return cache.Flush(ctx)
		}
		return cache.Invalidate(ctx, e.Date)
	}
}
