package eventstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "sentinel:window:"

// RedisStore keeps each window as a sorted set scored by event time in milliseconds,
// so counts survive restarts and are shared between collector replicas.
type RedisStore struct {
	rdb       *redis.Client
	retention time.Duration
	logger    *zap.Logger
}

func NewRedisStore(addr string, password string, db int, retention time.Duration, logger *zap.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if retention <= 0 {
		retention = DefaultRetention
	}

	logger.Info("Connected to Redis event store", zap.String("addr", addr), zap.Int("db", db))

	return &RedisStore{
		rdb:       rdb,
		retention: retention,
		logger:    logger,
	}, nil
}

func (s *RedisStore) Record(ctx context.Context, event *models.Event) error {
	score := float64(event.Timestamp.UnixMilli())
	cutoff := strconv.FormatInt(event.Timestamp.Add(-s.retention).UnixMilli(), 10)

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keysFor(event) {
			redisKey := redisKeyPrefix + key.String()
			pipe.ZAdd(ctx, redisKey, redis.Z{Score: score, Member: event.ID})
			pipe.ZRemRangeByScore(ctx, redisKey, "-inf", "("+cutoff)
			pipe.Expire(ctx, redisKey, s.retention)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record event %s: %w", event.ID, err)
	}

	return nil
}

func (s *RedisStore) Count(ctx context.Context, q Query) (int, error) {
	redisKey := redisKeyPrefix + indexKey{q.Index, q.Key}.String()
	from := strconv.FormatInt(q.From.UnixMilli(), 10)
	to := strconv.FormatInt(q.To.UnixMilli(), 10)

	n, err := s.rdb.ZCount(ctx, redisKey, from, to).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", redisKey, err)
	}

	if q.ExcludeID != "" && n > 0 {
		score, err := s.rdb.ZScore(ctx, redisKey, q.ExcludeID).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return 0, fmt.Errorf("failed to check %s: %w", redisKey, err)
		case score >= float64(q.From.UnixMilli()) && score <= float64(q.To.UnixMilli()):
			n--
		}
	}

	return int(n), nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
