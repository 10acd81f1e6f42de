package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "arena:run:"
	redisIndexKey  = "arena:runs"
)

// redisStore keeps each record as a JSON value plus a set of ids for
// listing. A TTL lets shared deployments age out old runs; the index
// is repaired lazily as expired ids are encountered.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Store = (*redisStore)(nil)

func newRedisStore(cfg Config) *redisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &redisStore{client: client, ttl: cfg.RedisTTL}
}

func (s *redisStore) Save(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+rec.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set record: %w", err)
	}
	if err := s.client.SAdd(ctx, redisIndexKey, rec.ID).Err(); err != nil {
		return fmt.Errorf("index record: %w", err)
	}
	return nil
}

func (s *redisStore) Get(ctx context.Context, id string) (*Record, error) {
	val, err := s.client.Get(ctx, redisKeyPrefix+id).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}

	rec := &Record{}
	if err := json.Unmarshal([]byte(val), rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, nil
}

func (s *redisStore) List(ctx context.Context) ([]Summary, error) {
	ids, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list index: %w", err)
	}

	sums := make([]Summary, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err == ErrNotFound {
			// Value expired, drop the stale index entry.
			s.client.SRem(ctx, redisIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		sums = append(sums, summarize(rec))
	}
	sortSummaries(sums)
	return sums, nil
}

func (s *redisStore) Delete(ctx context.Context, id string) error {
	deleted, err := s.client.Del(ctx, redisKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if err := s.client.SRem(ctx, redisIndexKey, id).Err(); err != nil {
		return fmt.Errorf("unindex record: %w", err)
	}
	if deleted == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
