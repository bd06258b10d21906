// Package cache puts a Redis read-through cache in front of review
// aggregates, which are read on every item list.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/foodbot/internal/model/review"
)

const (
	DefaultTTL = 5 * time.Minute
	keyPrefix  = "foodbot:aggregate:"
)

// AggregateStore wraps a review.Store. Cache faults are logged and the
// wrapped store answers instead; they never fail a call.
type AggregateStore struct {
	review.Store
	rdb *redis.Client
	ttl time.Duration
}

var _ review.Store = (*AggregateStore)(nil)

// NewAggregateStore returns next wrapped with a cache. A nil client disables
// caching.
func NewAggregateStore(next review.Store, rdb *redis.Client, ttl time.Duration) *AggregateStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &AggregateStore{Store: next, rdb: rdb, ttl: ttl}
}

// Add stores the record and drops the cached aggregate of its item.
func (s *AggregateStore) Add(ctx context.Context, r review.Record) error {
	if err := s.Store.Add(ctx, r); err != nil {
		return err
	}
	if s.rdb != nil {
		if err := s.rdb.Del(ctx, keyPrefix+r.ItemKey).Err(); err != nil {
			log.WithError(err).WithField("item", r.ItemKey).Warn("failed to invalidate cached aggregate")
		}
	}
	return nil
}

// Aggregate serves from Redis when possible.
func (s *AggregateStore) Aggregate(ctx context.Context, itemKey string) (review.Aggregate, error) {
	if s.rdb == nil {
		return s.Store.Aggregate(ctx, itemKey)
	}

	key := keyPrefix + itemKey
	raw, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var agg review.Aggregate
		if jsonErr := json.Unmarshal(raw, &agg); jsonErr == nil {
			return agg, nil
		}
	case err != redis.Nil:
		log.WithError(err).Debug("aggregate cache unavailable")
		return s.Store.Aggregate(ctx, itemKey)
	}

	agg, err := s.Store.Aggregate(ctx, itemKey)
	if err != nil {
		return agg, err
	}
	if body, err := json.Marshal(agg); err == nil {
		if err := s.rdb.Set(ctx, key, body, s.ttl).Err(); err != nil {
			log.WithError(err).Debug("failed to cache aggregate")
		}
	}
	return agg, nil
}

// NewClient connects to Redis at addr and pings it. It returns nil when the
// server cannot be reached so callers run without the cache.
func NewClient(ctx context.Context, addr, password string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).WithField("addr", addr).Warn("redis unavailable, aggregate cache disabled")
		_ = client.Close()
		return nil
	}
	return client
}
