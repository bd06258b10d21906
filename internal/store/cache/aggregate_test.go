package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/foodbot/internal/model/review"
)

type countingStore struct {
	*review.MemoryStore
	aggregates int
}

func (s *countingStore) Aggregate(ctx context.Context, key string) (review.Aggregate, error) {
	s.aggregates++
	return s.MemoryStore.Aggregate(ctx, key)
}

func TestWithoutClientPassesThrough(t *testing.T) {
	next := &countingStore{MemoryStore: review.NewMemoryStore()}
	store := NewAggregateStore(next, nil, 0)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, review.Record{ItemKey: "k", Rating: 4}))
	agg, err := store.Aggregate(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, review.Aggregate{Average: 4, Count: 1}, agg)
	require.Equal(t, 1, next.aggregates)

	records, err := store.ByItem(ctx, "k")
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestUnreachableRedisFallsBackToStore(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { rdb.Close() })

	next := &countingStore{MemoryStore: review.NewMemoryStore()}
	store := NewAggregateStore(next, rdb, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, review.Record{ItemKey: "k", Rating: 2}))
	agg, err := store.Aggregate(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, review.Aggregate{Average: 2, Count: 1}, agg)
	require.Equal(t, 1, next.aggregates)
}

func TestNewClientWithoutAddress(t *testing.T) {
	require.Nil(t, NewClient(context.Background(), "", "", 0))
}
