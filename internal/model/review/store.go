package review

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zhouzirui/foodbot/internal/apperrors"
)

// MemoryStore implements Store in process memory. Tests use it; the service
// always persists to SQLite.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	nextID  int64
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: func() time.Time { return time.Now().UTC() }}
}

// Add appends a record, assigning its ID and, when unset, its creation time.
func (s *MemoryStore) Add(_ context.Context, record Record) error {
	if !ValidRating(record.Rating) {
		return apperrors.Validationf("review.add", "rating %d out of range", record.Rating)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	record.ID = s.nextID
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}
	s.records = append(s.records, record)
	return nil
}

// ByItem returns the reviews of an item, most recent first.
func (s *MemoryStore) ByItem(_ context.Context, itemKey string) ([]Record, error) {
	return s.filter(func(r Record) bool { return r.ItemKey == itemKey }), nil
}

// ByUser returns the reviews written by a user, most recent first.
func (s *MemoryStore) ByUser(_ context.Context, userID string) ([]Record, error) {
	return s.filter(func(r Record) bool { return r.UserID == userID }), nil
}

// Aggregate returns the average rating and count for an item.
func (s *MemoryStore) Aggregate(_ context.Context, itemKey string) (Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum, count int
	for _, r := range s.records {
		if r.ItemKey == itemKey {
			sum += r.Rating
			count++
		}
	}
	if count == 0 {
		return Aggregate{}, nil
	}
	return Aggregate{Average: Round(float64(sum) / float64(count)), Count: count}, nil
}

func (s *MemoryStore) filter(keep func(Record) bool) []Record {
	s.mu.RLock()
	out := make([]Record, 0)
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Round rounds an average to one decimal place.
func Round(avg float64) float64 {
	return float64(int64(avg*10+0.5)) / 10
}
