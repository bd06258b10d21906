package review

import (
	"context"
	"time"
)

// MinRating and MaxRating bound a review's star rating.
const (
	MinRating = 1
	MaxRating = 5
)

// Record is one append-only review of a catalog item.
type Record struct {
	ID              int64     `json:"id,omitempty"`
	UserID          string    `json:"userId"`
	UserDisplayName string    `json:"userDisplayName"`
	ItemKey         string    `json:"itemKey"`
	ItemDisplayName string    `json:"itemDisplayName"`
	Rating          int       `json:"rating"`
	Comment         string    `json:"comment,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Aggregate summarizes the ratings of one item. The zero value means no reviews.
type Aggregate struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

// ValidRating reports whether r is within [MinRating, MaxRating].
func ValidRating(r int) bool {
	return r >= MinRating && r <= MaxRating
}

// Store persists review records. Implementations return records most recent
// first and never fail Aggregate for an unknown key: it yields the zero value.
type Store interface {
	Add(ctx context.Context, record Record) error
	ByItem(ctx context.Context, itemKey string) ([]Record, error)
	ByUser(ctx context.Context, userID string) ([]Record, error)
	Aggregate(ctx context.Context, itemKey string) (Aggregate, error)
}
