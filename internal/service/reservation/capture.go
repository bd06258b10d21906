package reservation

import (
	"context"
	"strings"
	"time"

	"github.com/zhouzirui/foodbot/internal/apperrors"
	"github.com/zhouzirui/foodbot/internal/model/review"
	sessionmodel "github.com/zhouzirui/foodbot/internal/model/session"
)

const opCapture = "review.capture"

// ReviewCapture stages a rating on the session and persists the finished
// review.
type ReviewCapture struct {
	store       review.Store
	defaultName string
	now         func() time.Time
}

// NewReviewCapture returns a capture writing to store. defaultName is used
// when the transport has no display name for the user.
func NewReviewCapture(store review.Store, defaultName string) *ReviewCapture {
	return &ReviewCapture{
		store:       store,
		defaultName: defaultName,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CaptureRating stages rating on the pending review. An out-of-range rating
// or a missing pending review is a Validation error and changes nothing.
func (c *ReviewCapture) CaptureRating(s *sessionmodel.Session, rating int) error {
	if !review.ValidRating(rating) {
		return apperrors.Validationf(opCapture, "rating %d outside [%d,%d]", rating, review.MinRating, review.MaxRating)
	}
	if s.Pending == nil {
		return apperrors.Validationf(opCapture, "no reservation awaiting review")
	}
	s.Pending.Rating = rating
	return nil
}

// CaptureComment persists the staged review with comment. When skip is true
// the review is stored without a comment. The pending review is cleared once
// the store has been tried, whether or not it succeeded.
func (c *ReviewCapture) CaptureComment(ctx context.Context, s *sessionmodel.Session, comment string, skip bool, profile Profile) (*review.Record, error) {
	pending := s.Pending
	if pending == nil || !review.ValidRating(pending.Rating) {
		return nil, apperrors.Validationf(opCapture, "no rated review pending")
	}

	name := strings.TrimSpace(profile.DisplayName)
	if name == "" {
		name = c.defaultName
	}
	record := review.Record{
		UserID:          s.UserID,
		UserDisplayName: name,
		ItemKey:         pending.ItemKey,
		ItemDisplayName: pending.ItemDisplayName,
		Rating:          pending.Rating,
		CreatedAt:       c.now(),
	}
	if !skip {
		record.Comment = strings.TrimSpace(comment)
	}

	s.Pending = nil
	if err := c.store.Add(ctx, record); err != nil {
		return nil, err
	}
	return &record, nil
}
