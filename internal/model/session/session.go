package session

import (
	"context"

	"github.com/zhouzirui/foodbot/internal/model/schedule"
)

// State is a position in the reservation workflow.
type State string

const (
	StateAnonymous             State = "anonymous"
	StateAwaitingUsername      State = "awaiting_username"
	StateAwaitingPassword      State = "awaiting_password"
	StateAuthenticatedIdle     State = "authenticated_idle"
	StateDayList               State = "day_list"
	StateItemList              State = "item_list"
	StateItemDetail            State = "item_detail"
	StateConfirming            State = "confirming"
	StateAwaitingReviewRating  State = "awaiting_review_rating"
	StateAwaitingReviewComment State = "awaiting_review_comment"
)

// Authenticated reports whether a live portal handle must exist in s.
func (s State) Authenticated() bool {
	switch s {
	case StateAnonymous, StateAwaitingUsername, StateAwaitingPassword, "":
		return false
	default:
		return true
	}
}

// HoldsSelection reports whether the selected item is meaningful in s.
func (s State) HoldsSelection() bool {
	switch s {
	case StateItemDetail, StateConfirming, StateAwaitingReviewRating, StateAwaitingReviewComment:
		return true
	default:
		return false
	}
}

// Portal is the authenticated portal handle bound to one session.
type Portal interface {
	FetchSchedule(ctx context.Context) (schedule.Catalog, error)
	SubmitReservation(ctx context.Context, payload schedule.RawPayload) (schedule.Submission, error)
	Close()
}

// PendingReview is staged between a confirmed reservation and the review
// comment. Rating is zero until the user picks one.
type PendingReview struct {
	ItemKey         string
	ItemDisplayName string
	Rating          int
}

// MessageRef identifies a message previously sent through a gateway.
type MessageRef struct {
	ChatID    string
	MessageID string
}

// IsZero reports whether ref points to no message.
func (r MessageRef) IsZero() bool { return r.MessageID == "" }

// Session is the per-user workflow state. It lives only in process memory.
type Session struct {
	UserID   string
	State    State
	Username string

	Portal  Portal
	Catalog *schedule.Catalog

	SelectedDay int
	// SelectedItem is the key of the opened item and SelectedIndex its
	// position in Catalog; keys may repeat within one schedule.
	SelectedItem  string
	SelectedIndex int
	Pending       *PendingReview

	// LastMessage is the bot message the user last interacted with; it is
	// edited in place when possible.
	LastMessage MessageRef

	generation int
}

// New returns an anonymous session for userID.
func New(userID string) *Session {
	return &Session{UserID: userID, State: StateAnonymous, SelectedDay: -1, SelectedIndex: -1}
}

// NextGeneration returns a fresh catalog generation number.
func (s *Session) NextGeneration() int {
	s.generation++
	return s.generation
}

// ClearSelection drops the day, item and pending review.
func (s *Session) ClearSelection() {
	s.SelectedDay = -1
	s.SelectedItem = ""
	s.SelectedIndex = -1
	s.Pending = nil
}

// Select records item as the opened one.
func (s *Session) Select(item schedule.Item) {
	s.SelectedDay = item.DayIndex
	s.SelectedItem = item.Key
	s.SelectedIndex = item.Index
}

// Selected returns the exact catalog entry the user opened, or false when
// the catalog no longer holds it at the same position.
func (s *Session) Selected() (schedule.Item, bool) {
	if s.SelectedItem == "" || s.Catalog == nil {
		return schedule.Item{}, false
	}
	item, ok := s.Catalog.Item(s.SelectedIndex)
	if !ok || item.Key != s.SelectedItem {
		return schedule.Item{}, false
	}
	return item, true
}

// Logout closes the portal handle and returns the session to anonymous.
func (s *Session) Logout() {
	if s.Portal != nil {
		s.Portal.Close()
	}
	s.Portal = nil
	s.Catalog = nil
	s.Username = ""
	s.ClearSelection()
	s.State = StateAnonymous
}
