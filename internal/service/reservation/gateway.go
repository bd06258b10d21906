package reservation

import (
	"context"
	"time"

	"github.com/pkg/errors"

	sessionmodel "github.com/zhouzirui/foodbot/internal/model/session"
)

// ErrNotModified is returned by Gateway.Edit when the new content equals the
// old one. The workflow ignores it.
var ErrNotModified = errors.New("message is not modified")

// EventKind separates free text, button presses and slash commands.
type EventKind string

const (
	EventText    EventKind = "text"
	EventButton  EventKind = "button"
	EventCommand EventKind = "command"
)

// Profile is what the transport knows about the user.
type Profile struct {
	DisplayName string
}

// Event is one inbound user action.
type Event struct {
	UserID  string
	Kind    EventKind
	Payload string
	// Message is the inbound message itself (for text and commands).
	Message sessionmodel.MessageRef
	// Reply is the bot message a pressed button belongs to.
	Reply   sessionmodel.MessageRef
	Profile Profile
}

// Button is one inline button.
type Button struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

// Outbound is a text with an optional button grid, one slice per row.
type Outbound struct {
	Text    string     `json:"text"`
	Buttons [][]Button `json:"buttons,omitempty"`
}

// Gateway delivers messages to a chat transport.
type Gateway interface {
	Send(ctx context.Context, userID string, out Outbound) (sessionmodel.MessageRef, error)
	Edit(ctx context.Context, ref sessionmodel.MessageRef, out Outbound) error
	Delete(ctx context.Context, ref sessionmodel.MessageRef) error
}

// Confirmation describes a reservation the portal accepted.
type Confirmation struct {
	UserID          string    `json:"userId"`
	ItemKey         string    `json:"itemKey"`
	ItemDisplayName string    `json:"itemDisplayName"`
	Date            string    `json:"date"`
	TimeSlot        string    `json:"timeSlot"`
	Price           string    `json:"price"`
	PortalMessage   string    `json:"portalMessage"`
	ConfirmedAt     time.Time `json:"confirmedAt"`
}

// Notifier receives confirmed reservations. Delivery is best-effort.
type Notifier interface {
	ReservationConfirmed(ctx context.Context, c Confirmation) error
}
