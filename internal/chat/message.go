// Package chat defines the room message model shared by the sync engine,
// the remote channels, the local cache and the presentation surfaces.
package chat

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultSenderName is used when a participant did not pick a name.
const DefaultSenderName = "You"

// Sender identifies the author of a message. Name is user-supplied and not unique.
type Sender struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Location is a latitude/longitude pair in decimal degrees.
type Location struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

// Attachment carries either an image URL or a location, never both.
type Attachment struct {
	Image    string    `json:"image,omitempty" validate:"omitempty,url"`
	Location *Location `json:"location,omitempty"`
}

// Message is an immutable room message. Values are created by a submission or
// by a remote snapshot delivery and are never modified afterwards.
type Message struct {
	ID         string      `json:"id"`
	Text       string      `json:"text,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	Sender     Sender      `json:"sender"`
	Attachment *Attachment `json:"attachment,omitempty"`
	System     bool        `json:"system,omitempty"`
}

// HasImage reports whether the message carries an image attachment.
func (m Message) HasImage() bool {
	return m.Attachment != nil && m.Attachment.Image != ""
}

// HasLocation reports whether the message carries a location attachment.
func (m Message) HasLocation() bool {
	return m.Attachment != nil && m.Attachment.Location != nil
}

// Compare orders messages newest first. Messages created at the same instant
// are ordered by descending ID so the order is total.
func Compare(a, b Message) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(b.ID, a.ID)
}

// Sort returns a copy of msgs ordered newest first.
func Sort(msgs []Message) []Message {
	out := slices.Clone(msgs)
	slices.SortStableFunc(out, Compare)
	return out
}

// IsSorted reports whether msgs is already in publish order.
func IsSorted(msgs []Message) bool {
	return slices.IsSortedFunc(msgs, Compare)
}

// Equal reports whether two sequences contain the same messages in the same order.
// Messages are immutable, so identity and commit time are enough to compare them.
func Equal(a, b []Message) bool {
	return slices.EqualFunc(a, b, func(x, y Message) bool {
		return x.ID == y.ID && x.CreatedAt.Equal(y.CreatedAt)
	})
}

// SystemNotice builds a synthetic system message such as "alice has entered the chat".
func SystemNotice(text string, at time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Text:      text,
		CreatedAt: at.UTC(),
		System:    true,
	}
}

// EnteredNotice is the text announced when a participant joins the room.
func EnteredNotice(name string) string {
	if name == "" || name == DefaultSenderName {
		return DefaultSenderName + " have entered the chat"
	}
	return name + " has entered the chat"
}
