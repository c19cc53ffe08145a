// Package models defines the GORM records persisted by the SQL remote store.
package models

import (
	"time"

	"github.com/plaudern/plaudern/internal/chat"
	"github.com/samber/lo"
)

// MessageRecord is one room message as stored in the remote SQL collection.
// CreatedAt is the store's commit time and drives ordering; ClientCreatedAt
// keeps the writer's provisional clock for diagnostics.
type MessageRecord struct {
	ID              string    `gorm:"primaryKey;size:26"`
	Room            string    `gorm:"size:64;not null;index:idx_room_created,priority:1"`
	Text            string    `gorm:"type:text"`
	ImageURL        string    `gorm:"size:2048"`
	Latitude        *float64
	Longitude       *float64
	SenderID        string    `gorm:"size:64;index"`
	SenderName      string    `gorm:"size:128"`
	System          bool      `gorm:"default:false"`
	CreatedAt       time.Time `gorm:"not null;index:idx_room_created,priority:2"`
	ClientCreatedAt time.Time
}

// TableName pins the table name independently of GORM's pluralizer.
func (MessageRecord) TableName() string { return "room_messages" }

// NewMessageRecord converts a message into a record for room. The caller
// assigns ID and CreatedAt.
func NewMessageRecord(room string, m chat.Message) MessageRecord {
	rec := MessageRecord{
		ID:              m.ID,
		Room:            room,
		Text:            m.Text,
		SenderID:        m.Sender.ID,
		SenderName:      m.Sender.Name,
		System:          m.System,
		CreatedAt:       m.CreatedAt.UTC(),
		ClientCreatedAt: m.CreatedAt.UTC(),
	}
	if a := m.Attachment; a != nil {
		rec.ImageURL = a.Image
		if a.Location != nil {
			rec.Latitude = lo.ToPtr(a.Location.Latitude)
			rec.Longitude = lo.ToPtr(a.Location.Longitude)
		}
	}
	return rec
}

// Message converts the record back into a chat message.
func (r MessageRecord) Message() chat.Message {
	m := chat.Message{
		ID:        r.ID,
		Text:      r.Text,
		CreatedAt: r.CreatedAt.UTC(),
		Sender:    chat.Sender{ID: r.SenderID, Name: r.SenderName},
		System:    r.System,
	}
	switch {
	case r.ImageURL != "":
		m.Attachment = &chat.Attachment{Image: r.ImageURL}
	case r.Latitude != nil && r.Longitude != nil:
		m.Attachment = &chat.Attachment{Location: &chat.Location{
			Latitude:  *r.Latitude,
			Longitude: *r.Longitude,
		}}
	}
	return m
}

// Messages converts a slice of records, preserving order.
func Messages(recs []MessageRecord) []chat.Message {
	return lo.Map(recs, func(r MessageRecord, _ int) chat.Message { return r.Message() })
}
