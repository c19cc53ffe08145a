package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// MaxTextLength bounds a single message body, in bytes.
const MaxTextLength = 4096

// ErrEmptyDraft is returned when a draft has neither text nor an attachment.
var ErrEmptyDraft = errors.New("chat: draft is empty")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Draft is what a participant submits: text, an attachment, or both.
type Draft struct {
	Text       string      `json:"text,omitempty" validate:"max=4096"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// TextDraft is a convenience constructor for a plain text draft.
func TextDraft(text string) Draft {
	return Draft{Text: text}
}

// ImageDraft builds a draft carrying an already uploaded image URL.
func ImageDraft(url string) Draft {
	return Draft{Attachment: &Attachment{Image: url}}
}

// LocationDraft builds a draft carrying a location.
func LocationDraft(lat, lon float64) Draft {
	return Draft{Attachment: &Attachment{Location: &Location{Latitude: lat, Longitude: lon}}}
}

// Normalize trims surrounding whitespace from the text.
func (d Draft) Normalize() Draft {
	d.Text = strings.TrimSpace(d.Text)
	return d
}

// Validate checks a normalized draft.
func (d Draft) Validate() error {
	d = d.Normalize()
	if d.Text == "" && d.Attachment == nil {
		return ErrEmptyDraft
	}
	if a := d.Attachment; a != nil {
		switch {
		case a.Image == "" && a.Location == nil:
			return fmt.Errorf("chat: attachment needs an image or a location")
		case a.Image != "" && a.Location != nil:
			return fmt.Errorf("chat: attachment cannot carry both an image and a location")
		}
	}
	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("chat: invalid draft: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("chat: invalid draft: %w", err)
	}
	return nil
}

// Message turns the draft into a message from sender. The creation time is the
// local clock and only provisional: the remote store assigns the committed one.
func (d Draft) Message(sender Sender, at time.Time) Message {
	d = d.Normalize()
	if sender.Name == "" {
		sender.Name = DefaultSenderName
	}
	return Message{
		Text:       d.Text,
		CreatedAt:  at.UTC(),
		Sender:     sender,
		Attachment: d.Attachment,
	}
}
