package chat

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestSort_NewestFirstRegardlessOfArrival(t *testing.T) {
	in := []Message{
		{ID: "a", CreatedAt: at(1)},
		{ID: "c", CreatedAt: at(3)},
		{ID: "b", CreatedAt: at(2)},
	}
	got := Sort(in)
	require.Equal(t, []string{"c", "b", "a"}, ids(got))
	// input untouched
	require.Equal(t, []string{"a", "c", "b"}, ids(in))
	require.True(t, IsSorted(got))
	require.False(t, IsSorted(in))
}

func TestSort_TiesBrokenByID(t *testing.T) {
	in := []Message{
		{ID: "01A", CreatedAt: at(5)},
		{ID: "01C", CreatedAt: at(5)},
		{ID: "01B", CreatedAt: at(5)},
	}
	require.Equal(t, []string{"01C", "01B", "01A"}, ids(Sort(in)))
}

func TestEqual(t *testing.T) {
	a := []Message{{ID: "1", CreatedAt: at(10)}, {ID: "2", CreatedAt: at(5)}}
	b := []Message{{ID: "1", CreatedAt: at(10).In(time.FixedZone("x", 3600))}, {ID: "2", CreatedAt: at(5)}}
	require.True(t, Equal(a, b))
	require.True(t, Equal(nil, []Message{}))
	require.False(t, Equal(a, a[:1]))
	require.False(t, Equal(a, []Message{{ID: "1", CreatedAt: at(11)}, {ID: "2", CreatedAt: at(5)}}))
}

func TestSystemNotice(t *testing.T) {
	m := SystemNotice(EnteredNotice("alice"), at(0))
	require.True(t, m.System)
	require.NotEmpty(t, m.ID)
	require.Equal(t, "alice has entered the chat", m.Text)
	require.Equal(t, "You have entered the chat", EnteredNotice(""))
	require.Equal(t, "You have entered the chat", EnteredNotice(DefaultSenderName))
}

func TestAttachmentHelpers(t *testing.T) {
	img := ImageDraft("https://example.com/cat.png").Message(Sender{ID: "u1"}, at(0))
	require.True(t, img.HasImage())
	require.False(t, img.HasLocation())

	loc := LocationDraft(52.52, 13.40).Message(Sender{ID: "u1"}, at(0))
	require.True(t, loc.HasLocation())
	require.False(t, loc.HasImage())

	require.False(t, Message{Text: "hi"}.HasImage())
}

func TestDraft_Validate(t *testing.T) {
	tests := []struct {
		name    string
		draft   Draft
		wantErr bool
	}{
		{"text", TextDraft("hello"), false},
		{"whitespace only", TextDraft("   \n"), true},
		{"empty", Draft{}, true},
		{"image", ImageDraft("https://example.com/a.jpg"), false},
		{"bad image url", ImageDraft("not a url"), true},
		{"location", LocationDraft(48.85, 2.35), false},
		{"latitude out of range", LocationDraft(91, 2.35), true},
		{"longitude out of range", LocationDraft(10, 181), true},
		{"empty attachment", Draft{Attachment: &Attachment{}}, true},
		{"both attachments", Draft{Attachment: &Attachment{Image: "https://example.com/a.jpg", Location: &Location{}}}, true},
		{"too long", TextDraft(string(make([]byte, MaxTextLength+1))), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.draft.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDraft_EmptyIsSentinel(t *testing.T) {
	err := TextDraft("  ").Validate()
	require.True(t, errors.Is(err, ErrEmptyDraft))
}

func TestDraft_MessageTrimsAndDefaultsName(t *testing.T) {
	m := TextDraft("  hi there  ").Message(Sender{ID: "u1"}, at(3))
	require.Equal(t, "hi there", m.Text)
	require.Equal(t, DefaultSenderName, m.Sender.Name)
	require.Equal(t, at(3), m.CreatedAt)
	require.Empty(t, m.ID)
}
