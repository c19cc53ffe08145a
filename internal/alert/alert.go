// Package alert delivers user-facing notices such as "Connection lost" to the
// terminal and to optional chat webhooks.
package alert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gookit/color"
	"github.com/slack-go/slack"
)

// ConnectionLost is the notice raised when the device goes offline.
const ConnectionLost = "Connection lost"

// Alert is a single notice.
type Alert struct {
	Text string
	At   time.Time
}

// Alerter delivers alerts somewhere a person will see them.
type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

// Writer prints alerts to a terminal or log stream.
type Writer struct {
	Out   io.Writer
	Color bool
}

// Alert writes one line.
func (w Writer) Alert(ctx context.Context, a Alert) error {
	line := fmt.Sprintf("! %s (%s)", a.Text, a.At.Local().Format("15:04:05"))
	if w.Color {
		line = color.FgRed.Render(line)
	}
	_, err := fmt.Fprintln(w.Out, line)
	return err
}

// Slack posts alerts to an incoming webhook.
type Slack struct {
	WebhookURL string
	Room       string
}

// Alert posts the notice.
func (s Slack) Alert(ctx context.Context, a Alert) error {
	if s.WebhookURL == "" {
		return fmt.Errorf("alert: slack: webhook url is required")
	}
	msg := &slack.WebhookMessage{Text: formatRemote(s.Room, a)}
	if err := slack.PostWebhookContext(ctx, s.WebhookURL, msg); err != nil {
		return fmt.Errorf("alert: slack: %w", err)
	}
	return nil
}

// webhookExecutor abstracts the discordgo session call for tests.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts alerts through a channel webhook.
type Discord struct {
	WebhookID string
	Token     string
	Room      string
	exec      webhookExecutor
}

// NewDiscord creates a Discord alerter. Webhooks need no bot token.
func NewDiscord(webhookID, token, room string) (*Discord, error) {
	if webhookID == "" || token == "" {
		return nil, fmt.Errorf("alert: discord: webhook id and token are required")
	}
	sess, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("alert: discord: %w", err)
	}
	return &Discord{WebhookID: webhookID, Token: token, Room: room, exec: sess}, nil
}

// Alert executes the webhook.
func (d *Discord) Alert(ctx context.Context, a Alert) error {
	_, err := d.exec.WebhookExecute(d.WebhookID, d.Token, false,
		&discordgo.WebhookParams{Content: formatRemote(d.Room, a)},
		discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("alert: discord: %w", err)
	}
	return nil
}

func formatRemote(room string, a Alert) string {
	at := a.At.UTC().Format(time.RFC3339)
	if room == "" {
		return fmt.Sprintf("%s at %s", a.Text, at)
	}
	return fmt.Sprintf("[%s] %s at %s", room, a.Text, at)
}

// Multi fans an alert out to every alerter and joins their errors.
type Multi []Alerter

// Alert delivers to all alerters even if some fail.
func (m Multi) Alert(ctx context.Context, a Alert) error {
	var errs []error
	for _, al := range m {
		if err := al.Alert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
