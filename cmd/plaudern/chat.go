package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/plaudern/plaudern/internal/chat"
	"github.com/plaudern/plaudern/internal/roomsync"
)

func newChatCmd() *cobra.Command {
	var (
		configPath string
		announce   bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join the room interactively",
		Long: "Shows the room and sends every line typed on stdin.\n\n" +
			"Commands:\n" +
			"  /image <url>           attach an uploaded image\n" +
			"  /location <lat> <lon>  share a location\n" +
			"  /quit                  leave the room",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, configPath, announce)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to plaudern config file")
	cmd.Flags().BoolVar(&announce, "announce", false, "post \"<name> has entered the chat\" when joining online")
	return cmd
}

// errQuit is returned by parseInput for /quit.
var errQuit = errors.New("quit")

// parseInput turns a typed line into a draft. Blank lines yield an empty
// draft and no error; the caller skips those.
func parseInput(line string) (chat.Draft, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return chat.TextDraft(line), nil
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return chat.Draft{}, errQuit
	case "/image":
		if len(fields) != 2 {
			return chat.Draft{}, fmt.Errorf("usage: /image <url>")
		}
		return chat.ImageDraft(fields[1]), nil
	case "/location":
		if len(fields) != 3 {
			return chat.Draft{}, fmt.Errorf("usage: /location <lat> <lon>")
		}
		lat, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return chat.Draft{}, fmt.Errorf("latitude %q: %w", fields[1], err)
		}
		lon, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return chat.Draft{}, fmt.Errorf("longitude %q: %w", fields[2], err)
		}
		return chat.LocationDraft(lat, lon), nil
	default:
		return chat.Draft{}, fmt.Errorf("unknown command %s", fields[0])
	}
}

// roomView renders published sequences to a terminal.
type roomView struct {
	mu    sync.Mutex
	out   io.Writer
	room  string
	self  chat.Sender
	color string // hex colour for our own messages; empty disables colour
}

// render prints the room, oldest message at the bottom.
func (v *roomView) render(msgs []chat.Message, state roomsync.State) {
	v.mu.Lock()
	defer v.mu.Unlock()

	header := fmt.Sprintf("── %s (%s, %d messages) ──", v.room, stateLabel(state), len(msgs))
	fmt.Fprintln(v.out, header)
	for i := len(msgs) - 1; i >= 0; i-- {
		fmt.Fprintln(v.out, v.line(msgs[i]))
	}
}

func (v *roomView) line(m chat.Message) string {
	ts := m.CreatedAt.Local().Format("15:04")
	if m.System {
		return fmt.Sprintf("%s  * %s", ts, m.Text)
	}
	name := m.Sender.Name
	if v.color != "" && m.Sender.ID == v.self.ID {
		name = color.HEX(v.color, true).Sprint(name)
	}
	return fmt.Sprintf("%s  %s: %s", ts, name, describe(m))
}

func (v *roomView) notice(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "! "+format+"\n", args...)
}

func stateLabel(s roomsync.State) string {
	if s == roomsync.LiveSynced {
		return "live"
	}
	return "offline, cached"
}

func runChat(cmd *cobra.Command, configPath string, announce bool) error {
	a, err := newApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	ctrl, err := a.startController(ctx, true)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	view := &roomView{out: cmd.OutOrStdout(), room: a.cfg.Room, self: ctrl.User()}
	if isTerminal(cmd.OutOrStdout()) {
		view.color = ctrl.Display().Color
	}

	// Listeners run on the controller's loop and must not call back into it,
	// so rendering happens on its own goroutine.
	published := make(chan []chat.Message, 1)
	unsubscribe := ctrl.Subscribe(func(msgs []chat.Message) {
		select {
		case <-published:
		default:
		}
		published <- msgs
	})
	defer unsubscribe()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msgs := <-published:
				view.render(msgs, ctrl.State())
			}
		}
	}()

	if announce && ctrl.State() == roomsync.LiveSynced {
		if err := ctrl.Announce(ctx); err != nil {
			view.notice("announce failed: %v", err)
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done := handleLine(ctx, ctrl, view, line); done {
				return nil
			}
		}
	}
}

// handleLine submits one typed line. It returns true when the user quits.
func handleLine(ctx context.Context, ctrl *roomsync.Controller, view *roomView, line string) bool {
	d, err := parseInput(line)
	if errors.Is(err, errQuit) {
		return true
	}
	if err != nil {
		view.notice("%v", err)
		return false
	}
	if d.Normalize().Text == "" && d.Attachment == nil {
		return false
	}
	switch err := ctrl.Submit(ctx, d); {
	case err == nil:
	case errors.Is(err, roomsync.ErrNotConnected):
		view.notice("not connected, message not sent")
	default:
		view.notice("send failed: %v", err)
	}
	return false
}
