package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/plaudern/plaudern/internal/chat"
)

func newHistoryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the cached copy of the room",
		Long:  "Prints the snapshot kept in the local cache, oldest first. Works without connectivity.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to plaudern config file")
	return cmd
}

func runHistory(cmd *cobra.Command, configPath string) error {
	cfg, log, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	store, err := openCache(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Cache.Timeout)
	defer cancel()
	msgs, ok, err := store.Get(ctx)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "No cached messages.")
		return nil
	}
	renderHistory(cmd.OutOrStdout(), msgs)
	return nil
}

// renderHistory writes msgs as a table, oldest first.
func renderHistory(w io.Writer, msgs []chat.Message) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Time", "From", "Message"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	ordered := slices.Clone(msgs)
	slices.Reverse(ordered)
	for _, m := range ordered {
		from := m.Sender.Name
		if m.System {
			from = "*"
		}
		table.Append([]string{m.CreatedAt.Local().Format(time.DateTime), from, describe(m)})
	}
	table.Render()
}

// describe returns a one-line rendering of a message body.
func describe(m chat.Message) string {
	switch {
	case m.HasImage() && m.Text != "":
		return m.Text + " [image " + m.Attachment.Image + "]"
	case m.HasImage():
		return "[image " + m.Attachment.Image + "]"
	case m.HasLocation():
		loc := m.Attachment.Location
		pin := "[location " + strconv.FormatFloat(loc.Latitude, 'f', 5, 64) + "," + strconv.FormatFloat(loc.Longitude, 'f', 5, 64) + "]"
		if m.Text != "" {
			return m.Text + " " + pin
		}
		return pin
	default:
		return m.Text
	}
}
