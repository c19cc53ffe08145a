package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plaudern/plaudern/internal/chat"
	"github.com/plaudern/plaudern/internal/roomsync"
)

func newSendCmd() *cobra.Command {
	var (
		configPath string
		text       string
		image      string
		lat, lon   float64
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one message to the room",
		Long: "Probes connectivity once and submits a single message. " +
			"Fails with \"not connected\" when the remote store is unreachable; nothing is queued.",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := sendDraft(text, image, lat, lon, cmd.Flags().Changed("lat"), cmd.Flags().Changed("lon"))
			if err != nil {
				return err
			}
			return runSend(cmd, configPath, d)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to plaudern config file")
	cmd.Flags().StringVarP(&text, "text", "t", "", "message text")
	cmd.Flags().StringVar(&image, "image", "", "URL of an uploaded image to attach")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude of a location to attach")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude of a location to attach")
	return cmd
}

// sendDraft builds a draft from the send flags.
func sendDraft(text, image string, lat, lon float64, hasLat, hasLon bool) (chat.Draft, error) {
	d := chat.TextDraft(text)
	if hasLat != hasLon {
		return d, fmt.Errorf("--lat and --lon must be given together")
	}
	if image != "" || hasLat {
		d.Attachment = &chat.Attachment{Image: image}
		if hasLat {
			d.Attachment.Location = &chat.Location{Latitude: lat, Longitude: lon}
		}
	}
	if err := d.Validate(); err != nil {
		return d, err
	}
	return d, nil
}

func runSend(cmd *cobra.Command, configPath string, d chat.Draft) error {
	a, err := newApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	ctrl, err := a.startController(ctx, false)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	if err := ctrl.Submit(ctx, d); err != nil {
		if errors.Is(err, roomsync.ErrNotConnected) {
			return fmt.Errorf("not connected: message not sent")
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent to %s as %s\n", a.cfg.Room, ctrl.User().Name)
	return nil
}
