package main

import (
	"github.com/spf13/cobra"

	"github.com/plaudern/plaudern/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the room over HTTP",
		Long: "Runs the sync engine for the configured room and exposes it as a JSON API, " +
			"a server-sent event stream, a WebSocket stream and Prometheus metrics.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to plaudern config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
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

	if port == 0 {
		port = a.cfg.Server.Port
	}
	srv, err := server.New(server.Opts{
		Engine:       ctrl,
		Connectivity: a.monitor,
		Host:         a.cfg.Server.Host,
		Port:         port,
		Logger:       a.log,
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
