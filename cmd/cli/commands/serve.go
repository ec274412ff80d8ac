package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/guacplay/guacplay/internal/api"
	"github.com/guacplay/guacplay/internal/metrics"
)

func NewServeCmd() *cobra.Command {
	var listen string
	var follow bool

	cmd := &cobra.Command{
		Use:   "serve [recording]",
		Short: "Serve a recording to WebSocket viewers",
		Long: "Start the playback server for a session recording. Viewers connect " +
			"to /session over WebSocket and control playback independently; " +
			"/status and /metrics expose recording and engine state.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.ApplyLogging()
			if listen != "" {
				cfg.Server.ListenAddr = listen
			}

			src, closeSrc, err := openSource(args[0], follow, cfg)
			if err != nil {
				return err
			}
			defer closeSrc()

			srv, err := api.NewServer(cfg.Server, src, args[0], metrics.NewCollector())
			if err != nil {
				return err
			}
			if err := srv.Start(); err != nil {
				return err
			}

			Success(fmt.Sprintf("Serving %s on http://%s", args[0], srv.Addr()))
			Info("Press Ctrl-C to stop")

			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
			<-interrupt

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (overrides config)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Serve a capture that is still being written")
	return cmd
}
