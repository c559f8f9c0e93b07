package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/radek00/PeerDrop/internal/config"
	"github.com/radek00/PeerDrop/internal/discovery"
	"github.com/radek00/PeerDrop/internal/hub"
	"github.com/radek00/PeerDrop/internal/ui"
	"github.com/radek00/PeerDrop/internal/utils"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveFlags config.ServerOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling relay",
	Long: `Run the websocket relay peers use to find each other. Peers connecting
from the same network address see each other; nothing else is shared.

Examples:
  peerdrop serve
  peerdrop serve --listen :9000 --advertise
  peerdrop serve --trust-proxy`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), config.LoadServer(serveFlags))
	},
}

func serve(ctx context.Context, opts config.ServerOptions) error {
	ln, err := net.Listen("tcp", opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", opts.ListenAddr, err)
	}

	h := hub.New()
	srv := &http.Server{
		Handler:           hub.Routes(h, opts.TrustProxy),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	})

	port := ln.Addr().(*net.TCPAddr).Port
	if opts.Advertise {
		adv, err := discovery.Advertise(discovery.Config{Port: port})
		if err != nil {
			ui.PrintWarningf("mDNS advertisement failed: %v", err)
		} else {
			defer adv.Stop()
			slog.Info("relay advertised over mDNS", "service", discovery.DefaultService, "port", port)
		}
	}

	ui.PrintSuccessf("Signaling relay listening on %s", ln.Addr().String())
	ips := utils.LocalIPv4s()
	if len(ips) == 0 {
		ui.PrintInfof("Peers connect to ws://<this-host>:%d%s", port, discovery.DefaultPath)
	}
	for _, ip := range ips {
		ui.PrintInfof("Peers connect to ws://%s:%d%s", ip, port, discovery.DefaultPath)
	}

	if err := g.Wait(); err != nil {
		return err
	}
	ui.PrintInfo("Relay stopped")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.StringVarP(&serveFlags.ListenAddr, "listen", "l", "", "Listen address")
	f.BoolVar(&serveFlags.Advertise, "advertise", false, "Announce the relay on the LAN over mDNS")
	f.BoolVar(&serveFlags.TrustProxy, "trust-proxy", false, "Scope peers by X-Forwarded-For / X-Real-IP")
}
