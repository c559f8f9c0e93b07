package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/radek00/PeerDrop/internal/config"
	"github.com/radek00/PeerDrop/internal/history"
	"github.com/radek00/PeerDrop/internal/peer"
	"github.com/radek00/PeerDrop/internal/streamrelay"
	"github.com/radek00/PeerDrop/internal/transfer"
	"github.com/radek00/PeerDrop/internal/ui"
	"github.com/radek00/PeerDrop/internal/webrtc"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	flagReceiveYes  bool
	flagReceiveKeep bool
)

var receiveCmd = &cobra.Command{
	Use:     "receive",
	Aliases: []string{"r"},
	Short:   "Wait for a sender and receive a file",
	Long: `Join the relay and wait for a peer to offer a file. Accepted files are
streamed through a local download relay straight into the output directory.

Examples:
  peerdrop receive
  peerdrop receive --dir ~/Downloads --yes
  peerdrop receive --keep`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return receiveFiles(cmd.Context())
	},
}

// receiver is everything one receiving run shares between transfers.
type receiver struct {
	conn       *ConnectionContext
	est        *peer.Establisher
	relay      *streamrelay.Client
	downloader *streamrelay.HTTPDownloader
	prompt     *ui.Prompt
	store      *history.Store
	cfg        *config.Config
}

func receiveFiles(ctx context.Context) error {
	cfg, err := LoadConfig(ctx, clientFlags)
	if err != nil {
		return err
	}

	sp := ui.NewConnectionSpinner("Connecting to server...").Start()
	conn, err := NewConnectionContext(ctx, cfg)
	if err != nil {
		sp.Error("Could not join the relay")
		return err
	}
	defer conn.Close()
	sp.Stop()

	fmt.Println(ui.SuccessBoxStyle.Render(fmt.Sprintf("%s Ready to receive as %s\n%s",
		ui.IconReceive,
		ui.BoldStyle.Render(conn.Self.Name),
		ui.MutedStyle.Render("Saving to "+cfg.OutputDir),
	)))

	est := peer.NewEstablisher(cfg, nil, conn.Client, nil)
	defer est.Registry().CloseAll()

	ln, err := net.Listen("tcp", cfg.RelayAddr)
	if err != nil {
		return transfer.NewError("start download relay", err)
	}

	bus := streamrelay.NewBus()
	worker := streamrelay.NewWorker(bus, "http://"+ln.Addr().String())
	srv := &http.Server{Handler: worker, ReadHeaderTimeout: 10 * time.Second}

	store := openHistory(cfg)
	defer store.Close()

	r := &receiver{
		conn:       conn,
		est:        est,
		relay:      streamrelay.NewClient(bus, worker),
		downloader: &streamrelay.HTTPDownloader{OutputDir: cfg.OutputDir},
		prompt:     ui.NewPrompt(os.Stdin, os.Stdout),
		store:      store,
		cfg:        cfg,
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		go func() {
			<-gctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdown)
		}()
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return transfer.NewError("download relay", err)
		}
		return nil
	})
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := conn.Pump(gctx, est); gctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer stop()

		ping, cancel := context.WithTimeout(gctx, 5*time.Second)
		err := worker.Ping(ping)
		cancel()
		if err != nil {
			return transfer.NewError("start download relay", err)
		}
		slog.Debug("download relay listening", "addr", ln.Addr().String())

		return r.loop(gctx, ctx)
	})

	return g.Wait()
}

// loop accepts offers one at a time. An interrupt while idle ends the run
// cleanly.
func (r *receiver) loop(ctx, parent context.Context) error {
	for {
		sp := ui.NewWaitingSpinner("Waiting for a sender...").Start()
		var offer peer.Offer
		select {
		case offer = <-r.est.Incoming():
			sp.Stop()
		case <-ctx.Done():
			sp.Stop()
			if parent.Err() != nil {
				return nil
			}
			return ctx.Err()
		}

		err := r.receiveOne(ctx, offer)
		if !flagReceiveKeep {
			return err
		}
		if err != nil {
			ui.PrintErrorf("Transfer failed: %v", err)
		}
		if parent.Err() != nil {
			return nil
		}
	}
}

func (r *receiver) receiveOne(ctx context.Context, offer peer.Offer) error {
	from := r.conn.PeerName(offer.PeerID)

	session, err := r.est.AcceptIncoming(ctx, offer)
	if err != nil {
		return transfer.NewError("answer peer", err)
	}
	defer session.Close()
	if err := waitReady(ctx, session); err != nil {
		return err
	}

	var confirmer transfer.Confirmer
	if flagReceiveYes {
		confirmer = ui.AutoAccept{Out: os.Stdout, From: from}
	} else {
		r.prompt.From = from
		confirmer = r.prompt
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var view *ui.TransferView
	in := transfer.NewIncoming(session.Control(), session.Data(), confirmer, r.relay, r.downloader, transfer.OptionsFromConfig(r.cfg), transfer.IncomingHooks{
		OnStatus: func(meta webrtc.FileMetadata) {
			syncSession(session, meta)
			if meta.Status == webrtc.StatusInProgress && view == nil {
				view = ui.NewTransferView(os.Stdout, true, ui.NewTransferModel(ui.ModeReceive, meta.Name, meta.Size, cancel))
				view.Start()
				view.Peer(from)
			}
			if view != nil {
				view.Status(meta)
			}
		},
		OnProgress: func(written, _ int64) {
			if view != nil {
				view.Progress(written)
			}
		},
	})

	started := time.Now()
	res, runErr := in.Run(runCtx)
	if view != nil {
		view.Finish(res.Metadata.Status, runErr)
	}
	recordTransfer(r.store, history.DirectionReceive, from, started, res, runErr)

	switch res.Metadata.Status {
	case webrtc.StatusCompleted:
		printSummary(res, started)
		return nil
	case webrtc.StatusRejected:
		ui.PrintInfof("Declined %s from %s", res.Metadata.Name, from)
		return nil
	}
	if runErr == nil {
		return nil
	}
	return transfer.NewFileError("receive file", res.Metadata.Name, runErr)
}

func init() {
	rootCmd.AddCommand(receiveCmd)

	addClientFlags(receiveCmd)
	addTransferFlags(receiveCmd)
	f := receiveCmd.Flags()
	f.StringVarP(&clientFlags.OutputDir, "dir", "d", "", "Directory to save received files")
	f.StringVar(&clientFlags.RelayAddr, "relay-addr", "", "Listen address of the local download relay")
	f.BoolVarP(&flagReceiveYes, "yes", "y", false, "Accept every offer without asking")
	f.BoolVar(&flagReceiveKeep, "keep", false, "Keep receiving after the first transfer")
}
