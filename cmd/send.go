package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/radek00/PeerDrop/internal/files"
	"github.com/radek00/PeerDrop/internal/history"
	"github.com/radek00/PeerDrop/internal/peer"
	"github.com/radek00/PeerDrop/internal/signaling"
	"github.com/radek00/PeerDrop/internal/transfer"
	"github.com/radek00/PeerDrop/internal/ui"
	"github.com/radek00/PeerDrop/internal/webrtc"
	"github.com/spf13/cobra"
)

var flagSendTo string

var sendCmd = &cobra.Command{
	Use:     "send <file>",
	Aliases: []string{"s"},
	Short:   "Send a file to a peer",
	Long: `Send one file directly to a receiver on the same network.

When exactly one other peer is on the relay it is picked automatically;
otherwise name it with --to.

Examples:
  peerdrop send report.pdf
  peerdrop send --to "Brave Otter" report.pdf
  peerdrop send --discover holiday.mp4`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendFile(cmd.Context(), args[0])
	},
}

func sendFile(ctx context.Context, path string) error {
	info, err := files.ValidateFile(path)
	if err != nil {
		return err
	}

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
	sp.Success(fmt.Sprintf("Joined the relay as %s", ui.BoldStyle.Render(conn.Self.Name)))

	est := peer.NewEstablisher(cfg, nil, conn.Client, nil)
	defer est.Registry().CloseAll()

	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()
	go func() {
		if err := conn.Pump(pumpCtx, est); err != nil && pumpCtx.Err() == nil {
			slog.Warn("signaling stopped", "error", err)
		}
	}()

	target, err := pickPeer(ctx, conn, flagSendTo)
	if err != nil {
		return err
	}

	session, err := est.Initiate(ctx, target.ID)
	if err != nil {
		return transfer.NewError("connect to peer", err)
	}
	if err := waitReady(ctx, session); err != nil {
		return err
	}

	file, err := os.Open(info.Path)
	if err != nil {
		return transfer.NewFileError("open file", info.Name, err)
	}
	defer file.Close()

	store := openHistory(cfg)
	defer store.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	view := ui.NewTransferView(os.Stdout, true, ui.NewTransferModel(ui.ModeSend, info.Name, info.Size, cancel))
	view.Start()
	view.Peer(target.Name)

	notes := &notices{}
	meta := info.Metadata()
	syncSession(session, meta)

	out := transfer.NewOutgoing(session.Control(), session.Data(), file, meta, transfer.OptionsFromConfig(cfg), transfer.OutgoingHooks{
		OnStatus: func(m webrtc.FileMetadata) {
			syncSession(session, m)
			view.Status(m)
		},
		OnProgress: func(percent float64, _ transfer.SendStatus) {
			view.Progress(int64(percent / 100 * float64(info.Size)))
		},
		OnDevice: func(d webrtc.DeviceInfoPayload) {
			view.Peer(fmt.Sprintf("%s (%s %s)", target.Name, d.DeviceName, d.DeviceVersion))
		},
		Notifier: notes,
	})

	started := time.Now()
	res, runErr := out.Run(runCtx)
	view.Finish(res.Metadata.Status, runErr)
	notes.flush()
	recordTransfer(store, history.DirectionSend, target.Name, started, res, runErr)

	switch res.Metadata.Status {
	case webrtc.StatusCompleted:
		printSummary(res, started)
		return nil
	case webrtc.StatusRejected:
		return nil
	}
	return transfer.NewFileError("send file", info.Name, runErr)
}

// pickPeer resolves the receiver: the named peer, the only peer present, or
// the first one to join when nobody is there yet.
func pickPeer(ctx context.Context, conn *ConnectionContext, want string) (signaling.PeerInfo, error) {
	match := func(p signaling.PeerInfo) bool {
		return want == "" || p.ID == want || strings.EqualFold(p.Name, want)
	}

	var candidates []signaling.PeerInfo
	for _, p := range conn.Peers() {
		if match(p) {
			candidates = append(candidates, p)
		}
	}

	switch {
	case len(candidates) == 1:
		return candidates[0], nil
	case len(candidates) > 1:
		fmt.Println()
		ui.RenderPeers(os.Stdout, conn.Self, conn.Peers())
		return signaling.PeerInfo{}, fmt.Errorf("%d peers are on the relay, choose one with --to", len(candidates))
	}

	msg := "Waiting for a receiver to join..."
	wait := ctx
	if want != "" {
		msg = fmt.Sprintf("Waiting for %s to join...", want)
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, signalTimeout)
		defer cancel()
	}

	sp := ui.NewWaitingSpinner(msg).Start()
	for {
		select {
		case p := <-conn.Joined():
			if match(p) {
				sp.Success(fmt.Sprintf("%s %s joined", ui.IconPeer, p.Name))
				return p, nil
			}
			sp.UpdateMessage(fmt.Sprintf("%s joined, still waiting for %s...", p.Name, want))
		case <-wait.Done():
			sp.Stop()
			if ctx.Err() != nil {
				return signaling.PeerInfo{}, ctx.Err()
			}
			return signaling.PeerInfo{}, transfer.WrapError("find peer", transfer.ErrPeerNotFound, want)
		}
	}
}

// notices holds notifier output until the live view has let go of the
// terminal.
type notices struct {
	mu       sync.Mutex
	rejected []webrtc.FileMetadata
}

func (n *notices) Rejected(meta webrtc.FileMetadata) {
	n.mu.Lock()
	n.rejected = append(n.rejected, meta)
	n.mu.Unlock()
}

func (n *notices) Failed(meta webrtc.FileMetadata, err error) {
	slog.Debug("transfer failed", "file", meta.Name, "status", meta.Status, "error", err)
}

func (n *notices) flush() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, meta := range n.rejected {
		ui.PrintWarningf("The receiver declined %s", meta.Name)
	}
	n.rejected = nil
}

func init() {
	rootCmd.AddCommand(sendCmd)

	addClientFlags(sendCmd)
	addTransferFlags(sendCmd)
	sendCmd.Flags().StringVar(&flagSendTo, "to", "", "Receiver name or id")
}
