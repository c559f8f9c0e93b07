package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/radek00/PeerDrop/internal/config"
	"github.com/radek00/PeerDrop/internal/ui"
	"github.com/radek00/PeerDrop/internal/version"
	"github.com/spf13/cobra"
)

// clientFlags are shared by every command that talks to the relay.
var clientFlags config.Options

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "peerdrop",
	Short: "Send a file to a peer on your local network over WebRTC",
	Long: `PeerDrop moves one file directly between two devices on the same network.
Peers meet on a small signaling relay, then the bytes travel over a WebRTC
data channel and are streamed straight to disk on the receiving side.

Run "peerdrop serve" somewhere on the network, then "peerdrop receive" on one
machine and "peerdrop send <file>" on another.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, ui.FormatError(err))
		stop()
		os.Exit(1)
	}
}

func addClientFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&clientFlags.ServerURL, "server", "", "Signaling relay websocket URL")
	f.BoolVar(&clientFlags.Discover, "discover", false, "Find the signaling relay on the LAN over mDNS")
	f.StringVarP(&clientFlags.STUNServer, "stun", "s", "", "Custom STUN server")
	f.StringVarP(&clientFlags.TURNServer, "turn", "t", "", "Custom TURN server")
	f.StringVar(&clientFlags.TURNUser, "turn-user", "", "TURN username")
	f.StringVar(&clientFlags.TURNPass, "turn-pass", "", "TURN password")
	f.BoolVarP(&clientFlags.ForceRelay, "relay", "r", false, "Force relay mode")
	f.StringVar(&clientFlags.HistoryPath, "history", "", "Transfer history database")
}

func addTransferFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&clientFlags.ChunkSize, "chunk-size", 0, "Bytes per data channel message")
	f.IntVar(&clientFlags.FlowWindow, "window", 0, "Chunks in flight before waiting for write acks")
	f.DurationVar(&clientFlags.StallTimeout, "stall-timeout", 0, "Abort when no progress is made for this long")
}
