package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/radek00/PeerDrop/internal/discovery"
	"github.com/radek00/PeerDrop/internal/ui"
	"github.com/spf13/cobra"
)

var flagPeersLAN bool

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List peers reachable through the relay",
	Long: `Join the relay and list the peers sharing your network address.
With --lan, list the relays advertised on the local network instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagPeersLAN {
			return listRelays(cmd.Context())
		}
		return listPeers(cmd.Context())
	},
}

func listPeers(ctx context.Context) error {
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

	ui.RenderPeers(os.Stdout, conn.Self, conn.Peers())
	return nil
}

func listRelays(ctx context.Context) error {
	sp := ui.NewConnectionSpinner("Browsing the local network...").Start()
	relays, err := discovery.Browse(ctx, discovery.Config{})
	sp.Stop()
	if err != nil {
		return err
	}
	if len(relays) == 0 {
		ui.PrintWarning(discovery.ErrNoRelay.Error())
		return nil
	}
	for _, r := range relays {
		line := fmt.Sprintf("%s  %s", ui.BoldStyle.Render(r.Instance), r.URL())
		if r.Version != "" {
			line += ui.MutedStyle.Render("  " + r.Version)
		}
		fmt.Println(line)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(peersCmd)

	addClientFlags(peersCmd)
	peersCmd.Flags().BoolVar(&flagPeersLAN, "lan", false, "List relays advertised over mDNS")
}
