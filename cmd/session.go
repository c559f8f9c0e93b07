package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/radek00/PeerDrop/internal/config"
	"github.com/radek00/PeerDrop/internal/discovery"
	"github.com/radek00/PeerDrop/internal/history"
	"github.com/radek00/PeerDrop/internal/peer"
	"github.com/radek00/PeerDrop/internal/signaling"
	"github.com/radek00/PeerDrop/internal/transfer"
	"github.com/radek00/PeerDrop/internal/ui"
	"github.com/radek00/PeerDrop/internal/utils"
	"github.com/radek00/PeerDrop/internal/webrtc"
)

const clientType = "cli"

var signalTimeout = time.Duration(utils.SignalTimeout) * time.Second

// ConnectionContext is one joined connection to the signaling relay.
type ConnectionContext struct {
	Client  *signaling.Client
	Handler *signaling.Handler
	Config  *config.Config
	Self    signaling.PeerInfo

	mu     sync.RWMutex
	roster map[string]signaling.PeerInfo
	order  []string
	joined chan signaling.PeerInfo
}

// LoadConfig resolves configuration and, when asked, finds the relay on the LAN.
func LoadConfig(ctx context.Context, opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, transfer.NewError("load config", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	if cfg.Discover && opts.ServerURL == "" {
		sp := ui.NewConnectionSpinner("Looking for a relay on the local network...").Start()
		url, err := discovery.FindServer(ctx, discovery.Config{})
		if err != nil {
			sp.Error("No relay found")
			return nil, transfer.NewError("discover relay", err)
		}
		sp.Success(fmt.Sprintf("Found relay at %s", url))
		cfg.ServerURL = url
	}

	return cfg, nil
}

// NewConnectionContext connects, joins and waits for the relay to announce
// who we are and who else is around.
func NewConnectionContext(ctx context.Context, cfg *config.Config) (*ConnectionContext, error) {
	client := signaling.NewClient(cfg.ServerURL, nil)
	if err := client.Connect(ctx); err != nil {
		return nil, transfer.NewError("connect to server", err)
	}

	handler := signaling.NewHandler(client)
	go handler.Start()

	c := &ConnectionContext{
		Client:  client,
		Handler: handler,
		Config:  cfg,
		roster:  make(map[string]signaling.PeerInfo),
		joined:  make(chan signaling.PeerInfo, 16),
	}

	if err := client.Join(clientType); err != nil {
		c.Close()
		return nil, transfer.NewError("join relay", err)
	}

	wait, cancel := context.WithTimeout(ctx, signalTimeout)
	defer cancel()

	select {
	case joined := <-handler.Joined:
		c.Self = joined.Self
		for _, p := range joined.Peers {
			c.addPeer(p)
		}
		return c, nil
	case msg := <-handler.Error:
		c.Close()
		return nil, transfer.WrapError("join relay", transfer.ErrSignalingError, msg)
	case <-handler.Done:
		c.Close()
		return nil, transfer.NewError("join relay", signaling.ErrClientClosed)
	case <-wait.Done():
		c.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, transfer.NewError("join relay", transfer.ErrTimeout)
	}
}

func (c *ConnectionContext) Close() {
	if c.Client != nil {
		c.Client.Close()
	}
}

func (c *ConnectionContext) addPeer(p signaling.PeerInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.roster[p.ID]; !ok {
		c.order = append(c.order, p.ID)
	}
	c.roster[p.ID] = p
}

func (c *ConnectionContext) removePeer(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.roster, id)
	for i, pid := range c.order {
		if pid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Peers lists the other peers in join order.
func (c *ConnectionContext) Peers() []signaling.PeerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]signaling.PeerInfo, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.roster[id])
	}
	return out
}

// PeerName is the display name of id, or id itself when unknown.
func (c *ConnectionContext) PeerName(id string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.roster[id]; ok && p.Name != "" {
		return p.Name
	}
	return id
}

// Joined delivers peers that arrive after our own join.
func (c *ConnectionContext) Joined() <-chan signaling.PeerInfo {
	return c.joined
}

// Pump keeps the roster current and hands signals to the establisher until
// ctx ends or the relay connection drops. A departing peer takes its
// sessions with it.
func (c *ConnectionContext) Pump(ctx context.Context, est *peer.Establisher) error {
	for {
		select {
		case p := <-c.Handler.PeerJoined:
			c.addPeer(p)
			select {
			case c.joined <- p:
			default:
			}

		case id := <-c.Handler.PeerLeft:
			c.removePeer(id)
			est.Forget(id)
			for {
				s, ok := est.Registry().ByPeer(id)
				if !ok {
					break
				}
				s.Close()
			}

		case msg := <-c.Handler.Signal:
			if err := est.HandleSignal(msg); err != nil {
				slog.Warn("signal not applied", "type", msg.Type, "peer", msg.SenderID, "error", err)
			}

		case msg := <-c.Handler.Error:
			slog.Warn("relay reported an error", "error", msg)

		case <-c.Handler.Done:
			return transfer.NewError("signaling", signaling.ErrClientClosed)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// waitReady waits for both sub-channels and closes the session on failure.
func waitReady(ctx context.Context, s *peer.Session) error {
	sp := ui.NewConnectionSpinner("Establishing peer connection...").Start()
	wait, cancel := context.WithTimeout(ctx, signalTimeout)
	defer cancel()

	if err := s.WaitReady(wait); err != nil {
		sp.Error("Peer connection failed")
		s.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = transfer.ErrTimeout
		}
		return transfer.NewError("connect to peer", err)
	}
	sp.Success("Connected to peer")
	return nil
}

// openHistory opens the ledger. History is best effort: failures are
// reported and the transfer goes ahead without it.
func openHistory(cfg *config.Config) *history.Store {
	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		slog.Warn("history unavailable", "path", cfg.HistoryPath, "error", err)
		return nil
	}
	return store
}

func recordTransfer(store *history.Store, dir history.Direction, peerName string, started time.Time, res transfer.Result, err error) {
	if store == nil || res.Metadata.Name == "" {
		return
	}
	rec := history.Record{
		Direction: dir,
		PeerName:  peerName,
		FileName:  res.Metadata.Name,
		Size:      res.Metadata.Size,
		Bytes:     res.Bytes,
		Status:    res.Metadata.Status,
		Path:      res.Path,
		StartedAt: started,
	}
	if !rec.Status.IsTerminal() {
		rec.Status = transfer.StatusForError(err)
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if _, err := store.Add(rec); err != nil {
		slog.Warn("record transfer", "error", err)
	}
}

// syncSession mirrors a status change into the session.
func syncSession(s *peer.Session, meta webrtc.FileMetadata) {
	if err := s.SetMetadata(meta); err != nil {
		slog.Debug("session metadata not updated", "session", s.ID, "error", err)
	}
}

func printSummary(res transfer.Result, started time.Time) {
	fmt.Println()
	ui.RenderTransferSummary(ui.Output, ui.TransferSummary{
		Status:   res.Metadata.Status,
		File:     res.Metadata.Name,
		Size:     res.Metadata.Size,
		Bytes:    res.Bytes,
		Duration: time.Since(started),
		Path:     res.Path,
	})
}
