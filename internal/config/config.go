package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Default configuration values
const (
	DefaultServerURL    = "ws://localhost:8080/ws"
	DefaultSTUN         = "stun:stun.l.google.com:19302"
	DefaultChunkSize    = 5 * 1024
	DefaultFlowWindow   = 8 // chunks
	DefaultStallTimeout = 30 * time.Second
	DefaultOutputDir    = "."
	DefaultRelayAddr    = "127.0.0.1:0"
	DefaultListenAddr   = ":8080"
)

// Config holds application configuration
type Config struct {
	// ServerURL is the websocket endpoint of the signaling relay
	ServerURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// Transfer tuning
	ChunkSize    int
	FlowWindow   int
	StallTimeout time.Duration

	// Receiver side
	OutputDir string
	RelayAddr string

	HistoryPath string

	// Discover asks for the signaling relay to be located over mDNS
	Discover bool
}

// Options for loading config with CLI flag overrides. Zero values mean "not set".
type Options struct {
	ServerURL    string
	STUNServer   string
	TURNServer   string
	TURNUser     string
	TURNPass     string
	ForceRelay   bool
	ChunkSize    int
	FlowWindow   int
	StallTimeout time.Duration
	OutputDir    string
	RelayAddr    string
	HistoryPath  string
	Discover     bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := &Config{
		ServerURL:  pick(opts.ServerURL, "PEERDROP_SERVER", DefaultServerURL),
		STUNServer: pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer: pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:   pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:   pick(opts.TURNPass, "TURN_PASSWORD", ""),
		ForceRelay: opts.ForceRelay || os.Getenv("FORCE_RELAY") == "1",
		OutputDir:  pick(opts.OutputDir, "PEERDROP_OUTPUT_DIR", DefaultOutputDir),
		RelayAddr:  pick(opts.RelayAddr, "PEERDROP_RELAY_ADDR", DefaultRelayAddr),
		Discover:   opts.Discover,
	}

	var err error
	if cfg.ChunkSize, err = pickInt(opts.ChunkSize, "PEERDROP_CHUNK_SIZE", DefaultChunkSize); err != nil {
		return nil, err
	}
	if cfg.FlowWindow, err = pickInt(opts.FlowWindow, "PEERDROP_FLOW_WINDOW", DefaultFlowWindow); err != nil {
		return nil, err
	}
	if cfg.StallTimeout, err = pickDuration(opts.StallTimeout, "PEERDROP_STALL_TIMEOUT", DefaultStallTimeout); err != nil {
		return nil, err
	}

	historyPath := pick(opts.HistoryPath, "PEERDROP_HISTORY", "")
	if historyPath == "" {
		historyPath = defaultHistoryPath()
	}
	cfg.HistoryPath = historyPath

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no transfer could run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server url %q: %w", c.ServerURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid server url %q: scheme must be ws or wss", c.ServerURL)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.FlowWindow < 0 {
		return fmt.Errorf("flow window must not be negative, got %d", c.FlowWindow)
	}
	if c.StallTimeout < 0 {
		return fmt.Errorf("stall timeout must not be negative, got %s", c.StallTimeout)
	}
	return nil
}

// FlowWindowBytes returns the flow-control window in bytes. Zero disables it.
func (c *Config) FlowWindowBytes() int64 {
	return int64(c.FlowWindow) * int64(c.ChunkSize)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// ServerOptions configure `peerdrop serve`.
type ServerOptions struct {
	ListenAddr string
	Advertise  bool
	TrustProxy bool
}

// LoadServer resolves the signaling relay settings: flag > env > default.
func LoadServer(opts ServerOptions) ServerOptions {
	return ServerOptions{
		ListenAddr: pick(opts.ListenAddr, "PEERDROP_LISTEN", DefaultListenAddr),
		Advertise:  opts.Advertise || os.Getenv("PEERDROP_ADVERTISE") == "1",
		TrustProxy: opts.TrustProxy || os.Getenv("PEERDROP_TRUST_PROXY") == "1",
	}
}

func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func pickInt(flag int, env string, def int) (int, error) {
	if flag != 0 {
		return flag, nil
	}
	if v := os.Getenv(env); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", env, v, err)
		}
		return n, nil
	}
	return def, nil
}

func pickDuration(flag time.Duration, env string, def time.Duration) (time.Duration, error) {
	if flag != 0 {
		return flag, nil
	}
	if v := os.Getenv(env); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", env, v, err)
		}
		return d, nil
	}
	return def, nil
}

func defaultHistoryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "peerdrop", "history.db")
}
