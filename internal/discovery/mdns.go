// Package discovery advertises the signaling relay over mDNS and finds it
// from peers on the same LAN.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/radek00/PeerDrop/internal/version"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_peerdrop._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultPath is the websocket path announced in TXT records.
	DefaultPath = "/ws"
	// DefaultScanTimeout bounds one browse.
	DefaultScanTimeout = 3 * time.Second
)

var ErrNoRelay = errors.New("no signaling relay found on the local network")

var hostname = os.Hostname

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls advertisement and browsing.
type Config struct {
	Service     string
	Domain      string
	Instance    string
	Port        int
	Path        string
	ScanTimeout time.Duration

	registerFn registerFunc
	browseFn   browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Path == "" {
		out.Path = DefaultPath
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	if out.Instance == "" {
		host, err := hostname()
		if err != nil || host == "" {
			host = "peerdrop"
		}
		out.Instance = "PeerDrop on " + host
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

// Advertiser announces a running relay.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers the relay listening on cfg.Port.
func Advertise(config Config) (*Advertiser, error) {
	cfg := config.withDefaults()
	if cfg.Port <= 0 {
		return nil, errors.New("listening port must be > 0")
	}

	txt := []string{
		"path=" + cfg.Path,
		"version=" + version.Version,
	}
	server, err := cfg.registerFn(cfg.Instance, cfg.Service, cfg.Domain, cfg.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}
	return &Advertiser{server: server}, nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

// Relay is a signaling relay found on the LAN.
type Relay struct {
	Instance  string
	HostName  string
	Port      int
	Path      string
	Version   string
	Addresses []string
}

// URL is the websocket endpoint of the relay, preferring an IPv4 address.
func (r Relay) URL() string {
	host := r.HostName
	if len(r.Addresses) > 0 {
		host = r.Addresses[0]
	}
	host = strings.TrimSuffix(host, ".")
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(r.Port)) + r.Path
}

// Browse collects relays announced within the scan window.
func Browse(ctx context.Context, config Config) ([]Relay, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("create mDNS resolver: %w", err)
		}
		browse = resolver.Browse
	}

	scanCtx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := browse(scanCtx, cfg.Service, cfg.Domain, entries); err != nil {
		return nil, fmt.Errorf("browse mDNS: %w", err)
	}

	found := make(map[string]Relay)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return sorted(found), ctx.Err()
			}
			if relay, ok := parseEntry(entry); ok {
				found[relay.Instance] = relay
			}
		case <-scanCtx.Done():
			return sorted(found), ctx.Err()
		}
	}
}

// FindServer returns the websocket URL of the first relay found.
func FindServer(ctx context.Context, config Config) (string, error) {
	relays, err := Browse(ctx, config)
	if err != nil {
		return "", err
	}
	if len(relays) == 0 {
		return "", ErrNoRelay
	}
	return relays[0].URL(), nil
}

func parseEntry(entry *zeroconf.ServiceEntry) (Relay, bool) {
	if entry == nil || entry.Port <= 0 {
		return Relay{}, false
	}
	txt := txtToMap(entry.Text)

	relay := Relay{
		Instance: entry.Instance,
		HostName: entry.HostName,
		Port:     entry.Port,
		Path:     txt["path"],
		Version:  txt["version"],
	}
	if relay.Path == "" {
		relay.Path = DefaultPath
	}
	for _, ip := range entry.AddrIPv4 {
		relay.Addresses = append(relay.Addresses, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		relay.Addresses = append(relay.Addresses, ip.String())
	}
	if len(relay.Addresses) == 0 && relay.HostName == "" {
		return Relay{}, false
	}
	return relay, true
}

func txtToMap(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, record := range records {
		key, value, ok := strings.Cut(record, "=")
		if !ok {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return out
}

func sorted(found map[string]Relay) []Relay {
	out := make([]Relay, 0, len(found))
	for _, r := range found {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}
