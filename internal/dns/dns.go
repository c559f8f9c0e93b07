package dns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// publicDNS are queried if the system resolver cannot resolve the relay host.
var publicDNS = []string{
	"1.1.1.1",         // Cloudflare
	"1.0.0.1",         // Cloudflare
	"8.8.8.8",         // Google
	"8.8.4.4",         // Google
	"9.9.9.9",         // Quad9
	"149.112.112.112", // Quad9
}

// LookupFunc resolves host through one DNS server. An empty server means the
// system configuration.
type LookupFunc func(ctx context.Context, host, server string) ([]string, error)

// Resolver resolves the signaling relay host, falling back to a race across
// public resolvers when the local one fails.
type Resolver struct {
	LocalTimeout  time.Duration
	RemoteTimeout time.Duration
	Servers       []string

	lookup LookupFunc
}

// NewResolver returns a resolver backed by net.Resolver.
func NewResolver() *Resolver {
	return &Resolver{
		LocalTimeout:  time.Second,
		RemoteTimeout: 2 * time.Second,
		Servers:       publicDNS,
		lookup:        netLookup,
	}
}

// Lookup resolves a hostname to an IP address, preferring IPv4. IP literals
// are returned as-is.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	localCtx, cancel := context.WithTimeout(ctx, r.LocalTimeout)
	ips, err := r.lookup(localCtx, host, "")
	cancel()
	if err == nil {
		if ip := preferIPv4(ips); ip != "" {
			return ip, nil
		}
	}
	slog.Debug("system DNS lookup failed, racing public resolvers", "host", host, "error", err)

	return r.race(ctx, host)
}

func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	if len(r.Servers) == 0 {
		return "", fmt.Errorf("failed to resolve %s: no fallback resolvers", host)
	}

	ctx, cancel := context.WithTimeout(ctx, r.RemoteTimeout)
	defer cancel()

	results := make(chan result, len(r.Servers))
	for _, server := range r.Servers {
		go func(server string) {
			ips, err := r.lookup(ctx, host, server)
			results <- result{ip: preferIPv4(ips), err: err}
		}(server)
	}

	failures := 0
	for range r.Servers {
		select {
		case res := <-results:
			if res.err == nil && res.ip != "" {
				return res.ip, nil
			}
			failures++
		case <-ctx.Done():
			return "", fmt.Errorf("DNS lookup for %s timed out during public DNS race", host)
		}
	}

	return "", fmt.Errorf("failed to resolve %s: all %d public DNS servers failed", host, failures)
}

// DialContext resolves the host part of addr and dials it. It is the NetDialContext
// used by the signaling websocket dialer.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ip, err := r.Lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

func preferIPv4(ips []string) string {
	if len(ips) == 0 {
		return ""
	}
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip
		}
	}
	return ips[0]
}

func netLookup(ctx context.Context, host, server string) ([]string, error) {
	r := &net.Resolver{}
	if server != "" {
		r.PreferGo = true
		r.Dial = func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		}
	}
	ips, err := r.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, errors.New("no IP addresses found")
	}
	return ips, nil
}
