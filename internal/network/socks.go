package network

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/proxy"

	"svcregistry/internal/config"
)

// SOCKS5Dialer creates a SOCKS5 proxy dialer for cfg. It returns nil when no
// proxy is configured.
func SOCKS5Dialer(cfg config.SOCKSConfig) (proxy.Dialer, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, nil
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer for %s: %w", addr, err)
	}
	return dialer, nil
}

// ContextDialer returns a context-aware dial function through the SOCKS5
// proxy of cfg, or nil when no proxy is configured.
func ContextDialer(cfg config.SOCKSConfig) (func(ctx context.Context, network, addr string) (net.Conn, error), error) {
	dialer, err := SOCKS5Dialer(cfg)
	if err != nil || dialer == nil {
		return nil, err
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return dialer.Dial(network, addr)
	}, nil
}
