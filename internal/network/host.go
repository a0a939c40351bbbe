// Package network identifies the scanned host and builds proxy dialers for
// the snapshot senders.
package network

import (
	"context"
	"net"
	"os"

	"github.com/shirou/gopsutil/v3/host"
	psnet "github.com/shirou/gopsutil/v3/net"

	"svcregistry/internal/logger"
)

// HostInfo identifies the machine a snapshot was taken on.
type HostInfo struct {
	Hostname        string   `json:"hostname"`
	Platform        string   `json:"platform,omitempty"`
	PlatformVersion string   `json:"platform_version,omitempty"`
	Addresses       []string `json:"addresses,omitempty"` // non-loopback IPv4 addresses
}

// DetectHost collects the hostname, OS platform and IPv4 addresses. Parts
// that cannot be read are left empty.
func DetectHost(ctx context.Context) HostInfo {
	log := logger.WithComponent("network")
	var info HostInfo

	if hi, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = hi.Hostname
		info.Platform = hi.Platform
		info.PlatformVersion = hi.PlatformVersion
	} else {
		log.Debug().Err(err).Msg("Host info unavailable")
	}
	if info.Hostname == "" {
		info.Hostname, _ = os.Hostname()
	}

	addrs, err := detectIPv4Addresses(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Interface addresses unavailable")
	}
	info.Addresses = addrs
	return info
}

// detectIPv4Addresses returns the non-loopback IPv4 addresses of
// interfaces that are up.
func detectIPv4Addresses(ctx context.Context) ([]string, error) {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	var ips []string
	for _, iface := range ifaces {
		if !hasFlag(iface.Flags, "up") || hasFlag(iface.Flags, "loopback") {
			continue
		}
		for _, a := range iface.Addrs {
			ip, _, err := net.ParseCIDR(a.Addr)
			if err != nil {
				ip = net.ParseIP(a.Addr)
			}
			if ip == nil || ip.IsLoopback() || ip.To4() == nil {
				continue
			}
			ips = append(ips, ip.String())
		}
	}
	return ips, nil
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}
