package internal

import (
	"net"
	"net/netip"
	"strconv"
)

// GetOutboundIP gets the preferred outbound IP address of this machine.
//
// Credit to: https://stackoverflow.com/a/37382208
// Updated for ipv6 by @infinoid
func GetOutboundIP() (netip.Addr, error) {
	// try ipv6
	conn, err := net.Dial("udp", "[2001:4860:4860::8888]:80")
	if err != nil {
		// try ipv4
		conn, err = net.Dial("udp", "8.8.8.8:80")
	}
	if err != nil {
		return netip.Addr{}, err
	}
	defer conn.Close()

	return ParseAddr(conn.LocalAddr().String())
}

// ParseAddr parses the address from an endpoint string of the form
// "<ip>:<port>"
func ParseAddr(endpoint string) (netip.Addr, error) {
	ap, err := netip.ParseAddrPort(endpoint)
	if err != nil {
		return netip.Addr{}, err
	}
	return ap.Addr(), nil
}

// NormalizeAddress converts a listening address into a host:port that other
// machines can connect to, e.g. replacing 0.0.0.0 with the outbound IP of
// this machine.
func NormalizeAddress(addr *net.TCPAddr) string {
	port := strconv.Itoa(addr.Port)
	if addr.IP == nil || addr.IP.IsUnspecified() {
		if ip, err := GetOutboundIP(); err == nil && ip.IsValid() {
			return net.JoinHostPort(ip.Unmap().String(), port)
		}
		return net.JoinHostPort("127.0.0.1", port)
	}
	return net.JoinHostPort(addr.IP.String(), port)
}
