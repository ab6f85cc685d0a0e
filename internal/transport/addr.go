package transport

import (
	"net"
	"strconv"
)

// Addr is the immutable identifier of a remote endpoint: host plus port.
// A plain struct is used instead of net.Addr so it is comparable and can be
// used directly as a map key, matching spec's "equality is structural; used
// as a map key" requirement (net.UDPAddr is not comparable because its IP
// field is a byte slice, so the engine normalizes to this type at the
// boundary).
type Addr struct {
	IP   string
	Port int
}

// String renders the address the way log lines and game replies expect
// ("host:port").
func (a Addr) String() string {
	return net.JoinHostPort(a.IP, strconv.Itoa(a.Port))
}

// UDPAddr resolves the Addr back into a *net.UDPAddr for use with
// net.PacketConn.WriteTo.
func (a Addr) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(a.IP), Port: a.Port}
}

// addrFromNet normalizes whatever net.Addr a PacketConn hands back (always
// a *net.UDPAddr in practice for a "udp" network) into the comparable Addr
// type.
func addrFromNet(a net.Addr) Addr {
	if u, ok := a.(*net.UDPAddr); ok {
		return Addr{IP: u.IP.String(), Port: u.Port}
	}
	host, portStr, err := net.SplitHostPort(a.String())
	if err != nil {
		return Addr{IP: a.String()}
	}
	port, _ := strconv.Atoi(portStr)
	return Addr{IP: host, Port: port}
}
