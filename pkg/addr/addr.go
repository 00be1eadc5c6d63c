// Package addr implements the address/port/interface parsing grammar of
// spec §6. The split rules are deliberately naive — rightmost ':' for the
// port, first ';' for the local interface — and are preserved exactly as
// specified even though they misclassify bracketed IPv6 literals; see the
// "Port/host parsing ambiguity" design note.
package addr

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Bound is a parsed `IFACE:PORT` bound-endpoint address.
type Bound struct {
	Iface string
	Port  uint16
}

// ErrInvalid is returned when an address has no port separator or the
// port/host portion is unparseable.
var ErrInvalid = fmt.Errorf("addr: invalid address")

// ErrNoDev is returned when a named local interface does not resolve.
var ErrNoDev = fmt.Errorf("addr: no such device")

// SplitBound parses `IFACE:PORT`, using the last ':' as the port separator.
func SplitBound(address string) (Bound, error) {
	i := strings.LastIndex(address, ":")
	if i < 0 {
		return Bound{}, ErrInvalid
	}
	port, err := parsePort(address[i+1:])
	if err != nil {
		return Bound{}, err
	}
	return Bound{Iface: address[:i], Port: port}, nil
}

// Connected is a parsed `[LOCAL_IFACE;]HOST:PORT` connected-endpoint address.
type Connected struct {
	LocalIface string // empty if unspecified
	Host       string
	Port       uint16
}

// SplitConnected parses `[LOCAL_IFACE;]HOST:PORT`: the first ';' (if any)
// separates the local interface, and the last ':' in the remainder
// separates the port.
func SplitConnected(address string) (Connected, error) {
	rest := address
	var iface string
	if semi := strings.IndexByte(address, ';'); semi >= 0 {
		iface = address[:semi]
		rest = address[semi+1:]
	}
	i := strings.LastIndex(rest, ":")
	if i < 0 {
		return Connected{}, ErrInvalid
	}
	port, err := parsePort(rest[i+1:])
	if err != nil {
		return Connected{}, err
	}
	host := rest[:i]
	if host == "" {
		return Connected{}, ErrInvalid
	}
	return Connected{LocalIface: iface, Host: host, Port: port}, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return 0, ErrInvalid
	}
	return uint16(n), nil
}

// IsLiteral reports whether host parses as an IPv4 or IPv6 literal, as
// opposed to a DNS hostname requiring resolution.
func IsLiteral(host string) bool {
	return net.ParseIP(host) != nil
}

// ValidHostname reports whether host is syntactically plausible as a DNS
// name: non-empty, made of label characters and dots, no leading/trailing
// dot or hyphen-only labels.
func ValidHostname(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}
	labels := strings.Split(host, ".")
	for _, l := range labels {
		if l == "" || len(l) > 63 {
			return false
		}
		for _, c := range l {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-') {
				return false
			}
		}
		if l[0] == '-' || l[len(l)-1] == '-' {
			return false
		}
	}
	return true
}

// ResolveInterface resolves iface ("*" for the wildcard, or an interface
// name) to a local bind IP for the given family hint (ipv4Only).
func ResolveInterface(iface string, ipv4Only bool) (net.IP, error) {
	if iface == "" || iface == "*" {
		if ipv4Only {
			return net.IPv4zero, nil
		}
		return net.IPv6zero, nil
	}
	if ip := net.ParseIP(iface); ip != nil {
		return ip, nil
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, ErrNoDev
	}
	addrs, err := ifi.Addrs()
	if err != nil || len(addrs) == 0 {
		return nil, ErrNoDev
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ipv4Only && ipNet.IP.To4() == nil {
			continue
		}
		return ipNet.IP, nil
	}
	return nil, ErrNoDev
}
