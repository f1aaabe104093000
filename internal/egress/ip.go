package egress

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

var errDialPrivate = errors.New("dial to private address refused")

var blockedNets = func() []*net.IPNet {
	cidrs := []string{
		"0.0.0.0/8",
		"10.0.0.0/8",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"::1/128",
		"::/128",
		"fe80::/10",
		"fc00::/7",
	}
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}()

// isPrivateIP reports whether ip is loopback, private, link-local or
// unspecified. IPv4-mapped IPv6 addresses are checked as IPv4.
func isPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, n := range blockedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// isPrivateHost reports whether a URL hostname names a private address
// literally. Names are resolved later and re-checked when dialing.
func isPrivateHost(host string) bool {
	host = strings.Trim(host, "[]")
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	// Strip an IPv6 zone such as fe80::1%eth0.
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	if ip := net.ParseIP(host); ip != nil {
		return isPrivateIP(ip)
	}
	return false
}

// controlDial runs after DNS resolution and before connect, so address is
// always a literal IP and a rebinding DNS answer cannot slip past the check.
func controlDial(network, address string, _ syscall.RawConn) error {
	ip := net.ParseIP(hostOnly(address))
	if ip == nil || isPrivateIP(ip) {
		return errDialPrivate
	}
	return nil
}
