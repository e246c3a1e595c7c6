package domain

import (
	"net"
	"net/netip"
	"strconv"
	"strings"
)

var (
	net128 = net.ParseIP("FFFF:FFFF:FFFF:FFFF:FFFF:FFFF:FFFF:FFFF")
	net32  = net.ParseIP("255.255.255.255")
)

// RecIP decides which client addresses are recorded in exchange logs.
// Addresses that are not recorded are replaced by the all-ones address of
// their family.
type RecIP struct {
	useXFF   bool
	all      bool
	onError  bool
	networks []netip.Prefix
}

// NewRecIP parses netStr, a comma separated list of CIDR prefixes whose
// clients are always recorded.
func NewRecIP(useXFF, all, onError bool, netStr string) (*RecIP, error) {
	recip := &RecIP{
		useXFF:  useXFF,
		all:     all,
		onError: onError,
	}
	if netStr == "" {
		return recip, nil
	}
	for _, s := range strings.Split(netStr, ",") {
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, err
		}
		recip.networks = append(recip.networks, prefix.Masked())
	}
	return recip, nil
}

func (r *RecIP) Contains(ip net.IP) bool {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return false
	}
	addr = addr.Unmap()
	for _, n := range r.networks {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}

func (r *RecIP) RemoteIP(rec RecieverInterface, onError bool) net.IP {
	remoteIP := rec.RemoteIP()
	if r.useXFF {
		if xff := rec.Header(strXFF); len(xff) > 0 {
			first, _, _ := strings.Cut(string(xff), ",")
			remoteIP = net.ParseIP(strings.TrimSpace(first))
		}
	}
	if r.all || r.onError && onError || r.Contains(remoteIP) {
		return remoteIP
	}
	if remoteIP.To4() != nil {
		return net32
	}
	return net128
}

func (r *RecIP) RemotePort(rec RecieverInterface) uint32 {
	remotePort := uint32(rec.RemotePort())
	if r.useXFF {
		if xfp := rec.Header(strXFP); len(xfp) > 0 {
			if port, err := strconv.ParseUint(string(xfp), 10, 16); err == nil {
				remotePort = uint32(port)
			}
		}
	}
	return remotePort
}
